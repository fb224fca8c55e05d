package auth

// SessionData represents the authenticated session context for a request
type SessionData struct {
	UserID      string `json:"user_id"`
	Phone       string `json:"phone"`
	Role        string `json:"role"`
	AccessToken string `json:"-"`
	AuthMethod  string `json:"auth_method"` // "jwt"
}
