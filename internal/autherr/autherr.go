// Package autherr defines the error taxonomy shared by the session core and
// the adapters that talk to the identity backend, the profile service and the
// credential store.
package autherr

import (
	"errors"
)

var (
	// ErrTransientNetwork marks a collaborator call that failed for connectivity reasons
	ErrTransientNetwork = errors.New("transient network failure")
	// ErrUnauthorized marks a bearer token rejected as invalid or expired
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidSession marks a server session rejected as invalid or expired
	ErrInvalidSession = errors.New("invalid session")
	// ErrStorage marks a credential store read or write failure
	ErrStorage = errors.New("credential storage failure")
	// ErrSignInFailed is returned by explicit sign-in operations
	ErrSignInFailed = errors.New("could not sign you in")
	// ErrNoCredential marks a strategy that had nothing to try
	ErrNoCredential = errors.New("no credential")
)

// IsInvalidCredentials reports whether err is an explicit rejection of a
// token or session by a backend
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidSession)
}

// Kind returns a short label for err's class, used as a log field
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCredential):
		return "absent"
	case IsInvalidCredentials(err):
		return "invalid_credentials"
	case errors.Is(err, ErrTransientNetwork):
		return "transient_network"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "unknown"
	}
}
