package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gigwork-dev/gigwork/internal/assert"
)

// OTPLength is the number of digits in a one-time code
const OTPLength = 6

// GenerateOTP returns a random numeric one-time code
func GenerateOTP() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	code := fmt.Sprintf("%0*d", OTPLength, n.Int64())
	assert.Length("one-time code", code, OTPLength)
	assert.Digits("one-time code", code)
	return code, nil
}

// HashOTP hashes a code for storage
func HashOTP(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}
	return string(hash), nil
}

// VerifyOTP reports whether code matches hash
func VerifyOTP(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// NewRefreshToken returns an opaque refresh token
func NewRefreshToken() string {
	token := uuid.NewString()
	assert.Length("refresh token", token, 36)
	return token
}
