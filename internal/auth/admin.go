package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidSecretHash indicates that the configured admin hash is not a bcrypt hash.
var ErrInvalidSecretHash = errors.New("admin authorizer: invalid bcrypt hash")

// AdminAuthorizerConfig carries the shared admin secret. SecretHash, when set,
// takes precedence over the plain Secret.
type AdminAuthorizerConfig struct {
	Secret     string
	SecretHash string
}

// AdminAuthorizer compares caller-supplied credentials against the single
// configured admin secret. With nothing configured it rejects every attempt.
type AdminAuthorizer struct {
	secret     []byte
	secretHash []byte
}

// NewAdminAuthorizer validates the configuration and builds an authorizer.
func NewAdminAuthorizer(cfg AdminAuthorizerConfig) (*AdminAuthorizer, error) {
	authorizer := &AdminAuthorizer{}
	if hash := strings.TrimSpace(cfg.SecretHash); hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, ErrInvalidSecretHash
		}
		authorizer.secretHash = []byte(hash)
		return authorizer, nil
	}
	if secret := strings.TrimSpace(cfg.Secret); secret != "" {
		authorizer.secret = []byte(secret)
	}
	return authorizer, nil
}

// Configured reports whether any admin secret is available.
func (a *AdminAuthorizer) Configured() bool {
	return a != nil && (len(a.secret) > 0 || len(a.secretHash) > 0)
}

// IsAdmin trims the candidate and compares it to the configured secret.
// An empty candidate is never an admin.
func (a *AdminAuthorizer) IsAdmin(candidate string) bool {
	if !a.Configured() {
		return false
	}
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return false
	}
	if len(a.secretHash) > 0 {
		return bcrypt.CompareHashAndPassword(a.secretHash, []byte(trimmed)) == nil
	}
	return subtle.ConstantTimeCompare(a.secret, []byte(trimmed)) == 1
}
