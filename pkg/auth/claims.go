package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scopes granted to dashboard tokens.
const (
	ScopeDiagnosticsRead = "attribution:read"
	ScopeRemapWrite      = "attribution:remap"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	Subject string
	StoreID uuid.UUID
	Scopes  []string
	JTI     string
}

// AccessTokenClaims represents the typed JWT presented by dashboard clients.
type AccessTokenClaims struct {
	StoreID uuid.UUID `json:"store_id"`
	Scopes  []string  `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants scope.
func (c *AccessTokenClaims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, granted := range c.Scopes {
		if granted == scope {
			return true
		}
	}
	return false
}
