package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess TokenType = "access"
)

// Claims are the only supported JWT claims shape for this service.
// Multi-tenant invariant: TenantID must be present; it scopes every call-history read.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	TenantID  string    `json:"restaurant_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
