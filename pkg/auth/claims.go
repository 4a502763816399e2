package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID string
	Role   string
	JTI    string
}

// AccessTokenClaims represents the typed JWT issued to back-office clients.
// Role is the operator's finance role (accountant, finance_manager, cfo, admin...).
type AccessTokenClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
