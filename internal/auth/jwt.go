package auth

import (
	"fmt"
	"time"

	"tunesync-backend/config"
	"tunesync-backend/internal/apperr"
	"tunesync-backend/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessAdmin grants the operator endpoints.
const AccessAdmin = "admin"

// Claims identify the principal behind a bearer token. Tokens are minted by
// the external sign-in service; Premium gates hosting.
type Claims struct {
	PrincipalID string   `json:"principalId"`
	Premium     bool     `json:"premium"`
	Accesses    []string `json:"accesses"`
	jwt.RegisteredClaims
}

func (c *Claims) HasAccess(access string) bool {
	for _, a := range c.Accesses {
		if a == access {
			return true
		}
	}
	return false
}

func GenerateToken(principalID string, premium bool, accesses []string, cfg *config.Config) (string, error) {
	if cfg.Auth.JWTSecret == "" {
		return "", apperr.Configuration("auth.jwtSecret is not set")
	}
	if models.IsReservedPrincipal(principalID) {
		return "", apperr.Validation("principal id must not start with " + models.AnonymousIdentityPrefix)
	}
	expirationTime := time.Now().Add(time.Duration(cfg.Auth.TokenDuration) * time.Hour)

	claims := &Claims{
		PrincipalID: principalID,
		Premium:     premium,
		Accesses:    accesses,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func ValidateToken(tokenString string, cfg *config.Config) (*Claims, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, apperr.Configuration("auth.jwtSecret is not set")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.Auth.JWTSecret), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.PrincipalID == "" {
		return nil, fmt.Errorf("token carries no principal")
	}
	if models.IsReservedPrincipal(claims.PrincipalID) {
		return nil, fmt.Errorf("token principal uses the guest namespace")
	}

	return claims, nil
}
