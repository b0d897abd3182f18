package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/promptclash/promptclash-backend/config"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type Verifier struct {
	cfg config.Config
}

func NewVerifier(cfg config.Config) *Verifier {
	return &Verifier{cfg: cfg}
}

// VerifyToken validates an HS256 bearer token and returns the user id it
// was issued for. Issuing tokens is the identity service's job, not ours.
func (v *Verifier) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(v.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}
