package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

type JwtCustomClaim struct {
	Email    string `json:"email"`
	TenantId string `json:"tenant_id"`
	Schema   string `json:"schema"`
	Mode     string `json:"mode"`
	jwt.StandardClaims
}

// JwtGenerate signs claim with secret. IssuedAt and ExpiresAt come from the
// caller so session and token expiry agree.
func JwtGenerate(secret []byte, claim JwtCustomClaim, issuedAt, expiresAt time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	claim.StandardClaims.IssuedAt = issuedAt.Unix()
	claim.StandardClaims.ExpiresAt = expiresAt.Unix()

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &claim)
	token, err := t.SignedString(secret)
	if err != nil {
		return "", err
	}
	return token, nil
}

func JwtValidate(secret []byte, token string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return secret, nil
	})
}
