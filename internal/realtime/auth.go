package realtime

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the access token issued by the auth service.
type TokenClaims struct {
	UserID    string `json:"uid"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

var errMissingToken = errors.New("missing token")

// tokenFromRequest reads a bearer token from the Authorization header, or
// from the token query parameter for browsers that cannot set headers on a
// websocket handshake.
func tokenFromRequest(r *http.Request) (string, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", errors.New("invalid Authorization header")
		}
		return parts[1], nil
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, nil
	}
	return "", errMissingToken
}

// authenticate returns the user id carried by a valid access token.
func authenticate(secret []byte, raw string) (string, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid || claims.TokenType != "access" || claims.UserID == "" {
		return "", errors.New("invalid token")
	}
	return claims.UserID, nil
}
