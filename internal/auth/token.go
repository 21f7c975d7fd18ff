// ABOUTME: Client-side inspection of bearer JWTs: subject and expiry without signature checks
// ABOUTME: Expired tokens are rejected locally so no request is made with a dead credential

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrNotJWT       = errors.New("token is not a JWT")
	ErrExpiredToken = errors.New("token expired")
)

// Claims are the fields the client reads from a bearer JWT.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the claims carry an expiry that has passed at now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// looksLikeJWT reports whether token has the three dot-separated JWS segments.
func looksLikeJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

// Inspect decodes the claims of a JWT without verifying its signature. The
// server is the only party holding the signing secret; the client only needs
// the subject and expiry.
func Inspect(token string) (Claims, error) {
	if !looksLikeJWT(token) {
		return Claims{}, ErrNotJWT
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}

	var out Claims
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
