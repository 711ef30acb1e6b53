package tokenstore

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Claims is the subset of access token claims the client cares about.
// IssuedAt and ExpiresAt are nil when the token does not carry them.
type Claims struct {
	SubjectID string
	Email     string
	Username  string
	Name      string
	IssuedAt  *time.Time
	ExpiresAt *time.Time
}

// Decode reads the payload segment of a JWT without verifying its signature.
// Any malformed input yields nil.
func Decode(rawToken string) *Claims {
	if strings.TrimSpace(rawToken) == "" {
		return nil
	}

	unverified, _, err := jwtlib.NewParser(jwtlib.WithPaddingAllowed(), jwtlib.WithJSONNumber()).
		ParseUnverified(rawToken, jwtlib.MapClaims{})
	// An unknown alg only means the token cannot be verified here; the payload is still usable.
	if err != nil && (unverified == nil || !errors.Is(err, jwtlib.ErrTokenUnverifiable)) {
		return nil
	}

	mapClaims, ok := unverified.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil
	}

	claims := &Claims{
		SubjectID: subject(mapClaims),
		Email:     stringClaim(mapClaims, "email"),
		Username:  stringClaim(mapClaims, "username"),
		Name:      stringClaim(mapClaims, "name"),
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		t := iat.Time
		claims.IssuedAt = &t
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		claims.ExpiresAt = &t
	}
	return claims
}

// IsExpired is true unless token decodes and carries an exp strictly after now.
func IsExpired(rawToken string) bool {
	claims := Decode(rawToken)
	if claims == nil || claims.ExpiresAt == nil {
		return true
	}
	return !claims.ExpiresAt.After(NowTimeFunc())
}

// subject prefers the registered "sub" claim and falls back to "id", which the
// backend issues as a number.
func subject(claims jwtlib.MapClaims) string {
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub
	}
	switch id := claims["id"].(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ""
}

func stringClaim(claims jwtlib.MapClaims, name string) string {
	value, _ := claims[name].(string)
	return value
}
