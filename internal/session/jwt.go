package session

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are read without signature verification: the client only needs
// expiry and identity hints, the server remains the authority.
func parseClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Expiry returns the exp claim of token.
func Expiry(token string) (time.Time, bool) {
	claims, err := parseClaims(token)
	if err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// WillExpireSoon reports whether token expires within the given window.
// A token without a decodable expiry counts as expired.
func WillExpireSoon(token string, within time.Duration) bool {
	return willExpireSoonAt(token, within, time.Now())
}

func willExpireSoonAt(token string, within time.Duration, now time.Time) bool {
	exp, ok := Expiry(token)
	if !ok {
		return true
	}
	return exp.Sub(now) < within
}

// userIDClaim returns the raw user_id claim and its string form.
func userIDClaim(token string) (any, string, bool) {
	claims, err := parseClaims(token)
	if err != nil {
		return nil, "", false
	}
	switch v := claims["user_id"].(type) {
	case float64:
		return v, strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v, v.String(), true
	case string:
		if v == "" {
			return nil, "", false
		}
		return v, v, true
	default:
		return nil, "", false
	}
}

// UserIDFromToken extracts the user_id claim as a string.
func UserIDFromToken(token string) (string, bool) {
	_, s, ok := userIDClaim(token)
	return s, ok
}
