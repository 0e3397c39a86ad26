package credentials

import (
	"github.com/golang-jwt/jwt/v5"
)

// FromToken builds a Credential from an issued token.
// When the token is a JWT its exp claim becomes ExpiresAt; the signature is
// not verified because the server remains the authority on validity.
// Opaque tokens never expire locally.
func FromToken(token string) Credential {
	cred := Credential{Token: token}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return cred
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return cred
	}
	cred.ExpiresAt = exp.Time
	return cred
}
