package triage

import (
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// AuthClaims are the client-relevant claims of the auth token. The client
// never verifies the signature; it only inspects expiry to decide when to
// force a logout.
type AuthClaims struct {
	UserId    string
	Email     string
	ExpiresAt time.Time
}

func ParseAuthClaimsUnverified(token string) (*AuthClaims, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, &AuthError{Message: err.Error()}
	}

	claims := parsed.Claims.(gojwt.MapClaims)

	authClaims := &AuthClaims{}

	if userId, ok := claims["user_id"].(string); ok {
		authClaims.UserId = userId
	} else if userId, ok := claims["id"].(string); ok {
		authClaims.UserId = userId
	}
	if email, ok := claims["email"].(string); ok {
		authClaims.Email = email
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		authClaims.ExpiresAt = exp.Time
	}

	return authClaims, nil
}

// TokenExpired reports whether the token is past its expiry. Unparseable
// tokens count as expired so the caller clears them.
func TokenExpired(token string) bool {
	claims, err := ParseAuthClaimsUnverified(token)
	if err != nil {
		return true
	}
	if claims.ExpiresAt.IsZero() {
		return false
	}
	return claims.ExpiresAt.Before(time.Now())
}
