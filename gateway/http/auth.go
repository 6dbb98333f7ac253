package http

import (
	stderrors "errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/c360/telemetryhub/errors"
)

// Close reasons sent with WebSocket policy-violation closes. The exact
// strings are part of the wire contract with device firmware.
const (
	CloseAuthRequired = "Authentication required"
	CloseInvalidToken = "Invalid or expired token"
	CloseRevokedToken = "Token has been revoked"
	CloseUserNotFound = "User not found"
)

// AuthError pairs a rejection with the close reason to send.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return e.Reason }

// TokenVerifier checks HMAC-signed JWTs at connect time. Verification
// happens once per connection; there is no mid-connection revocation.
type TokenVerifier struct {
	secret  []byte
	revoked map[string]struct{}
	users   map[string]struct{}
}

// NewTokenVerifier creates a verifier. users may be empty, in which
// case any subject is accepted.
func NewTokenVerifier(secret string, revokedTokenIDs, userIDs []string) *TokenVerifier {
	v := &TokenVerifier{
		secret:  []byte(secret),
		revoked: make(map[string]struct{}, len(revokedTokenIDs)),
		users:   make(map[string]struct{}, len(userIDs)),
	}
	for _, id := range revokedTokenIDs {
		v.revoked[id] = struct{}{}
	}
	for _, id := range userIDs {
		v.users[id] = struct{}{}
	}
	return v
}

// Verify validates the token and returns its subject. A failure is an
// *AuthError carrying the close reason.
func (v *TokenVerifier) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", &AuthError{Reason: CloseAuthRequired}
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.ErrInvalidConfig
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", &AuthError{Reason: CloseInvalidToken}
	}

	if claims.ID != "" {
		if _, isRevoked := v.revoked[claims.ID]; isRevoked {
			return "", &AuthError{Reason: CloseRevokedToken}
		}
	}

	if len(v.users) > 0 {
		if _, known := v.users[claims.Subject]; !known {
			return "", &AuthError{Reason: CloseUserNotFound}
		}
	}

	return claims.Subject, nil
}

// closeReason extracts the policy-violation reason from an auth error.
func closeReason(err error) string {
	var authErr *AuthError
	if stderrors.As(err, &authErr) {
		return authErr.Reason
	}
	return CloseInvalidToken
}
