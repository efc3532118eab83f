package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	claimSubject  = "sub"
	claimTokenID  = "jti"
	claimIssuedAt = "iat"
	claimExpires  = "exp"

	// DefaultSessionTTL bounds how long a backend session token stays valid.
	DefaultSessionTTL = 12 * time.Hour
)

var (
	ErrMissingSigningKey = errors.New("auth: missing signing key")
	ErrMissingPrincipal  = errors.New("auth: missing principal")
	ErrInvalidToken      = errors.New("auth: invalid token")
	ErrExpiredToken      = errors.New("auth: token expired")
)

// Session is what a verified token proves: one backend session, opened for a
// principal by Connect. Privileges attach to ID, never to Principal, since any
// caller may open a session naming any principal.
type Session struct {
	ID        string
	Principal string
	ExpiresAt time.Time
}

// SessionTokens issues and verifies HS256 bearer tokens that name a principal.
type SessionTokens struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewSessionTokens builds a token issuer. A non-positive ttl falls back to DefaultSessionTTL.
func NewSessionTokens(signingKey string, ttl time.Duration) (*SessionTokens, error) {
	trimmedKey := strings.TrimSpace(signingKey)
	if trimmedKey == "" {
		return nil, ErrMissingSigningKey
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionTokens{
		signingKey: []byte(trimmedKey),
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

// Issue signs a token for a fresh session of the principal.
func (tokens *SessionTokens) Issue(principal string) (string, error) {
	trimmedPrincipal := strings.TrimSpace(principal)
	if trimmedPrincipal == "" {
		return "", ErrMissingPrincipal
	}
	issuedAt := tokens.now()
	claims := jwt.MapClaims{
		claimSubject:  trimmedPrincipal,
		claimTokenID:  uuid.NewString(),
		claimIssuedAt: issuedAt.Unix(),
		claimExpires:  issuedAt.Add(tokens.ttl).Unix(),
	}
	signed, signErr := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tokens.signingKey)
	if signErr != nil {
		return "", fmt.Errorf("auth: sign token: %w", signErr)
	}
	return signed, nil
}

// Verify validates the token and returns the session it names.
func (tokens *SessionTokens) Verify(tokenString string) (Session, error) {
	token, parseErr := jwt.Parse(strings.TrimSpace(tokenString), func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tokens.signingKey, nil
	}, jwt.WithTimeFunc(tokens.now), jwt.WithExpirationRequired())
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return Session{}, ErrExpiredToken
		}
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, parseErr)
	}
	if !token.Valid {
		return Session{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}, ErrInvalidToken
	}
	principal, ok := claims[claimSubject].(string)
	if !ok || strings.TrimSpace(principal) == "" {
		return Session{}, fmt.Errorf("%w: %s", ErrInvalidToken, claimSubject)
	}
	sessionID, ok := claims[claimTokenID].(string)
	if !ok || strings.TrimSpace(sessionID) == "" {
		return Session{}, fmt.Errorf("%w: %s", ErrInvalidToken, claimTokenID)
	}
	expiresAt, expiryErr := claims.GetExpirationTime()
	if expiryErr != nil || expiresAt == nil {
		return Session{}, fmt.Errorf("%w: %s", ErrInvalidToken, claimExpires)
	}
	return Session{ID: sessionID, Principal: principal, ExpiresAt: expiresAt.Time}, nil
}
