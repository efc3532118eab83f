package model

import (
	"errors"
	"strings"
	"time"
)

const (
	adminGrantPrincipalMaxLength = 200
	adminGrantSessionMaxLength   = 64
)

var (
	ErrInvalidAdminPrincipal = errors.New("invalid_admin_principal")
	ErrInvalidAdminSession   = errors.New("invalid_admin_session")
)

// AdminGrant records that one backend session completed privilege elevation.
// It lapses with the session; another session for the same principal must
// elevate on its own.
type AdminGrant struct {
	SessionID string    `gorm:"primaryKey;size:64"`
	Principal string    `gorm:"not null;size:200;index"`
	GrantedAt time.Time `gorm:"autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// ValidatePrincipal checks a principal name offered when a session is opened.
func ValidatePrincipal(principal string) (string, error) {
	trimmedPrincipal := strings.TrimSpace(principal)
	if trimmedPrincipal == "" || len(trimmedPrincipal) > adminGrantPrincipalMaxLength {
		return "", ErrInvalidAdminPrincipal
	}
	return trimmedPrincipal, nil
}

// NewAdminGrant builds a grant for the session, valid until expiresAt.
func NewAdminGrant(sessionID string, principal string, expiresAt time.Time) (AdminGrant, error) {
	trimmedSessionID := strings.TrimSpace(sessionID)
	if trimmedSessionID == "" || len(trimmedSessionID) > adminGrantSessionMaxLength || expiresAt.IsZero() {
		return AdminGrant{}, ErrInvalidAdminSession
	}
	trimmedPrincipal, principalErr := ValidatePrincipal(principal)
	if principalErr != nil {
		return AdminGrant{}, principalErr
	}
	return AdminGrant{SessionID: trimmedSessionID, Principal: trimmedPrincipal, ExpiresAt: expiresAt.UTC()}, nil
}
