package session

import (
	"errors"
	"strings"
)

var ErrIncompleteCredentials = errors.New("session: credential pair is incomplete")

// Credentials is the single operator account accepted by the gate, plus the
// admin secret handed to the backend during privilege elevation.
type Credentials struct {
	UserID      string
	Password    string
	AdminSecret string
}

// Gate compares operator input against one configured credential pair.
// It performs no rate limiting or lockout; it gates an informational site,
// it is not a security boundary.
type Gate struct {
	credentials Credentials
}

// NewGate validates that a full pair was configured.
func NewGate(credentials Credentials) (*Gate, error) {
	if credentials.UserID == "" || credentials.Password == "" || strings.TrimSpace(credentials.AdminSecret) == "" {
		return nil, ErrIncompleteCredentials
	}
	return &Gate{credentials: credentials}, nil
}

// Login writes token, user id, then the login flag when the pair matches exactly.
// Nothing is written on mismatch.
func (gate *Gate) Login(values KeyValues, userID string, password string) bool {
	if values == nil {
		return false
	}
	if userID != gate.credentials.UserID || password != gate.credentials.Password {
		return false
	}
	values.WriteBatch(
		Entry{Key: KeyAdminToken, Value: gate.credentials.AdminSecret},
		Entry{Key: KeyUserID, Value: userID},
		Entry{Key: KeyLoginFlag, Value: loginFlagValue},
	)
	return true
}

// Logout removes every session key in one batch.
func (gate *Gate) Logout(values KeyValues) {
	if values == nil {
		return
	}
	values.ClearBatch(KeyLoginFlag, KeyUserID, KeyAdminToken)
}
