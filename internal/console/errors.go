package console

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/emitra/internal/storeclient"
)

// ErrorKind tags every failure the console surfaces.
type ErrorKind string

const (
	KindAuthorization   ErrorKind = "authorization"
	KindTransient       ErrorKind = "transient"
	KindTimeout         ErrorKind = "timeout"
	KindAlreadyElevated ErrorKind = "already_elevated"
	KindDataFetch       ErrorKind = "data_fetch"
	KindUnknown         ErrorKind = "unknown"
)

// Recovery names the action an operator should take after a failure.
type Recovery string

const (
	RecoveryRetry  Recovery = "retry"
	RecoveryLogout Recovery = "logout"
)

var (
	// ErrNotReady is returned by inquiry operations before the admin session is ready.
	ErrNotReady = errors.New("admin session is not ready")
	// ErrPlaceholderRecord is returned when a mutation targets the display-only demo record.
	ErrPlaceholderRecord = errors.New("the demo inquiry is display-only and cannot be changed")
	// ErrNoSession is returned when initialization is requested without a logged-in session.
	ErrNoSession = errors.New("no admin session: log in first")
	// ErrSessionChanged is returned when the session token changed while a call was in flight.
	ErrSessionChanged = errors.New("admin session changed while initializing")
)

// Error is the tagged failure produced by Normalize.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (consoleError *Error) Error() string {
	if consoleError.Err == nil {
		return fmt.Sprintf("%s: %s", consoleError.Kind, consoleError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", consoleError.Kind, consoleError.Message, consoleError.Err)
}

func (consoleError *Error) Unwrap() error {
	return consoleError.Err
}

// Recovery returns the action offered to the operator.
func (consoleError *Error) Recovery() Recovery {
	switch consoleError.Kind {
	case KindAuthorization:
		return RecoveryLogout
	case KindDataFetch:
		var cause *Error
		if errors.As(consoleError.Err, &cause) && cause.Kind == KindAuthorization {
			return RecoveryLogout
		}
		return RecoveryRetry
	default:
		return RecoveryRetry
	}
}

// Normalize turns any error from the store boundary into a tagged *Error.
// It is the only place that inspects raw error shapes.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}

	var consoleError *Error
	if errors.As(err, &consoleError) {
		return consoleError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "the store did not answer in time", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindUnknown, Message: "the request was cancelled", Err: err}
	}

	var statusError *storeclient.StatusError
	if errors.As(err, &statusError) {
		return normalizeStatus(statusError)
	}

	var networkError net.Error
	if errors.As(err, &networkError) {
		return &Error{Kind: KindTransient, Message: "the store is unreachable", Err: err}
	}

	message := err.Error()
	if strings.Contains(message, "Unauthorized") || strings.Contains(message, "Only admins") {
		return &Error{Kind: KindAuthorization, Message: "access denied", Err: err}
	}

	return &Error{Kind: KindUnknown, Message: "unexpected failure", Err: err}
}

func normalizeStatus(statusError *storeclient.StatusError) *Error {
	switch {
	case statusError.StatusCode == http.StatusConflict && statusError.Code == storeclient.ErrorCodeAlreadyElevated:
		return &Error{Kind: KindAlreadyElevated, Message: "privilege elevation was already performed", Err: statusError}
	case statusError.StatusCode == http.StatusUnauthorized || statusError.StatusCode == http.StatusForbidden:
		return &Error{Kind: KindAuthorization, Message: "access denied by the store", Err: statusError}
	case statusError.StatusCode == http.StatusTooManyRequests,
		statusError.StatusCode == http.StatusBadGateway,
		statusError.StatusCode == http.StatusServiceUnavailable,
		statusError.StatusCode == http.StatusGatewayTimeout:
		return &Error{Kind: KindTransient, Message: "the store is temporarily unavailable", Err: statusError}
	default:
		return &Error{Kind: KindUnknown, Message: "the store rejected the request", Err: statusError}
	}
}

func notReadyError(state State) error {
	return fmt.Errorf("%w (state: %s)", ErrNotReady, state)
}
