// Package console drives the admin side of the kiosk: it turns a logged-in
// session into an elevated store handle and manages the fetched inquiry list.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/MarkoPoloResearchLab/emitra/internal/session"
	"github.com/MarkoPoloResearchLab/emitra/internal/storeclient"
)

// State is the observable phase of the admin actor initializer.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateVerifying    State = "verifying"
	StateReady        State = "ready"
	StateFailed       State = "failed"

	// DefaultInitializationTimeout bounds connect plus elevate.
	DefaultInitializationTimeout = 30 * time.Second
	// DefaultTransientRetries is the number of automatic retries after a transient failure.
	DefaultTransientRetries = 3
	// DefaultBackoffBase is the first retry delay; each retry doubles it.
	DefaultBackoffBase = 2 * time.Second

	principalPrefixUser = "user:"

	logEventInitState        = "admin_init_state"
	logEventTransientFailure = "admin_init_transient_failure"
	logEventAlreadyElevated  = "admin_init_already_elevated"
	logEventInitFailed       = "admin_init_failed"
	logFieldState            = "state"
	logFieldAttempt          = "attempt"
	logFieldDelay            = "delay"
	logFieldPrincipal        = "principal"
	logFieldKind             = "kind"
)

// Backend is the part of the inquiry store the console depends on.
type Backend interface {
	Connect(ctx context.Context, principal string) (storeclient.Session, error)
	Elevate(ctx context.Context, token string, secret string) error
	IsAdmin(ctx context.Context, token string) (bool, error)
	ListInquiries(ctx context.Context, token string) ([]storeclient.Inquiry, error)
	SetInquiryRead(ctx context.Context, token string, identifier uint64, read bool) error
	DeleteInquiry(ctx context.Context, token string, identifier uint64) error
	SubmitInternalInquiry(ctx context.Context, token string, request storeclient.SubmitRequest) (uint64, error)
	StreamInquiryEvents(ctx context.Context, token string, handle func(storeclient.InquiryEvent)) error
}

// Handle is an elevated, verified binding to the store. It never changes once ready.
type Handle struct {
	principal string
	token     string
	backend   Backend
}

// Principal names the identity the handle acts as.
func (handle *Handle) Principal() string {
	return handle.principal
}

// Snapshot is a consistent view of the initializer.
type Snapshot struct {
	State     State
	Err       *Error
	Principal string
	Attempts  int
}

// InitializerConfig tunes timeouts and retry behavior. Zero values use the defaults.
type InitializerConfig struct {
	Timeout          time.Duration
	TransientRetries int
	BackoffBase      time.Duration
	Sleep            func(context.Context, time.Duration) error
}

func (config InitializerConfig) withDefaults() InitializerConfig {
	if config.Timeout <= 0 {
		config.Timeout = DefaultInitializationTimeout
	}
	if config.TransientRetries <= 0 {
		config.TransientRetries = DefaultTransientRetries
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = DefaultBackoffBase
	}
	if config.Sleep == nil {
		config.Sleep = sleepContext
	}
	return config
}

type credentials struct {
	token  string
	userID string
}

func (credentials credentials) key() string {
	return credentials.token + "\x00" + credentials.userID
}

func (credentials credentials) principal() string {
	if credentials.userID == "" {
		return ""
	}
	return principalPrefixUser + credentials.userID
}

// Initializer runs connect, elevate, verify for the current session and caches
// the resulting handle per session token.
type Initializer struct {
	backend Backend
	store   *session.Store
	logger  *zap.Logger
	config  InitializerConfig
	group   singleflight.Group

	mutex          sync.Mutex
	state          State
	lastErr        *Error
	handle         *Handle
	activeKey      string
	principal      string
	attempts       int
	generation     uint64
	baseContext    context.Context
	unsubscribe    func()
	listeners      map[int64]func(Snapshot)
	nextListenerID int64
}

// NewInitializer builds an idle initializer bound to the session store.
func NewInitializer(backend Backend, store *session.Store, logger *zap.Logger, config InitializerConfig) *Initializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Initializer{
		backend:   backend,
		store:     store,
		logger:    logger,
		config:    config.withDefaults(),
		state:     StateIdle,
		listeners: make(map[int64]func(Snapshot)),
	}
}

// Start follows the session store: a new token starts initialization in the
// background, a logout returns to idle.
func (initializer *Initializer) Start(ctx context.Context) {
	initializer.mutex.Lock()
	if initializer.unsubscribe != nil {
		initializer.mutex.Unlock()
		return
	}
	initializer.baseContext = ctx
	initializer.unsubscribe = initializer.store.Subscribe(initializer.handleSessionChange)
	initializer.mutex.Unlock()

	initializer.handleSessionChange(session.Change{Keys: []string{session.KeyAdminToken}})
}

// Close stops following the session store.
func (initializer *Initializer) Close() {
	initializer.mutex.Lock()
	unsubscribe := initializer.unsubscribe
	initializer.unsubscribe = nil
	initializer.mutex.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Subscribe registers a listener for state transitions.
func (initializer *Initializer) Subscribe(listener func(Snapshot)) func() {
	initializer.mutex.Lock()
	identifier := initializer.nextListenerID
	initializer.nextListenerID++
	initializer.listeners[identifier] = listener
	initializer.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			initializer.mutex.Lock()
			delete(initializer.listeners, identifier)
			initializer.mutex.Unlock()
		})
	}
}

// Snapshot returns the current state.
func (initializer *Initializer) Snapshot() Snapshot {
	initializer.mutex.Lock()
	defer initializer.mutex.Unlock()
	return initializer.snapshotLocked()
}

// State returns the current phase.
func (initializer *Initializer) State() State {
	return initializer.Snapshot().State
}

// ReadyHandle returns the handle only when ready for the current session. It never starts work.
func (initializer *Initializer) ReadyHandle() (*Handle, error) {
	current, loggedIn := initializer.readCredentials()

	initializer.mutex.Lock()
	defer initializer.mutex.Unlock()
	if !loggedIn {
		return nil, notReadyError(StateIdle)
	}
	if initializer.state != StateReady || initializer.handle == nil || initializer.activeKey != current.key() {
		return nil, notReadyError(initializer.state)
	}
	return initializer.handle, nil
}

// EnsureReady returns the ready handle, joining or starting initialization as needed.
// A failed state is returned as is; only Retry leaves it.
func (initializer *Initializer) EnsureReady(ctx context.Context) (*Handle, error) {
	current, loggedIn := initializer.readCredentials()
	if !loggedIn {
		return nil, ErrNoSession
	}

	initializer.mutex.Lock()
	if initializer.activeKey == current.key() {
		switch initializer.state {
		case StateReady:
			handle := initializer.handle
			initializer.mutex.Unlock()
			return handle, nil
		case StateFailed:
			lastErr := initializer.lastErr
			initializer.mutex.Unlock()
			return nil, lastErr
		case StateInitializing, StateVerifying:
			generation := initializer.generation
			initializer.mutex.Unlock()
			return initializer.run(ctx, current, generation)
		}
	}
	generation, snapshot := initializer.beginLocked(current)
	initializer.mutex.Unlock()

	initializer.publish(snapshot)
	return initializer.run(ctx, current, generation)
}

// Retry discards any cached handle and reruns the full sequence.
func (initializer *Initializer) Retry(ctx context.Context) (*Handle, error) {
	current, loggedIn := initializer.readCredentials()
	if !loggedIn {
		return nil, ErrNoSession
	}

	initializer.mutex.Lock()
	generation, snapshot := initializer.beginLocked(current)
	initializer.mutex.Unlock()

	initializer.publish(snapshot)
	return initializer.run(ctx, current, generation)
}

func (initializer *Initializer) handleSessionChange(change session.Change) {
	if !change.Contains(session.KeyAdminToken) && !change.Contains(session.KeyUserID) && !change.Contains(session.KeyLoginFlag) {
		return
	}
	current, loggedIn := initializer.readCredentials()

	initializer.mutex.Lock()
	if !loggedIn {
		if initializer.state == StateIdle && initializer.handle == nil {
			initializer.mutex.Unlock()
			return
		}
		initializer.generation++
		initializer.activeKey = ""
		initializer.principal = ""
		initializer.handle = nil
		initializer.lastErr = nil
		initializer.attempts = 0
		initializer.state = StateIdle
		snapshot := initializer.snapshotLocked()
		initializer.mutex.Unlock()
		initializer.publish(snapshot)
		return
	}
	if initializer.activeKey == current.key() && initializer.state != StateIdle {
		initializer.mutex.Unlock()
		return
	}
	generation, snapshot := initializer.beginLocked(current)
	baseContext := initializer.baseContext
	initializer.mutex.Unlock()

	initializer.publish(snapshot)
	if baseContext == nil {
		return
	}
	go func() {
		_, _ = initializer.run(baseContext, current, generation)
	}()
}

func (initializer *Initializer) beginLocked(current credentials) (uint64, Snapshot) {
	initializer.generation++
	initializer.activeKey = current.key()
	initializer.principal = current.principal()
	initializer.handle = nil
	initializer.lastErr = nil
	initializer.attempts = 0
	initializer.state = StateInitializing
	return initializer.generation, initializer.snapshotLocked()
}

func (initializer *Initializer) run(ctx context.Context, current credentials, generation uint64) (*Handle, error) {
	flightKey := fmt.Sprintf("%s#%d", current.key(), generation)
	result, err, _ := initializer.group.Do(flightKey, func() (any, error) {
		initializer.mutex.Lock()
		if initializer.generation != generation {
			initializer.mutex.Unlock()
			return nil, sessionChanged()
		}
		switch initializer.state {
		case StateReady:
			handle := initializer.handle
			initializer.mutex.Unlock()
			return handle, nil
		case StateFailed:
			lastErr := initializer.lastErr
			initializer.mutex.Unlock()
			return nil, lastErr
		}
		initializer.mutex.Unlock()
		return initializer.initialize(ctx, current, generation)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Handle), nil
}

func (initializer *Initializer) initialize(ctx context.Context, current credentials, generation uint64) (*Handle, error) {
	var handle *Handle
	for attempt := 0; ; attempt++ {
		if !initializer.recordAttempt(generation, attempt+1) {
			return nil, sessionChanged()
		}
		connected, connectErr := initializer.connectAndElevate(ctx, current)
		if connectErr == nil {
			handle = connected
			break
		}
		normalized := Normalize(connectErr)
		if normalized.Kind != KindTransient || attempt >= initializer.config.TransientRetries {
			return nil, initializer.fail(generation, normalized)
		}
		delay := initializer.config.BackoffBase << attempt
		initializer.logger.Warn(logEventTransientFailure,
			zap.Error(normalized),
			zap.Int(logFieldAttempt, attempt+1),
			zap.Duration(logFieldDelay, delay),
		)
		if sleepErr := initializer.config.Sleep(ctx, delay); sleepErr != nil {
			return nil, initializer.fail(generation, Normalize(sleepErr))
		}
	}

	if !initializer.transition(generation, StateVerifying) {
		return nil, sessionChanged()
	}
	isAdmin, verifyErr := initializer.backend.IsAdmin(ctx, handle.token)
	if verifyErr != nil {
		return nil, initializer.fail(generation, Normalize(verifyErr))
	}
	if !isAdmin {
		return nil, initializer.fail(generation, &Error{Kind: KindAuthorization, Message: "the store does not recognise this session as admin"})
	}
	return initializer.succeed(generation, handle)
}

// connectAndElevate races the two calls against the initialization timeout.
// A call still in flight when the timer fires is abandoned, not aborted.
func (initializer *Initializer) connectAndElevate(ctx context.Context, current credentials) (*Handle, error) {
	timeoutContext, cancel := context.WithTimeout(ctx, initializer.config.Timeout)
	defer cancel()

	type outcome struct {
		handle *Handle
		err    error
	}
	outcomes := make(chan outcome, 1)
	go func() {
		backendSession, connectErr := initializer.backend.Connect(timeoutContext, current.principal())
		if connectErr != nil {
			outcomes <- outcome{err: connectErr}
			return
		}
		if elevateErr := initializer.backend.Elevate(timeoutContext, backendSession.Token, current.token); elevateErr != nil {
			if Normalize(elevateErr).Kind != KindAlreadyElevated {
				outcomes <- outcome{err: elevateErr}
				return
			}
			initializer.logger.Info(logEventAlreadyElevated, zap.String(logFieldPrincipal, backendSession.Principal))
		}
		outcomes <- outcome{handle: &Handle{
			principal: backendSession.Principal,
			token:     backendSession.Token,
			backend:   initializer.backend,
		}}
	}()

	select {
	case result := <-outcomes:
		return result.handle, result.err
	case <-timeoutContext.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("initialization did not finish within %s", initializer.config.Timeout),
			Err:     context.DeadlineExceeded,
		}
	}
}

func (initializer *Initializer) recordAttempt(generation uint64, attempt int) bool {
	initializer.mutex.Lock()
	defer initializer.mutex.Unlock()
	if initializer.generation != generation {
		return false
	}
	initializer.attempts = attempt
	return true
}

func (initializer *Initializer) transition(generation uint64, state State) bool {
	initializer.mutex.Lock()
	if initializer.generation != generation {
		initializer.mutex.Unlock()
		return false
	}
	initializer.state = state
	snapshot := initializer.snapshotLocked()
	initializer.mutex.Unlock()
	initializer.publish(snapshot)
	return true
}

func (initializer *Initializer) fail(generation uint64, failure *Error) error {
	initializer.mutex.Lock()
	if initializer.generation != generation {
		initializer.mutex.Unlock()
		return sessionChanged()
	}
	initializer.state = StateFailed
	initializer.lastErr = failure
	initializer.handle = nil
	snapshot := initializer.snapshotLocked()
	initializer.mutex.Unlock()

	initializer.logger.Warn(logEventInitFailed, zap.Error(failure), zap.String(logFieldKind, string(failure.Kind)))
	initializer.publish(snapshot)
	return failure
}

func (initializer *Initializer) succeed(generation uint64, handle *Handle) (*Handle, error) {
	initializer.mutex.Lock()
	if initializer.generation != generation {
		initializer.mutex.Unlock()
		return nil, sessionChanged()
	}
	initializer.state = StateReady
	initializer.handle = handle
	initializer.principal = handle.principal
	snapshot := initializer.snapshotLocked()
	initializer.mutex.Unlock()

	initializer.publish(snapshot)
	return handle, nil
}

func (initializer *Initializer) snapshotLocked() Snapshot {
	return Snapshot{
		State:     initializer.state,
		Err:       initializer.lastErr,
		Principal: initializer.principal,
		Attempts:  initializer.attempts,
	}
}

func (initializer *Initializer) publish(snapshot Snapshot) {
	initializer.mutex.Lock()
	listeners := make([]func(Snapshot), 0, len(initializer.listeners))
	for _, listener := range initializer.listeners {
		listeners = append(listeners, listener)
	}
	initializer.mutex.Unlock()

	initializer.logger.Debug(logEventInitState, zap.String(logFieldState, string(snapshot.State)), zap.Int(logFieldAttempt, snapshot.Attempts))
	for _, listener := range listeners {
		listener(snapshot)
	}
}

func (initializer *Initializer) readCredentials() (credentials, bool) {
	if !session.LoggedIn(initializer.store) {
		return credentials{}, false
	}
	token, _ := initializer.store.Read(session.KeyAdminToken)
	if token == "" {
		return credentials{}, false
	}
	userID, _ := initializer.store.Read(session.KeyUserID)
	return credentials{token: token, userID: userID}, true
}

func sessionChanged() *Error {
	return &Error{Kind: KindUnknown, Message: "session changed", Err: ErrSessionChanged}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isSessionChanged(err error) bool {
	return errors.Is(err, ErrSessionChanged)
}
