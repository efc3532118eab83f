package console

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/emitra/internal/session"
	"github.com/MarkoPoloResearchLab/emitra/internal/storeclient"
)

const (
	testOperatorID       = "kiosk-operator"
	testOperatorPassword = "correct horse"
	testAdminSecret      = "elevation-secret"
)

type fakeBackend struct {
	mutex sync.Mutex

	connectErrs   []error
	connectBlock  chan struct{}
	elevateErr    error
	isAdmin       bool
	isAdminErr    error
	listErrs      []error
	setReadErrs   map[uint64]error
	submitErr     error
	streamErrs    []error
	streamEvents  []storeclient.InquiryEvent
	inquiries     map[uint64]storeclient.Inquiry
	tokenSequence int

	calls          []string
	elevateSecrets []string
	principals     []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		isAdmin:     true,
		setReadErrs: make(map[uint64]error),
		inquiries:   make(map[uint64]storeclient.Inquiry),
	}
}

func (backend *fakeBackend) Connect(ctx context.Context, principal string) (storeclient.Session, error) {
	backend.mutex.Lock()
	backend.calls = append(backend.calls, "connect")
	backend.principals = append(backend.principals, principal)
	block := backend.connectBlock
	var connectErr error
	if len(backend.connectErrs) > 0 {
		connectErr = backend.connectErrs[0]
		backend.connectErrs = backend.connectErrs[1:]
	}
	backend.tokenSequence++
	token := fmt.Sprintf("bearer-%d", backend.tokenSequence)
	backend.mutex.Unlock()

	if block != nil {
		<-block
	}
	if connectErr != nil {
		return storeclient.Session{}, connectErr
	}
	return storeclient.Session{Principal: principal, Token: token}, nil
}

func (backend *fakeBackend) Elevate(ctx context.Context, token string, secret string) error {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.calls = append(backend.calls, "elevate")
	backend.elevateSecrets = append(backend.elevateSecrets, secret)
	return backend.elevateErr
}

func (backend *fakeBackend) IsAdmin(ctx context.Context, token string) (bool, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.calls = append(backend.calls, "is_admin")
	return backend.isAdmin, backend.isAdminErr
}

func (backend *fakeBackend) ListInquiries(ctx context.Context, token string) ([]storeclient.Inquiry, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.calls = append(backend.calls, "list")
	if len(backend.listErrs) > 0 {
		listErr := backend.listErrs[0]
		backend.listErrs = backend.listErrs[1:]
		if listErr != nil {
			return nil, listErr
		}
	}
	inquiries := make([]storeclient.Inquiry, 0, len(backend.inquiries))
	for _, inquiry := range backend.inquiries {
		inquiries = append(inquiries, inquiry)
	}
	sort.Slice(inquiries, func(left, right int) bool { return inquiries[left].ID > inquiries[right].ID })
	return inquiries, nil
}

func (backend *fakeBackend) SetInquiryRead(ctx context.Context, token string, identifier uint64, read bool) error {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.calls = append(backend.calls, "set_read")
	if updateErr := backend.setReadErrs[identifier]; updateErr != nil {
		return updateErr
	}
	inquiry, found := backend.inquiries[identifier]
	if !found {
		return &storeclient.StatusError{StatusCode: 404, Code: "not_found", Operation: "set inquiry read"}
	}
	inquiry.Read = read
	backend.inquiries[identifier] = inquiry
	return nil
}

func (backend *fakeBackend) DeleteInquiry(ctx context.Context, token string, identifier uint64) error {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.calls = append(backend.calls, "delete")
	if _, found := backend.inquiries[identifier]; !found {
		return &storeclient.StatusError{StatusCode: 404, Code: "not_found", Operation: "delete inquiry"}
	}
	delete(backend.inquiries, identifier)
	return nil
}

func (backend *fakeBackend) SubmitInternalInquiry(ctx context.Context, token string, request storeclient.SubmitRequest) (uint64, error) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.calls = append(backend.calls, "submit_internal")
	if backend.submitErr != nil {
		return 0, backend.submitErr
	}
	var highest uint64
	for identifier := range backend.inquiries {
		if identifier > highest {
			highest = identifier
		}
	}
	inquiry := storeclient.Inquiry{
		ID:              highest + 1,
		Kind:            request.Kind,
		Name:            request.Name,
		PhoneNumber:     request.PhoneNumber,
		Message:         request.Message,
		ServiceCategory: request.ServiceCategory,
		Internal:        true,
	}
	backend.inquiries[inquiry.ID] = inquiry
	return inquiry.ID, nil
}

func (backend *fakeBackend) StreamInquiryEvents(ctx context.Context, token string, handle func(storeclient.InquiryEvent)) error {
	backend.mutex.Lock()
	backend.calls = append(backend.calls, "stream")
	var streamErr error
	if len(backend.streamErrs) > 0 {
		streamErr = backend.streamErrs[0]
		backend.streamErrs = backend.streamErrs[1:]
	}
	events := append([]storeclient.InquiryEvent(nil), backend.streamEvents...)
	backend.mutex.Unlock()

	if streamErr != nil {
		return streamErr
	}
	for _, event := range events {
		handle(event)
	}
	return nil
}

func (backend *fakeBackend) addInquiry(inquiry storeclient.Inquiry) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.inquiries[inquiry.ID] = inquiry
}

func (backend *fakeBackend) callCount(name string) int {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	count := 0
	for _, call := range backend.calls {
		if call == name {
			count++
		}
	}
	return count
}

func (backend *fakeBackend) callLog() []string {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return append([]string(nil), backend.calls...)
}

func (backend *fakeBackend) setIsAdmin(isAdmin bool) {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.isAdmin = isAdmin
}

type sleepRecorder struct {
	mutex  sync.Mutex
	delays []time.Duration
}

func (recorder *sleepRecorder) sleep(ctx context.Context, delay time.Duration) error {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.delays = append(recorder.delays, delay)
	return ctx.Err()
}

func (recorder *sleepRecorder) recorded() []time.Duration {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return append([]time.Duration(nil), recorder.delays...)
}

type consoleFixture struct {
	backend     *fakeBackend
	store       *session.Store
	gate        *session.Gate
	sleeps      *sleepRecorder
	initializer *Initializer
	controller  *Controller
}

func newConsoleFixture(testingT *testing.T, config InitializerConfig) *consoleFixture {
	testingT.Helper()
	gate, gateErr := session.NewGate(session.Credentials{
		UserID:      testOperatorID,
		Password:    testOperatorPassword,
		AdminSecret: testAdminSecret,
	})
	require.NoError(testingT, gateErr)

	fixture := &consoleFixture{
		backend: newFakeBackend(),
		store:   session.NewStore(),
		gate:    gate,
		sleeps:  &sleepRecorder{},
	}
	if config.Sleep == nil {
		config.Sleep = fixture.sleeps.sleep
	}
	fixture.initializer = NewInitializer(fixture.backend, fixture.store, zap.NewNop(), config)
	fixture.controller = NewController(fixture.initializer, zap.NewNop())
	testingT.Cleanup(fixture.initializer.Close)
	return fixture
}

func (fixture *consoleFixture) login(testingT *testing.T) {
	testingT.Helper()
	require.True(testingT, fixture.gate.Login(fixture.store, testOperatorID, testOperatorPassword))
}

func (fixture *consoleFixture) ready(testingT *testing.T) {
	testingT.Helper()
	fixture.login(testingT)
	_, readyErr := fixture.initializer.EnsureReady(context.Background())
	require.NoError(testingT, readyErr)
	require.Equal(testingT, StateReady, fixture.initializer.State())
}
