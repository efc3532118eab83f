package console

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/emitra/internal/session"
	"github.com/MarkoPoloResearchLab/emitra/internal/storeclient"
)

const (
	eventuallyTimeout  = 2 * time.Second
	eventuallyInterval = 5 * time.Millisecond
)

func unavailable() error {
	return &storeclient.StatusError{StatusCode: http.StatusServiceUnavailable, Operation: "connect"}
}

func TestEnsureReadyRunsConnectElevateVerifyInOrder(testingT *testing.T) {
	fixture := newConsoleFixture(testingT, InitializerConfig{})
	fixture.login(testingT)

	handle, readyErr := fixture.initializer.EnsureReady(context.Background())
	require.NoError(testingT, readyErr)
	require.Equal(testingT, "user:"+testOperatorID, handle.Principal())
	require.Equal(testingT, []string{"connect", "elevate", "is_admin"}, fixture.backend.callLog())
	require.Equal(testingT, []string{testAdminSecret}, fixture.backend.elevateSecrets)

	snapshot := fixture.initializer.Snapshot()
	require.Equal(testingT, StateReady, snapshot.State)
	require.Nil(testingT, snapshot.Err)
	require.Equal(testingT, 1, snapshot.Attempts)
}

func TestEnsureReadyIsNeverReadyWithoutAdminVerification(testingT *testing.T) {
	testCases := []struct {
		name      string
		configure func(*fakeBackend)
	}{
		{name: "verification false", configure: func(backend *fakeBackend) { backend.isAdmin = false }},
		{name: "verification error", configure: func(backend *fakeBackend) {
			backend.isAdminErr = &storeclient.StatusError{StatusCode: http.StatusForbidden, Code: storeclient.ErrorCodeNotAdmin}
		}},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(testingT *testing.T) {
			fixture := newConsoleFixture(testingT, InitializerConfig{})
			testCase.configure(fixture.backend)
			fixture.login(testingT)

			handle, readyErr := fixture.initializer.EnsureReady(context.Background())
			require.Nil(testingT, handle)
			var consoleError *Error
			require.ErrorAs(testingT, readyErr, &consoleError)
			require.Equal(testingT, KindAuthorization, consoleError.Kind)
			require.Equal(testingT, RecoveryLogout, consoleError.Recovery())
			require.Equal(testingT, StateFailed, fixture.initializer.State())

			_, handleErr := fixture.initializer.ReadyHandle()
			require.ErrorIs(testingT, handleErr, ErrNotReady)
		})
	}
}

func TestAuthorizationFailureIsNotRetried(testingT *testing.T) {
	fixture := newConsoleFixture(testingT, InitializerConfig{})
	fixture.backend.connectErrs = []error{
		&storeclient.StatusError{StatusCode: http.StatusUnauthorized, Code: storeclient.ErrorCodeUnauthorized},
	}
	fixture.login(testingT)

	_, readyErr := fixture.initializer.EnsureReady(context.Background())
	var consoleError *Error
	require.ErrorAs(testingT, readyErr, &consoleError)
	require.Equal(testingT, KindAuthorization, consoleError.Kind)
	require.Equal(testingT, 1, fixture.backend.callCount("connect"))
	require.Empty(testingT, fixture.sleeps.recorded())
}

func TestTransientFailuresRetryWithExponentialBackoff(testingT *testing.T) {
	fixture := newConsoleFixture(testingT, InitializerConfig{})
	fixture.backend.connectErrs = []error{unavailable(), unavailable(), unavailable(), unavailable(), unavailable()}
	fixture.login(testingT)

	_, readyErr := fixture.initializer.EnsureReady(context.Background())
	var consoleError *Error
	require.ErrorAs(testingT, readyErr, &consoleError)
	require.Equal(testingT, KindTransient, consoleError.Kind)
	require.Equal(testingT, RecoveryRetry, consoleError.Recovery())
	require.Equal(testingT, 4, fixture.backend.callCount("connect"))
	require.Equal(testingT, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, fixture.sleeps.recorded())
	require.Equal(testingT, 4, fixture.initializer.Snapshot().Attempts)
	require.Zero(testingT, fixture.backend.callCount("is_admin"))
}

func TestTransientFailureRecoversWithinRetryBudget(testingT *testing.T) {
	fixture := newConsoleFixture(testingT, InitializerConfig{})
	fixture.backend.connectErrs = []error{unavailable(), unavailable()}
	fixture.login(testingT)

	_, readyErr := fixture.initializer.EnsureReady(context.Background())
	require.NoError(testingT, readyErr)
	require.Equal(testingT, []time.Duration{2 * time.Second, 4 * time.Second}, fixture.sleeps.recorded())
	require.Equal(testingT, 3, fixture.backend.callCount("connect"))
}

func TestInitializationTimesOutWhenConnectHangs(testingT *testing.T) {
	release := make(chan struct{})
	testingT.Cleanup(func() { close(release) })

	fixture := newConsoleFixture(testingT, InitializerConfig{Timeout: 20 * time.Millisecond})
	fixture.backend.connectBlock = release
	fixture.login(testingT)

	_, readyErr := fixture.initializer.EnsureReady(context.Background())
	var consoleError *Error
	require.ErrorAs(testingT, readyErr, &consoleError)
	require.Equal(testingT, KindTimeout, consoleError.Kind)
	require.Equal(testingT, StateFailed, fixture.initializer.State())
	require.Empty(testingT, fixture.sleeps.recorded())
}

func TestAlreadyElevatedProceedsToVerification(testingT *testing.T) {
	fixture := newConsoleFixture(testingT, InitializerConfig{})
	fixture.backend.elevateErr = &storeclient.StatusError{
		StatusCode: http.StatusConflict,
		Code:       storeclient.ErrorCodeAlreadyElevated,
	}
	fixture.login(testingT)

	_, readyErr := fixture.initializer.EnsureReady(context.Background())
	require.NoError(testingT, readyErr)
	require.Equal(testingT, []string{"connect", "elevate", "is_admin"}, fixture.backend.callLog())
}

func TestFailedStateIsLeftOnlyThroughRetry(testingT *testing.T) {
	fixture := newConsoleFixture(testingT, InitializerConfig{})
	fixture.backend.setIsAdmin(false)
	fixture.login(testingT)

	_, firstErr := fixture.initializer.EnsureReady(context.Background())
	require.Error(testingT, firstErr)
	fixture.backend.setIsAdmin(true)

	_, repeatedErr := fixture.initializer.EnsureReady(context.Background())
	require.Error(testingT, repeatedErr)
	require.Equal(testingT, 1, fixture.backend.callCount("connect"))

	handle, retryErr := fixture.initializer.Retry(context.Background())
	require.NoError(testingT, retryErr)
	require.NotNil(testingT, handle)
	require.Equal(testingT, 2, fixture.backend.callCount("connect"))
	require.Equal(testingT, StateReady, fixture.initializer.State())
}

func TestEnsureReadyRequiresLogin(testingT *testing.T) {
	fixture := newConsoleFixture(testingT, InitializerConfig{})

	_, readyErr := fixture.initializer.EnsureReady(context.Background())
	require.ErrorIs(testingT, readyErr, ErrNoSession)
	_, retryErr := fixture.initializer.Retry(context.Background())
	require.ErrorIs(testingT, retryErr, ErrNoSession)
	require.Empty(testingT, fixture.backend.callLog())
}

func TestConcurrentEnsureReadySharesOneRun(testingT *testing.T) {
	release := make(chan struct{})
	fixture := newConsoleFixture(testingT, InitializerConfig{})
	fixture.backend.connectBlock = release
	fixture.login(testingT)

	const callers = 5
	var waitGroup sync.WaitGroup
	handles := make([]*Handle, callers)
	errs := make([]error, callers)
	for index := 0; index < callers; index++ {
		waitGroup.Add(1)
		go func(index int) {
			defer waitGroup.Done()
			handles[index], errs[index] = fixture.initializer.EnsureReady(context.Background())
		}(index)
	}
	require.Eventually(testingT, func() bool {
		return fixture.backend.callCount("connect") == 1
	}, eventuallyTimeout, eventuallyInterval)
	close(release)
	waitGroup.Wait()

	for index := 0; index < callers; index++ {
		require.NoError(testingT, errs[index])
		require.Same(testingT, handles[0], handles[index])
	}
	require.Equal(testingT, 1, fixture.backend.callCount("connect"))
}

func TestStartFollowsSessionChanges(testingT *testing.T) {
	fixture := newConsoleFixture(testingT, InitializerConfig{})
	var observedMutex sync.Mutex
	var observed []State
	unsubscribe := fixture.initializer.Subscribe(func(snapshot Snapshot) {
		observedMutex.Lock()
		observed = append(observed, snapshot.State)
		observedMutex.Unlock()
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fixture.initializer.Start(ctx)
	require.Equal(testingT, StateIdle, fixture.initializer.State())

	fixture.login(testingT)
	require.Eventually(testingT, func() bool {
		return fixture.initializer.State() == StateReady
	}, eventuallyTimeout, eventuallyInterval)
	firstHandle, handleErr := fixture.initializer.ReadyHandle()
	require.NoError(testingT, handleErr)

	fixture.store.Write(session.KeyAdminToken, "rotated-secret")
	require.Eventually(testingT, func() bool {
		handle, err := fixture.initializer.ReadyHandle()
		return err == nil && handle != firstHandle
	}, eventuallyTimeout, eventuallyInterval)
	require.Equal(testingT, 2, fixture.backend.callCount("connect"))
	require.Equal(testingT, []string{testAdminSecret, "rotated-secret"}, fixture.backend.elevateSecrets)

	fixture.gate.Logout(fixture.store)
	require.Equal(testingT, StateIdle, fixture.initializer.State())
	_, idleErr := fixture.initializer.ReadyHandle()
	require.ErrorIs(testingT, idleErr, ErrNotReady)

	observedMutex.Lock()
	defer observedMutex.Unlock()
	require.Contains(testingT, observed, StateInitializing)
	require.Contains(testingT, observed, StateVerifying)
	require.Equal(testingT, StateIdle, observed[len(observed)-1])
}

func TestReadyHandleNeverStartsInitialization(testingT *testing.T) {
	fixture := newConsoleFixture(testingT, InitializerConfig{})
	fixture.login(testingT)

	_, handleErr := fixture.initializer.ReadyHandle()
	require.True(testingT, errors.Is(handleErr, ErrNotReady))
	require.Empty(testingT, fixture.backend.callLog())
	require.Equal(testingT, StateIdle, fixture.initializer.State())
}
