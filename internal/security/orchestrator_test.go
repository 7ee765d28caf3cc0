package security

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gale320/authgate/internal/identity"
)

// mockMechanism is a scripted mechanism recording attempt and challenge
// order.
type mockMechanism struct {
	name   string
	result MechanismResult
	err    error
	calls  *[]string
}

func (m *mockMechanism) Name() string { return m.name }

func (m *mockMechanism) Attempt(_ context.Context, _ *http.Request, _ identity.Store) (MechanismResult, error) {
	if m.calls != nil {
		*m.calls = append(*m.calls, "attempt:"+m.name)
	}
	return m.result, m.err
}

func (m *mockMechanism) Challenge(w http.ResponseWriter, _ *http.Request) {
	if m.calls != nil {
		*m.calls = append(*m.calls, "challenge:"+m.name)
	}
	w.Header().Add("WWW-Authenticate", m.name)
}

// mockSessionManager is a scripted session manager.
type mockSessionManager struct {
	lookup        MechanismResult
	authenticated []string
	loggedOut     []string
}

func (m *mockSessionManager) LookupSession(_ *http.Request, _ identity.Store) MechanismResult {
	return m.lookup
}

func (m *mockSessionManager) UserAuthenticated(_ http.ResponseWriter, _ *http.Request, principal *identity.Principal, _ *identity.Account) {
	m.authenticated = append(m.authenticated, principal.Name)
}

func (m *mockSessionManager) UserLoggedOut(_ http.ResponseWriter, _ *http.Request, principal *identity.Principal, _ *identity.Account) {
	if principal != nil {
		m.loggedOut = append(m.loggedOut, principal.Name)
	}
}

// mockStore is a scripted identity store.
type mockStore struct {
	accounts map[string]*identity.Account
	verify   bool
	inGroup  bool
	err      error
}

func (s *mockStore) LookupAccount(_ context.Context, username string) (*identity.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	account, ok := s.accounts[username]
	if !ok {
		return nil, identity.ErrAccountNotFound
	}
	return account, nil
}

func (s *mockStore) VerifyCredential(_ context.Context, _ *identity.Account, _ identity.Credential) (bool, error) {
	return s.verify, s.err
}

func (s *mockStore) IsUserInGroup(_ context.Context, _ *identity.Account, _ string) (bool, error) {
	return s.inGroup, s.err
}

func testAccount(name string) *identity.Account {
	return &identity.Account{Username: name, Groups: []string{"users"}}
}

func newTestMetrics() *Metrics {
	return NewMetricsWithRegisterer("test", prometheus.NewRegistry())
}

func testContext(t *testing.T, opts ...ContextOption) *SecurityContext {
	t.Helper()
	base := []ContextOption{
		WithContextMetrics(newTestMetrics()),
	}
	return NewSecurityContext(&mockStore{accounts: map[string]*identity.Account{}}, append(base, opts...)...)
}

func TestAuthenticateFirstMatchWins(t *testing.T) {
	t.Parallel()

	var calls []string
	first := &mockMechanism{name: "first", result: Authenticated(&identity.Principal{Name: "alice"}, testAccount("alice")), calls: &calls}
	second := &mockMechanism{name: "second", result: NotAttempted(), calls: &calls}

	sc := testContext(t, WithMechanisms(first, second))

	result, err := sc.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, result.Outcome)

	// The second mechanism never ran.
	assert.Equal(t, []string{"attempt:first"}, calls)

	assert.Equal(t, StateAuthenticated, sc.AuthenticationState())
	assert.Equal(t, "first", sc.MechanismName())
	require.NotNil(t, sc.AuthenticatedPrincipal())
	assert.Equal(t, "alice", sc.AuthenticatedPrincipal().Name)
}

func TestAuthenticateNotAttemptedMovesOn(t *testing.T) {
	t.Parallel()

	var calls []string
	first := &mockMechanism{name: "first", result: NotAttempted(), calls: &calls}
	second := &mockMechanism{name: "second", result: Authenticated(&identity.Principal{Name: "bob"}, testAccount("bob")), calls: &calls}

	sc := testContext(t, WithMechanisms(first, second))

	result, err := sc.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, result.Outcome)
	assert.Equal(t, []string{"attempt:first", "attempt:second"}, calls)
	assert.Equal(t, "second", sc.MechanismName())
}

func TestAuthenticateNegativeOutcomeStopsChain(t *testing.T) {
	t.Parallel()

	var calls []string
	first := &mockMechanism{name: "first", result: NotAuthenticated(), calls: &calls}
	second := &mockMechanism{name: "second", result: Authenticated(&identity.Principal{Name: "bob"}, testAccount("bob")), calls: &calls}

	sc := testContext(t, WithMechanisms(first, second))

	result, err := sc.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotAuthenticated, result.Outcome)

	// The chain stopped at the failing mechanism; nothing was committed.
	assert.Equal(t, []string{"attempt:first"}, calls)
	assert.Equal(t, StateNotRequired, sc.AuthenticationState())
	assert.Nil(t, sc.AuthenticatedPrincipal())

	// The completion task challenges every registered mechanism in order.
	rec := httptest.NewRecorder()
	result.Completion.Run(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"attempt:first", "challenge:first", "challenge:second"}, calls)
	assert.Equal(t, []string{"first", "second"}, rec.Header().Values("WWW-Authenticate"))
}

func TestAuthenticateExhaustedChainChallengesAll(t *testing.T) {
	t.Parallel()

	var calls []string
	first := &mockMechanism{name: "first", result: NotAttempted(), calls: &calls}
	second := &mockMechanism{name: "second", result: NotAttempted(), calls: &calls}

	sc := testContext(t, WithMechanisms(first, second))

	result, err := sc.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotAuthenticated, result.Outcome)

	rec := httptest.NewRecorder()
	result.Completion.Run(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"first", "second"}, rec.Header().Values("WWW-Authenticate"))
}

func TestAuthenticateEmptyChain(t *testing.T) {
	t.Parallel()

	sc := testContext(t)

	result, err := sc.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotAuthenticated, result.Outcome)
	assert.Equal(t, StateNotRequired, sc.AuthenticationState())
}

func TestAuthenticateSessionShortcut(t *testing.T) {
	t.Parallel()

	var calls []string
	mech := &mockMechanism{name: "basic", result: Authenticated(&identity.Principal{Name: "bob"}, testAccount("bob")), calls: &calls}
	sessions := &mockSessionManager{
		lookup: Authenticated(&identity.Principal{Name: "alice"}, testAccount("alice")),
	}

	sc := testContext(t, WithMechanisms(mech), WithSessionManager(sessions))

	result, err := sc.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, result.Outcome)

	// Mechanisms were bypassed entirely.
	assert.Empty(t, calls)
	assert.Equal(t, SessionMechanismName, sc.MechanismName())
	assert.Equal(t, "alice", sc.AuthenticatedPrincipal().Name)

	// The completion task is a no-op.
	rec := httptest.NewRecorder()
	result.Completion.Run(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, rec.Header())
}

func TestAuthenticateSessionMissFallsThrough(t *testing.T) {
	t.Parallel()

	var calls []string
	mech := &mockMechanism{name: "basic", result: Authenticated(&identity.Principal{Name: "bob"}, testAccount("bob")), calls: &calls}
	sessions := &mockSessionManager{lookup: NotAttempted()}

	sc := testContext(t, WithMechanisms(mech), WithSessionManager(sessions))

	result, err := sc.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, result.Outcome)
	assert.Equal(t, "basic", sc.MechanismName())
}

func TestAuthenticateMechanismErrorAbortsChain(t *testing.T) {
	t.Parallel()

	var calls []string
	boom := errors.New("store unreachable")
	first := &mockMechanism{name: "first", err: boom, calls: &calls}
	second := &mockMechanism{name: "second", result: Authenticated(&identity.Principal{Name: "bob"}, testAccount("bob")), calls: &calls}

	sc := testContext(t, WithMechanisms(first, second))

	_, err := sc.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMechanismFailed)
	assert.ErrorIs(t, err, boom)

	var mechErr *MechanismError
	require.ErrorAs(t, err, &mechErr)
	assert.Equal(t, "first", mechErr.Mechanism)

	// Nothing committed, chain aborted before the second mechanism.
	assert.Equal(t, []string{"attempt:first"}, calls)
	assert.Equal(t, StateNotRequired, sc.AuthenticationState())
	assert.Nil(t, sc.AuthenticatedPrincipal())
	assert.Nil(t, sc.LastResult())
}

func TestAuthenticateCancelledContext(t *testing.T) {
	t.Parallel()

	var calls []string
	mech := &mockMechanism{name: "basic", result: Authenticated(&identity.Principal{Name: "bob"}, testAccount("bob")), calls: &calls}

	sc := testContext(t, WithMechanisms(mech))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)

	_, err := sc.Authenticate(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationCancelled)
	assert.Empty(t, calls)
}

func TestAuthenticateAsync(t *testing.T) {
	t.Parallel()

	mech := &mockMechanism{name: "basic", result: Authenticated(&identity.Principal{Name: "alice"}, testAccount("alice"))}
	sc := testContext(t, WithMechanisms(mech))

	pool := NewWorkerPool(2, 4)
	defer pool.Close()

	future := sc.AuthenticateAsync(httptest.NewRequest(http.MethodGet, "/", nil), pool)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := future.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, result.Outcome)
	assert.Equal(t, StateAuthenticated, sc.AuthenticationState())
}

func TestAuthenticateAsyncClosedExecutor(t *testing.T) {
	t.Parallel()

	sc := testContext(t, WithMechanisms(&mockMechanism{name: "basic", result: NotAttempted()}))

	pool := NewWorkerPool(1, 1)
	pool.Close()

	future := sc.AuthenticateAsync(httptest.NewRequest(http.MethodGet, "/", nil), pool)

	_, err := future.Get(context.Background())
	assert.ErrorIs(t, err, ErrExecutorClosed)
}

func TestAuthenticateHandledAuthenticated(t *testing.T) {
	t.Parallel()

	var calls []string
	mech := &mockMechanism{name: "basic", result: Authenticated(&identity.Principal{Name: "alice"}, testAccount("alice")), calls: &calls}
	sc := testContext(t, WithMechanisms(mech))

	var finishCalled bool
	rec := httptest.NewRecorder()
	sc.AuthenticateHandled(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		ResponseSentinelFunc(func() bool { return false }),
		func() { calls = append(calls, "next") },
		func() { finishCalled = true },
	)

	assert.False(t, finishCalled)
	// The winning mechanism's completion is staged before the request
	// proceeds.
	assert.Equal(t, []string{"attempt:basic", "challenge:basic", "next"}, calls)
}

func TestAuthenticateHandledRequiredSendsChallenges(t *testing.T) {
	t.Parallel()

	var calls []string
	mech := &mockMechanism{name: "basic", result: NotAuthenticated(), calls: &calls}
	sc := testContext(t, WithMechanisms(mech))
	sc.SetAuthenticationRequired()

	var nextCalled, finishCalled bool
	rec := httptest.NewRecorder()
	sc.AuthenticateHandled(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		ResponseSentinelFunc(func() bool { return false }),
		func() { nextCalled = true },
		func() { finishCalled = true },
	)

	assert.False(t, nextCalled)
	assert.True(t, finishCalled)
	assert.Equal(t, []string{"attempt:basic", "challenge:basic"}, calls)
	assert.Equal(t, "basic", rec.Header().Get("WWW-Authenticate"))
}

func TestAuthenticateHandledResponseStartedSkipsChallenges(t *testing.T) {
	t.Parallel()

	var calls []string
	mech := &mockMechanism{name: "basic", result: NotAuthenticated(), calls: &calls}
	sc := testContext(t, WithMechanisms(mech))
	sc.SetAuthenticationRequired()

	var finishCalled bool
	rec := httptest.NewRecorder()
	sc.AuthenticateHandled(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		ResponseSentinelFunc(func() bool { return true }),
		nil,
		func() { finishCalled = true },
	)

	// finish still runs, but no challenge is staged.
	assert.True(t, finishCalled)
	assert.Equal(t, []string{"attempt:basic"}, calls)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestAuthenticateHandledOptionalProceedsAnonymously(t *testing.T) {
	t.Parallel()

	var calls []string
	first := &mockMechanism{name: "first", result: NotAuthenticated(), calls: &calls}
	second := &mockMechanism{name: "second", result: NotAttempted(), calls: &calls}
	sc := testContext(t, WithMechanisms(first, second))

	var finishCalled bool
	rec := httptest.NewRecorder()
	sc.AuthenticateHandled(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		ResponseSentinelFunc(func() bool { return false }),
		func() { calls = append(calls, "next") },
		func() { finishCalled = true },
	)

	// The request proceeds anonymously, but every mechanism's challenge
	// contribution is still staged first.
	assert.False(t, finishCalled)
	assert.Equal(t, []string{"attempt:first", "challenge:first", "challenge:second", "next"}, calls)
	assert.Equal(t, []string{"first", "second"}, rec.Header().Values("WWW-Authenticate"))
}

func TestAuthenticateHandledOptionalResponseStartedSkipsChallenges(t *testing.T) {
	t.Parallel()

	var calls []string
	mech := &mockMechanism{name: "basic", result: NotAuthenticated(), calls: &calls}
	sc := testContext(t, WithMechanisms(mech))

	rec := httptest.NewRecorder()
	sc.AuthenticateHandled(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		ResponseSentinelFunc(func() bool { return true }),
		func() { calls = append(calls, "next") },
		nil,
	)

	// Transmission already began; the request still proceeds but nothing
	// is staged.
	assert.Equal(t, []string{"attempt:basic", "next"}, calls)
	assert.Empty(t, rec.Header().Values("WWW-Authenticate"))
}

func TestAuthenticateHandledMechanismError(t *testing.T) {
	t.Parallel()

	mech := &mockMechanism{name: "basic", err: errors.New("store unreachable")}
	sc := testContext(t, WithMechanisms(mech))
	sc.SetAuthenticationRequired()

	var nextCalled, finishCalled bool
	rec := httptest.NewRecorder()
	sc.AuthenticateHandled(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		ResponseSentinelFunc(func() bool { return false }),
		func() { nextCalled = true },
		func() { finishCalled = true },
	)

	// The chain aborted: no challenges, but the exchange still ends and the
	// failure is readable by the host.
	assert.False(t, nextCalled)
	assert.True(t, finishCalled)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
	require.Error(t, sc.AuthenticationError())
	assert.ErrorIs(t, sc.AuthenticationError(), ErrMechanismFailed)
}

func TestBasicFailsThenFormSucceeds(t *testing.T) {
	t.Parallel()

	var calls []string
	basic := &mockMechanism{name: "basic", result: NotAttempted(), calls: &calls}
	form := &mockMechanism{name: "form", result: Authenticated(&identity.Principal{Name: "alice"}, testAccount("alice")), calls: &calls}

	sc := testContext(t, WithMechanisms(basic, form))
	sc.SetAuthenticationRequired()

	result, err := sc.Authenticate(httptest.NewRequest(http.MethodPost, "/login", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, result.Outcome)
	assert.Equal(t, "form", sc.MechanismName())
	assert.Equal(t, []string{"attempt:basic", "attempt:form"}, calls)
}
