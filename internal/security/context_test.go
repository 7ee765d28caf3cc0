package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gale320/authgate/internal/identity"
)

func TestSetAuthenticationRequired(t *testing.T) {
	t.Parallel()

	sc := testContext(t)
	assert.Equal(t, StateNotRequired, sc.AuthenticationState())

	sc.SetAuthenticationRequired()
	assert.Equal(t, StateRequired, sc.AuthenticationState())

	// Idempotent.
	sc.SetAuthenticationRequired()
	assert.Equal(t, StateRequired, sc.AuthenticationState())
}

func TestSetAuthenticationRequiredAfterAuthenticated(t *testing.T) {
	t.Parallel()

	mech := &mockMechanism{name: "basic", result: Authenticated(&identity.Principal{Name: "alice"}, testAccount("alice"))}
	sc := testContext(t, WithMechanisms(mech))

	_, err := sc.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	sc.SetAuthenticationRequired()
	assert.Equal(t, StateAuthenticated, sc.AuthenticationState())
}

func TestLoginSuccess(t *testing.T) {
	t.Parallel()

	store := &mockStore{
		accounts: map[string]*identity.Account{"alice": testAccount("alice")},
		verify:   true,
	}
	sessions := &mockSessionManager{lookup: NotAttempted()}
	sc := NewSecurityContext(store,
		WithSessionManager(sessions),
		WithContextMetrics(newTestMetrics()),
	)

	rec := httptest.NewRecorder()
	ok := sc.Login(rec, httptest.NewRequest(http.MethodPost, "/login", nil), "alice", "secret")
	require.True(t, ok)

	assert.Equal(t, StateAuthenticated, sc.AuthenticationState())
	require.NotNil(t, sc.AuthenticatedPrincipal())
	assert.Equal(t, "alice", sc.AuthenticatedPrincipal().Name)

	// The session manager was told about the new session.
	assert.Equal(t, []string{"alice"}, sessions.authenticated)
}

func TestLoginUnknownUser(t *testing.T) {
	t.Parallel()

	store := &mockStore{accounts: map[string]*identity.Account{}, verify: true}
	sc := NewSecurityContext(store, WithContextMetrics(newTestMetrics()))

	rec := httptest.NewRecorder()
	ok := sc.Login(rec, httptest.NewRequest(http.MethodPost, "/login", nil), "ghost", "secret")
	assert.False(t, ok)
	assert.Equal(t, StateNotRequired, sc.AuthenticationState())
	assert.Nil(t, sc.AuthenticatedPrincipal())
}

func TestLoginBadPassword(t *testing.T) {
	t.Parallel()

	store := &mockStore{
		accounts: map[string]*identity.Account{"alice": testAccount("alice")},
		verify:   false,
	}
	sc := NewSecurityContext(store, WithContextMetrics(newTestMetrics()))

	rec := httptest.NewRecorder()
	ok := sc.Login(rec, httptest.NewRequest(http.MethodPost, "/login", nil), "alice", "wrong")
	assert.False(t, ok)
	assert.Equal(t, StateNotRequired, sc.AuthenticationState())
}

func TestLogout(t *testing.T) {
	t.Parallel()

	store := &mockStore{
		accounts: map[string]*identity.Account{"alice": testAccount("alice")},
		verify:   true,
	}
	sessions := &mockSessionManager{lookup: NotAttempted()}
	sc := NewSecurityContext(store,
		WithSessionManager(sessions),
		WithContextMetrics(newTestMetrics()),
	)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	require.True(t, sc.Login(rec, req, "alice", "secret"))

	sc.Logout(rec, req)

	assert.Equal(t, StateNotRequired, sc.AuthenticationState())
	assert.Nil(t, sc.AuthenticatedPrincipal())
	assert.Nil(t, sc.AuthenticatedAccount())
	assert.Empty(t, sc.MechanismName())

	// The session manager saw the principal that was logged out.
	assert.Equal(t, []string{"alice"}, sessions.loggedOut)
}

// hookSessionManager runs a callback when the user is logged out, before
// delegating to the scripted mock.
type hookSessionManager struct {
	mockSessionManager
	onLoggedOut func()
}

func (m *hookSessionManager) UserLoggedOut(w http.ResponseWriter, r *http.Request, principal *identity.Principal, account *identity.Account) {
	if m.onLoggedOut != nil {
		m.onLoggedOut()
	}
	m.mockSessionManager.UserLoggedOut(w, r, principal, account)
}

func TestLogoutNotifiesBeforeClearing(t *testing.T) {
	t.Parallel()

	store := &mockStore{
		accounts: map[string]*identity.Account{"alice": testAccount("alice")},
		verify:   true,
	}

	sessions := &hookSessionManager{}
	sc := NewSecurityContext(store,
		WithSessionManager(sessions),
		WithContextMetrics(newTestMetrics()),
	)

	var observedState AuthenticationState
	var observedPrincipal *identity.Principal
	sessions.onLoggedOut = func() {
		observedState = sc.AuthenticationState()
		observedPrincipal = sc.AuthenticatedPrincipal()
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	require.True(t, sc.Login(rec, req, "alice", "secret"))

	sc.Logout(rec, req)

	// The session manager saw the request while it was still authenticated.
	assert.Equal(t, StateAuthenticated, observedState)
	require.NotNil(t, observedPrincipal)
	assert.Equal(t, "alice", observedPrincipal.Name)

	// Afterwards the state is gone.
	assert.Equal(t, StateNotRequired, sc.AuthenticationState())
	assert.Nil(t, sc.AuthenticatedPrincipal())
}

func TestLogoutWhenNotAuthenticated(t *testing.T) {
	t.Parallel()

	sessions := &mockSessionManager{lookup: NotAttempted()}
	sc := testContext(t, WithSessionManager(sessions))

	rec := httptest.NewRecorder()
	sc.Logout(rec, httptest.NewRequest(http.MethodPost, "/logout", nil))

	assert.Equal(t, StateNotRequired, sc.AuthenticationState())
	assert.Empty(t, sessions.loggedOut)
}

func TestIsUserInGroup(t *testing.T) {
	t.Parallel()

	store := &mockStore{
		accounts: map[string]*identity.Account{"alice": testAccount("alice")},
		verify:   true,
		inGroup:  true,
	}
	sc := NewSecurityContext(store, WithContextMetrics(newTestMetrics()))

	// Unauthenticated requests are never in any group.
	assert.False(t, sc.IsUserInGroup(context.Background(), "users"))

	rec := httptest.NewRecorder()
	require.True(t, sc.Login(rec, httptest.NewRequest(http.MethodPost, "/login", nil), "alice", "secret"))

	assert.True(t, sc.IsUserInGroup(context.Background(), "users"))
}

func TestRegisterMechanism(t *testing.T) {
	t.Parallel()

	sc := testContext(t)
	sc.RegisterMechanism(&mockMechanism{name: "basic", result: NotAttempted()})
	sc.RegisterMechanism(&mockMechanism{name: "form", result: NotAttempted()})

	mechanisms := sc.Mechanisms()
	require.Len(t, mechanisms, 2)
	assert.Equal(t, "basic", mechanisms[0].Name())
	assert.Equal(t, "form", mechanisms[1].Name())
}

func TestAuthenticationStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "not_required", StateNotRequired.String())
	assert.Equal(t, "required", StateRequired.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "unknown", AuthenticationState(42).String())
}
