package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gale320/authgate/internal/identity"
	"github.com/gale320/authgate/internal/security"
)

func newRedisManager(t *testing.T) (*redisManager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	m, err := NewRedisManager(Config{TTL: time.Minute}, RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, mr
}

func TestNewRedisManagerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRedisManager(Config{}, RedisConfig{})
	assert.Error(t, err)

	_, err = NewRedisManager(Config{}, RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestRedisManagerRoundTrip(t *testing.T) {
	t.Parallel()

	m, _ := newRedisManager(t)
	store := testStore(t)
	account := &identity.Account{Username: "alice"}

	cookie := establishSession(t, m, account)
	assert.NotEmpty(t, cookie.Value)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)

	result := m.LookupSession(req, store)
	assert.Equal(t, security.OutcomeAuthenticated, result.Outcome)
	require.NotNil(t, result.Principal)
	assert.Equal(t, "alice", result.Principal.Name)
}

func TestRedisManagerUnknownSession(t *testing.T) {
	t.Parallel()

	m, _ := newRedisManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "bogus"})

	result := m.LookupSession(req, testStore(t))
	assert.Equal(t, security.OutcomeNotAttempted, result.Outcome)
}

func TestRedisManagerExpiredSession(t *testing.T) {
	t.Parallel()

	m, mr := newRedisManager(t)

	cookie := establishSession(t, m, &identity.Account{Username: "alice"})

	// Let the record's TTL elapse on the server.
	mr.FastForward(2 * time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)

	result := m.LookupSession(req, testStore(t))
	assert.Equal(t, security.OutcomeNotAttempted, result.Outcome)
}

func TestRedisManagerTTLRefreshOnLookup(t *testing.T) {
	t.Parallel()

	m, mr := newRedisManager(t)
	store := testStore(t)

	cookie := establishSession(t, m, &identity.Account{Username: "alice"})

	// Halfway to expiry, an active session stays alive.
	mr.FastForward(30 * time.Second)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	result := m.LookupSession(req, store)
	require.Equal(t, security.OutcomeAuthenticated, result.Outcome)

	mr.FastForward(45 * time.Second)

	result = m.LookupSession(req, store)
	assert.Equal(t, security.OutcomeAuthenticated, result.Outcome)
}

func TestRedisManagerRemovedUser(t *testing.T) {
	t.Parallel()

	m, mr := newRedisManager(t)

	cookie := establishSession(t, m, &identity.Account{Username: "bob"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)

	result := m.LookupSession(req, testStore(t))
	assert.Equal(t, security.OutcomeNotAttempted, result.Outcome)

	// The stale record was dropped.
	assert.Empty(t, mr.Keys())
}

func TestRedisManagerCorruptRecord(t *testing.T) {
	t.Parallel()

	m, mr := newRedisManager(t)

	require.NoError(t, mr.Set(defaultRedisKeyPrefix+"bad", "not-json"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "bad"})

	result := m.LookupSession(req, testStore(t))
	assert.Equal(t, security.OutcomeNotAttempted, result.Outcome)
	assert.Empty(t, mr.Keys())
}

func TestRedisManagerLogout(t *testing.T) {
	t.Parallel()

	m, mr := newRedisManager(t)
	account := &identity.Account{Username: "alice"}

	cookie := establishSession(t, m, account)
	require.NotEmpty(t, mr.Keys())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookie)
	m.UserLoggedOut(rec, req, account.Principal(), account)

	assert.Empty(t, mr.Keys())

	expired := sessionCookie(t, rec, DefaultCookieName)
	assert.Negative(t, expired.MaxAge)
}
