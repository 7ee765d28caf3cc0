package security

import (
	"context"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/gale320/authgate/internal/identity"
	"github.com/gale320/authgate/internal/observability"
)

// AuthenticationState tracks where a request stands in its authentication
// lifecycle.
type AuthenticationState int

const (
	// StateNotRequired is the initial state. Authentication may still run
	// opportunistically, but a negative outcome does not block the request.
	StateNotRequired AuthenticationState = iota

	// StateRequired means a handler demanded authentication for this request.
	StateRequired

	// StateAuthenticated means a principal has been committed.
	StateAuthenticated
)

// String returns a stable label for the state.
func (s AuthenticationState) String() string {
	switch s {
	case StateNotRequired:
		return "not_required"
	case StateRequired:
		return "required"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// SecurityContext holds the authentication state of a single request and
// drives the mechanism chain. A context is built per request and is not
// shared across requests. Mechanisms must be registered before the first
// authentication run.
type SecurityContext struct {
	mechanisms []Mechanism
	store      identity.Store
	sessions   SessionManager
	executor   Executor
	logger     observability.Logger
	metrics    *Metrics
	tracer     trace.Tracer

	mu            sync.Mutex
	state         AuthenticationState
	principal     *identity.Principal
	account       *identity.Account
	mechanismName string
	lastResult    *AuthenticationResult
	lastError     error
}

// ContextOption is a functional option for SecurityContext.
type ContextOption func(*SecurityContext)

// WithMechanisms registers the ordered mechanism chain.
func WithMechanisms(mechanisms ...Mechanism) ContextOption {
	return func(c *SecurityContext) {
		c.mechanisms = append(c.mechanisms, mechanisms...)
	}
}

// WithSessionManager sets the session manager consulted before the chain.
func WithSessionManager(sessions SessionManager) ContextOption {
	return func(c *SecurityContext) {
		c.sessions = sessions
	}
}

// WithContextExecutor sets the handoff executor used by AuthenticateHandled.
func WithContextExecutor(executor Executor) ContextOption {
	return func(c *SecurityContext) {
		c.executor = executor
	}
}

// WithContextLogger sets the logger.
func WithContextLogger(logger observability.Logger) ContextOption {
	return func(c *SecurityContext) {
		c.logger = logger
	}
}

// WithContextMetrics sets the metrics.
func WithContextMetrics(metrics *Metrics) ContextOption {
	return func(c *SecurityContext) {
		c.metrics = metrics
	}
}

// WithContextTracer sets the tracer used for authentication spans.
func WithContextTracer(tracer trace.Tracer) ContextOption {
	return func(c *SecurityContext) {
		c.tracer = tracer
	}
}

// NewSecurityContext creates a per-request security context backed by store.
func NewSecurityContext(store identity.Store, opts ...ContextOption) *SecurityContext {
	c := &SecurityContext{
		store:    store,
		executor: NewInlineExecutor(),
		logger:   observability.NopLogger(),
		state:    StateNotRequired,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.metrics == nil {
		c.metrics = NewMetrics("authgate")
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("authgate/security")
	}

	return c
}

// RegisterMechanism appends a mechanism to the chain. Must be called before
// authentication runs.
func (c *SecurityContext) RegisterMechanism(m Mechanism) {
	c.mechanisms = append(c.mechanisms, m)
}

// Mechanisms returns the registered chain in order.
func (c *SecurityContext) Mechanisms() []Mechanism {
	out := make([]Mechanism, len(c.mechanisms))
	copy(out, c.mechanisms)
	return out
}

// SetAuthenticationRequired marks the request as requiring authentication.
// Idempotent; the transition is one way.
func (c *SecurityContext) SetAuthenticationRequired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateNotRequired {
		c.state = StateRequired
	}
}

// AuthenticationState returns the current lifecycle state.
func (c *SecurityContext) AuthenticationState() AuthenticationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AuthenticatedPrincipal returns the committed principal, or nil when the
// request is not authenticated.
func (c *SecurityContext) AuthenticatedPrincipal() *identity.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal
}

// AuthenticatedAccount returns the committed account, or nil.
func (c *SecurityContext) AuthenticatedAccount() *identity.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// MechanismName returns the name of the mechanism that authenticated the
// request, or the empty string.
func (c *SecurityContext) MechanismName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mechanismName
}

// LastResult returns the result of the most recent authentication run, or
// nil when none has completed.
func (c *SecurityContext) LastResult() *AuthenticationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult
}

// IsUserInGroup reports group membership of the authenticated account. It
// returns false when the request is not authenticated.
func (c *SecurityContext) IsUserInGroup(ctx context.Context, group string) bool {
	c.mu.Lock()
	account := c.account
	authenticated := c.state == StateAuthenticated
	c.mu.Unlock()

	if !authenticated || account == nil {
		return false
	}

	member, err := c.store.IsUserInGroup(ctx, account, group)
	if err != nil {
		c.logger.Warn("group membership check failed",
			observability.String("group", group),
			observability.Error(err))
		return false
	}
	return member
}

// Login authenticates username/password directly against the identity
// store, bypassing the mechanism chain. On success it commits the principal
// and notifies the session manager. The store must be configured.
func (c *SecurityContext) Login(w http.ResponseWriter, r *http.Request, username, password string) bool {
	account, err := c.store.LookupAccount(r.Context(), username)
	if err != nil {
		c.logger.Debug("login lookup failed",
			observability.String("username", username),
			observability.Error(err))
		c.metrics.RecordLogin(false)
		return false
	}

	ok, err := c.store.VerifyCredential(r.Context(), account, identity.PasswordCredential{Password: []byte(password)})
	if err != nil || !ok {
		if err != nil {
			c.logger.Warn("login verification error",
				observability.String("username", username),
				observability.Error(err))
		}
		c.metrics.RecordLogin(false)
		return false
	}

	principal := account.Principal()

	c.mu.Lock()
	c.state = StateAuthenticated
	c.principal = principal
	c.account = account
	c.mu.Unlock()

	if c.sessions != nil {
		c.sessions.UserAuthenticated(w, r, principal, account)
	}

	c.logger.Info("user logged in", observability.String("username", username))
	c.metrics.RecordLogin(true)
	return true
}

// Logout notifies the session manager with the principal and account still
// attached, then clears the authenticated state. The notification runs
// first so session managers that read back through the context during the
// callback still see the authenticated request.
func (c *SecurityContext) Logout(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	principal := c.principal
	account := c.account
	c.mu.Unlock()

	if c.sessions != nil {
		c.sessions.UserLoggedOut(w, r, principal, account)
	}

	c.mu.Lock()
	c.principal = nil
	c.account = nil
	c.mechanismName = ""
	c.state = StateNotRequired
	c.mu.Unlock()

	if principal != nil {
		c.logger.Info("user logged out", observability.String("principal", principal.Name))
	}
	c.metrics.RecordLogout()
}

// commit records a successful authentication.
func (c *SecurityContext) commit(mechanismName string, principal *identity.Principal, account *identity.Account) {
	c.mu.Lock()
	c.state = StateAuthenticated
	c.principal = principal
	c.account = account
	c.mechanismName = mechanismName
	c.mu.Unlock()
}

// setLastResult stores the terminal result of a run.
func (c *SecurityContext) setLastResult(result AuthenticationResult) {
	c.mu.Lock()
	c.lastResult = &result
	c.mu.Unlock()
}

// setLastError records a chain abort.
func (c *SecurityContext) setLastError(err error) {
	c.mu.Lock()
	c.lastError = err
	c.mu.Unlock()
}

// AuthenticationError returns the error that aborted the last pipeline run,
// or nil when the run produced a terminal result. Hosts use it to tell an
// infrastructure failure apart from a missing or rejected credential.
func (c *SecurityContext) AuthenticationError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}
