// Package form implements form based login as an authentication mechanism.
package form

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gale320/authgate/internal/identity"
	"github.com/gale320/authgate/internal/observability"
	"github.com/gale320/authgate/internal/security"
)

// MechanismName identifies this mechanism.
const MechanismName = "FORM"

// Defaults for the login form contract.
const (
	DefaultActionPath    = "/login"
	DefaultLoginPage     = "/login"
	DefaultUsernameField = "username"
	DefaultPasswordField = "password"
)

// Mechanism authenticates POSTed login forms. Requests that are not a POST
// to the action path are not attempted, so the chain can move on.
type Mechanism struct {
	actionPath    string
	loginPage     string
	usernameField string
	passwordField string
	logger        observability.Logger
}

var _ security.Mechanism = (*Mechanism)(nil)

// Option is a functional option for the mechanism.
type Option func(*Mechanism)

// WithActionPath sets the form submission path.
func WithActionPath(path string) Option {
	return func(m *Mechanism) {
		m.actionPath = path
	}
}

// WithLoginPage sets the page challenges redirect to.
func WithLoginPage(page string) Option {
	return func(m *Mechanism) {
		m.loginPage = page
	}
}

// WithFields sets the form field names.
func WithFields(username, password string) Option {
	return func(m *Mechanism) {
		m.usernameField = username
		m.passwordField = password
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(m *Mechanism) {
		m.logger = logger
	}
}

// New creates a form login mechanism.
func New(opts ...Option) *Mechanism {
	m := &Mechanism{
		actionPath:    DefaultActionPath,
		loginPage:     DefaultLoginPage,
		usernameField: DefaultUsernameField,
		passwordField: DefaultPasswordField,
		logger:        observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name implements security.Mechanism.
func (m *Mechanism) Name() string {
	return MechanismName
}

// Attempt authenticates a login form submission against the store.
func (m *Mechanism) Attempt(ctx context.Context, r *http.Request, store identity.Store) (security.MechanismResult, error) {
	if r.Method != http.MethodPost || r.URL.Path != m.actionPath {
		return security.NotAttempted(), nil
	}

	if err := r.ParseForm(); err != nil {
		m.logger.Debug("malformed login form", observability.Error(err))
		return security.NotAuthenticated(), nil
	}

	username := r.PostFormValue(m.usernameField)
	password := r.PostFormValue(m.passwordField)
	if username == "" || password == "" {
		return security.NotAuthenticated(), nil
	}

	account, err := store.LookupAccount(ctx, username)
	if err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			m.logger.Debug("form login for unknown user",
				observability.String("username", username))
			return security.NotAuthenticated(), nil
		}
		return security.MechanismResult{}, fmt.Errorf("form login lookup: %w", err)
	}

	ok, err := store.VerifyCredential(ctx, account, identity.PasswordCredential{Password: []byte(password)})
	if err != nil {
		return security.MechanismResult{}, fmt.Errorf("form login verify: %w", err)
	}
	if !ok {
		m.logger.Debug("form login password mismatch",
			observability.String("username", username))
		return security.NotAuthenticated(), nil
	}

	return security.Authenticated(account.Principal(), account), nil
}

// Challenge stages a redirect to the login page. The host pipeline turns a
// staged Location header into a redirect status.
func (m *Mechanism) Challenge(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Location", m.loginPage)
}
