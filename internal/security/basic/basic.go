// Package basic implements the HTTP Basic authentication mechanism.
package basic

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
const MechanismName = "BASIC"

// Mechanism authenticates requests carrying an Authorization: Basic header.
type Mechanism struct {
	realm  string
	logger observability.Logger
}

var _ security.Mechanism = (*Mechanism)(nil)

// Option is a functional option for the mechanism.
type Option func(*Mechanism)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(m *Mechanism) {
		m.logger = logger
	}
}

// New creates a Basic mechanism for the given realm.
func New(realm string, opts ...Option) *Mechanism {
	m := &Mechanism{
		realm:  realm,
		logger: observability.NopLogger(),
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

// Attempt authenticates the request's Basic credentials against the store.
// Requests without a Basic Authorization header are not attempted.
func (m *Mechanism) Attempt(ctx context.Context, r *http.Request, store identity.Store) (security.MechanismResult, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return security.NotAttempted(), nil
	}

	account, err := store.LookupAccount(ctx, username)
	if err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			m.logger.Debug("basic auth for unknown user",
				observability.String("username", username))
			return security.NotAuthenticated(), nil
		}
		return security.MechanismResult{}, fmt.Errorf("basic auth lookup: %w", err)
	}

	ok, err = store.VerifyCredential(ctx, account, identity.PasswordCredential{Password: []byte(password)})
	if err != nil {
		return security.MechanismResult{}, fmt.Errorf("basic auth verify: %w", err)
	}
	if !ok {
		m.logger.Debug("basic auth password mismatch",
			observability.String("username", username))
		return security.NotAuthenticated(), nil
	}

	return security.Authenticated(account.Principal(), account), nil
}

// Challenge stages the Basic challenge header.
func (m *Mechanism) Challenge(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", m.realm))
}
