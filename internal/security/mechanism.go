package security

import (
	"context"
	"net/http"

	"github.com/gale320/authgate/internal/identity"
)

// SessionMechanismName labels authentications satisfied by the session
// shortcut. The session does not expose which mechanism originally
// established it, so a fixed label is used.
const SessionMechanismName = "SESSION"

// Mechanism is a pluggable authentication strategy. Implementations are
// registered on a SecurityContext before request processing begins and are
// invoked one at a time, never concurrently.
type Mechanism interface {
	// Name identifies the mechanism in logs, metrics and on the
	// SecurityContext after a successful attempt.
	Name() string

	// Attempt inspects the request and tries to authenticate it against
	// the identity store. Absent credentials of this mechanism's kind are
	// reported as NotAttempted; mismatched credentials as
	// NotAuthenticated. An error is reserved for underlying I/O failures
	// and aborts the whole chain.
	Attempt(ctx context.Context, r *http.Request, store identity.Store) (MechanismResult, error)

	// Challenge stages challenge data (headers) on the pending response.
	// It must not write the status code or body; the host pipeline
	// finalizes the response after all scheduled challenges ran.
	Challenge(w http.ResponseWriter, r *http.Request)
}

// SessionManager tracks authenticated sessions across requests. All methods
// must be safe for concurrent use.
type SessionManager interface {
	// LookupSession resolves an established session for the request. When
	// it reports OutcomeAuthenticated the mechanism chain is bypassed
	// entirely.
	LookupSession(r *http.Request, store identity.Store) MechanismResult

	// UserAuthenticated records a newly authenticated user, typically by
	// issuing a session cookie on the response.
	UserAuthenticated(w http.ResponseWriter, r *http.Request, principal *identity.Principal, account *identity.Account)

	// UserLoggedOut tears the session down.
	UserLoggedOut(w http.ResponseWriter, r *http.Request, principal *identity.Principal, account *identity.Account)
}
