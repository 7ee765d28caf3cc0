package security

import (
	"net/http"

	"github.com/gale320/authgate/internal/identity"
)

// Outcome is the result of a single mechanism attempt or of a whole
// authentication run.
type Outcome int

// Mechanism outcomes.
const (
	// OutcomeNotAttempted means the mechanism found no credentials of its
	// kind and the chain should move on.
	OutcomeNotAttempted Outcome = iota

	// OutcomeNotAuthenticated means the mechanism engaged but did not
	// produce an authenticated identity: bad credentials, or another
	// round trip with the client is needed.
	OutcomeNotAuthenticated

	// OutcomeAuthenticated means the mechanism established an identity.
	OutcomeAuthenticated
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeNotAttempted:
		return "not_attempted"
	case OutcomeNotAuthenticated:
		return "not_authenticated"
	case OutcomeAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// MechanismResult is produced by a mechanism attempt or a session lookup.
// Principal and Account are set only when Outcome is OutcomeAuthenticated.
type MechanismResult struct {
	Outcome   Outcome
	Principal *identity.Principal
	Account   *identity.Account
}

// NotAttempted returns a result reporting that no credentials were found.
func NotAttempted() MechanismResult {
	return MechanismResult{Outcome: OutcomeNotAttempted}
}

// NotAuthenticated returns a negative result.
func NotAuthenticated() MechanismResult {
	return MechanismResult{Outcome: OutcomeNotAuthenticated}
}

// Authenticated returns a positive result carrying the established
// identity.
func Authenticated(principal *identity.Principal, account *identity.Account) MechanismResult {
	return MechanismResult{
		Outcome:   OutcomeAuthenticated,
		Principal: principal,
		Account:   account,
	}
}

// AuthenticationResult is the immutable terminal result of one
// authentication run: the overall outcome plus the completion task to run
// when the response is finalized.
type AuthenticationResult struct {
	Outcome    Outcome
	Completion CompletionTask
}

// completionKind tags the CompletionTask variant.
type completionKind int

const (
	completionNone completionKind = iota
	completionOne
	completionAll
)

// CompletionTask is the deferred challenge action chosen at authentication
// time and executed at response-finalization time: nothing, one winning
// mechanism's challenge, or every mechanism's challenge in registration
// order.
type CompletionTask struct {
	kind       completionKind
	mechanism  Mechanism
	mechanisms []Mechanism
}

// NoCompletion returns the task that does nothing.
func NoCompletion() CompletionTask {
	return CompletionTask{kind: completionNone}
}

// ChallengeOne returns the task invoking a single mechanism's challenge.
func ChallengeOne(m Mechanism) CompletionTask {
	return CompletionTask{kind: completionOne, mechanism: m}
}

// ChallengeAll returns the task invoking every mechanism's challenge in
// the order given. The slice is snapshotted.
func ChallengeAll(mechanisms []Mechanism) CompletionTask {
	snapshot := make([]Mechanism, len(mechanisms))
	copy(snapshot, mechanisms)
	return CompletionTask{kind: completionAll, mechanisms: snapshot}
}

// Run executes the task against the pending response.
func (t CompletionTask) Run(w http.ResponseWriter, r *http.Request) {
	switch t.kind {
	case completionNone:
	case completionOne:
		t.mechanism.Challenge(w, r)
	case completionAll:
		for _, m := range t.mechanisms {
			m.Challenge(w, r)
		}
	}
}
