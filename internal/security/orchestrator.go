package security

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gale320/authgate/internal/observability"
)

// Authenticate runs the mechanism chain synchronously on the calling
// goroutine and returns the terminal result. A mechanism attempt error
// aborts the chain: nothing is committed and no completion task is produced.
func (c *SecurityContext) Authenticate(r *http.Request) (AuthenticationResult, error) {
	return c.runAuthentication(r)
}

// AuthenticateAsync runs the mechanism chain on exec and returns a Future
// resolved exactly once with the terminal result or the chain error.
func (c *SecurityContext) AuthenticateAsync(r *http.Request, exec Executor) *Future {
	future := newFuture()

	if err := exec.Execute(func() {
		future.complete(c.runAuthentication(r))
	}); err != nil {
		future.complete(AuthenticationResult{}, err)
	}

	return future
}

// AuthenticateHandled drives the full pipeline on the context's handoff
// executor. The stored completion task always runs first, guarded by
// sentinel, so challenge contributions are staged before the response is
// built. On a positive outcome, or a negative one where authentication was
// optional, next then runs; on a negative outcome with authentication
// required finish runs instead. The completion task and each continuation
// run at most once.
func (c *SecurityContext) AuthenticateHandled(w http.ResponseWriter, r *http.Request, sentinel ResponseSentinel, next func(), finish func()) {
	if err := c.executor.Execute(func() {
		c.handleAuthenticated(w, r, sentinel, next, finish)
	}); err != nil {
		c.setLastError(err)
		c.logger.Error("authentication handoff rejected", observability.Error(err))
		if finish != nil {
			finish()
		}
	}
}

func (c *SecurityContext) handleAuthenticated(w http.ResponseWriter, r *http.Request, sentinel ResponseSentinel, next func(), finish func()) {
	result, err := c.runAuthentication(r)
	if err != nil {
		c.setLastError(err)
		c.logger.Error("authentication failed", observability.Error(err))
		if finish != nil {
			finish()
		}
		return
	}

	if result.Outcome != OutcomeAuthenticated && c.AuthenticationState() == StateRequired {
		newCompletionRunner(result.Completion, sentinel, finish).Complete(w, r)
		return
	}

	// Positive outcome, or authentication was optional: stage the completion
	// task (the winner's contribution, or every mechanism's challenge on an
	// anonymous pass-through) before the request proceeds.
	newCompletionRunner(result.Completion, sentinel, next).Complete(w, r)
}

// runAuthentication walks the chain once and produces exactly one terminal
// result per invocation.
func (c *SecurityContext) runAuthentication(r *http.Request) (AuthenticationResult, error) {
	ctx, span := c.tracer.Start(r.Context(), "security.authenticate")
	defer span.End()

	start := time.Now()

	// An established session wins before any mechanism runs.
	if c.sessions != nil {
		if res := c.sessions.LookupSession(r, c.store); res.Outcome == OutcomeAuthenticated {
			c.commit(SessionMechanismName, res.Principal, res.Account)
			c.metrics.RecordSessionShortcut()
			c.metrics.RecordRun(OutcomeAuthenticated, time.Since(start))
			span.SetAttributes(
				attribute.String("auth.mechanism", SessionMechanismName),
				attribute.String("auth.outcome", OutcomeAuthenticated.String()),
			)

			result := AuthenticationResult{Outcome: OutcomeAuthenticated, Completion: NoCompletion()}
			c.setLastResult(result)
			return result, nil
		}
	}

	for _, mechanism := range c.mechanisms {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return AuthenticationResult{}, ErrAuthenticationCancelled
		}

		res, err := mechanism.Attempt(ctx, r, c.store)
		if err != nil {
			c.logger.Error("exception while authenticating",
				observability.String("mechanism", mechanism.Name()),
				observability.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "mechanism failed")
			return AuthenticationResult{}, newMechanismError(mechanism.Name(), err)
		}

		c.metrics.RecordAttempt(mechanism.Name(), res.Outcome)

		switch res.Outcome {
		case OutcomeAuthenticated:
			c.commit(mechanism.Name(), res.Principal, res.Account)
			c.metrics.RecordRun(OutcomeAuthenticated, time.Since(start))
			span.SetAttributes(
				attribute.String("auth.mechanism", mechanism.Name()),
				attribute.String("auth.outcome", OutcomeAuthenticated.String()),
			)

			result := AuthenticationResult{Outcome: OutcomeAuthenticated, Completion: ChallengeOne(mechanism)}
			c.setLastResult(result)
			return result, nil

		case OutcomeNotAttempted:
			// This mechanism saw nothing addressed to it; try the next one.
			continue

		default:
			// Failed, or an intermediate state needing another round trip
			// with the client. Either way every mechanism must now complete.
			c.logger.Debug("authentication not complete, sending challenges",
				observability.String("mechanism", mechanism.Name()))
			return c.challengeAll(span, start), nil
		}
	}

	return c.challengeAll(span, start), nil
}

func (c *SecurityContext) challengeAll(span trace.Span, start time.Time) AuthenticationResult {
	c.metrics.RecordRun(OutcomeNotAuthenticated, time.Since(start))
	for _, m := range c.mechanisms {
		c.metrics.RecordChallenge(m.Name())
	}
	span.SetAttributes(attribute.String("auth.outcome", OutcomeNotAuthenticated.String()))

	result := AuthenticationResult{Outcome: OutcomeNotAuthenticated, Completion: ChallengeAll(c.mechanisms)}
	c.setLastResult(result)
	return result
}
