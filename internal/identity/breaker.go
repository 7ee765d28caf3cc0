package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/gale320/authgate/internal/observability"
)

// BreakerConfig holds circuit breaker settings for a remote identity store.
type BreakerConfig struct {
	// Threshold is the number of requests after which the failure ratio is
	// evaluated, and the number of probe requests allowed half-open.
	Threshold int `yaml:"threshold"`

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `yaml:"timeout"`
}

// breakerStore wraps a Store with a circuit breaker so that an unreachable
// backend fails fast instead of stalling every authentication attempt.
// Credential verification and group checks are local computations over the
// fetched account and bypass the breaker.
type breakerStore struct {
	next   Store
	cb     *gobreaker.CircuitBreaker
	logger observability.Logger
}

// BreakerStoreOption is a functional option for the breaker store.
type BreakerStoreOption func(*breakerStore)

// WithBreakerStoreLogger sets the logger.
func WithBreakerStoreLogger(logger observability.Logger) BreakerStoreOption {
	return func(s *breakerStore) {
		s.logger = logger
	}
}

// NewBreakerStore wraps next with a circuit breaker.
func NewBreakerStore(next Store, cfg BreakerConfig, opts ...BreakerStoreOption) Store {
	s := &breakerStore{
		next:   next,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "identity-store",
		MaxRequests: uint32(threshold),
		Interval:    timeout,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= uint32(threshold) && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.logger.Info("identity store circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// A missing account is a normal outcome, not a backend failure.
			return err == nil || errors.Is(err, ErrAccountNotFound)
		},
	})

	return s
}

// LookupAccount resolves the account through the breaker.
func (s *breakerStore) LookupAccount(ctx context.Context, username string) (*Account, error) {
	result, err := s.cb.Execute(func() (interface{}, error) {
		return s.next.LookupAccount(ctx, username)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil, err
	}
	return result.(*Account), nil
}

// VerifyCredential delegates to the wrapped store.
func (s *breakerStore) VerifyCredential(ctx context.Context, account *Account, credential Credential) (bool, error) {
	return s.next.VerifyCredential(ctx, account, credential)
}

// IsUserInGroup delegates to the wrapped store.
func (s *breakerStore) IsUserInGroup(ctx context.Context, account *Account, group string) (bool, error) {
	return s.next.IsUserInGroup(ctx, account, group)
}

// Ensure breakerStore implements Store.
var _ Store = (*breakerStore)(nil)
