package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gale320/authgate/internal/identity"
	"github.com/gale320/authgate/internal/observability"
	"github.com/gale320/authgate/internal/security"
)

const defaultRedisKeyPrefix = "authgate:session:"

// RedisConfig holds connection settings for the Redis session backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// redisManager keeps sessions in Redis so they survive process restarts and
// are shared between instances.
type redisManager struct {
	config    Config
	client    *redis.Client
	keyPrefix string
	logger    observability.Logger
}

var _ security.SessionManager = (*redisManager)(nil)

// RedisManagerOption is a functional option for the Redis manager.
type RedisManagerOption func(*redisManager)

// WithRedisManagerLogger sets the logger.
func WithRedisManagerLogger(logger observability.Logger) RedisManagerOption {
	return func(m *redisManager) {
		m.logger = logger
	}
}

// NewRedisManager creates a Redis-backed session manager and verifies the
// connection.
func NewRedisManager(cfg Config, redisCfg RedisConfig, opts ...RedisManagerOption) (*redisManager, error) {
	if redisCfg.Addr == "" {
		return nil, errors.New("session: redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session: redis ping: %w", err)
	}

	keyPrefix := redisCfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = defaultRedisKeyPrefix
	}

	m := &redisManager{
		config:    cfg.withDefaults(),
		client:    client,
		keyPrefix: keyPrefix,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Close releases the Redis connection.
func (m *redisManager) Close() error {
	return m.client.Close()
}

func (m *redisManager) key(sessionID string) string {
	return m.keyPrefix + sessionID
}

// LookupSession implements security.SessionManager. Redis failures are
// treated as a session miss so the mechanism chain still runs.
func (m *redisManager) LookupSession(r *http.Request, store identity.Store) security.MechanismResult {
	sessionID := sessionIDFromRequest(r, m.config)
	if sessionID == "" {
		return security.NotAttempted()
	}

	ctx := r.Context()

	data, err := m.client.Get(ctx, m.key(sessionID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			m.logger.Warn("session lookup failed", observability.Error(err))
		}
		return security.NotAttempted()
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		m.logger.Warn("corrupt session record", observability.Error(err))
		m.client.Del(ctx, m.key(sessionID))
		return security.NotAttempted()
	}

	account, err := store.LookupAccount(ctx, rec.Username)
	if err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			m.client.Del(ctx, m.key(sessionID))
		} else {
			m.logger.Warn("session account re-resolution failed",
				observability.String("username", rec.Username),
				observability.Error(err))
		}
		return security.NotAttempted()
	}

	// Sliding expiration.
	if err := m.client.Expire(ctx, m.key(sessionID), m.config.TTL).Err(); err != nil {
		m.logger.Warn("session TTL refresh failed", observability.Error(err))
	}

	return security.Authenticated(account.Principal(), account)
}

// UserAuthenticated implements security.SessionManager.
func (m *redisManager) UserAuthenticated(w http.ResponseWriter, r *http.Request, principal *identity.Principal, account *identity.Account) {
	sessionID := uuid.NewString()

	data, err := json.Marshal(record{Username: account.Username, CreatedAt: time.Now()})
	if err != nil {
		m.logger.Error("session record marshal failed", observability.Error(err))
		return
	}

	if err := m.client.Set(r.Context(), m.key(sessionID), data, m.config.TTL).Err(); err != nil {
		m.logger.Error("session store failed", observability.Error(err))
		return
	}

	issueCookie(w, m.config, sessionID)

	m.logger.Debug("session established",
		observability.String("username", principal.Name))
}

// UserLoggedOut implements security.SessionManager.
func (m *redisManager) UserLoggedOut(w http.ResponseWriter, r *http.Request, principal *identity.Principal, _ *identity.Account) {
	if sessionID := sessionIDFromRequest(r, m.config); sessionID != "" {
		if err := m.client.Del(r.Context(), m.key(sessionID)).Err(); err != nil {
			m.logger.Warn("session delete failed", observability.Error(err))
		}
	}

	expireCookie(w, m.config)

	if principal != nil {
		m.logger.Debug("session removed",
			observability.String("username", principal.Name))
	}
}
