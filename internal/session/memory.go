package session

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gale320/authgate/internal/identity"
	"github.com/gale320/authgate/internal/observability"
	"github.com/gale320/authgate/internal/security"
)

// memoryManager keeps sessions in an in-process map with TTL expiry.
type memoryManager struct {
	config Config
	logger observability.Logger

	mu       sync.RWMutex
	sessions map[string]memoryEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	record    record
	expiresAt time.Time
}

var _ security.SessionManager = (*memoryManager)(nil)

// MemoryManagerOption is a functional option for the memory manager.
type MemoryManagerOption func(*memoryManager)

// WithMemoryManagerLogger sets the logger.
func WithMemoryManagerLogger(logger observability.Logger) MemoryManagerOption {
	return func(m *memoryManager) {
		m.logger = logger
	}
}

// NewMemoryManager creates an in-memory session manager. Close must be
// called to stop the cleanup goroutine.
func NewMemoryManager(cfg Config, opts ...MemoryManagerOption) *memoryManager {
	m := &memoryManager{
		config:   cfg.withDefaults(),
		logger:   observability.NopLogger(),
		sessions: make(map[string]memoryEntry),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.cleanupLoop()

	return m
}

func (m *memoryManager) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.removeExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *memoryManager) removeExpired() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.sessions {
		if now.After(entry.expiresAt) {
			delete(m.sessions, id)
		}
	}
}

// Close stops the cleanup goroutine.
func (m *memoryManager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// LookupSession implements security.SessionManager.
func (m *memoryManager) LookupSession(r *http.Request, store identity.Store) security.MechanismResult {
	sessionID := sessionIDFromRequest(r, m.config)
	if sessionID == "" {
		return security.NotAttempted()
	}

	m.mu.RLock()
	entry, ok := m.sessions[sessionID]
	m.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return security.NotAttempted()
	}

	account, err := store.LookupAccount(r.Context(), entry.record.Username)
	if err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			// The user went away since the session was issued.
			m.mu.Lock()
			delete(m.sessions, sessionID)
			m.mu.Unlock()
		} else {
			m.logger.Warn("session account re-resolution failed",
				observability.String("username", entry.record.Username),
				observability.Error(err))
		}
		return security.NotAttempted()
	}

	// Sliding expiration.
	m.mu.Lock()
	entry.expiresAt = time.Now().Add(m.config.TTL)
	m.sessions[sessionID] = entry
	m.mu.Unlock()

	return security.Authenticated(account.Principal(), account)
}

// UserAuthenticated implements security.SessionManager.
func (m *memoryManager) UserAuthenticated(w http.ResponseWriter, _ *http.Request, principal *identity.Principal, account *identity.Account) {
	sessionID := uuid.NewString()

	m.mu.Lock()
	m.sessions[sessionID] = memoryEntry{
		record:    record{Username: account.Username, CreatedAt: time.Now()},
		expiresAt: time.Now().Add(m.config.TTL),
	}
	m.mu.Unlock()

	issueCookie(w, m.config, sessionID)

	m.logger.Debug("session established",
		observability.String("username", principal.Name))
}

// UserLoggedOut implements security.SessionManager.
func (m *memoryManager) UserLoggedOut(w http.ResponseWriter, r *http.Request, principal *identity.Principal, _ *identity.Account) {
	if sessionID := sessionIDFromRequest(r, m.config); sessionID != "" {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
	}

	expireCookie(w, m.config)

	if principal != nil {
		m.logger.Debug("session removed",
			observability.String("username", principal.Name))
	}
}
