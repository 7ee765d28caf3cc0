package identity

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/gale320/authgate/internal/observability"
)

// Password hash algorithm constants.
const (
	HashAlgBcrypt    = "bcrypt"
	HashAlgSHA256    = "sha256"
	HashAlgSHA512    = "sha512"
	HashAlgPlaintext = "plaintext"
)

// memoryStore is an in-process identity store seeded from configuration.
type memoryStore struct {
	logger     observability.Logger
	defaultAlg string
	mu         sync.RWMutex
	accounts   map[string]*Account
}

// MemoryStoreOption is a functional option for the memory store.
type MemoryStoreOption func(*memoryStore)

// WithMemoryStoreLogger sets the logger.
func WithMemoryStoreLogger(logger observability.Logger) MemoryStoreOption {
	return func(s *memoryStore) {
		s.logger = logger
	}
}

// WithDefaultHashAlgorithm sets the hash algorithm assumed for accounts
// that do not name one. Defaults to bcrypt.
func WithDefaultHashAlgorithm(alg string) MemoryStoreOption {
	return func(s *memoryStore) {
		s.defaultAlg = alg
	}
}

// NewMemoryStore creates an in-memory identity store from the given
// accounts. Usernames are case-sensitive and must be unique.
func NewMemoryStore(accounts []Account, opts ...MemoryStoreOption) (Store, error) {
	s := &memoryStore{
		logger:     observability.NopLogger(),
		defaultAlg: HashAlgBcrypt,
		accounts:   make(map[string]*Account, len(accounts)),
	}

	for _, opt := range opts {
		opt(s)
	}

	for i := range accounts {
		acct := accounts[i]
		if acct.Username == "" {
			return nil, fmt.Errorf("account %d: username is required", i)
		}
		if _, exists := s.accounts[acct.Username]; exists {
			return nil, fmt.Errorf("duplicate account %q", acct.Username)
		}
		if alg := s.effectiveAlgorithm(&acct); !validAlgorithm(alg) {
			return nil, fmt.Errorf("account %q: unsupported hash algorithm %q", acct.Username, alg)
		}
		s.accounts[acct.Username] = &acct
	}

	return s, nil
}

// validAlgorithm reports whether alg names a supported hash algorithm.
func validAlgorithm(alg string) bool {
	switch alg {
	case HashAlgBcrypt, HashAlgSHA256, HashAlgSHA512, HashAlgPlaintext:
		return true
	default:
		return false
	}
}

// effectiveAlgorithm returns the hash algorithm for an account.
func (s *memoryStore) effectiveAlgorithm(acct *Account) string {
	if acct.HashAlgorithm != "" {
		return strings.ToLower(acct.HashAlgorithm)
	}
	return s.defaultAlg
}

// LookupAccount returns the account for the username.
func (s *memoryStore) LookupAccount(_ context.Context, username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[username]
	if !ok || acct.Disabled {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

// VerifyCredential checks a password credential against the stored secret.
func (s *memoryStore) VerifyCredential(_ context.Context, account *Account, credential Credential) (bool, error) {
	password, ok := credential.(PasswordCredential)
	if !ok {
		return false, ErrUnsupportedCredential
	}

	switch s.effectiveAlgorithm(account) {
	case HashAlgBcrypt:
		err := bcrypt.CompareHashAndPassword([]byte(account.Secret), password.Password)
		return err == nil, nil
	case HashAlgSHA256:
		sum := sha256.Sum256(password.Password)
		return constantTimeHexEqual(sum[:], account.Secret), nil
	case HashAlgSHA512:
		sum := sha512.Sum512(password.Password)
		return constantTimeHexEqual(sum[:], account.Secret), nil
	case HashAlgPlaintext:
		s.logger.Warn("using plaintext password comparison - not recommended for production")
		return subtle.ConstantTimeCompare(password.Password, []byte(account.Secret)) == 1, nil
	default:
		return false, fmt.Errorf("unsupported hash algorithm: %s", s.effectiveAlgorithm(account))
	}
}

// IsUserInGroup reports group membership.
func (s *memoryStore) IsUserInGroup(_ context.Context, account *Account, group string) (bool, error) {
	if account == nil {
		return false, nil
	}
	return account.HasGroup(group), nil
}

// constantTimeHexEqual compares a raw digest with a hex-encoded one.
func constantTimeHexEqual(digest []byte, storedHex string) bool {
	encoded := hex.EncodeToString(digest)
	return subtle.ConstantTimeCompare([]byte(encoded), []byte(strings.ToLower(storedHex))) == 1
}

// HashPassword hashes a password with the given algorithm, for seeding
// stores and tests.
func HashPassword(password, algorithm string) (string, error) {
	switch algorithm {
	case HashAlgBcrypt:
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		return string(hash), nil
	case HashAlgSHA256:
		sum := sha256.Sum256([]byte(password))
		return hex.EncodeToString(sum[:]), nil
	case HashAlgSHA512:
		sum := sha512.Sum512([]byte(password))
		return hex.EncodeToString(sum[:]), nil
	case HashAlgPlaintext:
		return password, nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}

// Ensure memoryStore implements Store.
var _ Store = (*memoryStore)(nil)
