// Package identity defines the account model and the identity store
// contract used to verify credentials, together with memory, Vault and
// circuit-breaker backed implementations.
package identity

import (
	"context"
	"errors"
)

// Sentinel errors for identity store operations.
var (
	// ErrAccountNotFound indicates that no account exists for the username.
	ErrAccountNotFound = errors.New("account not found")

	// ErrUnsupportedCredential indicates a credential type the store cannot
	// verify.
	ErrUnsupportedCredential = errors.New("unsupported credential type")

	// ErrStoreUnavailable indicates that the backing store could not be
	// reached.
	ErrStoreUnavailable = errors.New("identity store unavailable")
)

// Principal is the authenticated identity attached to a request.
type Principal struct {
	// Name is the unique principal name, usually the account username.
	Name string
}

// Account is the identity record backing a principal. The authentication
// core treats it as opaque; only the identity store interprets its fields.
type Account struct {
	// Username is the unique login name.
	Username string `json:"username" yaml:"username"`

	// Secret is the stored password material: a hash for the bcrypt,
	// sha256 and sha512 algorithms, the raw password for plaintext.
	Secret string `json:"-" yaml:"secret"`

	// HashAlgorithm names how Secret is encoded. Empty means the
	// store-level default.
	HashAlgorithm string `json:"-" yaml:"hashAlgorithm"`

	// Roles granted to the account.
	Roles []string `json:"roles,omitempty" yaml:"roles"`

	// Groups the account belongs to.
	Groups []string `json:"groups,omitempty" yaml:"groups"`

	// Disabled accounts never authenticate.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled"`
}

// Principal returns the principal for this account.
func (a *Account) Principal() *Principal {
	return &Principal{Name: a.Username}
}

// HasGroup reports whether the account belongs to the given group.
func (a *Account) HasGroup(group string) bool {
	for _, g := range a.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Credential is a piece of evidence presented for verification.
type Credential interface {
	credential()
}

// PasswordCredential carries a cleartext password.
type PasswordCredential struct {
	Password []byte
}

func (PasswordCredential) credential() {}

// TokenCredential carries an opaque bearer token.
type TokenCredential struct {
	Token string
}

func (TokenCredential) credential() {}

// Store resolves accounts and verifies credentials. Implementations must be
// safe for concurrent use; the authentication core performs no locking
// around them.
type Store interface {
	// LookupAccount returns the account for the username, or
	// ErrAccountNotFound.
	LookupAccount(ctx context.Context, username string) (*Account, error)

	// VerifyCredential reports whether the credential matches the account.
	// A mismatch is (false, nil), not an error.
	VerifyCredential(ctx context.Context, account *Account, credential Credential) (bool, error)

	// IsUserInGroup reports whether the account belongs to the group.
	IsUserInGroup(ctx context.Context, account *Account, group string) (bool, error)
}
