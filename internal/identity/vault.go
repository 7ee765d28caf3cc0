package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/gale320/authgate/internal/observability"
)

// VaultConfig holds configuration for the Vault-backed identity store.
type VaultConfig struct {
	// Address is the Vault server address, e.g. https://vault:8200.
	Address string `yaml:"address"`

	// Token is the Vault token used for KV reads.
	Token string `yaml:"token"`

	// Namespace is the optional Vault namespace.
	Namespace string `yaml:"namespace"`

	// Mount is the KV v2 mount point. Defaults to "secret".
	Mount string `yaml:"mount"`

	// PathPrefix is prepended to usernames when reading account secrets,
	// e.g. "authgate/users". Defaults to "users".
	PathPrefix string `yaml:"pathPrefix"`

	// Timeout bounds each Vault request.
	Timeout time.Duration `yaml:"timeout"`
}

// vaultStore reads accounts from a Vault KV v2 mount, one secret per user.
// Secret data keys: secret, hashAlgorithm, roles, groups, disabled.
type vaultStore struct {
	client     *vaultapi.Client
	defaultAlg string
	mount      string
	pathPrefix string
	timeout    time.Duration
	logger     observability.Logger

	// verify reuses the memory store's hash verification.
	verify Store
}

// VaultStoreOption is a functional option for the Vault store.
type VaultStoreOption func(*vaultStore)

// WithVaultStoreLogger sets the logger.
func WithVaultStoreLogger(logger observability.Logger) VaultStoreOption {
	return func(s *vaultStore) {
		s.logger = logger
	}
}

// WithVaultDefaultHashAlgorithm sets the hash algorithm assumed for
// accounts that do not name one.
func WithVaultDefaultHashAlgorithm(alg string) VaultStoreOption {
	return func(s *vaultStore) {
		s.defaultAlg = alg
	}
}

// NewVaultStore creates an identity store backed by a Vault KV v2 mount.
func NewVaultStore(cfg *VaultConfig, opts ...VaultStoreOption) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vault config is required")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}

	apiConfig := vaultapi.DefaultConfig()
	apiConfig.Address = cfg.Address
	if cfg.Timeout > 0 {
		apiConfig.Timeout = cfg.Timeout
	}

	client, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	s := &vaultStore{
		client:     client,
		defaultAlg: HashAlgBcrypt,
		mount:      cfg.Mount,
		pathPrefix: cfg.PathPrefix,
		timeout:    cfg.Timeout,
		logger:     observability.NopLogger(),
	}
	if s.mount == "" {
		s.mount = "secret"
	}
	if s.pathPrefix == "" {
		s.pathPrefix = "users"
	}
	if s.timeout == 0 {
		s.timeout = 10 * time.Second
	}

	for _, opt := range opts {
		opt(s)
	}

	s.verify, err = NewMemoryStore(nil,
		WithMemoryStoreLogger(s.logger),
		WithDefaultHashAlgorithm(s.defaultAlg),
	)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// LookupAccount reads the account secret from Vault.
func (s *vaultStore) LookupAccount(ctx context.Context, username string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	secret, err := s.client.KVv2(s.mount).Get(ctx, s.pathPrefix+"/"+username)
	if err != nil {
		if isVaultNotFound(err) {
			return nil, ErrAccountNotFound
		}
		s.logger.Error("vault account lookup failed",
			observability.String("username", username),
			observability.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrAccountNotFound
	}

	acct := accountFromSecretData(username, secret.Data)
	if acct.Disabled {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

// VerifyCredential checks the credential against the account secret.
func (s *vaultStore) VerifyCredential(ctx context.Context, account *Account, credential Credential) (bool, error) {
	return s.verify.VerifyCredential(ctx, account, credential)
}

// IsUserInGroup reports group membership.
func (s *vaultStore) IsUserInGroup(_ context.Context, account *Account, group string) (bool, error) {
	if account == nil {
		return false, nil
	}
	return account.HasGroup(group), nil
}

// accountFromSecretData maps KV secret data onto an Account.
func accountFromSecretData(username string, data map[string]interface{}) *Account {
	acct := &Account{Username: username}

	if v, ok := data["secret"].(string); ok {
		acct.Secret = v
	}
	if v, ok := data["hashAlgorithm"].(string); ok {
		acct.HashAlgorithm = v
	}
	if v, ok := data["disabled"].(bool); ok {
		acct.Disabled = v
	}
	acct.Roles = stringSliceField(data, "roles")
	acct.Groups = stringSliceField(data, "groups")

	return acct
}

// stringSliceField extracts a string slice from KV secret data.
func stringSliceField(data map[string]interface{}, key string) []string {
	raw, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// isVaultNotFound reports whether the error is a KV 404.
func isVaultNotFound(err error) bool {
	if errors.Is(err, vaultapi.ErrSecretNotFound) {
		return true
	}
	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}

// Ensure vaultStore implements Store.
var _ Store = (*vaultStore)(nil)
