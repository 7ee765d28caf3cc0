// Package bearer implements JWT bearer token authentication.
package bearer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/gale320/authgate/internal/identity"
	"github.com/gale320/authgate/internal/observability"
	"github.com/gale320/authgate/internal/security"
)

// MechanismName identifies this mechanism.
const MechanismName = "BEARER"

const bearerPrefix = "bearer "

// Config holds bearer token validation settings. Exactly one of Secret or
// JWKSFile must be set.
type Config struct {
	// Realm is reported in the challenge header.
	Realm string

	// Secret enables HMAC validation with Algorithm.
	Secret []byte

	// Algorithm is the HMAC algorithm name (HS256, HS384, HS512).
	// Defaults to HS256.
	Algorithm string

	// JWKSFile is a path to a JWKS document with verification keys.
	JWKSFile string

	// Issuer, when set, must match the token's iss claim.
	Issuer string

	// Audience, when set, must be present in the token's aud claim.
	Audience string
}

// Mechanism authenticates requests carrying an Authorization: Bearer token.
// The token's subject is resolved to an account through the identity store,
// so revoked users fail even with a valid token.
type Mechanism struct {
	config    Config
	algorithm jwa.SignatureAlgorithm
	keySet    jwk.Set
	logger    observability.Logger
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

// New creates a bearer mechanism from config.
func New(config Config, opts ...Option) (*Mechanism, error) {
	m := &Mechanism{
		config: config,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	switch {
	case len(config.Secret) > 0 && config.JWKSFile != "":
		return nil, errors.New("bearer: secret and JWKS file are mutually exclusive")

	case len(config.Secret) > 0:
		alg, err := hmacAlgorithm(config.Algorithm)
		if err != nil {
			return nil, err
		}
		m.algorithm = alg

	case config.JWKSFile != "":
		set, err := jwk.ReadFile(config.JWKSFile)
		if err != nil {
			return nil, fmt.Errorf("bearer: load JWKS: %w", err)
		}
		m.keySet = set

	default:
		return nil, errors.New("bearer: either a secret or a JWKS file is required")
	}

	return m, nil
}

func hmacAlgorithm(name string) (jwa.SignatureAlgorithm, error) {
	switch name {
	case "", "HS256":
		return jwa.HS256, nil
	case "HS384":
		return jwa.HS384, nil
	case "HS512":
		return jwa.HS512, nil
	default:
		return "", fmt.Errorf("bearer: unsupported HMAC algorithm %q", name)
	}
}

// Name implements security.Mechanism.
func (m *Mechanism) Name() string {
	return MechanismName
}

// Attempt validates the bearer token and resolves its subject. Requests
// without a Bearer Authorization header are not attempted; invalid tokens
// and unknown subjects are negative outcomes, not errors.
func (m *Mechanism) Attempt(ctx context.Context, r *http.Request, store identity.Store) (security.MechanismResult, error) {
	header := r.Header.Get("Authorization")
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return security.NotAttempted(), nil
	}
	raw := strings.TrimSpace(header[len(bearerPrefix):])
	if raw == "" {
		return security.NotAuthenticated(), nil
	}

	token, err := m.parse(raw)
	if err != nil {
		m.logger.Debug("bearer token rejected", observability.Error(err))
		return security.NotAuthenticated(), nil
	}

	subject := token.Subject()
	if subject == "" {
		m.logger.Debug("bearer token without subject")
		return security.NotAuthenticated(), nil
	}

	account, err := store.LookupAccount(ctx, subject)
	if err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			m.logger.Debug("bearer token for unknown subject",
				observability.String("subject", subject))
			return security.NotAuthenticated(), nil
		}
		return security.MechanismResult{}, fmt.Errorf("bearer lookup: %w", err)
	}

	return security.Authenticated(account.Principal(), account), nil
}

func (m *Mechanism) parse(raw string) (jwt.Token, error) {
	opts := []jwt.ParseOption{jwt.WithValidate(true)}

	if m.keySet != nil {
		opts = append(opts, jwt.WithKeySet(m.keySet))
	} else {
		opts = append(opts, jwt.WithKey(m.algorithm, m.config.Secret))
	}

	if m.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(m.config.Audience))
	}

	return jwt.Parse([]byte(raw), opts...)
}

// Challenge stages the Bearer challenge header.
func (m *Mechanism) Challenge(w http.ResponseWriter, _ *http.Request) {
	if m.config.Realm != "" {
		w.Header().Add("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", m.config.Realm))
		return
	}
	w.Header().Add("WWW-Authenticate", "Bearer")
}
