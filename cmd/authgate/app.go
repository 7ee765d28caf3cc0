package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gale320/authgate/internal/config"
	"github.com/gale320/authgate/internal/identity"
	"github.com/gale320/authgate/internal/observability"
	obsmetrics "github.com/gale320/authgate/internal/observability/metrics"
	"github.com/gale320/authgate/internal/security"
	"github.com/gale320/authgate/internal/security/basic"
	"github.com/gale320/authgate/internal/security/bearer"
	"github.com/gale320/authgate/internal/security/form"
	"github.com/gale320/authgate/internal/server"
	"github.com/gale320/authgate/internal/session"
)

// application holds the wired components of a running authgate instance.
type application struct {
	cfg    *config.Config
	logger observability.Logger

	server        *server.Server
	metricsServer *obsmetrics.Server
	tracer        *observability.Tracer

	// closeSessions releases the session backend, nil for backends with
	// nothing to release.
	closeSessions func()
}

// newApplication wires the identity store, session manager, mechanism chain
// and HTTP server from the configuration.
func newApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	app := &application{cfg: cfg, logger: logger}

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	app.tracer = tracer

	store, err := buildIdentityStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init identity store: %w", err)
	}

	sessions, closeSessions, err := buildSessionManager(cfg, logger, store)
	if err != nil {
		return nil, fmt.Errorf("init session manager: %w", err)
	}
	app.closeSessions = closeSessions

	mechanisms, err := buildMechanisms(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init mechanisms: %w", err)
	}

	app.server = server.New(cfg, store, sessions, mechanisms,
		server.WithServerLogger(logger),
		server.WithServerMetrics(security.NewMetrics(cfg.Metrics.Namespace)),
	)

	if cfg.Metrics.Enabled {
		app.metricsServer = obsmetrics.NewServer(&obsmetrics.ServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, zap.NewNop())
	}

	return app, nil
}

// buildIdentityStore creates the configured identity backend, optionally
// wrapped in a circuit breaker.
func buildIdentityStore(cfg *config.Config, logger observability.Logger) (identity.Store, error) {
	var store identity.Store
	var err error

	switch cfg.Identity.Backend {
	case config.IdentityBackendMemory:
		accounts := make([]identity.Account, 0, len(cfg.Identity.Accounts))
		for _, a := range cfg.Identity.Accounts {
			accounts = append(accounts, identity.Account{
				Username:      a.Username,
				Secret:        a.Secret,
				HashAlgorithm: a.HashAlgorithm,
				Roles:         a.Roles,
				Groups:        a.Groups,
				Disabled:      a.Disabled,
			})
		}
		store, err = identity.NewMemoryStore(accounts,
			identity.WithDefaultHashAlgorithm(cfg.Identity.DefaultHashAlgorithm),
			identity.WithMemoryStoreLogger(logger),
		)
	case config.IdentityBackendVault:
		store, err = identity.NewVaultStore(&identity.VaultConfig{
			Address:    cfg.Identity.Vault.Address,
			Token:      cfg.Identity.Vault.Token,
			Namespace:  cfg.Identity.Vault.Namespace,
			Mount:      cfg.Identity.Vault.Mount,
			PathPrefix: cfg.Identity.Vault.PathPrefix,
			Timeout:    cfg.Identity.Vault.Timeout.Duration(),
		},
			identity.WithVaultDefaultHashAlgorithm(cfg.Identity.DefaultHashAlgorithm),
			identity.WithVaultStoreLogger(logger),
		)
	default:
		err = fmt.Errorf("unknown identity backend %q", cfg.Identity.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Identity.Breaker.Enabled {
		store = identity.NewBreakerStore(store, identity.BreakerConfig{
			Threshold: cfg.Identity.Breaker.Threshold,
			Timeout:   cfg.Identity.Breaker.Timeout.Duration(),
		}, identity.WithBreakerStoreLogger(logger))
	}

	return store, nil
}

// buildSessionManager creates the configured session backend. The store is
// only used to verify connectivity expectations; session lookups resolve
// accounts through the store handed to them per call.
func buildSessionManager(cfg *config.Config, logger observability.Logger, _ identity.Store) (security.SessionManager, func(), error) {
	sessionCfg := session.Config{
		CookieName: cfg.Session.CookieName,
		TTL:        cfg.Session.TTL.Duration(),
		Secure:     cfg.Session.Secure,
	}

	switch cfg.Session.Backend {
	case config.SessionBackendMemory:
		manager := session.NewMemoryManager(sessionCfg,
			session.WithMemoryManagerLogger(logger))
		return manager, manager.Close, nil
	case config.SessionBackendRedis:
		manager, err := session.NewRedisManager(sessionCfg, session.RedisConfig{
			Addr:      cfg.Session.Redis.Addr,
			Password:  cfg.Session.Redis.Password,
			DB:        cfg.Session.Redis.DB,
			KeyPrefix: cfg.Session.Redis.KeyPrefix,
		}, session.WithRedisManagerLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return manager, func() { _ = manager.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

// buildMechanisms creates the mechanism chain in the configured order.
func buildMechanisms(cfg *config.Config, logger observability.Logger) ([]security.Mechanism, error) {
	mechanisms := make([]security.Mechanism, 0, len(cfg.Auth.Mechanisms))
	for _, name := range cfg.Auth.Mechanisms {
		switch name {
		case config.MechanismBasic:
			mechanisms = append(mechanisms, basic.New(cfg.Auth.Realm,
				basic.WithLogger(logger)))
		case config.MechanismForm:
			mechanisms = append(mechanisms, form.New(
				form.WithActionPath(cfg.Auth.Form.ActionPath),
				form.WithLoginPage(cfg.Auth.Form.LoginPage),
				form.WithFields(cfg.Auth.Form.UsernameField, cfg.Auth.Form.PasswordField),
				form.WithLogger(logger)))
		case config.MechanismBearer:
			bearerCfg := bearer.Config{
				Realm:     cfg.Auth.Realm,
				Algorithm: cfg.Auth.Bearer.Algorithm,
				JWKSFile:  cfg.Auth.Bearer.JWKSFile,
				Issuer:    cfg.Auth.Bearer.Issuer,
				Audience:  cfg.Auth.Bearer.Audience,
			}
			if cfg.Auth.Bearer.Secret != "" {
				bearerCfg.Secret = []byte(cfg.Auth.Bearer.Secret)
			}
			mechanism, err := bearer.New(bearerCfg, bearer.WithLogger(logger))
			if err != nil {
				return nil, fmt.Errorf("bearer mechanism: %w", err)
			}
			mechanisms = append(mechanisms, mechanism)
		default:
			return nil, fmt.Errorf("unknown auth mechanism %q", name)
		}
	}
	return mechanisms, nil
}

// run starts the servers and blocks until the context is cancelled, then
// shuts everything down within the configured timeout.
func (app *application) run(ctx context.Context) error {
	errCh := make(chan error, 2)

	if app.metricsServer != nil {
		go func() {
			if err := app.metricsServer.Start(ctx); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	go func() {
		if err := app.server.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		app.logger.Info("shutdown requested")
	case err := <-errCh:
		app.shutdown()
		return err
	}

	app.shutdown()
	return nil
}

// shutdown stops the servers and releases backends.
func (app *application) shutdown() {
	timeout := app.cfg.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.server.Stop(ctx); err != nil {
		app.logger.Error("server shutdown failed", observability.Error(err))
	}

	if app.metricsServer != nil {
		if err := app.metricsServer.Stop(ctx); err != nil {
			app.logger.Error("metrics server shutdown failed", observability.Error(err))
		}
	}

	if app.closeSessions != nil {
		app.closeSessions()
	}

	if err := app.tracer.Shutdown(ctx); err != nil {
		app.logger.Error("tracer shutdown failed", observability.Error(err))
	}
}
