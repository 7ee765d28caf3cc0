// Package config loads and validates the authgate configuration: YAML with
// environment variable substitution, defaulting, and hot reload via a file
// watcher.
package config

import (
	"fmt"
	"time"
)

// Known backends and mechanism names accepted in configuration.
const (
	IdentityBackendMemory = "memory"
	IdentityBackendVault  = "vault"

	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"

	MechanismBasic  = "basic"
	MechanismForm   = "form"
	MechanismBearer = "bearer"
)

// Config is the root authgate configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Auth     AuthConfig     `yaml:"auth"`
	Session  SessionConfig  `yaml:"session"`
	Identity IdentityConfig `yaml:"identity"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ServiceName  string   `yaml:"serviceName"`
	OTLPEndpoint string   `yaml:"otlpEndpoint"`
	SamplingRate float64  `yaml:"samplingRate"`
	Timeout      Duration `yaml:"timeout"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// AuthConfig holds the mechanism chain and its per-mechanism settings.
// Mechanisms are tried in the order listed.
type AuthConfig struct {
	Realm      string       `yaml:"realm"`
	Mechanisms []string     `yaml:"mechanisms"`
	Form       FormConfig   `yaml:"form"`
	Bearer     BearerConfig `yaml:"bearer"`

	// Workers and Queue size the handoff worker pool.
	Workers int `yaml:"workers"`
	Queue   int `yaml:"queue"`

	// LoginRate throttles the login endpoint per client address.
	LoginRate RateConfig `yaml:"loginRate"`
}

// FormConfig holds form login settings.
type FormConfig struct {
	ActionPath    string `yaml:"actionPath"`
	LoginPage     string `yaml:"loginPage"`
	UsernameField string `yaml:"usernameField"`
	PasswordField string `yaml:"passwordField"`
}

// BearerConfig holds JWT bearer settings.
type BearerConfig struct {
	Secret    string `yaml:"secret"`
	Algorithm string `yaml:"algorithm"`
	JWKSFile  string `yaml:"jwksFile"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

// RateConfig holds a token bucket rate limit.
type RateConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// SessionConfig holds session manager settings.
type SessionConfig struct {
	Backend    string      `yaml:"backend"`
	CookieName string      `yaml:"cookieName"`
	TTL        Duration    `yaml:"ttl"`
	Secure     bool        `yaml:"secure"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the session backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// IdentityConfig holds identity store settings.
type IdentityConfig struct {
	Backend              string          `yaml:"backend"`
	DefaultHashAlgorithm string          `yaml:"defaultHashAlgorithm"`
	Accounts             []AccountConfig `yaml:"accounts"`
	Vault                VaultConfig     `yaml:"vault"`
	Breaker              BreakerConfig   `yaml:"breaker"`
}

// AccountConfig seeds one account of the memory identity store.
type AccountConfig struct {
	Username      string   `yaml:"username"`
	Secret        string   `yaml:"secret"`
	HashAlgorithm string   `yaml:"hashAlgorithm"`
	Roles         []string `yaml:"roles"`
	Groups        []string `yaml:"groups"`
	Disabled      bool     `yaml:"disabled"`
}

// VaultConfig holds Vault identity backend settings.
type VaultConfig struct {
	Address    string   `yaml:"address"`
	Token      string   `yaml:"token"`
	Namespace  string   `yaml:"namespace"`
	Mount      string   `yaml:"mount"`
	PathPrefix string   `yaml:"pathPrefix"`
	Timeout    Duration `yaml:"timeout"`
}

// BreakerConfig holds circuit breaker settings for remote identity stores.
type BreakerConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Threshold int      `yaml:"threshold"`
	Timeout   Duration `yaml:"timeout"`
}

// DefaultConfig returns a configuration with sensible defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			ServiceName:  "authgate",
			SamplingRate: 1.0,
			Timeout:      Duration(10 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Port:      9091,
			Path:      "/metrics",
			Namespace: "authgate",
		},
		Auth: AuthConfig{
			Realm:      "authgate",
			Mechanisms: []string{MechanismBasic},
			Form: FormConfig{
				ActionPath:    "/login",
				LoginPage:     "/login",
				UsernameField: "username",
				PasswordField: "password",
			},
			Workers: 8,
			Queue:   64,
			LoginRate: RateConfig{
				RPS:   5,
				Burst: 10,
			},
		},
		Session: SessionConfig{
			Backend:    SessionBackendMemory,
			CookieName: "AUTHGATE_SESSION",
			TTL:        Duration(30 * time.Minute),
		},
		Identity: IdentityConfig{
			Backend:              IdentityBackendMemory,
			DefaultHashAlgorithm: "bcrypt",
			Breaker: BreakerConfig{
				Threshold: 5,
				Timeout:   Duration(30 * time.Second),
			},
		},
	}
}

// applyDefaults fills zero values with defaults.
func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = def.Server.WriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = def.Logging.Output
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = def.Tracing.ServiceName
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = def.Tracing.SamplingRate
	}
	if c.Tracing.Timeout == 0 {
		c.Tracing.Timeout = def.Tracing.Timeout
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = def.Metrics.Port
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = def.Metrics.Namespace
	}

	if c.Auth.Realm == "" {
		c.Auth.Realm = def.Auth.Realm
	}
	if len(c.Auth.Mechanisms) == 0 {
		c.Auth.Mechanisms = def.Auth.Mechanisms
	}
	if c.Auth.Form.ActionPath == "" {
		c.Auth.Form.ActionPath = def.Auth.Form.ActionPath
	}
	if c.Auth.Form.LoginPage == "" {
		c.Auth.Form.LoginPage = def.Auth.Form.LoginPage
	}
	if c.Auth.Form.UsernameField == "" {
		c.Auth.Form.UsernameField = def.Auth.Form.UsernameField
	}
	if c.Auth.Form.PasswordField == "" {
		c.Auth.Form.PasswordField = def.Auth.Form.PasswordField
	}
	if c.Auth.Workers == 0 {
		c.Auth.Workers = def.Auth.Workers
	}
	if c.Auth.Queue == 0 {
		c.Auth.Queue = def.Auth.Queue
	}
	if c.Auth.LoginRate.RPS == 0 {
		c.Auth.LoginRate.RPS = def.Auth.LoginRate.RPS
	}
	if c.Auth.LoginRate.Burst == 0 {
		c.Auth.LoginRate.Burst = def.Auth.LoginRate.Burst
	}

	if c.Session.Backend == "" {
		c.Session.Backend = def.Session.Backend
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = def.Session.CookieName
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = def.Session.TTL
	}

	if c.Identity.Backend == "" {
		c.Identity.Backend = def.Identity.Backend
	}
	if c.Identity.DefaultHashAlgorithm == "" {
		c.Identity.DefaultHashAlgorithm = def.Identity.DefaultHashAlgorithm
	}
	if c.Identity.Breaker.Threshold == 0 {
		c.Identity.Breaker.Threshold = def.Identity.Breaker.Threshold
	}
	if c.Identity.Breaker.Timeout == 0 {
		c.Identity.Breaker.Timeout = def.Identity.Breaker.Timeout
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Metrics.Enabled && c.Metrics.Port == c.Server.Port {
		return fmt.Errorf("metrics.port and server.port must differ")
	}

	seen := make(map[string]bool, len(c.Auth.Mechanisms))
	for _, name := range c.Auth.Mechanisms {
		switch name {
		case MechanismBasic, MechanismForm, MechanismBearer:
		default:
			return fmt.Errorf("unknown auth mechanism %q", name)
		}
		if seen[name] {
			return fmt.Errorf("duplicate auth mechanism %q", name)
		}
		seen[name] = true
	}

	if seen[MechanismBearer] && c.Auth.Bearer.Secret == "" && c.Auth.Bearer.JWKSFile == "" {
		return fmt.Errorf("auth.bearer requires a secret or a JWKS file")
	}

	switch c.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}

	switch c.Identity.Backend {
	case IdentityBackendMemory:
	case IdentityBackendVault:
		if c.Identity.Vault.Address == "" {
			return fmt.Errorf("identity.vault.address is required for the vault backend")
		}
	default:
		return fmt.Errorf("unknown identity backend %q", c.Identity.Backend)
	}

	if c.Tracing.Enabled && c.Tracing.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlpEndpoint is required when tracing is enabled")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.samplingRate must be within [0, 1]")
	}

	return nil
}
