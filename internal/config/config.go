// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads the identity service configuration.
//
// Sources are layered lowest to highest: built-in defaults, a YAML file,
// DATABASE_URL, IDENTITY_* environment variables, then explicitly set
// command-line flags.
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/identity/internal/auth"
)

// EnvPrefix prefixes every environment override. Nested keys are separated
// by a double underscore: IDENTITY_SESSION__SECRET sets session.secret.
const EnvPrefix = "IDENTITY_"

// Mail drivers.
const (
	MailDriverLog  = "log"
	MailDriverSMTP = "smtp"
)

// Redacted replaces secrets in Redact output.
const Redacted = "REDACTED"

// Config is the complete service configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http" yaml:"http"`
	Metrics  MetricsConfig  `koanf:"metrics" yaml:"metrics"`
	Database DatabaseConfig `koanf:"database" yaml:"database"`
	Session  SessionConfig  `koanf:"session" yaml:"session"`
	Tokens   TokensConfig   `koanf:"tokens" yaml:"tokens"`
	Mail     MailConfig     `koanf:"mail" yaml:"mail"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
	Password PasswordConfig `koanf:"password" yaml:"password"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr              string        `koanf:"addr" yaml:"addr"`
	PublicURL         string        `koanf:"public_url" yaml:"public_url"`
	AllowedOrigins    []string      `koanf:"allowed_origins" yaml:"allowed_origins"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" yaml:"read_header_timeout"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// DatabaseConfig configures PostgreSQL access.
type DatabaseConfig struct {
	URL         string `koanf:"url" yaml:"url"`
	AutoMigrate bool   `koanf:"auto_migrate" yaml:"auto_migrate"`
}

// SessionConfig configures session token signing.
type SessionConfig struct {
	Secret string        `koanf:"secret" yaml:"secret"`
	TTL    time.Duration `koanf:"ttl" yaml:"ttl"`
	Issuer string        `koanf:"issuer" yaml:"issuer"`
}

// TokensConfig configures verification and reset token lifetimes.
type TokensConfig struct {
	VerificationTTL time.Duration `koanf:"verification_ttl" yaml:"verification_ttl"`
	ResetTTL        time.Duration `koanf:"reset_ttl" yaml:"reset_ttl"`
	PurgeInterval   time.Duration `koanf:"purge_interval" yaml:"purge_interval"`
}

// MailConfig configures outbound mail.
type MailConfig struct {
	Driver     string     `koanf:"driver" yaml:"driver"`
	From       string     `koanf:"from" yaml:"from"`
	SMTP       SMTPConfig `koanf:"smtp" yaml:"smtp"`
	Workers    int        `koanf:"workers" yaml:"workers"`
	QueueSize  int        `koanf:"queue_size" yaml:"queue_size"`
	MaxRetries uint64     `koanf:"max_retries" yaml:"max_retries"`
}

// SMTPConfig addresses the SMTP relay.
type SMTPConfig struct {
	Host     string `koanf:"host" yaml:"host"`
	Port     int    `koanf:"port" yaml:"port"`
	Username string `koanf:"username" yaml:"username"`
	Password string `koanf:"password" yaml:"password"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// PasswordConfig configures password hashing cost.
type PasswordConfig struct {
	Argon2 Argon2Config `koanf:"argon2" yaml:"argon2"`
}

// Argon2Config holds the tunable argon2id parameters.
type Argon2Config struct {
	MemoryKiB uint32 `koanf:"memory_kib" yaml:"memory_kib"`
	Time      uint32 `koanf:"time" yaml:"time"`
	Threads   uint8  `koanf:"threads" yaml:"threads"`
}

// Params converts the configured cost to hasher parameters.
func (c Argon2Config) Params() auth.Argon2Params {
	p := auth.DefaultArgon2Params
	p.Memory = c.MemoryKiB
	p.Time = c.Time
	p.Threads = c.Threads
	return p
}

// defaults mirrors the documented default of every key.
func defaults() map[string]any {
	p := auth.DefaultArgon2Params
	return map[string]any{
		"http.addr":                  ":3000",
		"http.public_url":            "http://localhost:3000",
		"http.allowed_origins":       []string{},
		"http.read_header_timeout":   "10s",
		"metrics.addr":               "127.0.0.1:9100",
		"database.url":               "",
		"database.auto_migrate":      false,
		"session.secret":             "",
		"session.ttl":                auth.DefaultSessionTTL.String(),
		"session.issuer":             auth.DefaultSessionIssuer,
		"tokens.verification_ttl":    auth.DefaultVerificationTTL.String(),
		"tokens.reset_ttl":           auth.DefaultResetTokenExpiry.String(),
		"tokens.purge_interval":      "15m",
		"mail.driver":                MailDriverLog,
		"mail.from":                  "no-reply@localhost",
		"mail.smtp.host":             "",
		"mail.smtp.port":             587,
		"mail.smtp.username":         "",
		"mail.smtp.password":         "",
		"mail.workers":               2,
		"mail.queue_size":            128,
		"mail.max_retries":           3,
		"log.format":                 "json",
		"log.level":                  "info",
		"password.argon2.memory_kib": p.Memory,
		"password.argon2.time":       p.Time,
		"password.argon2.threads":    p.Threads,
	}
}

// flagKeys maps command-line flags to configuration keys. Only flags the
// user actually set override lower layers.
var flagKeys = map[string]string{
	"addr":         "http.addr",
	"public-url":   "http.public_url",
	"metrics-addr": "metrics.addr",
	"database-url": "database.url",
	"auto-migrate": "database.auto_migrate",
	"log-format":   "log.format",
	"log-level":    "log.level",
}

// BindFlags registers the configuration override flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("addr", ":3000", "API listen address")
	fs.String("public-url", "http://localhost:3000", "externally reachable base URL for mailed links")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics and health listen address (empty disables)")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.Bool("auto-migrate", false, "apply pending migrations on startup")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

// Options controls Load.
type Options struct {
	// Path is the YAML file to read. When Explicit is false a missing file
	// is ignored.
	Path     string
	Explicit bool
	// Flags, when set, supplies command-line overrides.
	Flags *pflag.FlagSet
	// DatabaseOnly limits validation to the database settings, for
	// maintenance commands that never serve traffic.
	DatabaseOnly bool
}

// Load assembles and validates the configuration.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	if opts.Path != "" {
		if err := k.Load(file.Provider(opts.Path), yaml.Parser()); err != nil {
			if opts.Explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, oops.Code("CONFIG_LOAD_FAILED").
					With("source", "file").
					With("path", opts.Path).
					Wrap(err)
			}
		}
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		if err := k.Load(confmap.Provider(map[string]any{"database.url": dsn}, "."), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "DATABASE_URL").Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	cfg.HTTP.AllowedOrigins = splitList(cfg.HTTP.AllowedOrigins)

	validate := cfg.Validate
	if opts.DatabaseOnly {
		validate = cfg.validateDatabase
	}
	if err := validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns IDENTITY_SESSION__SECRET into session.secret.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// splitList accepts origins given either as a list or as one
// comma-separated string (the environment form).
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

var (
	logFormats = []string{"json", "text"}
	logLevels  = []string{"debug", "info", "warn", "error"}
)

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(key string, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	switch {
	case c.Database.URL == "":
		return invalid("database.url", "database URL is required (set database.url or DATABASE_URL)")
	case len(c.Session.Secret) < auth.MinSecretLength:
		return invalid("session.secret", "session secret must be at least %d bytes", auth.MinSecretLength)
	case c.Session.TTL <= 0:
		return invalid("session.ttl", "session TTL must be positive")
	case c.Tokens.VerificationTTL <= 0:
		return invalid("tokens.verification_ttl", "verification token TTL must be positive")
	case c.Tokens.ResetTTL <= 0:
		return invalid("tokens.reset_ttl", "reset token TTL must be positive")
	case c.Tokens.PurgeInterval < 0:
		return invalid("tokens.purge_interval", "purge interval cannot be negative")
	case !slices.Contains([]string{MailDriverLog, MailDriverSMTP}, c.Mail.Driver):
		return invalid("mail.driver", "unknown mail driver %q", c.Mail.Driver)
	case c.Mail.Driver == MailDriverSMTP && c.Mail.SMTP.Host == "":
		return invalid("mail.smtp.host", "smtp driver requires a host")
	case c.Mail.From == "":
		return invalid("mail.from", "sender address is required")
	case !slices.Contains(logFormats, c.Log.Format):
		return invalid("log.format", "log format must be json or text, got %q", c.Log.Format)
	case !slices.Contains(logLevels, c.Log.Level):
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	case c.Password.Argon2.MemoryKiB == 0 || c.Password.Argon2.Time == 0 || c.Password.Argon2.Threads == 0:
		return invalid("password.argon2", "argon2 parameters must be positive")
	}

	u, err := url.Parse(c.HTTP.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("http.public_url", "public URL must be absolute, got %q", c.HTTP.PublicURL)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			With("key", "database.url").
			Errorf("database URL is required (set database.url or DATABASE_URL)")
	}
	return nil
}

// Redact returns a copy with secrets masked, suitable for printing.
func (c Config) Redact() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return Redacted
	}
	c.Session.Secret = mask(c.Session.Secret)
	c.Mail.SMTP.Password = mask(c.Mail.SMTP.Password)
	if u, err := url.Parse(c.Database.URL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), Redacted)
			c.Database.URL = u.String()
		}
	}
	c.HTTP.AllowedOrigins = slices.Clone(c.HTTP.AllowedOrigins)
	return c
}
