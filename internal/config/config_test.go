// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/holomush/identity/internal/auth"
	"github.com/holomush/identity/pkg/errutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// requiredEnv sets the two keys without defaults.
func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://identity:pw@localhost:5432/identity")
	t.Setenv("IDENTITY_SESSION__SECRET", testSecret)
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	requiredEnv(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.Equal(t, "http://localhost:3000", cfg.HTTP.PublicURL)
	assert.Empty(t, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadHeaderTimeout)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "identity", cfg.Session.Issuer)
	assert.Equal(t, 12*time.Hour, cfg.Tokens.VerificationTTL)
	assert.Equal(t, time.Hour, cfg.Tokens.ResetTTL)
	assert.Equal(t, 15*time.Minute, cfg.Tokens.PurgeInterval)
	assert.Equal(t, MailDriverLog, cfg.Mail.Driver)
	assert.Equal(t, 587, cfg.Mail.SMTP.Port)
	assert.Equal(t, 2, cfg.Mail.Workers)
	assert.Equal(t, 128, cfg.Mail.QueueSize)
	assert.Equal(t, uint64(3), cfg.Mail.MaxRetries)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, auth.DefaultArgon2Params, cfg.Password.Argon2.Params())
}

func TestLoad_Layering(t *testing.T) {
	requiredEnv(t)
	path := writeFile(t, `
http:
  addr: ":4000"
  public_url: "https://id.example.com"
  allowed_origins:
    - "https://*.example.com"
log:
  level: debug
  format: text
mail:
  driver: smtp
  smtp:
    host: smtp.example.com
    port: 2525
`)

	t.Run("file overrides defaults", func(t *testing.T) {
		cfg, err := Load(Options{Path: path, Explicit: true})
		require.NoError(t, err)
		assert.Equal(t, ":4000", cfg.HTTP.Addr)
		assert.Equal(t, "https://id.example.com", cfg.HTTP.PublicURL)
		assert.Equal(t, []string{"https://*.example.com"}, cfg.HTTP.AllowedOrigins)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, MailDriverSMTP, cfg.Mail.Driver)
		assert.Equal(t, "smtp.example.com", cfg.Mail.SMTP.Host)
		assert.Equal(t, 2525, cfg.Mail.SMTP.Port)
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("IDENTITY_HTTP__ADDR", ":5000")
		t.Setenv("IDENTITY_TOKENS__RESET_TTL", "30m")
		t.Setenv("IDENTITY_HTTP__ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

		cfg, err := Load(Options{Path: path, Explicit: true})
		require.NoError(t, err)
		assert.Equal(t, ":5000", cfg.HTTP.Addr)
		assert.Equal(t, 30*time.Minute, cfg.Tokens.ResetTTL)
		assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.HTTP.AllowedOrigins)
	})

	t.Run("prefixed env beats DATABASE_URL", func(t *testing.T) {
		t.Setenv("IDENTITY_DATABASE__URL", "postgres://other/db")

		cfg, err := Load(Options{})
		require.NoError(t, err)
		assert.Equal(t, "postgres://other/db", cfg.Database.URL)
	})

	t.Run("set flags override env", func(t *testing.T) {
		t.Setenv("IDENTITY_HTTP__ADDR", ":5000")
		t.Setenv("IDENTITY_LOG__LEVEL", "warn")

		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		BindFlags(fs)
		require.NoError(t, fs.Parse([]string{"--addr", ":6000", "--auto-migrate"}))

		cfg, err := Load(Options{Path: path, Explicit: true, Flags: fs})
		require.NoError(t, err)
		assert.Equal(t, ":6000", cfg.HTTP.Addr)
		assert.True(t, cfg.Database.AutoMigrate)
		assert.Equal(t, "warn", cfg.Log.Level, "unset flags keep lower layers")
		assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
	})
}

func TestLoad_ConfigFile(t *testing.T) {
	requiredEnv(t)
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	t.Run("missing default file is ignored", func(t *testing.T) {
		_, err := Load(Options{Path: missing})
		require.NoError(t, err)
	})

	t.Run("missing explicit file fails", func(t *testing.T) {
		_, err := Load(Options{Path: missing, Explicit: true})
		errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
		errutil.AssertErrorContext(t, err, "path", missing)
	})

	t.Run("malformed file fails", func(t *testing.T) {
		_, err := Load(Options{Path: writeFile(t, "http: [unterminated")})
		errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
	})
}

func TestLoad_RequiresDatabaseAndSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load(Options{})
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "key", "database.url")

	t.Setenv("DATABASE_URL", "postgres://localhost/identity")
	_, err = Load(Options{})
	errutil.AssertErrorContext(t, err, "key", "session.secret")
}

func TestLoad_DatabaseOnly(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load(Options{DatabaseOnly: true})
	errutil.AssertErrorContext(t, err, "key", "database.url")

	// No session secret: maintenance commands still load.
	t.Setenv("DATABASE_URL", "postgres://localhost/identity")
	cfg, err := Load(Options{DatabaseOnly: true})
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/identity", cfg.Database.URL)
	assert.Empty(t, cfg.Session.Secret)
}

func validConfig() Config {
	return Config{
		HTTP:     HTTPConfig{Addr: ":3000", PublicURL: "http://localhost:3000"},
		Database: DatabaseConfig{URL: "postgres://localhost/identity"},
		Session:  SessionConfig{Secret: testSecret, TTL: time.Minute, Issuer: "identity"},
		Tokens:   TokensConfig{VerificationTTL: time.Hour, ResetTTL: time.Hour},
		Mail:     MailConfig{Driver: MailDriverLog, From: "no-reply@localhost"},
		Log:      LogConfig{Format: "json", Level: "info"},
		Password: PasswordConfig{Argon2: Argon2Config{MemoryKiB: 1024, Time: 1, Threads: 1}},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"valid", func(*Config) {}, ""},
		{"short secret", func(c *Config) { c.Session.Secret = "short" }, "session.secret"},
		{"zero session ttl", func(c *Config) { c.Session.TTL = 0 }, "session.ttl"},
		{"zero verification ttl", func(c *Config) { c.Tokens.VerificationTTL = 0 }, "tokens.verification_ttl"},
		{"negative reset ttl", func(c *Config) { c.Tokens.ResetTTL = -time.Second }, "tokens.reset_ttl"},
		{"negative purge interval", func(c *Config) { c.Tokens.PurgeInterval = -time.Second }, "tokens.purge_interval"},
		{"unknown mail driver", func(c *Config) { c.Mail.Driver = "carrier-pigeon" }, "mail.driver"},
		{"smtp without host", func(c *Config) { c.Mail.Driver = MailDriverSMTP }, "mail.smtp.host"},
		{"no sender", func(c *Config) { c.Mail.From = "" }, "mail.from"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"zero argon2 memory", func(c *Config) { c.Password.Argon2.MemoryKiB = 0 }, "password.argon2"},
		{"relative public url", func(c *Config) { c.HTTP.PublicURL = "/auth" }, "http.public_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.key == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}
}

func TestConfig_Redact(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = "postgres://identity:hunter2@db:5432/identity"
	cfg.Mail.SMTP.Password = "smtp-pass"

	redacted := cfg.Redact()
	assert.Equal(t, Redacted, redacted.Session.Secret)
	assert.Equal(t, Redacted, redacted.Mail.SMTP.Password)
	assert.Equal(t, "postgres://identity:REDACTED@db:5432/identity", redacted.Database.URL)
	assert.Equal(t, testSecret, cfg.Session.Secret, "original untouched")

	out, err := yaml.Marshal(redacted)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.NotContains(t, string(out), testSecret)
	assert.Contains(t, string(out), "ttl: 1m0s")
}

func TestConfig_RedactLeavesEmptySecretsEmpty(t *testing.T) {
	cfg := validConfig()
	cfg.Session.Secret = ""
	assert.Empty(t, cfg.Redact().Mail.SMTP.Password)
	assert.Empty(t, cfg.Redact().Session.Secret)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "session.secret", envKey("IDENTITY_SESSION__SECRET"))
	assert.Equal(t, "http.public_url", envKey("IDENTITY_HTTP__PUBLIC_URL"))
	assert.Equal(t, "mail.smtp.host", envKey("IDENTITY_MAIL__SMTP__HOST"))
}
