// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authd configuration from defaults, an optional YAML
// file and command-line flags, in that order of precedence.
package config

import (
	"net/url"
	"time"

	"github.com/invopop/jsonschema"
)

// FormatVersion is the config file format this build writes.
const FormatVersion = "1.0.0"

// Driver names.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverLog      = "log"
	DriverSMTP     = "smtp"

	MethodHS256   = "hs256"
	MethodEd25519 = "ed25519"
)

// Config is the full authd configuration.
type Config struct {
	Version     string      `koanf:"version" yaml:"version" json:"version,omitempty" jsonschema:"description=Config file format version (semver)"`
	Log         LogConfig   `koanf:"log" yaml:"log" json:"log,omitempty"`
	Store       StoreConfig `koanf:"store" yaml:"store" json:"store,omitempty"`
	Cache       CacheConfig `koanf:"cache" yaml:"cache" json:"cache,omitempty"`
	JWT         JWTConfig   `koanf:"jwt" yaml:"jwt" json:"jwt,omitempty"`
	Mail        MailConfig  `koanf:"mail" yaml:"mail" json:"mail,omitempty"`
	Auth        AuthConfig  `koanf:"auth" yaml:"auth" json:"auth,omitempty"`
	MetricsAddr string      `koanf:"metrics_addr" yaml:"metrics_addr" json:"metrics_addr,omitempty" jsonschema:"description=Metrics and health listen address; empty disables"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" yaml:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// StoreConfig selects the account and refresh token store.
type StoreConfig struct {
	Driver      string `koanf:"driver" yaml:"driver" json:"driver,omitempty" jsonschema:"enum=postgres,enum=memory"`
	DatabaseURL string `koanf:"database_url" yaml:"database_url,omitempty" json:"database_url,omitempty"`
	MaxConns    int32  `koanf:"max_conns" yaml:"max_conns,omitempty" json:"max_conns,omitempty" jsonschema:"minimum=0"`
}

// CacheConfig selects the ticket cache.
type CacheConfig struct {
	Driver    string `koanf:"driver" yaml:"driver" json:"driver,omitempty" jsonschema:"enum=redis,enum=memory"`
	RedisURL  string `koanf:"redis_url" yaml:"redis_url,omitempty" json:"redis_url,omitempty"`
	KeyPrefix string `koanf:"key_prefix" yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`
}

// JWTConfig configures access token signing.
type JWTConfig struct {
	Method         string   `koanf:"method" yaml:"method" json:"method,omitempty" jsonschema:"enum=hs256,enum=ed25519"`
	Secret         string   `koanf:"secret" yaml:"secret,omitempty" json:"secret,omitempty"`
	PrivateKeyFile string   `koanf:"private_key_file" yaml:"private_key_file,omitempty" json:"private_key_file,omitempty"`
	PublicKeyFile  string   `koanf:"public_key_file" yaml:"public_key_file,omitempty" json:"public_key_file,omitempty"`
	Issuer         string   `koanf:"issuer" yaml:"issuer" json:"issuer,omitempty"`
	Leeway         Duration `koanf:"leeway" yaml:"leeway" json:"leeway,omitempty"`
}

// MailConfig configures email delivery.
type MailConfig struct {
	Driver       string `koanf:"driver" yaml:"driver" json:"driver,omitempty" jsonschema:"enum=log,enum=smtp"`
	From         string `koanf:"from" yaml:"from,omitempty" json:"from,omitempty"`
	SMTPAddr     string `koanf:"smtp_addr" yaml:"smtp_addr,omitempty" json:"smtp_addr,omitempty"`
	SMTPUsername string `koanf:"smtp_username" yaml:"smtp_username,omitempty" json:"smtp_username,omitempty"`
	SMTPPassword string `koanf:"smtp_password" yaml:"smtp_password,omitempty" json:"smtp_password,omitempty"`
	QueueSize    int    `koanf:"queue_size" yaml:"queue_size" json:"queue_size,omitempty" jsonschema:"minimum=0"`
	Workers      int    `koanf:"workers" yaml:"workers" json:"workers,omitempty" jsonschema:"minimum=0"`
	MaxRetries   int    `koanf:"max_retries" yaml:"max_retries" json:"max_retries,omitempty" jsonschema:"minimum=0"`
	RevealBodies bool   `koanf:"reveal_bodies" yaml:"reveal_bodies" json:"reveal_bodies,omitempty" jsonschema:"description=Log message bodies with the log driver"`
}

// AuthConfig tunes the session lifecycle.
type AuthConfig struct {
	MaxFailedAttempts     int      `koanf:"max_failed_attempts" yaml:"max_failed_attempts" json:"max_failed_attempts,omitempty" jsonschema:"minimum=0"`
	RevokeOnReuse         bool     `koanf:"revoke_on_reuse" yaml:"revoke_on_reuse" json:"revoke_on_reuse,omitempty"`
	RevokeSessionsOnReset bool     `koanf:"revoke_sessions_on_reset" yaml:"revoke_sessions_on_reset" json:"revoke_sessions_on_reset,omitempty"`
	TokenRetention        Duration `koanf:"token_retention" yaml:"token_retention" json:"token_retention,omitempty"`
	PurgeInterval         Duration `koanf:"purge_interval" yaml:"purge_interval" json:"purge_interval,omitempty"`
	AllowedEmailDomains   []string `koanf:"allowed_email_domains" yaml:"allowed_email_domains,omitempty" json:"allowed_email_domains,omitempty"`
}

// Default returns the built-in configuration. It runs entirely in memory.
func Default() *Config {
	return &Config{
		Version: FormatVersion,
		Log:     LogConfig{Format: "json", Level: "info"},
		Store:   StoreConfig{Driver: DriverMemory},
		Cache:   CacheConfig{Driver: DriverMemory, KeyPrefix: "authd:"},
		JWT: JWTConfig{
			Method: MethodHS256,
			Issuer: "authd",
			Leeway: Duration(30 * time.Second),
		},
		Mail: MailConfig{
			Driver:     DriverLog,
			From:       "authd@localhost",
			QueueSize:  256,
			Workers:    2,
			MaxRetries: 3,
		},
		Auth: AuthConfig{
			MaxFailedAttempts:     5,
			RevokeOnReuse:         true,
			RevokeSessionsOnReset: true,
			TokenRetention:        Duration(7 * 24 * time.Hour),
			PurgeInterval:         Duration(time.Hour),
		},
		MetricsAddr: "127.0.0.1:9100",
	}
}

// Redacted returns a copy with secrets masked, suitable for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Auth.AllowedEmailDomains = append([]string(nil), c.Auth.AllowedEmailDomains...)
	if out.JWT.Secret != "" {
		out.JWT.Secret = redactedValue
	}
	if out.Mail.SMTPPassword != "" {
		out.Mail.SMTPPassword = redactedValue
	}
	out.Store.DatabaseURL = redactURL(out.Store.DatabaseURL)
	out.Cache.RedisURL = redactURL(out.Cache.RedisURL)
	return &out
}

const redactedValue = "xxxxx"

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redactedValue
	}
	return u.Redacted()
}

// Duration is a time.Duration written as a Go duration string ("15m", "168h").
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err //nolint:wrapcheck // reported with the key by the decoder
	}
	*d = Duration(v)
	return nil
}

// JSONSchema describes Duration as a duration string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$|^0$`,
		Description: "Go duration, for example 15m or 168h",
	}
}
