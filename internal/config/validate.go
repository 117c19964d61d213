// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth/jwt"
)

// supportedVersions is the range of config file format versions this
// build reads.
const supportedVersions = "^1.0.0"

type problems []string

func (p *problems) add(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p *problems) oneOf(field, value string, allowed ...string) {
	if !slices.Contains(allowed, value) {
		p.add("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
	}
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return oops.Code("CONFIG_INVALID").
		With("problems", []string(p)).
		Errorf("invalid configuration: %s", strings.Join(p, "; "))
}

// ValidateStore checks only the version and store section. Commands that
// touch nothing but the database use it.
func (c *Config) ValidateStore() error {
	var p problems
	c.checkStore(&p)
	return p.err()
}

func (c *Config) checkStore(p *problems) {
	if err := checkVersion(c.Version); err != nil {
		p.add("version: %v", err)
	}
	p.oneOf("store.driver", c.Store.Driver, DriverPostgres, DriverMemory)
	if c.Store.Driver == DriverPostgres && c.Store.DatabaseURL == "" {
		p.add("store.database_url is required for the postgres store (or set %s)", EnvDatabaseURL)
	}
	if c.Store.MaxConns < 0 {
		p.add("store.max_conns must be non-negative")
	}
}

// Validate checks every field and reports all problems at once with code
// CONFIG_INVALID.
func (c *Config) Validate() error {
	var p problems
	c.checkStore(&p)
	add, oneOf := p.add, p.oneOf

	oneOf("log.format", c.Log.Format, "json", "text")
	oneOf("log.level", strings.ToLower(c.Log.Level), "debug", "info", "warn", "error")

	oneOf("cache.driver", c.Cache.Driver, DriverRedis, DriverMemory)
	if c.Cache.Driver == DriverRedis && c.Cache.RedisURL == "" {
		add("cache.redis_url is required for the redis cache (or set %s)", EnvRedisURL)
	}

	oneOf("jwt.method", c.JWT.Method, MethodHS256, MethodEd25519)
	switch c.JWT.Method {
	case MethodHS256:
		if len(c.JWT.Secret) < jwt.MinSecretLength {
			add("jwt.secret must be at least %d bytes (or set %s)", jwt.MinSecretLength, EnvJWTSecret)
		}
	case MethodEd25519:
		if c.JWT.PrivateKeyFile == "" || c.JWT.PublicKeyFile == "" {
			add("jwt.private_key_file and jwt.public_key_file are required for ed25519")
		}
	}
	if c.JWT.Issuer == "" {
		add("jwt.issuer is required")
	}
	if c.JWT.Leeway < 0 {
		add("jwt.leeway must be non-negative")
	}

	oneOf("mail.driver", c.Mail.Driver, DriverLog, DriverSMTP)
	if c.Mail.Driver == DriverSMTP {
		if _, _, err := net.SplitHostPort(c.Mail.SMTPAddr); err != nil {
			add("mail.smtp_addr must be host:port, got %q", c.Mail.SMTPAddr)
		}
		if c.Mail.From == "" {
			add("mail.from is required for smtp")
		}
	}
	if c.Mail.QueueSize < 0 || c.Mail.Workers < 0 || c.Mail.MaxRetries < 0 {
		add("mail.queue_size, mail.workers and mail.max_retries must be non-negative")
	}

	if c.Auth.MaxFailedAttempts < 0 {
		add("auth.max_failed_attempts must be non-negative")
	}
	if c.Auth.TokenRetention < 0 {
		add("auth.token_retention must be non-negative")
	}
	if c.Auth.PurgeInterval < 0 {
		add("auth.purge_interval must be non-negative")
	}
	for _, pattern := range c.Auth.AllowedEmailDomains {
		if _, err := glob.Compile(strings.ToLower(pattern), '.'); err != nil {
			add("auth.allowed_email_domains: invalid pattern %q", pattern)
		}
	}

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			add("metrics_addr must be host:port, got %q", c.MetricsAddr)
		}
	}

	return p.err()
}

func checkVersion(raw string) error {
	if raw == "" {
		return nil
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("%q is not a semantic version", raw)
	}
	constraint, err := semver.NewConstraint(supportedVersions)
	if err != nil {
		return err //nolint:wrapcheck // constant constraint
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%s is not supported (want %s)", v, supportedVersions)
	}
	return nil
}
