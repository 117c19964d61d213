// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/authd/internal/xdg"
)

// Environment variables that fill empty secrets and DSNs.
const (
	EnvDatabaseURL  = "DATABASE_URL"
	EnvRedisURL     = "REDIS_URL"
	EnvJWTSecret    = "AUTHD_JWT_SECRET"
	EnvSMTPPassword = "AUTHD_SMTP_PASSWORD"
)

// flagKeys maps command-line flag names onto config keys. Secrets have no
// flag; they come from the file or the environment.
var flagKeys = map[string]string{
	"log-format":      "log.format",
	"log-level":       "log.level",
	"store":           "store.driver",
	"database-url":    "store.database_url",
	"cache":           "cache.driver",
	"redis-url":       "cache.redis_url",
	"jwt-method":      "jwt.method",
	"jwt-issuer":      "jwt.issuer",
	"jwt-private-key": "jwt.private_key_file",
	"jwt-public-key":  "jwt.public_key_file",
	"mail":            "mail.driver",
	"mail-from":       "mail.from",
	"smtp-addr":       "mail.smtp_addr",
	"metrics-addr":    "metrics_addr",
}

// RegisterFlags adds the config flags to fs with the built-in defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("store", d.Store.Driver, "account store (postgres or memory)")
	fs.String("database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	fs.String("cache", d.Cache.Driver, "ticket cache (redis or memory)")
	fs.String("redis-url", "", "Redis URL (default: $REDIS_URL)")
	fs.String("jwt-method", d.JWT.Method, "access token signing method (hs256 or ed25519)")
	fs.String("jwt-issuer", d.JWT.Issuer, "access token issuer")
	fs.String("jwt-private-key", "", "Ed25519 private key PEM file")
	fs.String("jwt-public-key", "", "Ed25519 public key PEM file")
	fs.String("mail", d.Mail.Driver, "mail delivery (log or smtp)")
	fs.String("mail-from", d.Mail.From, "sender address")
	fs.String("smtp-addr", "", "SMTP relay host:port")
	fs.String("metrics-addr", d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
}

// LoadOptions controls Load.
type LoadOptions struct {
	// Path is an explicit config file. It must exist. When empty the XDG
	// config file is used if present.
	Path string
	// Flags holds flags registered with RegisterFlags. Only flags the user
	// set override the file. May be nil.
	Flags *pflag.FlagSet
	// Getenv reads environment variables. Nil uses os.Getenv.
	Getenv func(string) string
}

// Load builds the configuration. It does not call Validate; a file that
// breaks the schema is rejected with CONFIG_SCHEMA_INVALID.
func Load(opts LoadOptions) (*Config, error) {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	k := koanf.New(".")

	path, err := resolvePath(opts.Path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "load flags").Wrap(err)
		}
	}

	cfg := Default()
	err = k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "decode config").With("path", path).Wrap(err)
	}

	applyEnv(cfg, opts.Getenv)
	return cfg, nil
}

func resolvePath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", oops.Code("CONFIG_LOAD_FAILED").With("path", explicit).Wrap(err)
		}
		return explicit, nil
	}
	path, err := xdg.ConfigFile()
	if err != nil {
		// No home directory means no default file.
		return "", nil //nolint:nilerr // defaults and flags still apply
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return path, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	provider := file.Provider(path)
	data, err := provider.ReadBytes()
	if err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	if err := ValidateSchema(data); err != nil {
		return oops.With("path", path).Wrap(err)
	}
	if err := k.Load(provider, yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	fill := func(dst *string, env string) {
		if *dst == "" {
			*dst = getenv(env)
		}
	}
	fill(&cfg.Store.DatabaseURL, EnvDatabaseURL)
	fill(&cfg.Cache.RedisURL, EnvRedisURL)
	fill(&cfg.JWT.Secret, EnvJWTSecret)
	fill(&cfg.Mail.SMTPPassword, EnvSMTPPassword)
}
