// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the reconciler's configuration.
//
// Files are YAML unless the extension is .toml. Values are layered as
// defaults, then the file, then VAULT_* environment variables, and the
// result is validated before use. Secrets are only read from the
// environment or from a referenced file, never from the config itself.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianVault/pkg/logging"
	"github.com/AleutianAI/AleutianVault/pkg/telemetry"
	"github.com/AleutianAI/AleutianVault/pkg/validation"
	"github.com/AleutianAI/AleutianVault/services/reconciler"
	"github.com/AleutianAI/AleutianVault/services/reconciler/docstore"
	"github.com/AleutianAI/AleutianVault/services/reconciler/lookup"
	"github.com/AleutianAI/AleutianVault/services/reconciler/publisher"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Ledger backends.
const (
	LedgerBadger = "badger"
	LedgerSQLite = "sqlite"
)

// Document store backends.
const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// Config is the complete reconciler configuration.
type Config struct {
	Schedule    ScheduleConfig          `yaml:"schedule" toml:"schedule"`
	HTTP        HTTPConfig              `yaml:"http" toml:"http"`
	DocStore    DocStoreConfig          `yaml:"docstore" toml:"docstore"`
	Collections lookup.Collections      `yaml:"collections" toml:"collections"`
	Ledger      LedgerConfig            `yaml:"ledger" toml:"ledger"`
	Publisher   PublisherConfig         `yaml:"publisher" toml:"publisher"`
	Archive     publisher.GCSConfig     `yaml:"archive" toml:"archive"`
	Influx      reconciler.InfluxConfig `yaml:"influx" toml:"influx"`
	Logging     logging.Config          `yaml:"logging" toml:"logging"`
	Telemetry   telemetry.Config        `yaml:"telemetry" toml:"telemetry"`
}

// ScheduleConfig drives the reconciler loop. Interval and InterUserDelay
// are hot-reloadable.
type ScheduleConfig struct {
	Interval       time.Duration `yaml:"interval" toml:"interval" validate:"gte=1s"`
	InterUserDelay time.Duration `yaml:"inter_user_delay" toml:"inter_user_delay" validate:"gte=0"`
	LookupTimeout  time.Duration `yaml:"lookup_timeout" toml:"lookup_timeout" validate:"gt=0"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" toml:"addr" validate:"required"`

	// OperatorTokenFile holds the bearer token for /v1. VAULT_OPERATOR_TOKEN
	// takes precedence. With neither set the operator API is unauthenticated.
	OperatorTokenFile string `yaml:"operator_token_file" toml:"operator_token_file"`
}

// DocStoreConfig selects the document store.
type DocStoreConfig struct {
	Backend string               `yaml:"backend" toml:"backend" validate:"oneof=mongo memory"`
	Mongo   docstore.MongoConfig `yaml:"mongo" toml:"mongo"`

	// SeedFile is a YAML or JSON fixture loaded into the memory backend.
	SeedFile string `yaml:"seed_file" toml:"seed_file"`
}

// LedgerConfig selects the ledger backend.
type LedgerConfig struct {
	Backend string `yaml:"backend" toml:"backend" validate:"oneof=badger sqlite"`

	// Path is a directory for badger and a file for sqlite.
	Path string `yaml:"path" toml:"path" validate:"required"`

	// Cache enables the in-memory completed-id cache.
	Cache bool `yaml:"cache" toml:"cache"`
}

// PublisherConfig adds credential lookup to publisher.Config.
type PublisherConfig struct {
	publisher.Config `yaml:",inline" toml:",inline"`

	// TokenFile holds the pinning JWT. VAULT_PINNING_JWT takes precedence.
	TokenFile string `yaml:"token_file" toml:"token_file"`
}

// Default returns a configuration that runs against a local MongoDB and a
// badger ledger under ./data.
func Default() Config {
	return Config{
		Schedule: ScheduleConfig{
			Interval:       5 * time.Minute,
			InterUserDelay: 2 * time.Second,
			LookupTimeout:  10 * time.Second,
		},
		HTTP: HTTPConfig{Addr: ":8090"},
		DocStore: DocStoreConfig{
			Backend: StoreMongo,
			Mongo:   docstore.DefaultMongoConfig(),
		},
		Collections: lookup.DefaultCollections(),
		Ledger: LedgerConfig{
			Backend: LedgerBadger,
			Path:    filepath.Join("data", "ledger"),
			Cache:   true,
		},
		Publisher: PublisherConfig{Config: publisher.DefaultConfig()},
		Logging:   logging.Config{Level: "info", Format: logging.FormatAuto, Service: "reconciler"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse toml %s: %w", path, err)
		}
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse yaml %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// Environment
// =============================================================================

type lookupEnv func(key string) (string, bool)

// applyEnv overlays VAULT_* variables.
//
//   - VAULT_INTERVAL, VAULT_INTER_USER_DELAY, VAULT_LOOKUP_TIMEOUT
//   - VAULT_HTTP_ADDR
//   - VAULT_MONGO_URI, VAULT_MONGO_DATABASE
//   - VAULT_LEDGER_BACKEND, VAULT_LEDGER_PATH
//   - VAULT_PINNING_ENDPOINT, VAULT_GATEWAY_URL
//   - VAULT_ARCHIVE_BUCKET
//   - VAULT_INFLUX_URL, VAULT_INFLUX_TOKEN, VAULT_INFLUX_ORG, VAULT_INFLUX_BUCKET
//   - VAULT_LOG_LEVEL, VAULT_LOG_FORMAT
func applyEnv(cfg *Config, env lookupEnv) error {
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"VAULT_INTERVAL", &cfg.Schedule.Interval},
		{"VAULT_INTER_USER_DELAY", &cfg.Schedule.InterUserDelay},
		{"VAULT_LOOKUP_TIMEOUT", &cfg.Schedule.LookupTimeout},
	}
	for _, d := range durations {
		v, ok := env(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"VAULT_HTTP_ADDR", &cfg.HTTP.Addr},
		{"VAULT_DOCSTORE_BACKEND", &cfg.DocStore.Backend},
		{"VAULT_MONGO_URI", &cfg.DocStore.Mongo.URI},
		{"VAULT_MONGO_DATABASE", &cfg.DocStore.Mongo.Database},
		{"VAULT_LEDGER_BACKEND", &cfg.Ledger.Backend},
		{"VAULT_LEDGER_PATH", &cfg.Ledger.Path},
		{"VAULT_PINNING_ENDPOINT", &cfg.Publisher.Endpoint},
		{"VAULT_GATEWAY_URL", &cfg.Publisher.GatewayURL},
		{"VAULT_ARCHIVE_BUCKET", &cfg.Archive.Bucket},
		{"VAULT_INFLUX_URL", &cfg.Influx.URL},
		{"VAULT_INFLUX_TOKEN", &cfg.Influx.Token},
		{"VAULT_INFLUX_ORG", &cfg.Influx.Org},
		{"VAULT_INFLUX_BUCKET", &cfg.Influx.Bucket},
		{"VAULT_LOG_LEVEL", &cfg.Logging.Level},
		{"VAULT_LOG_FORMAT", &cfg.Logging.Format},
	}
	for _, s := range strs {
		if v, ok := env(s.key); ok && v != "" {
			*s.dst = v
		}
	}
	return nil
}

// parseDuration accepts Go duration strings and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// PinningToken returns the pinning JWT from VAULT_PINNING_JWT or TokenFile.
// An empty result is valid; publishing then fails per user.
func (c Config) PinningToken() ([]byte, error) {
	token, err := readSecret("VAULT_PINNING_JWT", c.Publisher.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read pinning token: %w", err)
	}
	return token, nil
}

// OperatorToken returns the operator API token from VAULT_OPERATOR_TOKEN or
// HTTP.OperatorTokenFile.
func (c Config) OperatorToken() ([]byte, error) {
	token, err := readSecret("VAULT_OPERATOR_TOKEN", c.HTTP.OperatorTokenFile)
	if err != nil {
		return nil, fmt.Errorf("read operator token: %w", err)
	}
	return token, nil
}

func readSecret(envKey, path string) ([]byte, error) {
	if v, ok := os.LookupEnv(envKey); ok && v != "" {
		return []byte(v), nil
	}
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(data), nil
}

// =============================================================================
// Validation
// =============================================================================

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for _, name := range c.Collections.List() {
		if err := validation.ValidateCollectionName(name); err != nil {
			return fmt.Errorf("%w: collections: %v", ErrInvalid, err)
		}
	}
	if c.DocStore.Backend == StoreMongo && c.DocStore.Mongo.URI == "" {
		return fmt.Errorf("%w: docstore.mongo.uri is required for the mongo backend", ErrInvalid)
	}
	if (c.Influx.URL != "") != (c.Influx.Org != "" && c.Influx.Bucket != "") {
		return fmt.Errorf("%w: influx needs url, org and bucket together", ErrInvalid)
	}
	return nil
}
