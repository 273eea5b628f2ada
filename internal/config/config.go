/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"snipvault/internal/history"
	"snipvault/internal/medium"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.

type StorageConfig struct {
	Backend    string `yaml:"backend"` // file | sqlite | postgres | keyring | memory
	Dir        string `yaml:"dir"`     // empty means DataDir()
	Namespace  string `yaml:"namespace"`
	QuotaBytes int64  `yaml:"quota_bytes"` // 0 = unlimited
	Backups    int    `yaml:"backups"`     // file backend only; negative disables
	// The postgres DSN is not stored on disk; it lives in the OS keychain.
}

type SnippetsConfig struct {
	Key      string `yaml:"key"`
	Validate bool   `yaml:"validate"`
}

type HistoryConfig struct {
	MaxBytes int `yaml:"max_bytes"`
	MaxDepth int `yaml:"max_depth"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int            `yaml:"config_version"`
	Storage       StorageConfig  `yaml:"storage"`
	Snippets      SnippetsConfig `yaml:"snippets"`
	History       HistoryConfig  `yaml:"history"`
	Logging       LoggingConfig  `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Storage:       StorageConfig{Backend: medium.BackendFile, Namespace: "default"},
		Snippets:      SnippetsConfig{Key: "code-snippets", Validate: true},
		History:       HistoryConfig{MaxBytes: 1 << 20, MaxDepth: 50},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigPath        = "SNV_CONFIG"
	EnvStorageBackend    = "SNV_STORAGE_BACKEND"
	EnvStorageDir        = "SNV_STORAGE_DIR"
	EnvStorageNamespace  = "SNV_STORAGE_NAMESPACE"
	EnvStorageQuotaBytes = "SNV_STORAGE_QUOTA_BYTES"
	EnvSnippetsKey       = "SNV_SNIPPETS_KEY"
	EnvSnippetsValidate  = "SNV_SNIPPETS_VALIDATE"
	EnvPostgresDSN       = "SNV_PG_DSN"
	EnvLogLevel          = "SNV_LOG_LEVEL"
	EnvLogFormat         = "SNV_LOG_FORMAT"
	EnvLogSource         = "SNV_LOG_SOURCE"
	EnvLogFile           = "SNV_LOG_FILE"
)

// overrides mirrors the env-overridable fields; nil means "not set".
type overrides struct {
	Backend    *string `env:"SNV_STORAGE_BACKEND"`
	Dir        *string `env:"SNV_STORAGE_DIR"`
	Namespace  *string `env:"SNV_STORAGE_NAMESPACE"`
	QuotaBytes *int64  `env:"SNV_STORAGE_QUOTA_BYTES"`
	Key        *string `env:"SNV_SNIPPETS_KEY"`
	Validate   *bool   `env:"SNV_SNIPPETS_VALIDATE"`
	LogLevel   *string `env:"SNV_LOG_LEVEL"`
	LogFormat  *string `env:"SNV_LOG_FORMAT"`
	LogSource  *bool   `env:"SNV_LOG_SOURCE"`
	LogFile    *string `env:"SNV_LOG_FILE"`
}

// envKeys maps dotted config keys to the env var overriding them.
var envKeys = map[string]string{
	"storage.backend":     EnvStorageBackend,
	"storage.dir":         EnvStorageDir,
	"storage.namespace":   EnvStorageNamespace,
	"storage.quota_bytes": EnvStorageQuotaBytes,
	"snippets.key":        EnvSnippetsKey,
	"snippets.validate":   EnvSnippetsValidate,
	"logging.level":       EnvLogLevel,
	"logging.format":      EnvLogFormat,
	"logging.source":      EnvLogSource,
	"logging.file":        EnvLogFile,
}

// Service/keys for OS keyring.
const (
	keyringService = "snipvault"
	keyringDSN     = "postgres_dsn"
)

// secretStore abstracts the keyring so tests can stub it.
var secretStore SecretStore = osKeyring{}

type SecretStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements SecretStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) {
	v, err := keyring.Get(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (osKeyring) Set(service, key, value string) error { return keyring.Set(service, key, value) }

func (osKeyring) Delete(service, key string) error {
	if err := keyring.Delete(service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

// ConfigPath returns the per-user config file path. SNV_CONFIG takes precedence.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "snipvault", "config.yaml"), nil
}

// DataDir returns the default directory for file and sqlite storage, next to the config file.
func DataDir() (string, error) {
	p, err := ConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(p), "data"), nil
}

// Load reads the user config file (if present), applies defaults, and merges
// environment overrides. The postgres DSN is returned separately: SNV_PG_DSN
// when set, otherwise the value held in the OS keyring.
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	if data, err := os.ReadFile(path); err == nil {
		// prefill so booleans missing from the file keep their defaults
		fileCfg := Defaults()
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, "", fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, "", fmt.Errorf("read %s: %w", path, err)
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, "", err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, "", err
	}
	dsn := strings.TrimSpace(os.Getenv(EnvPostgresDSN))
	if dsn == "" {
		// a missing or locked keychain only matters for the postgres backend
		dsn, _ = secretStore.Get(keyringService, keyringDSN)
	}
	return cfg, dsn, nil
}

// Save writes the user config YAML and persists the DSN into the OS keyring (if non-empty).
func Save(cfg AppConfig, dsn string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if dsn != "" {
		if err := secretStore.Set(keyringService, keyringDSN, dsn); err != nil {
			return fmt.Errorf("store dsn in keyring: %w", err)
		}
	}
	return nil
}

// ForgetDSN removes the stored postgres DSN from the keyring.
func ForgetDSN() error { return secretStore.Delete(keyringService, keyringDSN) }

// Validate reports configuration values no component can work with.
func (c AppConfig) Validate() error {
	switch c.Storage.Backend {
	case medium.BackendFile, medium.BackendSQLite, medium.BackendPostgres, medium.BackendKeyring, medium.BackendMemory:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.QuotaBytes < 0 {
		return fmt.Errorf("storage.quota_bytes: must not be negative")
	}
	if strings.TrimSpace(c.Snippets.Key) == "" {
		return fmt.Errorf("snippets.key: must not be empty")
	}
	return nil
}

// MediumOptions resolves the storage section into options for medium.Open.
func (c AppConfig) MediumOptions(dsn string) (medium.Options, error) {
	dir := c.Storage.Dir
	if dir == "" {
		d, err := DataDir()
		if err != nil {
			return medium.Options{}, err
		}
		dir = d
	}
	return medium.Options{
		Backend:    c.Storage.Backend,
		Dir:        dir,
		Namespace:  c.Storage.Namespace,
		DSN:        dsn,
		QuotaBytes: c.Storage.QuotaBytes,
		Backups:    c.Storage.Backups,
	}, nil
}

// ManagerConfig converts the history section for history.NewManager.
func (h HistoryConfig) ManagerConfig() history.Config {
	return history.Config{MaxBytes: h.MaxBytes, MaxPerKey: h.MaxDepth}
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	if v := strings.TrimSpace(src.Storage.Backend); v != "" {
		dst.Storage.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(src.Storage.Dir); v != "" {
		dst.Storage.Dir = v
	}
	if v := strings.TrimSpace(src.Storage.Namespace); v != "" {
		dst.Storage.Namespace = v
	}
	if src.Storage.QuotaBytes != 0 {
		dst.Storage.QuotaBytes = src.Storage.QuotaBytes
	}
	if src.Storage.Backups != 0 {
		dst.Storage.Backups = src.Storage.Backups
	}
	if v := strings.TrimSpace(src.Snippets.Key); v != "" {
		dst.Snippets.Key = v
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.Snippets.Validate = src.Snippets.Validate
	if src.History.MaxBytes != 0 {
		dst.History.MaxBytes = src.History.MaxBytes
	}
	if src.History.MaxDepth != 0 {
		dst.History.MaxDepth = src.History.MaxDepth
	}
	if v := strings.TrimSpace(src.Logging.Level); v != "" {
		dst.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(src.Logging.Format); v != "" {
		dst.Logging.Format = strings.ToLower(v)
	}
	dst.Logging.Source = src.Logging.Source
	if v := strings.TrimSpace(src.Logging.File); v != "" {
		dst.Logging.File = v
	}
}

func applyEnvOverrides(cfg *AppConfig) error {
	var o overrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env overrides: %w", err)
	}
	setString := func(dst *string, v *string, lower bool) {
		if v == nil || strings.TrimSpace(*v) == "" {
			return
		}
		s := strings.TrimSpace(*v)
		if lower {
			s = strings.ToLower(s)
		}
		*dst = s
	}
	setString(&cfg.Storage.Backend, o.Backend, true)
	setString(&cfg.Storage.Dir, o.Dir, false)
	setString(&cfg.Storage.Namespace, o.Namespace, false)
	if o.QuotaBytes != nil {
		cfg.Storage.QuotaBytes = *o.QuotaBytes
	}
	setString(&cfg.Snippets.Key, o.Key, false)
	if o.Validate != nil {
		cfg.Snippets.Validate = *o.Validate
	}
	setString(&cfg.Logging.Level, o.LogLevel, true)
	setString(&cfg.Logging.Format, o.LogFormat, true)
	if o.LogSource != nil {
		cfg.Logging.Source = *o.LogSource
	}
	setString(&cfg.Logging.File, o.LogFile, false)
	return nil
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := envKeys[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}
