// Package config handles configuration loading and validation for sublet.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hay-kot/criterio"
	"gopkg.in/yaml.v3"

	"github.com/hay-kot/sublet/internal/core/validate"
)

// Config holds the application configuration.
type Config struct {
	API     APIConfig   `yaml:"api"`
	Store   StoreConfig `yaml:"store"`
	DataDir string      `yaml:"-"` // set by caller, not from config file
}

// APIConfig configures the HTTP client.
type APIConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	RetryMax int           `yaml:"retry_max"`
}

// StoreConfig configures the token store.
type StoreConfig struct {
	// Namespace names the store file inside the data directory.
	Namespace string `yaml:"namespace"`
	// PollInterval controls how often observers check for changes written by
	// other processes. Zero disables polling.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL:  "http://localhost:8000",
			Timeout:  10 * time.Second,
			RetryMax: 2,
		},
		Store: StoreConfig{
			Namespace:    "auth",
			PollInterval: time.Second,
		},
	}
}

// Load reads configuration from the given path and validates it.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg, err := Read(configPath, dataDir)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Read is Load without validation. Callers that report on an invalid
// configuration use it and call Validate themselves.
func Read(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.API.BaseURL == "" {
		c.API.BaseURL = defaults.API.BaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = defaults.API.Timeout
	}
	if c.Store.Namespace == "" {
		c.Store.Namespace = defaults.Store.Namespace
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
}

// Validate checks that the configuration is valid. Errors are returned as
// criterio.FieldErrors.
func (c *Config) Validate() error {
	var errs criterio.FieldErrors

	add := func(field string, err error) {
		errs = append(errs, criterio.FieldErrors{{Field: field, Err: err}}...)
	}

	if c.DataDir == "" {
		add("data_dir", errors.New("data directory cannot be empty"))
	}

	if err := validateBaseURL(c.API.BaseURL); err != nil {
		add("api.base_url", err)
	}

	if c.API.Timeout <= 0 {
		add("api.timeout", errors.New("must be greater than zero"))
	}

	if c.API.RetryMax < 0 || c.API.RetryMax > 10 {
		add("api.retry_max", fmt.Errorf("must be between 0 and 10, got %d", c.API.RetryMax))
	}

	if err := validate.Namespace(c.Store.Namespace); err != nil {
		add("store.namespace", err)
	}

	if c.Store.PollInterval < 0 {
		add("store.poll_interval", errors.New("cannot be negative"))
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// Warnings returns non-fatal issues with an otherwise valid configuration.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if u, err := url.Parse(c.API.BaseURL); err == nil && u.Scheme == "http" && !isLoopback(u.Hostname()) {
		warnings = append(warnings, ValidationWarning{
			Category: "API",
			Item:     "base_url",
			Message:  "credentials and tokens are sent over plain http",
		})
	}

	if c.Store.PollInterval == 0 {
		warnings = append(warnings, ValidationWarning{
			Category: "Store",
			Item:     "poll_interval",
			Message:  "polling disabled; changes made by other processes are only seen on restart",
		})
	}

	return warnings
}

// StoreFile returns the path to the token store file.
func (c *Config) StoreFile() string {
	return filepath.Join(c.DataDir, c.Store.Namespace+".json")
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func isLoopback(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1", "10.0.2.2":
		return true
	default:
		return false
	}
}
