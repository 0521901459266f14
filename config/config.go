// Package config loads the pdfcosign configuration file.
package config

import (
	"crypto"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/digitorus/pdfcosign/stamp"
)

// DefaultLocation is the configuration file used when none is given.
var DefaultLocation = "./pdfcosign.yaml"

// ErrConfigurationError is wrapped by every ConfigError.
var ErrConfigurationError = errors.New("configuration error")

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// Config is the root of the configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Signing   SigningConfig   `yaml:"signing"`
	Stamp     StampConfig     `yaml:"stamp"`
	Allocator AllocatorConfig `yaml:"allocator"`
	Store     StoreConfig     `yaml:"store"`
	Upload    UploadConfig    `yaml:"upload"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type LogConfig struct {
	// Env selects the production (JSON) or development (console) encoder.
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

// SigningConfig describes the key material and signature dictionary
// entries used when sealing.
type SigningConfig struct {
	Certificate string   `yaml:"certificate"`
	Key         string   `yaml:"key"`
	Chain       []string `yaml:"chain"`

	// PKCS12 is used instead of Certificate and Key when set.
	PKCS12 string `yaml:"pkcs12"`

	// PassphraseEnv names the environment variable holding the key or
	// bundle passphrase.
	PassphraseEnv string `yaml:"passphrase-env"`

	Reason      string `yaml:"reason"`
	Location    string `yaml:"location"`
	ContactInfo string `yaml:"contact"`
	Digest      string `yaml:"digest"`

	TSA TSAConfig `yaml:"tsa"`

	// Timeout bounds one submission, sealing included.
	Timeout time.Duration `yaml:"timeout"`
}

type TSAConfig struct {
	URL         string        `yaml:"url"`
	Username    string        `yaml:"username"`
	PasswordEnv string        `yaml:"password-env"`
	Timeout     time.Duration `yaml:"timeout"`
}

type StampConfig struct {
	Font     string  `yaml:"font"`
	FontSize float64 `yaml:"font-size"`
	Leading  float64 `yaml:"leading"`
	// Timezone is an IANA zone name used to format caption timestamps.
	Timezone string `yaml:"timezone"`
}

type AllocatorConfig struct {
	// Backend is one of memory, redis or postgres.
	Backend string        `yaml:"backend"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// TTL expires idle Redis sessions. Zero keeps them forever.
	TTL time.Duration `yaml:"ttl"`
}

type StoreConfig struct {
	// Backend is one of memory or sqlite.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type UploadConfig struct {
	Enabled  bool          `yaml:"enabled"`
	BaseURL  string        `yaml:"base-url"`
	SiteID   string        `yaml:"site-id"`
	DriveID  string        `yaml:"drive-id"`
	Folder   string        `yaml:"folder"`
	Timeout  time.Duration `yaml:"timeout"`
	TokenEnv string        `yaml:"token-env"`
}

type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `yaml:"listen"`
}

// Default returns the configuration used for missing settings.
func Default() *Config {
	opts := stamp.DefaultOptions()
	return &Config{
		Log: LogConfig{Env: "development", Level: "info"},
		Signing: SigningConfig{
			PassphraseEnv: "PDFCOSIGN_KEY_PASSPHRASE",
			Digest:        "sha256",
			Timeout:       time.Minute,
			TSA:           TSAConfig{Timeout: 30 * time.Second},
		},
		Stamp: StampConfig{
			Font:     opts.FontName,
			FontSize: opts.FontSize,
			Leading:  opts.Leading,
		},
		Allocator: AllocatorConfig{Backend: "memory", Timeout: 5 * time.Second},
		Store:     StoreConfig{Backend: "memory"},
		Upload: UploadConfig{
			Folder:   "SignedDoc",
			Timeout:  30 * time.Second,
			TokenEnv: "PDFCOSIGN_UPLOAD_TOKEN",
		},
	}
}

// FromYAML parses config from raw YAML bytes on top of the defaults and
// validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads the configuration file at path. A missing file yields the
// defaults.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

var digests = map[string]crypto.Hash{
	"sha256": crypto.SHA256,
	"sha384": crypto.SHA384,
	"sha512": crypto.SHA512,
}

// DigestAlgorithm returns the configured digest.
func (c SigningConfig) DigestAlgorithm() crypto.Hash {
	return digests[strings.ToLower(c.Digest)]
}

// Options converts the stamp section into renderer options.
func (c StampConfig) Options() (stamp.Options, error) {
	opts := stamp.DefaultOptions()
	if c.Font != "" {
		opts.FontName = c.Font
	}
	if c.FontSize > 0 {
		opts.FontSize = c.FontSize
	}
	if c.Leading > 0 {
		opts.Leading = c.Leading
	}
	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return opts, NewConfigError("stamp.timezone", err.Error())
		}
		opts.Location = loc
	}
	return opts, nil
}

// Validate checks the configuration for missing or inconsistent settings.
func (c *Config) Validate() error {
	switch c.Log.Env {
	case "production", "development":
	default:
		return NewConfigError("log.env", fmt.Sprintf("unknown environment %q", c.Log.Env))
	}

	if c.Signing.PKCS12 == "" && (c.Signing.Certificate == "") != (c.Signing.Key == "") {
		return NewConfigError("signing", "certificate and key must be configured together")
	}
	if c.Signing.PKCS12 != "" && c.Signing.Certificate != "" {
		return NewConfigError("signing.pkcs12", "pkcs12 and certificate are mutually exclusive")
	}
	if c.Signing.DigestAlgorithm() == 0 {
		return NewConfigError("signing.digest", fmt.Sprintf("unsupported digest %q", c.Signing.Digest))
	}
	if c.Signing.Timeout <= 0 {
		return NewConfigError("signing.timeout", "must be positive")
	}
	if c.Stamp.FontSize < 0 || c.Stamp.Leading < 0 {
		return NewConfigError("stamp", "font size and leading must not be negative")
	}
	if _, err := c.Stamp.Options(); err != nil {
		return err
	}

	switch c.Allocator.Backend {
	case "memory":
	case "redis", "postgres":
		if c.Allocator.URL == "" {
			return NewConfigError("allocator.url", fmt.Sprintf("required for the %s backend", c.Allocator.Backend))
		}
	default:
		return NewConfigError("allocator.backend", fmt.Sprintf("unknown backend %q", c.Allocator.Backend))
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return NewConfigError("store.path", "required for the sqlite backend")
		}
	default:
		return NewConfigError("store.backend", fmt.Sprintf("unknown backend %q", c.Store.Backend))
	}

	if c.Upload.Enabled {
		if c.Upload.SiteID == "" {
			return NewConfigError("upload.site-id", "required when upload is enabled")
		}
		if c.Upload.DriveID == "" {
			return NewConfigError("upload.drive-id", "required when upload is enabled")
		}
		if c.Upload.TokenEnv == "" {
			return NewConfigError("upload.token-env", "required when upload is enabled")
		}
		if c.Upload.Timeout <= 0 {
			return NewConfigError("upload.timeout", "must be positive")
		}
	}
	return nil
}
