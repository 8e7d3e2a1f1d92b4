// Package config loads memorypin settings from a YAML file layered with
// MEMORYPIN_* environment variables.
//
// Loading order, lowest priority first:
//  1. Defaults (Default)
//  2. The YAML file passed to Load, when it exists
//  3. Environment variables
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEMORYPIN_"

// Config is the root configuration document.
type Config struct {
	Storage Storage `yaml:"storage"`
	Geocode Geocode `yaml:"geocode"`
	Photo   Photo   `yaml:"photo"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

// Storage selects and configures the slot driver.
type Storage struct {
	Driver      string `yaml:"driver" validate:"oneof=memory fs s3 sqlite postgres"`
	Key         string `yaml:"key" validate:"required"`
	FSRoot      string `yaml:"fs_root"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	S3          S3     `yaml:"s3"`
}

// S3 configures the S3 / MinIO slot driver.
type S3 struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint" validate:"omitempty,url"`
	Prefix          string `yaml:"prefix"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Geocode configures the place search client.
type Geocode struct {
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	UserAgent      string        `yaml:"user_agent" validate:"required"`
	Limit          int           `yaml:"limit" validate:"min=1,max=50"`
	MinQueryLength int           `yaml:"min_query_length" validate:"min=1"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	RatePerSecond  float64       `yaml:"rate_per_second" validate:"gt=0"`
	Burst          int           `yaml:"burst" validate:"min=1"`
	Debounce       time.Duration `yaml:"debounce" validate:"gte=0"`
}

// Photo configures attachment optimisation.
type Photo struct {
	MaxBytes     int64 `yaml:"max_bytes" validate:"gt=0"`
	MaxDimension int   `yaml:"max_dimension" validate:"gt=0"`
	JPEGQuality  int   `yaml:"jpeg_quality" validate:"min=1,max=100"`
}

// Log configures the zap logger.
type Log struct {
	Development bool   `yaml:"development"`
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Metrics configures the prometheus recorder.
type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace" validate:"required"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage: Storage{
			Driver:     "fs",
			Key:        "memories",
			FSRoot:     "./memorypin-data",
			SQLitePath: "memorypin.db",
			S3:         S3{Region: "us-east-1"},
		},
		Geocode: Geocode{
			BaseURL:        "https://nominatim.openstreetmap.org",
			UserAgent:      "memorypin/1.0",
			Limit:          5,
			MinQueryLength: 3,
			Timeout:        10 * time.Second,
			RatePerSecond:  1,
			Burst:          1,
			Debounce:       500 * time.Millisecond,
		},
		Photo: Photo{
			MaxBytes:     1 << 20,
			MaxDimension: 1200,
			JPEGQuality:  80,
		},
		Log:     Log{Level: "info"},
		Metrics: Metrics{Enabled: true, Namespace: "memorypin"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func decode(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate reports impossible or inconsistent values.
func (c Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %s", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if c.Storage.Driver == "s3" && c.Storage.S3.Bucket == "" {
		return errors.New("storage.s3.bucket is required for the s3 driver")
	}
	return nil
}

type envBinding struct {
	name string
	set  func(*Config, string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *dst(c) = v; return nil }
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"STORAGE_DRIVER", str(func(c *Config) *string { return &c.Storage.Driver })},
	{"STORAGE_KEY", str(func(c *Config) *string { return &c.Storage.Key })},
	{"STORAGE_FS_ROOT", str(func(c *Config) *string { return &c.Storage.FSRoot })},
	{"STORAGE_SQLITE_PATH", str(func(c *Config) *string { return &c.Storage.SQLitePath })},
	{"STORAGE_POSTGRES_DSN", str(func(c *Config) *string { return &c.Storage.PostgresDSN })},
	{"STORAGE_S3_BUCKET", str(func(c *Config) *string { return &c.Storage.S3.Bucket })},
	{"STORAGE_S3_REGION", str(func(c *Config) *string { return &c.Storage.S3.Region })},
	{"STORAGE_S3_ENDPOINT", str(func(c *Config) *string { return &c.Storage.S3.Endpoint })},
	{"STORAGE_S3_PREFIX", str(func(c *Config) *string { return &c.Storage.S3.Prefix })},
	{"STORAGE_S3_PATH_STYLE", boolean(func(c *Config) *bool { return &c.Storage.S3.PathStyle })},
	{"STORAGE_S3_ACCESS_KEY_ID", str(func(c *Config) *string { return &c.Storage.S3.AccessKeyID })},
	{"STORAGE_S3_SECRET_ACCESS_KEY", str(func(c *Config) *string { return &c.Storage.S3.SecretAccessKey })},
	{"GEOCODE_BASE_URL", str(func(c *Config) *string { return &c.Geocode.BaseURL })},
	{"GEOCODE_USER_AGENT", str(func(c *Config) *string { return &c.Geocode.UserAgent })},
	{"GEOCODE_LIMIT", integer(func(c *Config) *int { return &c.Geocode.Limit })},
	{"GEOCODE_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Geocode.Timeout })},
	{"PHOTO_MAX_DIMENSION", integer(func(c *Config) *int { return &c.Photo.MaxDimension })},
	{"PHOTO_JPEG_QUALITY", integer(func(c *Config) *int { return &c.Photo.JPEGQuality })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_DEVELOPMENT", boolean(func(c *Config) *bool { return &c.Log.Development })},
	{"METRICS_ENABLED", boolean(func(c *Config) *bool { return &c.Metrics.Enabled })},
	{"METRICS_NAMESPACE", str(func(c *Config) *string { return &c.Metrics.Namespace })},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}
