package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memorypin.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "absent.yaml")} {
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%q): %v", path, err)
		}
		if cfg.Storage.Driver != "fs" || cfg.Storage.Key != "memories" {
			t.Fatalf("unexpected storage defaults %+v", cfg.Storage)
		}
		if cfg.Geocode.MinQueryLength != 3 || cfg.Geocode.Debounce != 500*time.Millisecond {
			t.Fatalf("unexpected geocode defaults %+v", cfg.Geocode)
		}
		if cfg.Photo.MaxBytes != 1<<20 || cfg.Photo.MaxDimension != 1200 {
			t.Fatalf("unexpected photo defaults %+v", cfg.Photo)
		}
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: sqlite
  sqlite_path: /tmp/pins.db
geocode:
  timeout: 3s
  limit: 8
log:
  development: true
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.SQLitePath != "/tmp/pins.db" {
		t.Fatalf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Geocode.Timeout != 3*time.Second || cfg.Geocode.Limit != 8 {
		t.Fatalf("unexpected geocode %+v", cfg.Geocode)
	}
	if !cfg.Log.Development || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log %+v", cfg.Log)
	}
	if cfg.Storage.Key != "memories" {
		t.Fatalf("unset keys should keep defaults, got %q", cfg.Storage.Key)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: sqlite\n")
	t.Setenv("MEMORYPIN_STORAGE_DRIVER", "s3")
	t.Setenv("MEMORYPIN_STORAGE_S3_BUCKET", "pins")
	t.Setenv("MEMORYPIN_STORAGE_S3_PATH_STYLE", "true")
	t.Setenv("MEMORYPIN_GEOCODE_TIMEOUT", "250ms")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "s3" || cfg.Storage.S3.Bucket != "pins" || !cfg.Storage.S3.PathStyle {
		t.Fatalf("env not applied: %+v", cfg.Storage)
	}
	if cfg.Geocode.Timeout != 250*time.Millisecond {
		t.Fatalf("unexpected timeout %v", cfg.Geocode.Timeout)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string]struct {
		body string
		env  map[string]string
		want string
	}{
		"unknown key":       {body: "storage:\n  drvier: fs\n", want: "drvier"},
		"bad driver":        {body: "storage:\n  driver: dynamo\n", want: "Storage.Driver"},
		"s3 without bucket": {body: "storage:\n  driver: s3\n", want: "bucket"},
		"quality range":     {body: "photo:\n  jpeg_quality: 101\n", want: "Photo.JPEGQuality"},
		"bad env bool":      {env: map[string]string{"MEMORYPIN_LOG_DEVELOPMENT": "maybe"}, want: "MEMORYPIN_LOG_DEVELOPMENT"},
		"bad env int":       {env: map[string]string{"MEMORYPIN_GEOCODE_LIMIT": "many"}, want: "MEMORYPIN_GEOCODE_LIMIT"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.body != "" {
				path = writeConfig(t, tc.body)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("empty file should yield defaults")
	}
}
