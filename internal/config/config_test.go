package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "dev")
	t.Setenv("STORAGE_DRIVER", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.StorageDriver != DriverMemory {
		t.Errorf("StorageDriver = %q, want memory", cfg.StorageDriver)
	}
	if cfg.TablePrefix != "dev_" {
		t.Errorf("TablePrefix = %q, want dev_", cfg.TablePrefix)
	}
	if !cfg.IsDebug() {
		t.Error("debug should default on in dev")
	}
	if cfg.IndexRetryBackoff != 200*time.Millisecond {
		t.Errorf("IndexRetryBackoff = %v, want 200ms", cfg.IndexRetryBackoff)
	}
}

func TestLoadEnvironmentDerivedValues(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		wantPrefix string
		wantDebug  bool
	}{
		{
			name:       "prod",
			env:        map[string]string{"ENVIRONMENT": "prod", "JWT_SECRET": "s"},
			wantPrefix: "prod_",
			wantDebug:  false,
		},
		{
			name:       "test",
			env:        map[string]string{"ENVIRONMENT": "test"},
			wantPrefix: "test_",
			wantDebug:  false,
		},
		{
			name:       "staging",
			env:        map[string]string{"ENVIRONMENT": "staging"},
			wantPrefix: "dev_",
			wantDebug:  false,
		},
		{
			name:       "explicit overrides",
			env:        map[string]string{"ENVIRONMENT": "prod", "JWT_SECRET": "s", "TABLE_PREFIX": "x_", "DEBUG": "true"},
			wantPrefix: "x_",
			wantDebug:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.TablePrefix != tt.wantPrefix {
				t.Errorf("TablePrefix = %q, want %q", cfg.TablePrefix, tt.wantPrefix)
			}
			if cfg.IsDebug() != tt.wantDebug {
				t.Errorf("IsDebug() = %v, want %v", cfg.IsDebug(), tt.wantDebug)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{StorageDriver: DriverMemory, IndexWorkers: 1, IndexMaxAttempts: 1, SQLitePath: "x.db"}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"memory ok", func(*Config) {}, ""},
		{"postgres needs url", func(c *Config) { c.StorageDriver = DriverPostgres }, "DATABASE_URL"},
		{"sqlite needs path", func(c *Config) { c.StorageDriver = DriverSQLite; c.SQLitePath = " " }, "SQLITE_PATH"},
		{"unknown driver", func(c *Config) { c.StorageDriver = "mongo" }, "unknown STORAGE_DRIVER"},
		{"workers", func(c *Config) { c.IndexWorkers = 0 }, "INDEX_WORKERS"},
		{"prod needs auth", func(c *Config) { c.Environment = "prod" }, "JWKS_URL or JWT_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSetupLogFileRotates(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"scrapbook-2020-01-01T00-00-00.log", "scrapbook-2020-01-02T00-00-00.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	f, err := SetupLogFile(dir, 2)
	if err != nil {
		t.Fatalf("SetupLogFile() error = %v", err)
	}
	defer f.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "scrapbook-*.log"))
	if len(files) != 2 {
		t.Fatalf("got %d log files, want 2: %v", len(files), files)
	}
	if _, err := os.Stat(filepath.Join(dir, "scrapbook-2020-01-01T00-00-00.log")); !os.IsNotExist(err) {
		t.Error("oldest log file should have been removed")
	}
}
