package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Memory.DefaultResults != 5 || cfg.Embedding.Timeout != 30*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Remote().Complete() {
		t.Error("default config should not select the remote embedder")
	}
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "taskmem.yaml", `
database:
  driver: postgres
  dsn: postgres://localhost/taskmem
embedding:
  endpoint: https://example.openai.azure.com
  api_key: k
  deployment: ada
  timeout: 5s
worker:
  role: backend
  interval: 250ms
log_level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://localhost/taskmem" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Embedding.Timeout != 5*time.Second || cfg.Worker.Interval != 250*time.Millisecond {
		t.Errorf("durations not parsed: %+v %+v", cfg.Embedding, cfg.Worker)
	}
	// Unset keys keep their defaults.
	if cfg.Embedding.APIVersion != "2023-05-15" || cfg.Memory.DefaultResults != 5 {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if !cfg.Remote().Complete() {
		t.Error("remote settings should be complete")
	}
	if opts := cfg.TaskOptions(); opts.Driver != "postgres" || opts.DSN == "" {
		t.Errorf("TaskOptions = %+v", opts)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "bad.yaml", "database: [")); err == nil {
		t.Error("expected error for malformed yaml")
	}
	cfg, err := Load("")
	if err != nil || cfg.Database.Path != Default().Database.Path {
		t.Errorf("Load(\"\") = %+v, %v", cfg, err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("EMBEDDING_ENDPOINT", "https://env.example")
	t.Setenv("EMBEDDING_API_KEY", "env-key")
	t.Setenv("EMBEDDING_DEPLOYMENT", "env-deploy")
	t.Setenv("EMBEDDING_TIMEOUT", "2s")
	t.Setenv("TASKMEM_DEFAULT_RESULTS", "7")
	t.Setenv("TASKMEM_DB_PATH", "/tmp/other.db")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	r := cfg.Remote()
	if r.Endpoint != "https://env.example" || r.APIKey != "env-key" || r.Deployment != "env-deploy" || r.Timeout != 2*time.Second {
		t.Errorf("remote = %+v", r)
	}
	if cfg.Memory.DefaultResults != 7 || cfg.Database.Path != "/tmp/other.db" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestApplyEnv_BadValues(t *testing.T) {
	t.Setenv("EMBEDDING_TIMEOUT", "soon")
	if err := Default().ApplyEnv(); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv("EMBEDDING_API_KEY", "from-process")
	path := writeFile(t, ".env", "EMBEDDING_DEPLOYMENT=from-file\nEMBEDDING_API_KEY=from-file\n")
	t.Cleanup(func() { os.Unsetenv("EMBEDDING_DEPLOYMENT") })

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("EMBEDDING_DEPLOYMENT"); got != "from-file" {
		t.Errorf("EMBEDDING_DEPLOYMENT = %q", got)
	}
	if got := os.Getenv("EMBEDDING_API_KEY"); got != "from-process" {
		t.Errorf("existing variable overridden: %q", got)
	}

	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing env file should be ignored: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown driver":  func(c *Config) { c.Database.Driver = "mysql" },
		"postgres no dsn": func(c *Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" },
		"sqlite no path":  func(c *Config) { c.Database.Path = "" },
		"zero timeout":    func(c *Config) { c.Embedding.Timeout = 0 },
		"zero results":    func(c *Config) { c.Memory.DefaultResults = 0 },
		"bad log level":   func(c *Config) { c.LogLevel = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "": slog.LevelInfo,
		"warn": slog.LevelWarn, "error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
}
