package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validCfg returns a fully-valid Config for mutation testing.
func validCfg() *Config {
	return &Config{
		Engine: EngineConfig{
			WorkerPoolSize:          4,
			HighConfidenceThreshold: 85,
			HighConfidenceLimit:     20,
			KeyLockStripes:          256,
		},
		Registry: RegistryConfig{
			Backend:       BackendMemory,
			LookupTimeout: 5 * time.Second,
			MaxRetries:    3,
			CacheTTL:      time.Minute,
			RetryInterval: time.Minute,
		},
		Claude:     ClaudeConfig{Model: "claude-haiku-4-5-20251001"},
		Extraction: ExtractionConfig{Provider: ProviderHeuristic},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
	}
}

func expectErr(t *testing.T, cfg *Config, key string) {
	t.Helper()
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected error mentioning %s", key)
	}
	if !strings.Contains(err.Error(), key) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ValidConfigPasses(t *testing.T) {
	if err := validCfg().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidate_WorkerPoolZero(t *testing.T) {
	cfg := validCfg()
	cfg.Engine.WorkerPoolSize = 0
	expectErr(t, cfg, "worker_pool_size")
}

func TestValidate_ThresholdOutOfRange(t *testing.T) {
	cfg := validCfg()
	cfg.Engine.HighConfidenceThreshold = 101
	expectErr(t, cfg, "high_confidence_threshold")
}

func TestValidate_LimitZero(t *testing.T) {
	cfg := validCfg()
	cfg.Engine.HighConfidenceLimit = 0
	expectErr(t, cfg, "high_confidence_limit")
}

func TestValidate_UnknownBackend(t *testing.T) {
	cfg := validCfg()
	cfg.Registry.Backend = "postgres"
	expectErr(t, cfg, "registry.backend")
}

func TestValidate_SQLiteNeedsPath(t *testing.T) {
	cfg := validCfg()
	cfg.Registry.Backend = BackendSQLite
	expectErr(t, cfg, "registry.sqlite_path")

	cfg.Registry.SQLitePath = "/tmp/registry.db"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_LookupTimeoutZero(t *testing.T) {
	cfg := validCfg()
	cfg.Registry.LookupTimeout = 0
	expectErr(t, cfg, "lookup_timeout")
}

func TestValidate_NegativeCacheTTL(t *testing.T) {
	cfg := validCfg()
	cfg.Registry.CacheTTL = -time.Second
	expectErr(t, cfg, "cache_ttl")
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := validCfg()
	cfg.Extraction.Provider = "regex"
	expectErr(t, cfg, "extraction.provider")
}

func TestValidate_ClaudeNeedsModel(t *testing.T) {
	cfg := validCfg()
	cfg.Extraction.Provider = ProviderClaude
	cfg.Claude.Model = ""
	expectErr(t, cfg, "claude.model")
}

func TestValidate_Neo4jNeedsDatabase(t *testing.T) {
	cfg := validCfg()
	cfg.Neo4j.URI = "neo4j://localhost:7687"
	expectErr(t, cfg, "neo4j.database")
}

func TestValidate_LogFormat(t *testing.T) {
	cfg := validCfg()
	cfg.Logging.Format = "xml"
	expectErr(t, cfg, "logging.format")
}

func TestMaskSecret(t *testing.T) {
	if got := maskSecret("short"); got != "***" {
		t.Fatalf("got %q", got)
	}
	if got := maskSecret("sk-ant-0123456789"); got != "sk-a****6789" {
		t.Fatalf("got %q", got)
	}
	s := ClaudeConfig{APIKey: "sk-ant-0123456789", Model: "m"}.String()
	if strings.Contains(s, "0123456789") {
		t.Fatalf("key leaked: %s", s)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `engine:
  worker_pool_size: 8
registry:
  backend: sqlite
  sqlite_path: ` + filepath.Join(dir, "reg.db") + `
  lookup_timeout: 2s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key-123456")
	t.Setenv("EVIDENCE_CORRELATOR_API_LISTEN_ADDR", ":9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.WorkerPoolSize != 8 {
		t.Errorf("worker_pool_size = %d", cfg.Engine.WorkerPoolSize)
	}
	if cfg.Registry.Backend != BackendSQLite || cfg.Registry.LookupTimeout != 2*time.Second {
		t.Errorf("registry = %+v", cfg.Registry)
	}
	if cfg.Engine.HighConfidenceThreshold != DefaultHighConfidenceThreshold {
		t.Errorf("default threshold not applied: %d", cfg.Engine.HighConfidenceThreshold)
	}
	if cfg.Claude.APIKey != "sk-test-key-123456" {
		t.Errorf("api key not bound from env")
	}
	if cfg.API.ListenAddr != ":9999" {
		t.Errorf("listen_addr = %q", cfg.API.ListenAddr)
	}
	if !cfg.Extraction.AdvancedEnrichment {
		t.Errorf("advanced_enrichment should default to true")
	}
}

func TestLoad_InvalidFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  worker_pool_size: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "worker_pool_size") {
		t.Fatalf("expected validation error, got %v", err)
	}
}
