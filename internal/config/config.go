package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultWorkerPoolSize bounds the number of files extracted at once.
	DefaultWorkerPoolSize = 4

	// DefaultHighConfidenceThreshold is the minimum score listed as high confidence.
	DefaultHighConfidenceThreshold = 85

	// DefaultHighConfidenceLimit caps the high-confidence display list.
	DefaultHighConfidenceLimit = 20

	// DefaultKeyLockStripes is the shard count of the per-key lock table.
	DefaultKeyLockStripes = 256
)

// Registry backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Extraction providers.
const (
	ProviderHeuristic = "heuristic"
	ProviderClaude    = "claude"
)

// Config holds all configuration for evidence-correlator.
type Config struct {
	Engine     EngineConfig     `mapstructure:"engine"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Claude     ClaudeConfig     `mapstructure:"claude"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	API        APIConfig        `mapstructure:"api"`
	Neo4j      Neo4jConfig      `mapstructure:"neo4j"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// EngineConfig holds correlation engine settings.
type EngineConfig struct {
	WorkerPoolSize          int `mapstructure:"worker_pool_size"`
	HighConfidenceThreshold int `mapstructure:"high_confidence_threshold"`
	HighConfidenceLimit     int `mapstructure:"high_confidence_limit"`
	KeyLockStripes          int `mapstructure:"key_lock_stripes"`
}

// RegistryConfig holds Vehicle Registry access settings.
type RegistryConfig struct {
	Backend       string        `mapstructure:"backend"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	SeedFile      string        `mapstructure:"seed_file"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
	MaxRetries    uint64        `mapstructure:"max_retries"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"` // 0 disables the cache
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// ClaudeConfig holds Anthropic Claude API settings.
type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// String returns a safe representation of ClaudeConfig with the API key masked.
func (c ClaudeConfig) String() string {
	return fmt.Sprintf("ClaudeConfig{APIKey:%s, Model:%s}", maskSecret(c.APIKey), c.Model)
}

// ExtractionConfig selects the entity extraction provider.
type ExtractionConfig struct {
	Provider           string `mapstructure:"provider"`
	AdvancedEnrichment bool   `mapstructure:"advanced_enrichment"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// Neo4jConfig holds graph export settings. An empty URI disables export.
type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// String masks the password.
func (c Neo4jConfig) String() string {
	return fmt.Sprintf("Neo4jConfig{URI:%s, Username:%s, Password:%s, Database:%s}", c.URI, c.Username, maskSecret(c.Password), c.Database)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// maskSecret shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskSecret(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// Load reads configuration from file and environment variables. A non-empty
// configFile replaces the default search path.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("engine.worker_pool_size", DefaultWorkerPoolSize)
	v.SetDefault("engine.high_confidence_threshold", DefaultHighConfidenceThreshold)
	v.SetDefault("engine.high_confidence_limit", DefaultHighConfidenceLimit)
	v.SetDefault("engine.key_lock_stripes", DefaultKeyLockStripes)

	v.SetDefault("registry.backend", BackendMemory)
	v.SetDefault("registry.sqlite_path", filepath.Join(homeDir(), ".evidence-correlator", "registry.db"))
	v.SetDefault("registry.seed_file", "")
	v.SetDefault("registry.lookup_timeout", 5*time.Second)
	v.SetDefault("registry.max_retries", 3)
	v.SetDefault("registry.cache_ttl", 10*time.Minute)
	v.SetDefault("registry.retry_interval", time.Minute)

	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")

	v.SetDefault("extraction.provider", ProviderHeuristic)
	v.SetDefault("extraction.advanced_enrichment", true)

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")

	v.SetDefault("neo4j.uri", "")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(homeDir(), ".evidence-correlator"))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("EVIDENCE_CORRELATOR")
	v.AutomaticEnv()

	_ = v.BindEnv("claude.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("engine.worker_pool_size", "EVIDENCE_CORRELATOR_ENGINE_WORKER_POOL_SIZE")
	_ = v.BindEnv("registry.backend", "EVIDENCE_CORRELATOR_REGISTRY_BACKEND")
	_ = v.BindEnv("registry.sqlite_path", "EVIDENCE_CORRELATOR_REGISTRY_SQLITE_PATH")
	_ = v.BindEnv("registry.seed_file", "EVIDENCE_CORRELATOR_REGISTRY_SEED_FILE")
	_ = v.BindEnv("extraction.provider", "EVIDENCE_CORRELATOR_EXTRACTION_PROVIDER")
	_ = v.BindEnv("api.listen_addr", "EVIDENCE_CORRELATOR_API_LISTEN_ADDR")
	_ = v.BindEnv("api.auth_token", "EVIDENCE_CORRELATOR_API_AUTH_TOKEN")
	_ = v.BindEnv("neo4j.uri", "EVIDENCE_CORRELATOR_NEO4J_URI")
	_ = v.BindEnv("neo4j.password", "EVIDENCE_CORRELATOR_NEO4J_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK: use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	if c.Engine.WorkerPoolSize <= 0 {
		return fmt.Errorf("engine.worker_pool_size must be greater than 0")
	}
	if c.Engine.HighConfidenceThreshold < 0 || c.Engine.HighConfidenceThreshold > 100 {
		return fmt.Errorf("engine.high_confidence_threshold must be between 0 and 100")
	}
	if c.Engine.HighConfidenceLimit <= 0 {
		return fmt.Errorf("engine.high_confidence_limit must be greater than 0")
	}
	if c.Engine.KeyLockStripes <= 0 {
		return fmt.Errorf("engine.key_lock_stripes must be greater than 0")
	}

	switch c.Registry.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Registry.SQLitePath == "" {
			return fmt.Errorf("registry.sqlite_path must not be empty when registry.backend is sqlite")
		}
	default:
		return fmt.Errorf("registry.backend must be %q or %q, got %q", BackendMemory, BackendSQLite, c.Registry.Backend)
	}
	if c.Registry.LookupTimeout <= 0 {
		return fmt.Errorf("registry.lookup_timeout must be greater than 0")
	}
	if c.Registry.CacheTTL < 0 {
		return fmt.Errorf("registry.cache_ttl must be >= 0")
	}
	if c.Registry.RetryInterval <= 0 {
		return fmt.Errorf("registry.retry_interval must be greater than 0")
	}

	switch c.Extraction.Provider {
	case ProviderHeuristic:
	case ProviderClaude:
		if c.Claude.Model == "" {
			return fmt.Errorf("claude.model must not be empty when extraction.provider is claude")
		}
	default:
		return fmt.Errorf("extraction.provider must be %q or %q, got %q", ProviderHeuristic, ProviderClaude, c.Extraction.Provider)
	}

	if c.Neo4j.URI != "" && c.Neo4j.Database == "" {
		return fmt.Errorf("neo4j.database must not be empty when neo4j.uri is set")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
