package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/evidence-correlator/internal/config"
	"github.com/ajitpratap0/evidence-correlator/internal/engine"
	"github.com/ajitpratap0/evidence-correlator/internal/enrichment"
	"github.com/ajitpratap0/evidence-correlator/internal/extraction"
	"github.com/ajitpratap0/evidence-correlator/internal/metrics"
	"github.com/ajitpratap0/evidence-correlator/internal/pipeline"
	"github.com/ajitpratap0/evidence-correlator/internal/registry"
)

var (
	cfg        *config.Config
	configFile string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "evidence-correlator",
		Short: "Evidence entity correlation and enrichment engine",
		Long:  "Correlates entities extracted from evidence files across an investigation and enriches license plates from the Vehicle Registry.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ~/.evidence-correlator/config.yaml)")

	rootCmd.AddCommand(
		serveCmd(),
		mcpCmd(),
		analyzeCmd(),
		registryCmd(),
		configCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openRegistry opens the configured backend without seeding or caching.
func openRegistry(logger *slog.Logger) (registry.Registry, error) {
	switch cfg.Registry.Backend {
	case config.BackendSQLite:
		return registry.OpenSQLite(cfg.Registry.SQLitePath, logger)
	default:
		return registry.NewMemoryRegistry(), nil
	}
}

// newRegistry opens the configured backend, applies the seed file and wraps
// the result in the lookup cache.
func newRegistry(ctx context.Context, logger *slog.Logger) (registry.Registry, error) {
	reg, err := openRegistry(logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s registry: %w", cfg.Registry.Backend, err)
	}

	if cfg.Registry.SeedFile != "" {
		w, ok := reg.(registry.Writer)
		if !ok {
			_ = reg.Close()
			return nil, fmt.Errorf("%s registry cannot be seeded", cfg.Registry.Backend)
		}
		recs, loadErr := registry.LoadSeed(cfg.Registry.SeedFile)
		if loadErr != nil {
			_ = reg.Close()
			return nil, loadErr
		}
		n, seedErr := registry.Seed(ctx, w, recs)
		if seedErr != nil {
			_ = reg.Close()
			return nil, seedErr
		}
		logger.Info("vehicle registry seeded", "records", n, "file", cfg.Registry.SeedFile)
	}

	if cfg.Registry.CacheTTL > 0 {
		return registry.NewCachedRegistry(reg, cfg.Registry.CacheTTL, logger), nil
	}
	return reg, nil
}

func newEngine(reg registry.Registry, logger *slog.Logger) *engine.Engine {
	mopts := enrichment.DefaultOptions()
	if cfg.Registry.LookupTimeout > 0 {
		mopts.LookupTimeout = cfg.Registry.LookupTimeout
	}
	mopts.MaxRetries = cfg.Registry.MaxRetries

	return engine.New(reg, metrics.New(), engine.Options{
		HighConfidenceThreshold: cfg.Engine.HighConfidenceThreshold,
		HighConfidenceLimit:     cfg.Engine.HighConfidenceLimit,
		KeyLockStripes:          cfg.Engine.KeyLockStripes,
		Matcher:                 mopts,
	}, logger)
}

func newExtractor(logger *slog.Logger) extraction.Extractor {
	if cfg.Extraction.Provider == config.ProviderClaude {
		return extraction.NewClaudeExtractor(cfg.Claude.APIKey, cfg.Claude.Model, logger)
	}
	return extraction.NewHeuristicExtractor(logger)
}

func newProcessor(eng *engine.Engine, logger *slog.Logger) *pipeline.Processor {
	return pipeline.New(eng, newExtractor(logger), extraction.Options{
		AdvancedEnrichment: cfg.Extraction.AdvancedEnrichment,
	}, cfg.Engine.WorkerPoolSize, logger)
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
