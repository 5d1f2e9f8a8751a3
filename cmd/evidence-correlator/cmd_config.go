package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			rows := [][]string{
				{"engine.worker_pool_size", fmt.Sprint(cfg.Engine.WorkerPoolSize)},
				{"engine.high_confidence_threshold", fmt.Sprint(cfg.Engine.HighConfidenceThreshold)},
				{"engine.high_confidence_limit", fmt.Sprint(cfg.Engine.HighConfidenceLimit)},
				{"engine.key_lock_stripes", fmt.Sprint(cfg.Engine.KeyLockStripes)},
				{"registry.backend", cfg.Registry.Backend},
				{"registry.sqlite_path", cfg.Registry.SQLitePath},
				{"registry.seed_file", cfg.Registry.SeedFile},
				{"registry.lookup_timeout", cfg.Registry.LookupTimeout.String()},
				{"registry.max_retries", fmt.Sprint(cfg.Registry.MaxRetries)},
				{"registry.cache_ttl", cfg.Registry.CacheTTL.String()},
				{"registry.retry_interval", cfg.Registry.RetryInterval.String()},
				{"extraction.provider", cfg.Extraction.Provider},
				{"extraction.advanced_enrichment", fmt.Sprint(cfg.Extraction.AdvancedEnrichment)},
				{"claude", cfg.Claude.String()},
				{"api.listen_addr", cfg.API.ListenAddr},
				{"api.auth_token", maskedOrUnset(cfg.API.AuthToken)},
				{"neo4j", cfg.Neo4j.String()},
				{"logging.level", cfg.Logging.Level},
				{"logging.format", cfg.Logging.Format},
			}
			_, err := fmt.Fprintln(w, renderTable("Configuration", []string{"Key", "Value"}, rows, nil))
			return err
		},
	})
	return cmd
}

func maskedOrUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return "***"
}
