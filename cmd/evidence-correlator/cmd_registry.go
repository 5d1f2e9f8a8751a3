package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/evidence-correlator/internal/config"
	"github.com/ajitpratap0/evidence-correlator/internal/registry"
)

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage the local Vehicle Registry",
	}
	cmd.AddCommand(registryImportCmd(), registryLookupCmd())
	return cmd
}

func registryImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <seed.yaml>",
		Short: "Load vehicle records from a YAML seed into the SQLite registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			if cfg.Registry.Backend != config.BackendSQLite {
				return fmt.Errorf("registry import: backend %q is not persistent; set registry.backend=sqlite", cfg.Registry.Backend)
			}

			recs, err := registry.LoadSeed(args[0])
			if err != nil {
				return fmt.Errorf("registry import: %w", err)
			}

			reg, err := registry.OpenSQLite(cfg.Registry.SQLitePath, logger)
			if err != nil {
				return fmt.Errorf("registry import: %w", err)
			}
			defer func() { _ = reg.Close() }()

			n, err := registry.Seed(ctx, reg, recs)
			if err != nil {
				return fmt.Errorf("registry import: %w", err)
			}
			total, err := reg.Count(ctx)
			if err != nil {
				return fmt.Errorf("registry import: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d vehicle records (%d total) into %s\n", n, total, cfg.Registry.SQLitePath)
			return nil
		},
	}
}

func registryLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <plate>",
		Short: "Look up a license plate in the configured registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			reg, err := newRegistry(ctx, logger)
			if err != nil {
				return fmt.Errorf("registry lookup: %w", err)
			}
			defer func() { _ = reg.Close() }()

			rec, err := reg.Lookup(ctx, args[0])
			if errors.Is(err, registry.ErrPlateNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "No record for plate %s\n", args[0])
				return nil
			}
			if err != nil {
				return fmt.Errorf("registry lookup: %w", err)
			}

			flagged := "no"
			if rec.Flagged {
				flagged = "yes"
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable("", []string{"Plate", "Owner", "Related Case", "Title", "Flagged"},
				[][]string{{rec.Plate, rec.Owner, rec.RelatedCaseID, rec.RelatedCaseTitle, flagged}}, nil))
			return nil
		},
	}
}
