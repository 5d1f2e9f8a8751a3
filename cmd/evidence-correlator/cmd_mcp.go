package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	evmcp "github.com/ajitpratap0/evidence-correlator/internal/mcp"
	"github.com/ajitpratap0/evidence-correlator/internal/scheduler"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  list_files                  evidence files and their status
  analyze_document            extract and correlate a text document
  list_cross_references       entities seen in two or more files
  list_timeline_entries       registry sightings placed at a location
  list_case_link_suggestions  proposed links to related cases
  mark_suggestion             dismiss, accept or reopen a suggestion
  aggregate_counts            entity totals and high-confidence list`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			reg, err := newRegistry(cmd.Context(), logger)
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			defer func() { _ = reg.Close() }()

			eng := newEngine(reg, logger)

			retry, err := scheduler.NewRetryScheduler(eng, cfg.Registry.RetryInterval, logger)
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			retry.Start()
			defer func() { _ = retry.Stop() }()

			srv := evmcp.NewServer(eng, newProcessor(eng, logger), logger)

			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: evidence-correlator MCP server starting", "transport", "stdio")

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}
