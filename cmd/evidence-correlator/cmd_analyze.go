package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/evidence-correlator/internal/engine"
	"github.com/ajitpratap0/evidence-correlator/internal/extraction"
	"github.com/ajitpratap0/evidence-correlator/internal/graphexport"
	"github.com/ajitpratap0/evidence-correlator/internal/pipeline"
)

func analyzeCmd() *cobra.Command {
	var (
		format      string
		exportGraph bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <file|dir>...",
		Short: "Extract entities from evidence files and report cross-references",
		Long: `Runs every file through the configured extraction provider as one
investigation session, then prints evidence files, cross-references,
registry timeline entries, case-link suggestions and entity counts.

With --export-graph the session is also written to Neo4j (neo4j.uri).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			if format != "table" && format != "json" {
				return fmt.Errorf("analyze: unsupported format %q (use table or json)", format)
			}
			if exportGraph && cfg.Neo4j.URI == "" {
				return fmt.Errorf("analyze: --export-graph requires neo4j.uri")
			}

			docs, err := readDocuments(args)
			if err != nil {
				return fmt.Errorf("analyze: %w", err)
			}

			reg, err := newRegistry(ctx, logger)
			if err != nil {
				return fmt.Errorf("analyze: %w", err)
			}
			defer func() { _ = reg.Close() }()

			eng := newEngine(reg, logger)
			results := newProcessor(eng, logger).Run(ctx, docs)

			if eng.DeferredLookups() > 0 {
				if _, retryErr := eng.RetryDeferred(ctx); retryErr != nil {
					logger.Warn("analyze: registry lookups still deferred", "count", eng.DeferredLookups(), "error", retryErr)
				}
			}

			rep := buildReport(eng, results)
			if err := writeReport(cmd.OutOrStdout(), format, rep, results); err != nil {
				return fmt.Errorf("analyze: %w", err)
			}

			if exportGraph {
				if err := exportSession(ctx, eng, logger); err != nil {
					return fmt.Errorf("analyze: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")
	cmd.Flags().BoolVar(&exportGraph, "export-graph", false, "Write the session graph to Neo4j")
	return cmd
}

func writeReport(w io.Writer, format string, rep sessionReport, results []pipeline.Result) error {
	if format == "json" {
		return writeJSONReport(w, rep)
	}
	return writeTableReport(w, rep, results)
}

func exportSession(ctx context.Context, eng *engine.Engine, logger *slog.Logger) error {
	x, err := graphexport.Open(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database, logger)
	if err != nil {
		return err
	}
	defer func() { _ = x.Close(ctx) }()

	stats, err := x.Export(ctx, eng)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Exported %d files, %d mentions, %d cross-references to %s\n",
		stats.Files, stats.Mentions, stats.CrossReferences, cfg.Neo4j.URI)
	return nil
}

// readDocuments loads every path. Directories are walked recursively,
// skipping hidden entries.
func readDocuments(paths []string) ([]extraction.Document, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if path != p && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
	}

	docs := make([]extraction.Document, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		docs = append(docs, extraction.Document{
			Name:      filepath.Base(f),
			SizeBytes: int64(len(data)),
			MimeClass: mimeClassFor(f),
			Content:   data,
		})
	}
	return docs, nil
}

// mimeClassFor maps a file extension to the coarse class shown in the file list.
func mimeClassFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".tif", ".tiff", ".heic":
		return "image"
	case ".mp4", ".mov", ".avi", ".mkv":
		return "video"
	case ".mp3", ".wav", ".m4a":
		return "audio"
	case ".pdf":
		return "pdf"
	default:
		return "document"
	}
}
