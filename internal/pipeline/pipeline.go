// Package pipeline runs extraction for a batch of evidence files with a
// bounded number of concurrent workers, one per in-flight file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/evidence-correlator/internal/extraction"
	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 4

// Sink is the part of the engine the pipeline drives.
type Sink interface {
	RegisterFile(name string, sizeBytes int64, mimeClass string) (models.EvidenceFile, error)
	RegisterFileWithID(id, name string, sizeBytes int64, mimeClass string) (models.EvidenceFile, error)
	AdvanceFile(id string, status models.FileStatus) (models.EvidenceFile, error)
	Ingest(ctx context.Context, fileID string, in models.EntityInput) (models.ExtractedEntity, error)
}

// Result is the outcome of one document.
type Result struct {
	FileID   string
	Name     string
	Status   models.FileStatus
	Accepted int
	Rejected int
	Err      error
}

// Processor feeds documents through an extractor into the engine.
type Processor struct {
	sink      Sink
	extractor extraction.Extractor
	opts      extraction.Options
	workers   int
	logger    *slog.Logger
}

// New creates a Processor. workers <= 0 selects DefaultWorkers.
func New(sink Sink, x extraction.Extractor, opts extraction.Options, workers int, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Processor{sink: sink, extractor: x, opts: opts, workers: workers, logger: logger}
}

// Run processes docs concurrently and returns one Result per document in
// input order. A failing document ends Failed and never stops the others.
func (p *Processor) Run(ctx context.Context, docs []extraction.Document) []Result {
	results := make([]Result, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range docs {
		g.Go(func() error {
			results[i] = p.Process(gctx, docs[i])
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i := range results {
		if results[i].Err != nil {
			failed++
		}
	}
	p.logger.Info("extraction batch completed", "files", len(docs), "failed", failed)
	return results
}

// Process registers doc, streams its entities into the engine and settles
// the file as Complete or Failed.
func (p *Processor) Process(ctx context.Context, doc extraction.Document) Result {
	res := Result{Name: doc.Name}

	var (
		f   models.EvidenceFile
		err error
	)
	if doc.ID != "" {
		f, err = p.sink.RegisterFileWithID(doc.ID, doc.Name, doc.SizeBytes, doc.MimeClass)
	} else {
		f, err = p.sink.RegisterFile(doc.Name, doc.SizeBytes, doc.MimeClass)
	}
	if err != nil {
		res.Err = fmt.Errorf("registering %s: %w", doc.Name, err)
		p.logger.Warn("evidence file not registered", "name", doc.Name, "error", err)
		return res
	}
	res.FileID = f.ID
	res.Status = f.Status
	doc.ID = f.ID

	for _, s := range []models.FileStatus{models.StatusUploading, models.StatusExtracting} {
		if _, err := p.sink.AdvanceFile(f.ID, s); err != nil {
			res.Err = err
			res.Status = p.fail(f.ID, res.Status, err)
			return res
		}
		res.Status = s
	}

	err = p.extractor.Extract(ctx, doc, p.opts, func(in models.EntityInput) error {
		if _, ingestErr := p.sink.Ingest(ctx, f.ID, in); ingestErr != nil {
			if errors.Is(ingestErr, models.ErrValidation) {
				res.Rejected++
				return nil
			}
			return ingestErr
		}
		res.Accepted++
		return nil
	})
	if err != nil {
		res.Err = fmt.Errorf("extracting %s: %w", doc.Name, err)
		res.Status = p.fail(f.ID, res.Status, res.Err)
		return res
	}

	if _, err := p.sink.AdvanceFile(f.ID, models.StatusComplete); err != nil {
		res.Err = err
		res.Status = p.fail(f.ID, res.Status, err)
		return res
	}
	res.Status = models.StatusComplete
	p.logger.Info("evidence file processed", "file_id", f.ID, "accepted", res.Accepted, "rejected", res.Rejected)
	return res
}

// fail marks the file Failed and returns its resulting status. Failed is only
// reachable from Extracting, so a file that broke earlier keeps current.
func (p *Processor) fail(fileID string, current models.FileStatus, cause error) models.FileStatus {
	p.logger.Warn("evidence file failed", "file_id", fileID, "status", current, "error", cause)
	f, err := p.sink.AdvanceFile(fileID, models.StatusFailed)
	if err != nil {
		p.logger.Error("marking file failed", "file_id", fileID, "status", current, "error", err)
		return current
	}
	return f.Status
}
