// Package engine wires the file tracker, ingest buffer, correlation index and
// enrichment reactions into one correlation session.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/evidence-correlator/internal/correlation"
	"github.com/ajitpratap0/evidence-correlator/internal/enrichment"
	"github.com/ajitpratap0/evidence-correlator/internal/metrics"
	"github.com/ajitpratap0/evidence-correlator/internal/models"
	"github.com/ajitpratap0/evidence-correlator/internal/registry"
	"github.com/ajitpratap0/evidence-correlator/internal/report"
	"github.com/ajitpratap0/evidence-correlator/internal/tracker"
)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	HighConfidenceThreshold int
	HighConfidenceLimit     int
	KeyLockStripes          int
	Matcher                 enrichment.Options
}

// Engine is one investigation session. All methods are safe for concurrent use.
type Engine struct {
	tracker  *tracker.Tracker
	index    *correlation.Index
	detector *correlation.Detector
	locks    *correlation.KeyLocks
	matcher  *enrichment.Matcher
	reporter *report.Reporter
	metrics  *metrics.Metrics
	logger   *slog.Logger

	seq atomic.Uint64

	mu    sync.RWMutex
	files map[string]*fileState
}

// New creates an engine that resolves plates against reg.
func New(reg registry.Registry, m *metrics.Metrics, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	e := &Engine{
		tracker:  tracker.New(logger),
		index:    correlation.NewIndex(),
		detector: correlation.NewDetector(logger),
		locks:    correlation.NewKeyLocks(opts.KeyLockStripes),
		matcher:  enrichment.NewMatcher(reg, m, opts.Matcher, logger),
		reporter: report.New(opts.HighConfidenceThreshold, opts.HighConfidenceLimit),
		metrics:  m,
		logger:   logger,
		files:    make(map[string]*fileState),
	}
	e.tracker.OnTerminal(func(f models.EvidenceFile) {
		e.matcher.FileClosed(f.ID)
		e.metrics.FilesProcessed.WithLabelValues(string(f.Status)).Inc()
	})
	return e
}

// Metrics returns the counters the engine records into.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// RegisterFile creates a Queued file with a generated id.
func (e *Engine) RegisterFile(name string, sizeBytes int64, mimeClass string) (models.EvidenceFile, error) {
	f, err := e.tracker.Register(name, sizeBytes, mimeClass)
	if err != nil {
		return models.EvidenceFile{}, err
	}
	e.addFile(f.ID)
	return f, nil
}

// RegisterFileWithID creates a Queued file with a caller-assigned id.
func (e *Engine) RegisterFileWithID(id, name string, sizeBytes int64, mimeClass string) (models.EvidenceFile, error) {
	f, err := e.tracker.RegisterWithID(id, name, sizeBytes, mimeClass)
	if err != nil {
		return models.EvidenceFile{}, err
	}
	e.addFile(f.ID)
	return f, nil
}

// AdvanceFile moves a file to status. It waits for in-flight ingests of the
// file, so nothing is accepted for it after a terminal status is reached.
func (e *Engine) AdvanceFile(id string, status models.FileStatus) (models.EvidenceFile, error) {
	if fs := e.file(id); fs != nil {
		fs.gate.Lock()
		defer fs.gate.Unlock()
	}
	return e.tracker.Advance(id, status)
}

// File returns one evidence file.
func (e *Engine) File(id string) (models.EvidenceFile, error) {
	return e.tracker.Get(id)
}

// Files returns every evidence file in registration order.
func (e *Engine) Files() []models.EvidenceFile {
	return e.tracker.List()
}

// ListCrossReferences returns cross-references involving fileID, or all of
// them when fileID is empty.
func (e *Engine) ListCrossReferences(fileID string) []models.CrossReference {
	return e.detector.List(fileID)
}

// ListCrossReferencesByType is ListCrossReferences narrowed to one entity type.
func (e *Engine) ListCrossReferencesByType(t models.EntityType, fileID string) []models.CrossReference {
	return e.detector.ListByType(t, fileID)
}

// ListTimelineEntries returns timeline entries for fileID, or all when empty.
func (e *Engine) ListTimelineEntries(fileID string) []models.TimelineEntry {
	return e.matcher.Timeline(fileID)
}

// ListCaseLinkSuggestions returns suggestions for fileID, or all when empty.
// Dismissed and accepted suggestions are included only with includeClosed.
func (e *Engine) ListCaseLinkSuggestions(fileID string, includeClosed bool) []models.CaseLinkSuggestion {
	return e.matcher.Suggestions(fileID, includeClosed)
}

// AggregateCounts returns the display rollups.
func (e *Engine) AggregateCounts() models.AggregateCounts {
	return e.reporter.Snapshot()
}

// KeysForFile returns the correlation keys fileID contributed.
func (e *Engine) KeysForFile(fileID string) []models.CorrelationKey {
	return e.index.KeysForFile(fileID)
}

// MarkSuggestion stores a dismiss or accept marker on a suggestion.
func (e *Engine) MarkSuggestion(fileID, caseID string, state models.SuggestionState) (models.CaseLinkSuggestion, error) {
	return e.matcher.MarkSuggestion(fileID, caseID, state)
}

// RetryDeferred repeats registry lookups that failed as unavailable.
func (e *Engine) RetryDeferred(ctx context.Context) (int, error) {
	return e.matcher.RetryDeferred(ctx)
}

// DeferredLookups returns the number of plates waiting for the registry.
func (e *Engine) DeferredLookups() int {
	return e.matcher.DeferredCount()
}
