// Package enrichment matches license-plate entities against the Vehicle
// Registry and turns hits into timeline entries and case-link suggestions.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/ajitpratap0/evidence-correlator/internal/metrics"
	"github.com/ajitpratap0/evidence-correlator/internal/models"
	"github.com/ajitpratap0/evidence-correlator/internal/registry"
)

const (
	// RegistryMatchConfidence is the score given to suggestions backed by an
	// exact registry match.
	RegistryMatchConfidence = 94

	// EventVehicleSpotted is the event label of registry timeline entries.
	EventVehicleSpotted = "Vehicle Spotted"
)

// Options tunes registry access.
type Options struct {
	LookupTimeout  time.Duration // per attempt
	MaxRetries     uint64        // retries after the first attempt
	InitialBackoff time.Duration
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		LookupTimeout:  5 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
	}
}

type pairKey struct {
	fileID string
	value  string
}

type pendingMatch struct {
	plate  models.ExtractedEntity
	record models.VehicleRecord
}

// Matcher reacts to plate and location entities. It is safe for concurrent use.
type Matcher struct {
	registry registry.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
	opts     Options

	mu            sync.Mutex
	locations     map[string]models.ExtractedEntity // first location per file
	pending       map[string][]pendingMatch         // hits waiting for a location, per file
	closed        map[string]bool
	timeline      []models.TimelineEntry
	timelineSeen  map[pairKey]struct{} // (file, plate)
	suggestions   []*models.CaseLinkSuggestion
	suggestionIdx map[pairKey]*models.CaseLinkSuggestion // (file, case)
	deferred      map[pairKey]models.ExtractedEntity

	now func() time.Time
}

// NewMatcher creates a matcher backed by reg.
func NewMatcher(reg registry.Registry, m *metrics.Metrics, opts Options, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	def := DefaultOptions()
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = def.LookupTimeout
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	return &Matcher{
		registry:      reg,
		metrics:       m,
		logger:        logger,
		opts:          opts,
		locations:     make(map[string]models.ExtractedEntity),
		pending:       make(map[string][]pendingMatch),
		closed:        make(map[string]bool),
		timelineSeen:  make(map[pairKey]struct{}),
		suggestionIdx: make(map[pairKey]*models.CaseLinkSuggestion),
		deferred:      make(map[pairKey]models.ExtractedEntity),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// OnPlate looks up a license-plate entity. A miss is not an error. When the
// registry stays unavailable after retries the plate is parked for
// RetryDeferred and an error wrapping registry.ErrUnavailable is returned.
func (m *Matcher) OnPlate(ctx context.Context, e models.ExtractedEntity) error {
	if e.Type != models.EntityTypeLicensePlate {
		return nil
	}

	rec, err := m.lookup(ctx, e.NormalizedValue)
	switch {
	case errors.Is(err, registry.ErrPlateNotFound):
		m.metrics.RegistryLookups.WithLabelValues(metrics.LookupMiss).Inc()
		m.logger.Debug("plate not in registry", "file_id", e.FileID, "plate", e.NormalizedValue)
		return nil
	case err != nil:
		m.metrics.RegistryLookups.WithLabelValues(metrics.LookupUnavailable).Inc()
		m.mu.Lock()
		m.deferred[pairKey{e.FileID, e.NormalizedValue}] = e
		m.mu.Unlock()
		m.logger.Warn("registry lookup deferred", "file_id", e.FileID, "plate", e.NormalizedValue, "error", err)
		return fmt.Errorf("looking up plate %s: %w", e.NormalizedValue, err)
	}

	m.metrics.RegistryLookups.WithLabelValues(metrics.LookupHit).Inc()
	m.apply(e, rec)
	return nil
}

// OnLocation records the first location of a file and resolves registry
// hits from that file that were waiting for one.
func (m *Matcher) OnLocation(e models.ExtractedEntity) {
	if e.Type != models.EntityTypeLocation {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locations[e.FileID]; ok {
		return
	}
	m.locations[e.FileID] = e

	waiting := m.pending[e.FileID]
	delete(m.pending, e.FileID)
	for _, p := range waiting {
		m.addTimelineLocked(p.plate, p.record, e)
	}
}

// FileClosed drops hits from fileID still waiting for a location. Call it
// once the file reaches Complete or Failed.
func (m *Matcher) FileClosed(fileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[fileID] = true
	for _, p := range m.pending[fileID] {
		m.metrics.PendingMatchesDropped.Inc()
		m.logger.Info("registry hit closed without a location",
			"file_id", fileID, "plate", p.plate.NormalizedValue, "owner", p.record.Owner)
	}
	delete(m.pending, fileID)
}

// RetryDeferred repeats lookups that previously failed as unavailable. It
// returns how many were resolved (hit or miss).
func (m *Matcher) RetryDeferred(ctx context.Context) (int, error) {
	m.mu.Lock()
	batch := make([]models.ExtractedEntity, 0, len(m.deferred))
	for k, e := range m.deferred {
		batch = append(batch, e)
		delete(m.deferred, k)
	}
	m.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].ExtractedAt < batch[j].ExtractedAt })

	resolved := 0
	var errs []error
	for i := range batch {
		if err := ctx.Err(); err != nil {
			m.mu.Lock()
			for _, e := range batch[i:] {
				m.deferred[pairKey{e.FileID, e.NormalizedValue}] = e
			}
			m.mu.Unlock()
			return resolved, err
		}
		if err := m.OnPlate(ctx, batch[i]); err != nil {
			errs = append(errs, err)
			continue
		}
		resolved++
	}
	if resolved > 0 {
		m.logger.Info("deferred registry lookups resolved", "resolved", resolved, "still_deferred", len(errs))
	}
	return resolved, errors.Join(errs...)
}

// DeferredCount returns the number of plates waiting for the registry.
func (m *Matcher) DeferredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deferred)
}

// Timeline returns timeline entries ordered by observation. An empty fileID
// returns all entries.
func (m *Matcher) Timeline(fileID string) []models.TimelineEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TimelineEntry, 0, len(m.timeline))
	for i := range m.timeline {
		if fileID == "" || m.timeline[i].SourceFileID == fileID {
			out = append(out, m.timeline[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt < out[j].ObservedAt })
	return out
}

// Suggestions returns case-link suggestions in emission order. Dismissed and
// accepted suggestions are omitted unless includeClosed is set.
func (m *Matcher) Suggestions(fileID string, includeClosed bool) []models.CaseLinkSuggestion {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CaseLinkSuggestion, 0, len(m.suggestions))
	for _, s := range m.suggestions {
		if fileID != "" && s.SourceFileID != fileID {
			continue
		}
		if !includeClosed && s.State != models.SuggestionOpen {
			continue
		}
		c := *s
		c.SharedEntityValues = append([]string(nil), s.SharedEntityValues...)
		out = append(out, c)
	}
	return out
}

// MarkSuggestion stores a display marker on the (fileID, caseID) suggestion.
func (m *Matcher) MarkSuggestion(fileID, caseID string, state models.SuggestionState) (models.CaseLinkSuggestion, error) {
	if !state.IsValid() {
		return models.CaseLinkSuggestion{}, fmt.Errorf("%w: suggestion state %q", models.ErrValidation, state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suggestionIdx[pairKey{fileID, caseID}]
	if !ok {
		return models.CaseLinkSuggestion{}, fmt.Errorf("%w: suggestion %s for file %s", models.ErrNotFound, caseID, fileID)
	}
	s.State = state
	m.logger.Info("case-link suggestion marked", "file_id", fileID, "case_id", caseID, "state", state)
	return *s, nil
}

func (m *Matcher) lookup(ctx context.Context, plate string) (models.VehicleRecord, error) {
	var rec models.VehicleRecord
	op := func() error {
		lctx, cancel := context.WithTimeout(ctx, m.opts.LookupTimeout)
		defer cancel()
		r, err := m.registry.Lookup(lctx, plate)
		if errors.Is(err, registry.ErrPlateNotFound) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		rec = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.InitialBackoff
	b.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, m.opts.MaxRetries), ctx))
	if err != nil && !errors.Is(err, registry.ErrPlateNotFound) && !errors.Is(err, registry.ErrUnavailable) {
		err = fmt.Errorf("%w: %v", registry.ErrUnavailable, err)
	}
	return rec, err
}

func (m *Matcher) apply(plate models.ExtractedEntity, rec models.VehicleRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.Flagged {
		m.metrics.RegistryFlaggedHits.Inc()
		m.logger.Warn("flagged vehicle seen in evidence", "file_id", plate.FileID, "plate", plate.NormalizedValue, "owner", rec.Owner)
	}

	if rec.RelatedCaseID != "" {
		m.suggestLocked(plate, rec)
	}

	if loc, ok := m.locations[plate.FileID]; ok {
		m.addTimelineLocked(plate, rec, loc)
		return
	}
	if m.closed[plate.FileID] {
		m.metrics.PendingMatchesDropped.Inc()
		m.logger.Info("registry hit for closed file has no location", "file_id", plate.FileID, "plate", plate.NormalizedValue)
		return
	}
	for _, p := range m.pending[plate.FileID] {
		if p.plate.NormalizedValue == plate.NormalizedValue {
			return
		}
	}
	m.pending[plate.FileID] = append(m.pending[plate.FileID], pendingMatch{plate: plate, record: rec})
	m.logger.Debug("registry hit waiting for a location", "file_id", plate.FileID, "plate", plate.NormalizedValue)
}

func (m *Matcher) addTimelineLocked(plate models.ExtractedEntity, rec models.VehicleRecord, loc models.ExtractedEntity) {
	k := pairKey{plate.FileID, plate.NormalizedValue}
	if _, seen := m.timelineSeen[k]; seen {
		return
	}
	m.timelineSeen[k] = struct{}{}
	entry := models.TimelineEntry{
		ID:           uuid.NewString(),
		EntityName:   rec.Owner,
		EventLabel:   EventVehicleSpotted,
		Location:     strings.TrimSpace(loc.RawValue),
		ObservedAt:   plate.ExtractedAt,
		SourceFileID: plate.FileID,
		Plate:        displayPlate(plate),
		Flagged:      rec.Flagged,
		CreatedAt:    m.now(),
	}
	m.timeline = append(m.timeline, entry)
	m.metrics.TimelineEntries.Inc()
	m.logger.Info("timeline entry added", "file_id", plate.FileID, "owner", rec.Owner, "location", entry.Location)
}

func (m *Matcher) suggestLocked(plate models.ExtractedEntity, rec models.VehicleRecord) {
	k := pairKey{plate.FileID, rec.RelatedCaseID}
	if _, seen := m.suggestionIdx[k]; seen {
		return
	}
	p := displayPlate(plate)
	s := &models.CaseLinkSuggestion{
		CaseID:             rec.RelatedCaseID,
		CaseTitle:          rec.RelatedCaseTitle,
		Reason:             fmt.Sprintf("Vehicle %s registered to %s from another ongoing case", p, rec.Owner),
		ConfidenceScore:    RegistryMatchConfidence,
		SharedEntityValues: []string{rec.Owner, p},
		SourceFileID:       plate.FileID,
		State:              models.SuggestionOpen,
	}
	m.suggestions = append(m.suggestions, s)
	m.suggestionIdx[k] = s
	m.metrics.CaseLinkSuggestions.Inc()
	m.logger.Info("case-link suggestion added", "file_id", plate.FileID, "case_id", rec.RelatedCaseID)
}

func displayPlate(e models.ExtractedEntity) string {
	if v := strings.TrimSpace(e.RawValue); v != "" {
		return v
	}
	return e.NormalizedValue
}
