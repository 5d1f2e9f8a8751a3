package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

// Rejection reasons recorded in metrics and aggregate counts.
const (
	RejectValidation   = "validation"
	RejectInvalidState = "invalid_state"
	RejectNotFound     = "not_found"
)

// fileState is the ingest side of one evidence file.
type fileState struct {
	gate sync.RWMutex // ingests hold it shared, status changes exclusive

	mu      sync.Mutex
	history []models.ExtractedEntity
}

func (e *Engine) addFile(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[id] = &fileState{}
}

func (e *Engine) file(id string) *fileState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.files[id]
}

// Ingest accepts one entity from the extraction stream of fileID. The file
// must be Extracting. Accepted entities are indexed and trigger cross-reference
// detection and registry enrichment before Ingest returns.
func (e *Engine) Ingest(ctx context.Context, fileID string, in models.EntityInput) (models.ExtractedEntity, error) {
	fs := e.file(fileID)
	if fs == nil {
		e.reject(RejectNotFound, fileID, in, nil)
		return models.ExtractedEntity{}, fmt.Errorf("%w: file %s", models.ErrNotFound, fileID)
	}

	fs.gate.RLock()
	defer fs.gate.RUnlock()

	if err := e.tracker.CheckAccepting(fileID); err != nil {
		e.reject(RejectInvalidState, fileID, in, err)
		return models.ExtractedEntity{}, err
	}
	if err := validate(in); err != nil {
		e.reject(RejectValidation, fileID, in, err)
		return models.ExtractedEntity{}, err
	}
	normalized := models.Normalize(in.RawValue)
	if normalized == "" {
		err := fmt.Errorf("%w: empty value for %s entity", models.ErrValidation, in.Type)
		e.reject(RejectValidation, fileID, in, err)
		return models.ExtractedEntity{}, err
	}

	ent := models.ExtractedEntity{
		ID:              uuid.NewString(),
		FileID:          fileID,
		Type:            in.Type,
		RawValue:        in.RawValue,
		NormalizedValue: normalized,
		ConfidenceScore: in.ConfidenceScore,
		ConfidenceBand:  models.BandFor(in.ConfidenceScore),
		ExtractedAt:     e.seq.Add(1),
	}

	fs.mu.Lock()
	fs.history = append(fs.history, ent)
	fs.mu.Unlock()

	e.metrics.EntitiesIngested.WithLabelValues(string(ent.Type)).Inc()
	e.reporter.Observe(ent)
	e.correlate(ctx, ent)
	return ent, nil
}

// correlate inserts ent into the index and runs the reactions while holding
// the key lock, so a second insert for the same key waits for them.
func (e *Engine) correlate(ctx context.Context, ent models.ExtractedEntity) {
	key := ent.Key()
	unlock := e.locks.Lock(key)
	defer unlock()

	res := e.index.Insert(ent)
	if res.IsNewFileForKey {
		created, grown := e.detector.Observe(key, res, ent.ExtractedAt)
		if created {
			e.metrics.CrossReferencesCreated.Inc()
		}
		if grown {
			e.metrics.CrossReferencesGrown.Inc()
		}
	}

	switch ent.Type {
	case models.EntityTypeLicensePlate:
		if err := e.matcher.OnPlate(ctx, ent); err != nil {
			// Parked for RetryDeferred; the entity itself is accepted.
			e.logger.Warn("plate enrichment deferred", "file_id", ent.FileID, "key", key.String(), "error", err)
		}
	case models.EntityTypeLocation:
		e.matcher.OnLocation(ent)
	case models.EntityTypePerson, models.EntityTypeOrganization, models.EntityTypeKeyword, models.EntityTypeIntegrity:
	}
}

// Entities returns the accepted entities of fileID in extraction order.
func (e *Engine) Entities(fileID string) ([]models.ExtractedEntity, error) {
	fs := e.file(fileID)
	if fs == nil {
		return nil, fmt.Errorf("%w: file %s", models.ErrNotFound, fileID)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]models.ExtractedEntity(nil), fs.history...), nil
}

func (e *Engine) reject(reason, fileID string, in models.EntityInput, err error) {
	e.metrics.EntitiesRejected.WithLabelValues(reason).Inc()
	e.reporter.Reject(reason)
	e.logger.Warn("entity rejected", "file_id", fileID, "type", in.Type, "reason", reason, "error", err)
}

func validate(in models.EntityInput) error {
	if !in.Type.IsValid() {
		return fmt.Errorf("%w: unknown entity type %q", models.ErrValidation, in.Type)
	}
	if in.ConfidenceScore < 0 || in.ConfidenceScore > 100 {
		return fmt.Errorf("%w: confidence %d outside 0-100", models.ErrValidation, in.ConfidenceScore)
	}
	return nil
}
