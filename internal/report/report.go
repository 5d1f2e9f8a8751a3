// Package report maintains the display rollups of the entity stream.
package report

import (
	"sync"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

const (
	// DefaultHighConfidenceThreshold is the minimum score listed as high confidence.
	DefaultHighConfidenceThreshold = 85
	// DefaultHighConfidenceLimit caps the high-confidence list.
	DefaultHighConfidenceLimit = 20
)

// Reporter aggregates ingested entities incrementally. It never touches
// upstream state and is safe for concurrent use.
type Reporter struct {
	threshold int
	limit     int

	mu       sync.RWMutex
	total    int64
	byType   map[models.EntityType]int64
	rejected map[string]int64
	recent   []models.ExtractedEntity // ring of the last limit high-confidence entities
	next     int
}

// New creates a Reporter. Non-positive arguments fall back to the defaults.
func New(threshold, limit int) *Reporter {
	if threshold <= 0 {
		threshold = DefaultHighConfidenceThreshold
	}
	if limit <= 0 {
		limit = DefaultHighConfidenceLimit
	}
	return &Reporter{
		threshold: threshold,
		limit:     limit,
		byType:    make(map[models.EntityType]int64, len(models.ValidEntityTypes)),
		rejected:  make(map[string]int64),
		recent:    make([]models.ExtractedEntity, 0, limit),
	}
}

// Observe folds an accepted entity into the rollups.
func (r *Reporter) Observe(e models.ExtractedEntity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	r.byType[e.Type]++
	if e.ConfidenceScore < r.threshold {
		return
	}
	if len(r.recent) < r.limit {
		r.recent = append(r.recent, e)
		return
	}
	r.recent[r.next] = e
	r.next = (r.next + 1) % r.limit
}

// Reject counts a dropped entity under reason.
func (r *Reporter) Reject(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected[reason]++
}

// Snapshot returns a copy of the rollups. Every entity type is present in
// ByType, and HighConfidence is ordered newest first.
func (r *Reporter) Snapshot() models.AggregateCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := models.AggregateCounts{
		Total:          r.total,
		ByType:         make(map[models.EntityType]int64, len(models.ValidEntityTypes)),
		Rejected:       make(map[string]int64, len(r.rejected)),
		HighConfidence: make([]models.ExtractedEntity, 0, len(r.recent)),
	}
	for _, t := range models.ValidEntityTypes {
		out.ByType[t] = r.byType[t]
	}
	for k, v := range r.rejected {
		out.Rejected[k] = v
	}

	n := len(r.recent)
	for i := 0; i < n; i++ {
		// newest sits just before next once the ring is full
		idx := (r.next - 1 - i + n) % n
		if n < r.limit {
			idx = n - 1 - i
		}
		out.HighConfidence = append(out.HighConfidence, r.recent[idx])
	}
	return out
}
