package correlation

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

// Detector turns index inserts into cross-references. There is at most one
// cross-reference per key and its file list only grows.
type Detector struct {
	mu     sync.RWMutex
	refs   map[models.CorrelationKey]*models.CrossReference
	logger *slog.Logger
}

// NewDetector creates a detector with no cross-references.
func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		refs:   make(map[models.CorrelationKey]*models.CrossReference),
		logger: logger,
	}
}

// Observe applies an insert result for key. It reports whether a new
// cross-reference was created and whether an existing one gained files.
func (d *Detector) Observe(key models.CorrelationKey, res InsertResult, seq uint64) (created, grown bool) {
	if len(res.BucketFileIDs) < 2 {
		return false, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	xr, ok := d.refs[key]
	if !ok {
		d.refs[key] = &models.CrossReference{
			Key:             key,
			FileIDs:         append([]string(nil), res.BucketFileIDs...),
			FirstDetectedAt: seq,
			UpdatedAt:       seq,
		}
		d.logger.Info("cross-reference detected", "key", key.String(), "files", res.BucketFileIDs)
		return true, false
	}

	// Merge rather than overwrite so a stale result can never shrink the list.
	for _, id := range res.BucketFileIDs {
		if !xr.Contains(id) {
			xr.FileIDs = append(xr.FileIDs, id)
			grown = true
		}
	}
	if grown {
		xr.UpdatedAt = seq
		d.logger.Debug("cross-reference grew", "key", key.String(), "files", len(xr.FileIDs))
	}
	return false, grown
}

// Get returns the cross-reference for key.
func (d *Detector) Get(key models.CorrelationKey) (models.CrossReference, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	xr, ok := d.refs[key]
	if !ok {
		return models.CrossReference{}, false
	}
	return cloneRef(xr), true
}

// List returns the cross-references that include fileID.
// An empty fileID returns all of them.
func (d *Detector) List(fileID string) []models.CrossReference {
	return d.filter(func(xr *models.CrossReference) bool {
		return fileID == "" || xr.Contains(fileID)
	})
}

// ListAll returns every cross-reference ordered by detection.
func (d *Detector) ListAll() []models.CrossReference {
	return d.List("")
}

// ListByType returns cross-references of one entity type, optionally
// restricted to fileID.
func (d *Detector) ListByType(t models.EntityType, fileID string) []models.CrossReference {
	return d.filter(func(xr *models.CrossReference) bool {
		return xr.Key.Type == t && (fileID == "" || xr.Contains(fileID))
	})
}

// Len returns the number of cross-references.
func (d *Detector) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.refs)
}

func (d *Detector) filter(keep func(*models.CrossReference) bool) []models.CrossReference {
	d.mu.RLock()
	out := make([]models.CrossReference, 0, len(d.refs))
	for _, xr := range d.refs {
		if keep(xr) {
			out = append(out, cloneRef(xr))
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstDetectedAt != out[j].FirstDetectedAt {
			return out[i].FirstDetectedAt < out[j].FirstDetectedAt
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

func cloneRef(xr *models.CrossReference) models.CrossReference {
	out := *xr
	out.FileIDs = append([]string(nil), xr.FileIDs...)
	return out
}
