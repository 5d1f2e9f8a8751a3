package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

// MemoryRegistry is an in-memory Registry, used for sessions seeded from a
// file and for tests.
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]models.VehicleRecord
}

// NewMemoryRegistry creates a registry holding recs.
func NewMemoryRegistry(recs ...models.VehicleRecord) *MemoryRegistry {
	m := &MemoryRegistry{records: make(map[string]models.VehicleRecord, len(recs))}
	for i := range recs {
		m.records[models.Normalize(recs[i].Plate)] = recs[i]
	}
	return m
}

// Lookup returns the record for plate.
func (m *MemoryRegistry) Lookup(ctx context.Context, plate string) (models.VehicleRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.VehicleRecord{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[models.Normalize(plate)]
	if !ok {
		return models.VehicleRecord{}, fmt.Errorf("%w: %s", ErrPlateNotFound, plate)
	}
	return rec, nil
}

// Upsert inserts or replaces a record.
func (m *MemoryRegistry) Upsert(_ context.Context, rec models.VehicleRecord) error {
	key := models.Normalize(rec.Plate)
	if key == "" {
		return fmt.Errorf("%w: plate must not be empty", models.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = rec
	return nil
}

// List returns all records ordered by plate.
func (m *MemoryRegistry) List() []models.VehicleRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.VehicleRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Plate < out[j].Plate })
	return out
}

// Close is a no-op for the memory registry.
func (m *MemoryRegistry) Close() error {
	return nil
}
