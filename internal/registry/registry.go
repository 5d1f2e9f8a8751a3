// Package registry provides read access to the Vehicle Registry, a reference
// dataset mapping license plates to owners and related cases.
package registry

import (
	"context"
	"errors"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

var (
	// ErrPlateNotFound is returned when the registry has no record for a plate.
	// It is a permanent, expected outcome.
	ErrPlateNotFound = errors.New("plate not found in vehicle registry")

	// ErrUnavailable is returned when the registry could not answer. Callers
	// should retry; it says nothing about whether the plate exists.
	ErrUnavailable = errors.New("vehicle registry unavailable")
)

// Registry defines read access to vehicle records.
type Registry interface {
	// Lookup returns the record for plate. Plates are compared after
	// models.Normalize, so callers may pass raw or normalized values.
	Lookup(ctx context.Context, plate string) (models.VehicleRecord, error)

	// Close releases resources held by the registry.
	Close() error
}

// Writer is implemented by registries that can be seeded.
type Writer interface {
	// Upsert inserts or replaces the record for rec.Plate.
	Upsert(ctx context.Context, rec models.VehicleRecord) error
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return err != nil && !errors.Is(err, ErrPlateNotFound)
}
