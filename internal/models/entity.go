package models

import (
	"fmt"
	"strings"
)

// EntityType classifies the kind of entity produced by the extraction service.
type EntityType string

const (
	EntityTypePerson       EntityType = "person"
	EntityTypeLocation     EntityType = "location"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeKeyword      EntityType = "keyword"
	EntityTypeLicensePlate EntityType = "license_plate"
	EntityTypeIntegrity    EntityType = "integrity"
)

// ValidEntityTypes is the set of all valid entity types.
var ValidEntityTypes = []EntityType{
	EntityTypePerson,
	EntityTypeLocation,
	EntityTypeOrganization,
	EntityTypeKeyword,
	EntityTypeLicensePlate,
	EntityTypeIntegrity,
}

// IsValid returns true if the entity type is recognized.
func (et EntityType) IsValid() bool {
	for i := range ValidEntityTypes {
		if et == ValidEntityTypes[i] {
			return true
		}
	}
	return false
}

// Label returns the display label for the entity type.
func (et EntityType) Label() string {
	switch et {
	case EntityTypePerson:
		return "Person"
	case EntityTypeLocation:
		return "Location"
	case EntityTypeOrganization:
		return "Organization"
	case EntityTypeKeyword:
		return "Keyword"
	case EntityTypeLicensePlate:
		return "License Plate"
	case EntityTypeIntegrity:
		return "Integrity"
	default:
		return string(et)
	}
}

// ParseEntityType accepts the canonical names plus the spellings the
// extraction service has been seen to emit ("LicensePlate", "plate", "org").
func ParseEntityType(s string) (EntityType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "person", "people":
		return EntityTypePerson, nil
	case "location", "place":
		return EntityTypeLocation, nil
	case "organization", "organisation", "org":
		return EntityTypeOrganization, nil
	case "keyword":
		return EntityTypeKeyword, nil
	case "license_plate", "licenseplate", "license plate", "plate":
		return EntityTypeLicensePlate, nil
	case "integrity":
		return EntityTypeIntegrity, nil
	}
	return "", fmt.Errorf("%w: unknown entity type %q", ErrValidation, s)
}

// ConfidenceBand is a coarse bucket derived from a numeric confidence score.
type ConfidenceBand string

const (
	BandLow    ConfidenceBand = "low"
	BandMedium ConfidenceBand = "medium"
	BandHigh   ConfidenceBand = "high"
)

// BandFor maps a 0-100 confidence score to its band.
func BandFor(score int) ConfidenceBand {
	switch {
	case score >= 90:
		return BandHigh
	case score >= 70:
		return BandMedium
	default:
		return BandLow
	}
}

// EntityInput is one tuple of the extraction service's per-file stream.
type EntityInput struct {
	Type            EntityType `json:"type"`
	RawValue        string     `json:"raw_value"`
	ConfidenceScore int        `json:"confidence_score"`
}

// ExtractedEntity is an entity accepted by the ingest buffer. It is never
// mutated after creation.
type ExtractedEntity struct {
	ID              string         `json:"id"`
	FileID          string         `json:"file_id"`
	Type            EntityType     `json:"type"`
	RawValue        string         `json:"raw_value"`
	NormalizedValue string         `json:"normalized_value"`
	ConfidenceScore int            `json:"confidence_score"`
	ConfidenceBand  ConfidenceBand `json:"confidence_band"`
	ExtractedAt     uint64         `json:"extracted_at"` // logical sequence, not wall clock
}

// Key returns the correlation key of the entity.
func (e ExtractedEntity) Key() CorrelationKey {
	return CorrelationKey{Type: e.Type, Value: e.NormalizedValue}
}

// CorrelationKey identifies the same real-world entity across files.
type CorrelationKey struct {
	Type  EntityType `json:"type"`
	Value string     `json:"value"`
}

func (k CorrelationKey) String() string {
	return string(k.Type) + ":" + k.Value
}
