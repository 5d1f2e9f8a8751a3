package models

import "time"

// CrossReference records one correlation key seen in two or more files.
type CrossReference struct {
	Key             CorrelationKey `json:"key"`
	FileIDs         []string       `json:"file_ids"`          // in order of joining
	FirstDetectedAt uint64         `json:"first_detected_at"` // sequence of the crossing entity
	UpdatedAt       uint64         `json:"updated_at"`
}

// Contains reports whether fileID is part of the cross-reference.
func (c CrossReference) Contains(fileID string) bool {
	for _, id := range c.FileIDs {
		if id == fileID {
			return true
		}
	}
	return false
}

// VehicleRecord is a Vehicle Registry entry keyed by plate.
type VehicleRecord struct {
	Plate            string `json:"plate" yaml:"plate"`
	Owner            string `json:"owner" yaml:"owner"`
	RelatedCaseID    string `json:"related_case_id,omitempty" yaml:"related_case_id"`
	RelatedCaseTitle string `json:"related_case_title,omitempty" yaml:"related_case_title"`
	Flagged          bool   `json:"flagged" yaml:"flagged"`
}

// TimelineEntry is a registry hit corroborated by a location in the same file.
type TimelineEntry struct {
	ID           string    `json:"id"`
	EntityName   string    `json:"entity_name"`
	EventLabel   string    `json:"event_label"`
	Location     string    `json:"location"`
	ObservedAt   uint64    `json:"observed_at"`
	SourceFileID string    `json:"source_file_id"`
	Plate        string    `json:"plate"`
	Flagged      bool      `json:"flagged,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SuggestionState is the display marker stored with a case-link suggestion.
type SuggestionState string

const (
	SuggestionOpen      SuggestionState = "open"
	SuggestionDismissed SuggestionState = "dismissed"
	SuggestionAccepted  SuggestionState = "accepted"
)

// IsValid returns true if the state is recognized.
func (s SuggestionState) IsValid() bool {
	switch s {
	case SuggestionOpen, SuggestionDismissed, SuggestionAccepted:
		return true
	}
	return false
}

// CaseLinkSuggestion proposes linking the investigation to another case.
// The engine never applies it.
type CaseLinkSuggestion struct {
	CaseID             string          `json:"case_id"`
	CaseTitle          string          `json:"case_title"`
	Reason             string          `json:"reason"`
	ConfidenceScore    int             `json:"confidence_score"`
	SharedEntityValues []string        `json:"shared_entity_values"`
	SourceFileID       string          `json:"source_file_id"`
	State              SuggestionState `json:"state"`
}

// AggregateCounts is the display rollup of the entity stream.
type AggregateCounts struct {
	Total          int64                `json:"total"`
	ByType         map[EntityType]int64 `json:"by_type"`
	Rejected       map[string]int64     `json:"rejected"`
	HighConfidence []ExtractedEntity    `json:"high_confidence"`
}
