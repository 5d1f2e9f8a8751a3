// Package extraction turns evidence documents into entity streams for the
// correlation engine.
package extraction

import (
	"context"
	"errors"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

// Document is one evidence file handed to an extractor.
type Document struct {
	ID        string
	Name      string
	SizeBytes int64
	MimeClass string
	Content   []byte
}

// Options are capabilities negotiated at the extraction boundary. The
// engine never sees them.
type Options struct {
	// AdvancedEnrichment adds license plates and integrity hashes to the
	// entity kinds produced.
	AdvancedEnrichment bool
}

// EmitFunc receives entities in extraction order. Returning an error stops
// the extraction.
type EmitFunc func(models.EntityInput) error

// Extractor produces the entity stream of a document.
type Extractor interface {
	Extract(ctx context.Context, doc Document, opts Options, emit EmitFunc) error
}

// ErrEmptyDocument is returned for documents without content.
var ErrEmptyDocument = errors.New("document has no content")
