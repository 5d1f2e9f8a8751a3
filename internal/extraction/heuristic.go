package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

// rule is one pattern producing entities of a single type. The entity value
// is capture group 1.
type rule struct {
	typ      models.EntityType
	re       *regexp.Regexp
	score    int
	advanced bool
	lower    bool
}

var rules = []rule{
	{typ: models.EntityTypePerson, score: 90,
		re: regexp.MustCompile(`(?m)\b(?i:suspect|witness|owner|driver|victim|name)\s*:\s*([A-Z][\w.'-]*(?:[ \t]+[A-Z][\w.'-]*){0,3})`)},
	{typ: models.EntityTypePerson, score: 85,
		re: regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr)\.?\s+([A-Z][a-z]+(?:[ \t]+[A-Z][a-z]*\.?)?)`)},
	{typ: models.EntityTypeLocation, score: 93,
		re: regexp.MustCompile(`(?m)\b(?i:location|address|scene)[ \t]*:[ \t]*([^\n,;]+)`)},
	{typ: models.EntityTypeLocation, score: 88,
		re: regexp.MustCompile(`\b((?:[A-Z][a-z]+[ \t]){1,3}(?:Mall|Street|Road|Avenue|Tower|Hotel|Airport|Marina|Park|Market|Souk|Square|Station|Bridge))\b`)},
	{typ: models.EntityTypeOrganization, score: 86,
		re: regexp.MustCompile(`\b((?:[A-Z][A-Za-z&]+[ \t]){1,3}(?:LLC|Ltd|Bank|Group|Corp|Inc|Company|Police|Ministry|Holdings))\b`)},
	{typ: models.EntityTypeKeyword, score: 72, lower: true,
		re: regexp.MustCompile(`(?i)\b(weapon|stolen|theft|robbery|ransom|fraud|forged|firearm|gun|knife|cash|narcotics|getaway|threat)\b`)},
	{typ: models.EntityTypeLicensePlate, score: 95, advanced: true,
		re: regexp.MustCompile(`(?i)\b(?:plate|registration|reg\.?)(?:\s+(?:no\.?|number|#))?\s*[:#]?\s*([A-Z]{1,3}[ -]?\d{1,5}|\d{1,5})\b`)},
	{typ: models.EntityTypeIntegrity, score: 100, advanced: true, lower: true,
		re: regexp.MustCompile(`\b(?i:sha256)[:=\s]+([a-fA-F0-9]{64})\b`)},
}

type hit struct {
	pos int
	in  models.EntityInput
}

// HeuristicExtractor finds entities with labeled-field and gazetteer
// patterns. It needs no network access.
type HeuristicExtractor struct {
	logger *slog.Logger
}

// NewHeuristicExtractor creates a pattern-based extractor.
func NewHeuristicExtractor(logger *slog.Logger) *HeuristicExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeuristicExtractor{logger: logger}
}

// Extract emits entities in the order they appear in the document. Repeats
// of the same type and value are emitted once.
func (h *HeuristicExtractor) Extract(ctx context.Context, doc Document, opts Options, emit EmitFunc) error {
	if len(doc.Content) == 0 {
		return fmt.Errorf("extracting %s: %w", doc.ID, ErrEmptyDocument)
	}
	hits := scan(string(doc.Content), opts)
	if opts.AdvancedEnrichment {
		sum := sha256.Sum256(doc.Content)
		hits = append(hits, hit{pos: len(doc.Content), in: models.EntityInput{
			Type:            models.EntityTypeIntegrity,
			RawValue:        "sha256:" + hex.EncodeToString(sum[:]),
			ConfidenceScore: 100,
		}})
	}

	seen := make(map[models.CorrelationKey]struct{}, len(hits))
	emitted := 0
	for _, x := range hits {
		if err := ctx.Err(); err != nil {
			return err
		}
		k := models.CorrelationKey{Type: x.in.Type, Value: models.Normalize(x.in.RawValue)}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if err := emit(x.in); err != nil {
			return fmt.Errorf("emitting %s entity: %w", x.in.Type, err)
		}
		emitted++
	}
	h.logger.Debug("heuristic extraction done", "file_id", doc.ID, "entities", emitted, "advanced", opts.AdvancedEnrichment)
	return nil
}

// scan returns the pattern matches in text ordered by position.
func scan(text string, opts Options) []hit {
	var hits []hit
	for i := range rules {
		r := &rules[i]
		if r.advanced && !opts.AdvancedEnrichment {
			continue
		}
		for _, m := range r.re.FindAllStringSubmatchIndex(text, -1) {
			v := strings.TrimSpace(text[m[2]:m[3]])
			if v == "" {
				continue
			}
			if r.lower {
				v = strings.ToLower(v)
			}
			if r.typ == models.EntityTypeIntegrity {
				v = "sha256:" + v
			}
			hits = append(hits, hit{pos: m[2], in: models.EntityInput{Type: r.typ, RawValue: v, ConfidenceScore: r.score}})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	return hits
}
