// Package graphexport writes the correlation graph of a session to Neo4j for
// link analysis: evidence files, the entities they mention, cross-reference
// markers, registry sightings and case-link suggestions.
package graphexport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

// Source is the read side of the engine the exporter needs.
type Source interface {
	Files() []models.EvidenceFile
	Entities(fileID string) ([]models.ExtractedEntity, error)
	ListCrossReferences(fileID string) []models.CrossReference
	ListTimelineEntries(fileID string) []models.TimelineEntry
	ListCaseLinkSuggestions(fileID string, includeClosed bool) []models.CaseLinkSuggestion
}

// Statement is one parameterized Cypher query.
type Statement struct {
	Query  string
	Params map[string]any
}

// Stats reports what an export wrote.
type Stats struct {
	Files           int
	Mentions        int
	CrossReferences int
	Sightings       int
	Suggestions     int
}

const (
	upsertFiles = `UNWIND $rows AS row
MERGE (f:EvidenceFile {id: row.id})
SET f.name = row.name, f.status = row.status, f.mime_class = row.mime_class, f.size_bytes = row.size_bytes`

	upsertMentions = `UNWIND $rows AS row
MERGE (e:Entity {type: row.type, value: row.value})
SET e.label = row.label, e.display = row.display
WITH e, row
MATCH (f:EvidenceFile {id: row.file_id})
MERGE (f)-[m:MENTIONS]->(e)
SET m.confidence = row.confidence`

	markCrossReferences = `UNWIND $rows AS row
MATCH (e:Entity {type: row.type, value: row.value})
SET e.cross_reference = true, e.file_count = row.file_count, e.first_detected_at = row.first_detected_at`

	upsertSightings = `UNWIND $rows AS row
MERGE (o:Owner {name: row.owner})
MERGE (l:Place {name: row.location})
MERGE (o)-[s:SPOTTED_AT {file_id: row.file_id, plate: row.plate}]->(l)
SET s.event = row.event, s.observed_at = row.observed_at, s.flagged = row.flagged`

	upsertSuggestions = `UNWIND $rows AS row
MERGE (c:Case {id: row.case_id})
SET c.title = row.case_title
WITH c, row
MATCH (f:EvidenceFile {id: row.file_id})
MERGE (f)-[s:SUGGESTS_LINK]->(c)
SET s.reason = row.reason, s.confidence = row.confidence, s.state = row.state, s.shared = row.shared`
)

// Build turns the current state of src into idempotent MERGE statements.
// Statements with no rows are omitted.
func Build(src Source) ([]Statement, Stats, error) {
	var (
		stats Stats
		out   []Statement
	)
	add := func(q string, rows []any) {
		if len(rows) > 0 {
			out = append(out, Statement{Query: q, Params: map[string]any{"rows": rows}})
		}
	}

	files := src.Files()
	fileRows := make([]any, 0, len(files))
	var mentionRows []any
	for _, f := range files {
		fileRows = append(fileRows, map[string]any{
			"id":         f.ID,
			"name":       f.DisplayName,
			"status":     string(f.Status),
			"mime_class": f.MimeClass,
			"size_bytes": f.SizeBytes,
		})

		ents, err := src.Entities(f.ID)
		if err != nil {
			return nil, Stats{}, fmt.Errorf("reading entities of %s: %w", f.ID, err)
		}
		// One MENTIONS edge per (file, key), keeping the highest confidence.
		best := make(map[models.CorrelationKey]models.ExtractedEntity, len(ents))
		var order []models.CorrelationKey
		for _, e := range ents {
			k := e.Key()
			cur, ok := best[k]
			if !ok {
				order = append(order, k)
			}
			if !ok || e.ConfidenceScore > cur.ConfidenceScore {
				best[k] = e
			}
		}
		for _, k := range order {
			e := best[k]
			mentionRows = append(mentionRows, map[string]any{
				"file_id":    f.ID,
				"type":       string(k.Type),
				"value":      k.Value,
				"label":      k.Type.Label(),
				"display":    e.RawValue,
				"confidence": int64(e.ConfidenceScore),
			})
		}
	}
	stats.Files = len(fileRows)
	stats.Mentions = len(mentionRows)
	add(upsertFiles, fileRows)
	add(upsertMentions, mentionRows)

	refs := src.ListCrossReferences("")
	refRows := make([]any, 0, len(refs))
	for _, xr := range refs {
		refRows = append(refRows, map[string]any{
			"type":              string(xr.Key.Type),
			"value":             xr.Key.Value,
			"file_count":        int64(len(xr.FileIDs)),
			"first_detected_at": int64(xr.FirstDetectedAt), //nolint:gosec // logical sequence
		})
	}
	stats.CrossReferences = len(refRows)
	add(markCrossReferences, refRows)

	timeline := src.ListTimelineEntries("")
	sightRows := make([]any, 0, len(timeline))
	for _, t := range timeline {
		sightRows = append(sightRows, map[string]any{
			"owner":       t.EntityName,
			"location":    t.Location,
			"file_id":     t.SourceFileID,
			"plate":       t.Plate,
			"event":       t.EventLabel,
			"observed_at": int64(t.ObservedAt), //nolint:gosec // logical sequence
			"flagged":     t.Flagged,
		})
	}
	stats.Sightings = len(sightRows)
	add(upsertSightings, sightRows)

	sugs := src.ListCaseLinkSuggestions("", true)
	sugRows := make([]any, 0, len(sugs))
	for _, s := range sugs {
		shared := make([]any, 0, len(s.SharedEntityValues))
		for _, v := range s.SharedEntityValues {
			shared = append(shared, v)
		}
		sugRows = append(sugRows, map[string]any{
			"case_id":    s.CaseID,
			"case_title": s.CaseTitle,
			"file_id":    s.SourceFileID,
			"reason":     s.Reason,
			"confidence": int64(s.ConfidenceScore),
			"state":      string(s.State),
			"shared":     shared,
		})
	}
	stats.Suggestions = len(sugRows)
	add(upsertSuggestions, sugRows)

	return out, stats, nil
}

// runner executes one statement. The Neo4j driver satisfies it through
// driverRunner; tests substitute a recorder.
type runner interface {
	run(ctx context.Context, st Statement) error
}

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (d driverRunner) run(ctx context.Context, st Statement) error {
	_, err := neo4j.ExecuteQuery(ctx, d.driver, st.Query, st.Params,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(d.database))
	return err
}

// Exporter pushes sessions to a Neo4j database.
type Exporter struct {
	runner runner
	close  func(context.Context) error
	logger *slog.Logger
}

// Open connects to Neo4j and verifies connectivity.
func Open(ctx context.Context, uri, username, password, database string, logger *slog.Logger) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j at %s: %w", uri, err)
	}
	return &Exporter{
		runner: driverRunner{driver: driver, database: database},
		close:  driver.Close,
		logger: logger,
	}, nil
}

// Export writes the current state of src. Re-exporting the same session is
// idempotent.
func (x *Exporter) Export(ctx context.Context, src Source) (Stats, error) {
	stmts, stats, err := Build(src)
	if err != nil {
		return Stats{}, err
	}
	for i := range stmts {
		if err := x.runner.run(ctx, stmts[i]); err != nil {
			return Stats{}, fmt.Errorf("graph export statement %d: %w", i+1, err)
		}
	}
	x.logger.Info("graph exported",
		"files", stats.Files, "mentions", stats.Mentions, "cross_references", stats.CrossReferences,
		"sightings", stats.Sightings, "suggestions", stats.Suggestions)
	return stats, nil
}

// Close releases the driver.
func (x *Exporter) Close(ctx context.Context) error {
	if x.close == nil {
		return nil
	}
	return x.close(ctx)
}
