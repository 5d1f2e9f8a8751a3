package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
	"github.com/ajitpratap0/evidence-correlator/internal/pipeline"
)

// sessionView is the read side of the engine the renderers need.
type sessionView interface {
	Files() []models.EvidenceFile
	ListCrossReferences(fileID string) []models.CrossReference
	ListTimelineEntries(fileID string) []models.TimelineEntry
	ListCaseLinkSuggestions(fileID string, includeClosed bool) []models.CaseLinkSuggestion
	AggregateCounts() models.AggregateCounts
}

type sessionReport struct {
	Files           []models.EvidenceFile       `json:"files"`
	CrossReferences []models.CrossReference     `json:"cross_references"`
	Timeline        []models.TimelineEntry      `json:"timeline"`
	Suggestions     []models.CaseLinkSuggestion `json:"suggestions"`
	Aggregates      models.AggregateCounts      `json:"aggregates"`
	Errors          map[string]string           `json:"errors,omitempty"` // file name -> error
}

func buildReport(v sessionView, results []pipeline.Result) sessionReport {
	rep := sessionReport{
		Files:           v.Files(),
		CrossReferences: v.ListCrossReferences(""),
		Timeline:        v.ListTimelineEntries(""),
		Suggestions:     v.ListCaseLinkSuggestions("", false),
		Aggregates:      v.AggregateCounts(),
	}
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		if rep.Errors == nil {
			rep.Errors = make(map[string]string)
		}
		rep.Errors[r.Name] = r.Err.Error()
	}
	return rep
}

func writeJSONReport(w io.Writer, rep sessionReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}

func writeTableReport(w io.Writer, rep sessionReport, results []pipeline.Result) error {
	names := make(map[string]string, len(rep.Files))
	for _, f := range rep.Files {
		names[f.ID] = f.DisplayName
	}
	nameOf := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id
	}

	sections := []string{
		renderFiles(rep.Files, results),
		renderCrossReferences(rep.CrossReferences, nameOf),
		renderTimeline(rep.Timeline, nameOf),
		renderSuggestions(rep.Suggestions, nameOf),
		renderAggregates(rep.Aggregates),
	}
	for _, s := range sections {
		if s == "" {
			continue
		}
		if _, err := fmt.Fprintln(w, s); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

func renderFiles(files []models.EvidenceFile, results []pipeline.Result) string {
	byID := make(map[string]pipeline.Result, len(results))
	for _, r := range results {
		byID[r.FileID] = r
	}
	rows := make([][]string, 0, len(files))
	for _, f := range files {
		r := byID[f.ID]
		errText := ""
		if r.Err != nil {
			errText = truncate(r.Err.Error(), 60)
		}
		rows = append(rows, []string{
			truncate(f.DisplayName, 40),
			string(f.Status),
			strconv.Itoa(r.Accepted),
			strconv.Itoa(r.Rejected),
			errText,
		})
	}
	return renderTable("Evidence Files",
		[]string{"File", "Status", "Entities", "Rejected", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft})
}

func renderCrossReferences(refs []models.CrossReference, nameOf func(string) string) string {
	if len(refs) == 0 {
		return "No cross-references found."
	}
	rows := make([][]string, 0, len(refs))
	for _, c := range refs {
		files := make([]string, 0, len(c.FileIDs))
		for _, id := range c.FileIDs {
			files = append(files, nameOf(id))
		}
		rows = append(rows, []string{
			c.Key.Type.Label(),
			c.Key.Value,
			strconv.Itoa(len(c.FileIDs)),
			truncate(strings.Join(files, ", "), 60),
		})
	}
	return renderTable("Cross-References",
		[]string{"Type", "Value", "Files", "Seen In"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft})
}

func renderTimeline(entries []models.TimelineEntry, nameOf func(string) string) string {
	if len(entries) == 0 {
		return ""
	}
	rows := make([][]string, 0, len(entries))
	for _, t := range entries {
		flag := ""
		if t.Flagged {
			flag = "FLAGGED"
		}
		rows = append(rows, []string{
			strconv.FormatUint(t.ObservedAt, 10),
			t.EventLabel,
			t.EntityName,
			t.Location,
			nameOf(t.SourceFileID),
			flag,
		})
	}
	return renderTable("Timeline",
		[]string{"Seq", "Event", "Entity", "Location", "Source", ""},
		rows,
		[]columnAlignment{alignRight})
}

func renderSuggestions(sugs []models.CaseLinkSuggestion, nameOf func(string) string) string {
	if len(sugs) == 0 {
		return ""
	}
	rows := make([][]string, 0, len(sugs))
	for _, s := range sugs {
		rows = append(rows, []string{
			s.CaseID,
			truncate(s.CaseTitle, 40),
			strconv.Itoa(s.ConfidenceScore) + "%",
			truncate(s.Reason, 60),
			nameOf(s.SourceFileID),
		})
	}
	return renderTable("Case Link Suggestions",
		[]string{"Case", "Title", "Confidence", "Reason", "Source"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight})
}

func renderAggregates(agg models.AggregateCounts) string {
	rows := make([][]string, 0, len(models.ValidEntityTypes)+1)
	for _, t := range models.ValidEntityTypes {
		rows = append(rows, []string{t.Label(), strconv.FormatInt(agg.ByType[t], 10)})
	}
	rows = append(rows, []string{"Total", strconv.FormatInt(agg.Total, 10)})
	out := renderTable("Entities", []string{"Type", "Count"}, rows, []columnAlignment{alignLeft, alignRight})

	if len(agg.HighConfidence) == 0 {
		return out
	}
	hc := make([][]string, 0, len(agg.HighConfidence))
	for _, e := range agg.HighConfidence {
		hc = append(hc, []string{e.Type.Label(), truncate(e.RawValue, 50), strconv.Itoa(e.ConfidenceScore)})
	}
	return out + "\n\n" + renderTable("High Confidence", []string{"Type", "Value", "Score"}, hc,
		[]columnAlignment{alignLeft, alignLeft, alignRight})
}
