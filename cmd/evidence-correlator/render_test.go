package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
	"github.com/ajitpratap0/evidence-correlator/internal/pipeline"
)

type fakeSession struct{}

func (fakeSession) Files() []models.EvidenceFile {
	return []models.EvidenceFile{
		{ID: "f1", DisplayName: "witness.txt", Status: models.StatusComplete},
		{ID: "f2", DisplayName: "cctv.txt", Status: models.StatusFailed},
	}
}

func (fakeSession) ListCrossReferences(string) []models.CrossReference {
	return []models.CrossReference{{
		Key:     models.CorrelationKey{Type: models.EntityTypePerson, Value: "ali f."},
		FileIDs: []string{"f1", "f2"},
	}}
}

func (fakeSession) ListTimelineEntries(string) []models.TimelineEntry {
	return []models.TimelineEntry{{
		EntityName: "Ahmed R.", EventLabel: "Vehicle Spotted", Location: "Al Barsha Mall",
		ObservedAt: 7, SourceFileID: "f1", Plate: "2465",
	}}
}

func (fakeSession) ListCaseLinkSuggestions(string, bool) []models.CaseLinkSuggestion {
	return []models.CaseLinkSuggestion{{
		CaseID: "#288", CaseTitle: "Al Barsha Mall Theft Case", ConfidenceScore: 94,
		Reason: "Vehicle 2465 registered to Ahmed R.", SourceFileID: "f1",
	}}
}

func (fakeSession) AggregateCounts() models.AggregateCounts {
	return models.AggregateCounts{
		Total:  2,
		ByType: map[models.EntityType]int64{models.EntityTypePerson: 2},
		HighConfidence: []models.ExtractedEntity{
			{Type: models.EntityTypePerson, RawValue: "Ali F.", ConfidenceScore: 90},
		},
	}
}

func TestRenderTable_PadsShortRows(t *testing.T) {
	out := renderTable("T", []string{"A", "B"}, [][]string{{"x"}}, nil)
	assert.Contains(t, out, "x")
	assert.Contains(t, out, "A")
	assert.Empty(t, renderTable("", nil, nil, nil))
}

func TestWriteTableReport(t *testing.T) {
	results := []pipeline.Result{
		{FileID: "f1", Name: "witness.txt", Status: models.StatusComplete, Accepted: 3},
		{FileID: "f2", Name: "cctv.txt", Status: models.StatusFailed, Err: errors.New("extraction failed")},
	}
	rep := buildReport(fakeSession{}, results)
	require.Equal(t, map[string]string{"cctv.txt": "extraction failed"}, rep.Errors)

	var buf bytes.Buffer
	require.NoError(t, writeTableReport(&buf, rep, results))
	out := buf.String()

	assert.Contains(t, out, "witness.txt, cctv.txt")
	assert.Contains(t, out, "ali f.")
	assert.Contains(t, out, "Vehicle Spotted")
	assert.Contains(t, out, "#288")
	assert.Contains(t, out, "94%")
	assert.Contains(t, out, "extraction failed")
	assert.Contains(t, out, "License Plate")
}

func TestWriteTableReport_NoCrossReferences(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTableReport(&buf, sessionReport{}, nil))
	assert.Contains(t, buf.String(), "No cross-references found.")
}

func TestWriteJSONReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSONReport(&buf, buildReport(fakeSession{}, nil)))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Len(t, got["files"], 2)
	assert.Len(t, got["cross_references"], 1)
	assert.NotContains(t, got, "errors")
}

func TestMimeClassFor(t *testing.T) {
	cases := map[string]string{
		"scene.JPG":     "image",
		"statement.txt": "document",
		"report.pdf":    "pdf",
		"cctv.mp4":      "video",
		"call.wav":      "audio",
		"noext":         "document",
	}
	for path, want := range cases {
		assert.Equal(t, want, mimeClassFor(path), path)
	}
}

func TestReadDocuments(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "witness.txt")
	require.NoError(t, os.WriteFile(p, []byte("Suspect: Ali F."), 0o600))

	docs, err := readDocuments([]string{p})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "witness.txt", docs[0].Name)
	assert.Equal(t, int64(15), docs[0].SizeBytes)
	assert.Equal(t, "document", docs[0].MimeClass)

	_, err = readDocuments([]string{filepath.Join(dir, "missing.txt")})
	assert.Error(t, err)
}

func TestReadDocuments_WalksDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cctv"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".cache"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "witness.txt"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cctv", "still.png"), []byte("b"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.txt"), []byte("c"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".cache", "x.txt"), []byte("d"), 0o600))

	docs, err := readDocuments([]string{dir})
	require.NoError(t, err)
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"witness.txt", "still.png"}, names)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "a b", truncate("a\nb", 5))
}
