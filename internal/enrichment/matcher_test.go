package enrichment_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/evidence-correlator/internal/enrichment"
	"github.com/ajitpratap0/evidence-correlator/internal/metrics"
	"github.com/ajitpratap0/evidence-correlator/internal/models"
	"github.com/ajitpratap0/evidence-correlator/internal/registry"
)

var albarsha = models.VehicleRecord{
	Plate:            "2465",
	Owner:            "Ahmed R.",
	RelatedCaseID:    "#288",
	RelatedCaseTitle: "Al Barsha Mall Theft Case",
}

// flakyRegistry fails with ErrUnavailable for the first failures calls.
type flakyRegistry struct {
	inner    registry.Registry
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyRegistry) Lookup(ctx context.Context, plate string) (models.VehicleRecord, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return models.VehicleRecord{}, registry.ErrUnavailable
	}
	return f.inner.Lookup(ctx, plate)
}

func (f *flakyRegistry) Close() error { return nil }

func fastOptions() enrichment.Options {
	return enrichment.Options{LookupTimeout: time.Second, MaxRetries: 2, InitialBackoff: time.Millisecond}
}

func newTestMatcher(t *testing.T, reg registry.Registry) (*enrichment.Matcher, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	return enrichment.NewMatcher(reg, m, fastOptions(), slog.New(slog.NewTextHandler(io.Discard, nil))), m
}

var seq uint64

func ent(fileID string, typ models.EntityType, raw string) models.ExtractedEntity {
	seq++
	return models.ExtractedEntity{
		ID:              "e" + raw,
		FileID:          fileID,
		Type:            typ,
		RawValue:        raw,
		NormalizedValue: models.Normalize(raw),
		ConfidenceScore: 95,
		ConfidenceBand:  models.BandHigh,
		ExtractedAt:     seq,
	}
}

func TestMatcher_PlateThenLocation(t *testing.T) {
	ctx := context.Background()
	mt, m := newTestMatcher(t, registry.NewMemoryRegistry(albarsha))

	plate := ent("F1", models.EntityTypeLicensePlate, "2465")
	require.NoError(t, mt.OnPlate(ctx, plate))

	// The suggestion does not wait for a location.
	sugs := mt.Suggestions("F1", false)
	require.Len(t, sugs, 1)
	assert.Equal(t, "#288", sugs[0].CaseID)
	assert.Equal(t, "Al Barsha Mall Theft Case", sugs[0].CaseTitle)
	assert.Equal(t, []string{"Ahmed R.", "2465"}, sugs[0].SharedEntityValues)
	assert.Equal(t, enrichment.RegistryMatchConfidence, sugs[0].ConfidenceScore)
	assert.Equal(t, "Vehicle 2465 registered to Ahmed R. from another ongoing case", sugs[0].Reason)
	assert.Equal(t, models.SuggestionOpen, sugs[0].State)
	assert.Empty(t, mt.Timeline("F1"))

	mt.OnLocation(ent("F1", models.EntityTypeLocation, "Al Barsha Mall"))

	tl := mt.Timeline("F1")
	require.Len(t, tl, 1)
	assert.Equal(t, "Ahmed R.", tl[0].EntityName)
	assert.Equal(t, enrichment.EventVehicleSpotted, tl[0].EventLabel)
	assert.Equal(t, "Al Barsha Mall", tl[0].Location)
	assert.Equal(t, "F1", tl[0].SourceFileID)
	assert.Equal(t, plate.ExtractedAt, tl[0].ObservedAt)
	assert.NotEmpty(t, tl[0].ID)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TimelineEntries))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CaseLinkSuggestions))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RegistryLookups.WithLabelValues(metrics.LookupHit)))
}

func TestMatcher_LocationThenPlate(t *testing.T) {
	ctx := context.Background()
	mt, _ := newTestMatcher(t, registry.NewMemoryRegistry(albarsha))

	mt.OnLocation(ent("F1", models.EntityTypeLocation, "Al Barsha Mall"))
	mt.OnLocation(ent("F1", models.EntityTypeLocation, "Deira"))
	require.NoError(t, mt.OnPlate(ctx, ent("F1", models.EntityTypeLicensePlate, "2465")))

	tl := mt.Timeline("")
	require.Len(t, tl, 1)
	assert.Equal(t, "Al Barsha Mall", tl[0].Location, "first location of the file wins")
}

func TestMatcher_LocationFromOtherFileIgnored(t *testing.T) {
	ctx := context.Background()
	mt, _ := newTestMatcher(t, registry.NewMemoryRegistry(albarsha))

	mt.OnLocation(ent("F2", models.EntityTypeLocation, "Deira"))
	require.NoError(t, mt.OnPlate(ctx, ent("F1", models.EntityTypeLicensePlate, "2465")))
	assert.Empty(t, mt.Timeline(""))
}

func TestMatcher_Miss(t *testing.T) {
	ctx := context.Background()
	mt, m := newTestMatcher(t, registry.NewMemoryRegistry(albarsha))

	mt.OnLocation(ent("F1", models.EntityTypeLocation, "Al Barsha Mall"))
	require.NoError(t, mt.OnPlate(ctx, ent("F1", models.EntityTypeLicensePlate, "9999")))

	assert.Empty(t, mt.Timeline(""))
	assert.Empty(t, mt.Suggestions("", true))
	assert.Equal(t, 0, mt.DeferredCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RegistryLookups.WithLabelValues(metrics.LookupMiss)))
}

func TestMatcher_IgnoresOtherTypes(t *testing.T) {
	mt, _ := newTestMatcher(t, registry.NewMemoryRegistry(albarsha))
	require.NoError(t, mt.OnPlate(context.Background(), ent("F1", models.EntityTypePerson, "2465")))
	mt.OnLocation(ent("F1", models.EntityTypePerson, "Al Barsha Mall"))
	assert.Empty(t, mt.Suggestions("", true))
}

func TestMatcher_Dedupe(t *testing.T) {
	ctx := context.Background()
	mt, _ := newTestMatcher(t, registry.NewMemoryRegistry(albarsha))

	mt.OnLocation(ent("F1", models.EntityTypeLocation, "Al Barsha Mall"))
	for i := 0; i < 3; i++ {
		require.NoError(t, mt.OnPlate(ctx, ent("F1", models.EntityTypeLicensePlate, " 2465")))
	}
	assert.Len(t, mt.Timeline("F1"), 1)
	assert.Len(t, mt.Suggestions("F1", true), 1)

	// A different file gets its own entry and suggestion.
	mt.OnLocation(ent("F2", models.EntityTypeLocation, "Deira"))
	require.NoError(t, mt.OnPlate(ctx, ent("F2", models.EntityTypeLicensePlate, "2465")))
	assert.Len(t, mt.Timeline(""), 2)
	assert.Len(t, mt.Suggestions("", true), 2)
}

func TestMatcher_TwoPlatesOneCase(t *testing.T) {
	ctx := context.Background()
	second := models.VehicleRecord{
		Plate:            "7781",
		Owner:            "Khalid M.",
		RelatedCaseID:    albarsha.RelatedCaseID,
		RelatedCaseTitle: albarsha.RelatedCaseTitle,
	}
	mt, _ := newTestMatcher(t, registry.NewMemoryRegistry(albarsha, second))

	mt.OnLocation(ent("F1", models.EntityTypeLocation, "Al Barsha Mall"))
	require.NoError(t, mt.OnPlate(ctx, ent("F1", models.EntityTypeLicensePlate, "2465")))
	require.NoError(t, mt.OnPlate(ctx, ent("F1", models.EntityTypeLicensePlate, "7781")))

	sugs := mt.Suggestions("F1", true)
	require.Len(t, sugs, 1)
	assert.Equal(t, "#288", sugs[0].CaseID)
	assert.Equal(t, []string{"Ahmed R.", "2465"}, sugs[0].SharedEntityValues)

	tl := mt.Timeline("F1")
	require.Len(t, tl, 2)
	assert.Equal(t, "Ahmed R.", tl[0].EntityName)
	assert.Equal(t, "Khalid M.", tl[1].EntityName)
}

func TestMatcher_PendingDroppedOnClose(t *testing.T) {
	ctx := context.Background()
	mt, m := newTestMatcher(t, registry.NewMemoryRegistry(albarsha))

	require.NoError(t, mt.OnPlate(ctx, ent("F1", models.EntityTypeLicensePlate, "2465")))
	mt.FileClosed("F1")
	mt.OnLocation(ent("F1", models.EntityTypeLocation, "Al Barsha Mall"))

	assert.Empty(t, mt.Timeline(""))
	assert.Len(t, mt.Suggestions("F1", false), 1, "suggestion survives the close")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PendingMatchesDropped))
}

func TestMatcher_NoRelatedCaseNoSuggestion(t *testing.T) {
	ctx := context.Background()
	mt, m := newTestMatcher(t, registry.NewMemoryRegistry(models.VehicleRecord{Plate: "B 77", Owner: "Sara K.", Flagged: true}))

	mt.OnLocation(ent("F1", models.EntityTypeLocation, "Jumeirah"))
	require.NoError(t, mt.OnPlate(ctx, ent("F1", models.EntityTypeLicensePlate, "b 77")))

	assert.Empty(t, mt.Suggestions("", true))
	tl := mt.Timeline("")
	require.Len(t, tl, 1)
	assert.True(t, tl[0].Flagged)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RegistryFlaggedHits))
}

func TestMatcher_RetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	reg := &flakyRegistry{inner: registry.NewMemoryRegistry(albarsha)}
	reg.failures.Store(2)
	mt, _ := newTestMatcher(t, reg)

	require.NoError(t, mt.OnPlate(ctx, ent("F1", models.EntityTypeLicensePlate, "2465")))
	assert.Equal(t, int32(3), reg.calls.Load())
	assert.Len(t, mt.Suggestions("F1", false), 1)
}

func TestMatcher_UnavailableIsNotAMiss(t *testing.T) {
	ctx := context.Background()
	reg := &flakyRegistry{inner: registry.NewMemoryRegistry(albarsha)}
	reg.failures.Store(100)
	mt, m := newTestMatcher(t, reg)

	err := mt.OnPlate(ctx, ent("F1", models.EntityTypeLicensePlate, "2465"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrUnavailable))
	assert.Equal(t, 1, mt.DeferredCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RegistryLookups.WithLabelValues(metrics.LookupUnavailable)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.RegistryLookups.WithLabelValues(metrics.LookupMiss)))

	// Registry recovers.
	reg.failures.Store(0)
	mt.OnLocation(ent("F1", models.EntityTypeLocation, "Al Barsha Mall"))
	resolved, err := mt.RetryDeferred(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 0, mt.DeferredCount())
	assert.Len(t, mt.Timeline("F1"), 1)
	assert.Len(t, mt.Suggestions("F1", false), 1)
}

func TestMatcher_RetryDeferredStillFailing(t *testing.T) {
	ctx := context.Background()
	reg := &flakyRegistry{inner: registry.NewMemoryRegistry(albarsha)}
	reg.failures.Store(1000)
	mt, _ := newTestMatcher(t, reg)

	_ = mt.OnPlate(ctx, ent("F1", models.EntityTypeLicensePlate, "2465"))
	resolved, err := mt.RetryDeferred(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, resolved)
	assert.Equal(t, 1, mt.DeferredCount())
}

func TestMatcher_MarkSuggestion(t *testing.T) {
	ctx := context.Background()
	mt, _ := newTestMatcher(t, registry.NewMemoryRegistry(albarsha))
	require.NoError(t, mt.OnPlate(ctx, ent("F1", models.EntityTypeLicensePlate, "2465")))

	s, err := mt.MarkSuggestion("F1", "#288", models.SuggestionDismissed)
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionDismissed, s.State)
	assert.Empty(t, mt.Suggestions("F1", false))
	assert.Len(t, mt.Suggestions("F1", true), 1)

	_, err = mt.MarkSuggestion("F1", "#999", models.SuggestionAccepted)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = mt.MarkSuggestion("F1", "#288", models.SuggestionState("linked"))
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestMatcher_ConcurrentFiles(t *testing.T) {
	ctx := context.Background()
	mt, _ := newTestMatcher(t, registry.NewMemoryRegistry(albarsha))

	files := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	var wg sync.WaitGroup
	for _, f := range files {
		wg.Add(1)
		go func(f string) {
			defer wg.Done()
			_ = mt.OnPlate(ctx, models.ExtractedEntity{FileID: f, Type: models.EntityTypeLicensePlate, RawValue: "2465", NormalizedValue: "2465"})
			mt.OnLocation(models.ExtractedEntity{FileID: f, Type: models.EntityTypeLocation, RawValue: "Mall", NormalizedValue: "mall"})
		}(f)
	}
	wg.Wait()

	assert.Len(t, mt.Timeline(""), len(files))
	assert.Len(t, mt.Suggestions("", false), len(files))
}
