package tracker_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
	"github.com/ajitpratap0/evidence-correlator/internal/tracker"
)

func newTestTracker(t *testing.T) *tracker.Tracker {
	t.Helper()
	return tracker.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegister_AssignsIDAndQueued(t *testing.T) {
	tr := newTestTracker(t)
	f, err := tr.Register("cctv.mp4", 1024, "video")
	require.NoError(t, err)
	assert.NotEmpty(t, f.ID)
	assert.Equal(t, models.StatusQueued, f.Status)
	assert.Equal(t, "cctv.mp4", f.DisplayName)

	got, err := tr.Get(f.ID)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestRegisterWithID_Duplicate(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.RegisterWithID("F1", "a.pdf", 10, "document")
	require.NoError(t, err)

	_, err = tr.RegisterWithID("F1", "b.pdf", 10, "document")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidState))
}

func TestRegister_Validation(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.RegisterWithID("", "a.pdf", 10, "document")
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = tr.Register("a.pdf", -1, "document")
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestAdvance_FullLifecycle(t *testing.T) {
	tr := newTestTracker(t)
	f, err := tr.Register("a.pdf", 10, "document")
	require.NoError(t, err)

	for _, st := range []models.FileStatus{models.StatusUploading, models.StatusExtracting, models.StatusComplete} {
		got, advErr := tr.Advance(f.ID, st)
		require.NoError(t, advErr)
		assert.Equal(t, st, got.Status)
	}
}

func TestAdvance_InvalidTransition(t *testing.T) {
	tr := newTestTracker(t)
	f, err := tr.Register("a.pdf", 10, "document")
	require.NoError(t, err)

	_, err = tr.Advance(f.ID, models.StatusExtracting)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))

	got, err := tr.Get(f.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status, "rejected transition must not change status")
}

func TestAdvance_FailedIsTerminal(t *testing.T) {
	tr := newTestTracker(t)
	f, _ := tr.Register("a.pdf", 10, "document")
	_, _ = tr.Advance(f.ID, models.StatusUploading)
	_, _ = tr.Advance(f.ID, models.StatusExtracting)
	_, err := tr.Advance(f.ID, models.StatusFailed)
	require.NoError(t, err)

	_, err = tr.Advance(f.ID, models.StatusComplete)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestAdvance_NotFound(t *testing.T) {
	tr := newTestTracker(t)
	_, err := tr.Advance("missing", models.StatusUploading)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = tr.Get("missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestOnTerminal_Called(t *testing.T) {
	tr := newTestTracker(t)
	var finished []models.EvidenceFile
	tr.OnTerminal(func(f models.EvidenceFile) { finished = append(finished, f) })

	f, _ := tr.Register("a.pdf", 10, "document")
	_, _ = tr.Advance(f.ID, models.StatusUploading)
	_, _ = tr.Advance(f.ID, models.StatusExtracting)
	assert.Empty(t, finished)

	_, err := tr.Advance(f.ID, models.StatusComplete)
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, models.StatusComplete, finished[0].Status)
}

func TestCheckAccepting(t *testing.T) {
	tr := newTestTracker(t)
	f, _ := tr.Register("a.pdf", 10, "document")
	assert.True(t, errors.Is(tr.CheckAccepting(f.ID), models.ErrInvalidState))

	_, _ = tr.Advance(f.ID, models.StatusUploading)
	_, _ = tr.Advance(f.ID, models.StatusExtracting)
	assert.NoError(t, tr.CheckAccepting(f.ID))

	_, _ = tr.Advance(f.ID, models.StatusComplete)
	assert.True(t, errors.Is(tr.CheckAccepting(f.ID), models.ErrInvalidState))
	assert.True(t, errors.Is(tr.CheckAccepting("missing"), models.ErrNotFound))
}

func TestList_RegistrationOrder(t *testing.T) {
	tr := newTestTracker(t)
	_, _ = tr.RegisterWithID("b", "b", 1, "x")
	_, _ = tr.RegisterWithID("a", "a", 1, "x")
	files := tr.List()
	require.Len(t, files, 2)
	assert.Equal(t, "b", files[0].ID)
	assert.Equal(t, "a", files[1].ID)
}
