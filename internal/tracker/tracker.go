// Package tracker owns the lifecycle status of submitted evidence files.
package tracker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

// TerminalFunc is called after a file reaches Complete or Failed.
type TerminalFunc func(file models.EvidenceFile)

// Tracker stores evidence files and enforces the status order
// Queued→Uploading→Extracting→Complete|Failed.
type Tracker struct {
	mu       sync.RWMutex
	files    map[string]*models.EvidenceFile
	order    []string
	onFinish []TerminalFunc
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an empty tracker.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		files:  make(map[string]*models.EvidenceFile),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OnTerminal registers fn to run after every transition into Complete or Failed.
// Callbacks run synchronously on the goroutine that called Advance, outside the
// tracker lock.
func (t *Tracker) OnTerminal(fn TerminalFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFinish = append(t.onFinish, fn)
}

// Register creates a Queued file with an engine-generated id.
func (t *Tracker) Register(name string, sizeBytes int64, mimeClass string) (models.EvidenceFile, error) {
	return t.RegisterWithID(uuid.NewString(), name, sizeBytes, mimeClass)
}

// RegisterWithID creates a Queued file with a caller-assigned id.
func (t *Tracker) RegisterWithID(id, name string, sizeBytes int64, mimeClass string) (models.EvidenceFile, error) {
	if id == "" {
		return models.EvidenceFile{}, fmt.Errorf("%w: file id must not be empty", models.ErrValidation)
	}
	if sizeBytes < 0 {
		return models.EvidenceFile{}, fmt.Errorf("%w: size must be >= 0", models.ErrValidation)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.files[id]; exists {
		return models.EvidenceFile{}, fmt.Errorf("%w: file %s already registered", models.ErrInvalidState, id)
	}

	now := t.now()
	f := &models.EvidenceFile{
		ID:          id,
		DisplayName: name,
		SizeBytes:   sizeBytes,
		MimeClass:   mimeClass,
		Status:      models.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.files[id] = f
	t.order = append(t.order, id)
	t.logger.Debug("evidence file registered", "file_id", id, "name", name)
	return *f, nil
}

// Advance moves a file to next. The status must directly follow the current one.
func (t *Tracker) Advance(id string, next models.FileStatus) (models.EvidenceFile, error) {
	t.mu.Lock()
	f, ok := t.files[id]
	if !ok {
		t.mu.Unlock()
		return models.EvidenceFile{}, fmt.Errorf("%w: file %s", models.ErrNotFound, id)
	}
	if !f.Status.CanAdvanceTo(next) {
		from := f.Status
		t.mu.Unlock()
		t.logger.Warn("rejected file status transition", "file_id", id, "from", from, "to", next)
		return models.EvidenceFile{}, fmt.Errorf("%w: %s -> %s for file %s", models.ErrInvalidTransition, from, next, id)
	}
	f.Status = next
	f.UpdatedAt = t.now()
	out := *f
	var callbacks []TerminalFunc
	if next.IsTerminal() {
		callbacks = append(callbacks, t.onFinish...)
	}
	t.mu.Unlock()

	t.logger.Info("evidence file status changed", "file_id", id, "status", next)
	for _, fn := range callbacks {
		fn(out)
	}
	return out, nil
}

// Get returns a copy of the file.
func (t *Tracker) Get(id string) (models.EvidenceFile, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.files[id]
	if !ok {
		return models.EvidenceFile{}, fmt.Errorf("%w: file %s", models.ErrNotFound, id)
	}
	return *f, nil
}

// List returns all files in registration order.
func (t *Tracker) List() []models.EvidenceFile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.EvidenceFile, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.files[id])
	}
	return out
}

// CheckAccepting returns nil when the file exists and is Extracting.
func (t *Tracker) CheckAccepting(id string) error {
	f, err := t.Get(id)
	if err != nil {
		return err
	}
	if f.Status != models.StatusExtracting {
		return fmt.Errorf("%w: file %s is %s, not extracting", models.ErrInvalidState, id, f.Status)
	}
	return nil
}
