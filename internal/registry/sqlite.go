package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

const (
	sqliteReadTimeout  = 5 * time.Second
	sqliteWriteTimeout = 15 * time.Second
)

const schema = `CREATE TABLE IF NOT EXISTS vehicle_registry (
    plate              TEXT PRIMARY KEY,
    display_plate      TEXT NOT NULL,
    owner              TEXT NOT NULL,
    related_case_id    TEXT NOT NULL DEFAULT '',
    related_case_title TEXT NOT NULL DEFAULT '',
    flagged            INTEGER NOT NULL DEFAULT 0,
    updated_at         TEXT NOT NULL
)`

// SQLiteRegistry implements Registry on a local SQLite database.
type SQLiteRegistry struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenSQLite opens or creates the registry database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating registry directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating vehicle_registry table: %w", err)
	}

	logger.Info("opened vehicle registry", "path", path)
	return &SQLiteRegistry{db: db, path: path, logger: logger}, nil
}

// Lookup returns the record for plate. Database errors are reported as
// ErrUnavailable so callers retry instead of treating them as a miss.
func (s *SQLiteRegistry) Lookup(ctx context.Context, plate string) (models.VehicleRecord, error) {
	rctx, cancel := context.WithTimeout(ctx, sqliteReadTimeout)
	defer cancel()

	var (
		rec     models.VehicleRecord
		flagged int
	)
	err := s.db.QueryRowContext(rctx,
		`SELECT display_plate, owner, related_case_id, related_case_title, flagged
           FROM vehicle_registry WHERE plate = ?`,
		models.Normalize(plate),
	).Scan(&rec.Plate, &rec.Owner, &rec.RelatedCaseID, &rec.RelatedCaseTitle, &flagged)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.VehicleRecord{}, fmt.Errorf("%w: %s", ErrPlateNotFound, plate)
	case err != nil:
		return models.VehicleRecord{}, fmt.Errorf("%w: query plate %s: %v", ErrUnavailable, plate, err)
	}
	rec.Flagged = flagged != 0
	return rec, nil
}

// Upsert inserts or replaces the record for rec.Plate.
func (s *SQLiteRegistry) Upsert(ctx context.Context, rec models.VehicleRecord) error {
	key := models.Normalize(rec.Plate)
	if key == "" {
		return fmt.Errorf("%w: plate must not be empty", models.ErrValidation)
	}
	wctx, cancel := context.WithTimeout(ctx, sqliteWriteTimeout)
	defer cancel()

	flagged := 0
	if rec.Flagged {
		flagged = 1
	}
	_, err := s.db.ExecContext(wctx,
		`INSERT INTO vehicle_registry (plate, display_plate, owner, related_case_id, related_case_title, flagged, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(plate) DO UPDATE SET
            display_plate = excluded.display_plate,
            owner = excluded.owner,
            related_case_id = excluded.related_case_id,
            related_case_title = excluded.related_case_title,
            flagged = excluded.flagged,
            updated_at = excluded.updated_at`,
		key, rec.Plate, rec.Owner, rec.RelatedCaseID, rec.RelatedCaseTitle, flagged,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert plate %s: %w", rec.Plate, err)
	}
	return nil
}

// Count returns the number of stored records.
func (s *SQLiteRegistry) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vehicle_registry`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting registry records: %w", err)
	}
	return n, nil
}

// Close closes the underlying database connection.
func (s *SQLiteRegistry) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
