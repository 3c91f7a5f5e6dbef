// Package sqlite provides a SQLite-backed implementation of the analysis cache port.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
	"github.com/ewilliams-labs/pulselight/internal/core/ports"
	_ "github.com/mattn/go-sqlite3" // Import the driver anonymously
)

var _ ports.AnalysisRepository = (*Adapter)(nil)

// Adapter implements the repository port for SQLite
type Adapter struct {
	db  *sql.DB
	now func() time.Time
}

// CachedAnalysis summarises one cache row.
type CachedAnalysis struct {
	TrackID   string
	Duration  float64
	Tempo     float64
	Segments  int
	FetchedAt time.Time
}

// NewAdapter creates a connection and runs the schema migration
func NewAdapter(storagePath string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// A :memory: database exists per connection.
	if storagePath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	adapter := &Adapter{db: db, now: time.Now}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return adapter, nil
}

// Close ensures the DB connection is closed gracefully
func (a *Adapter) Close() error {
	return a.db.Close()
}

// GetAnalysis loads a cached analysis, or domain.ErrNotFound.
func (a *Adapter) GetAnalysis(ctx context.Context, trackID string) (domain.AudioAnalysis, error) {
	row := a.db.QueryRowContext(ctx, "SELECT payload FROM analyses WHERE track_id = ?", trackID)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AudioAnalysis{}, domain.ErrNotFound
		}
		return domain.AudioAnalysis{}, fmt.Errorf("failed to load analysis: %w", err)
	}

	var analysis domain.AudioAnalysis
	if err := json.Unmarshal([]byte(payload), &analysis); err != nil {
		return domain.AudioAnalysis{}, fmt.Errorf("failed to decode analysis %s: %w", trackID, err)
	}
	return analysis, nil
}

// SaveAnalysis upserts the analysis payload.
func (a *Adapter) SaveAnalysis(ctx context.Context, analysis domain.AudioAnalysis) error {
	if analysis.TrackID == "" {
		return domain.ErrMissingTrackID
	}
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO analyses (track_id, payload, duration, tempo, segment_count, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			payload = excluded.payload,
			duration = excluded.duration,
			tempo = excluded.tempo,
			segment_count = excluded.segment_count,
			fetched_at = excluded.fetched_at
	`, analysis.TrackID, string(payload), analysis.Duration, analysis.Tempo, len(analysis.Segments), a.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

// ListAnalyses returns cached entries, most recently fetched first.
func (a *Adapter) ListAnalyses(ctx context.Context, limit int) ([]CachedAnalysis, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT track_id, IFNULL(duration, 0), IFNULL(tempo, 0), IFNULL(segment_count, 0), fetched_at
		FROM analyses
		ORDER BY fetched_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	var out []CachedAnalysis
	for rows.Next() {
		var c CachedAnalysis
		var fetchedAt sql.NullTime
		if err := rows.Scan(&c.TrackID, &c.Duration, &c.Tempo, &c.Segments, &fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		if fetchedAt.Valid {
			c.FetchedAt = fetchedAt.Time
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate analyses: %w", err)
	}
	return out, nil
}

// DeleteAnalysis evicts one entry. Missing entries are not an error.
func (a *Adapter) DeleteAnalysis(ctx context.Context, trackID string) error {
	if _, err := a.db.ExecContext(ctx, "DELETE FROM analyses WHERE track_id = ?", trackID); err != nil {
		return fmt.Errorf("failed to delete analysis: %w", err)
	}
	return nil
}

func (a *Adapter) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS analyses (
		track_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := a.db.Exec(query); err != nil {
		return err
	}

	for _, stmt := range []string{
		"ALTER TABLE analyses ADD COLUMN duration REAL",
		"ALTER TABLE analyses ADD COLUMN tempo REAL",
		"ALTER TABLE analyses ADD COLUMN segment_count INTEGER",
	} {
		if _, err := a.db.Exec(stmt); err != nil {
			if !isDuplicateColumnError(err) {
				return err
			}
		}
	}

	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "duplicate column") || strings.Contains(err.Error(), "already exists"))
}
