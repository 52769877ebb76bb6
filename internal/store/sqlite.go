package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

// ErrNotFound is returned when a sweep is not in the store.
var ErrNotFound = errors.New("not found")

// DefaultDBPath is the trial database used when none is configured.
var DefaultDBPath = filepath.Join(DefaultDir, "sweeps.db")

// SQLite persists sweeps and their trials in a single database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the trial database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trial store: %w", err)
	}
	// Writers serialize on the database file; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sweeps (
		id TEXT PRIMARY KEY,
		name TEXT,
		fingerprint TEXT NOT NULL,
		spec TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS trials (
		id TEXT PRIMARY KEY,
		sweep_id TEXT NOT NULL REFERENCES sweeps(id),
		seq INTEGER NOT NULL,
		status TEXT NOT NULL,
		assignments TEXT NOT NULL,
		reports TEXT NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		ended_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_trials_sweep ON trials(sweep_id, seq);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveSweep records a sweep, replacing any earlier row with the same ID.
func (s *SQLite) SaveSweep(ctx context.Context, sw types.Sweep) error {
	spec, err := json.Marshal(sw.Spec)
	if err != nil {
		return fmt.Errorf("encode spec: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sweeps (id, name, fingerprint, spec, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, fingerprint = excluded.fingerprint, spec = excluded.spec`,
		sw.ID, sw.Name, sw.Fingerprint, string(spec), sw.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save sweep %s: %w", sw.ID, err)
	}
	return nil
}

// SaveTrial inserts or updates a trial. Trials keep their first-seen order.
func (s *SQLite) SaveTrial(ctx context.Context, t types.Trial) error {
	assignments, err := json.Marshal(t.Assignments)
	if err != nil {
		return fmt.Errorf("encode assignments: %w", err)
	}
	reports, err := json.Marshal(t.Reports)
	if err != nil {
		return fmt.Errorf("encode reports: %w", err)
	}
	var ended sql.NullString
	if t.EndedAt != nil {
		ended = sql.NullString{String: t.EndedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trials (id, sweep_id, seq, status, assignments, reports, error, started_at, ended_at)
		VALUES (?, ?, (SELECT COUNT(*) FROM trials WHERE sweep_id = ?), ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reports = excluded.reports,
			error = excluded.error,
			ended_at = excluded.ended_at`,
		t.ID, t.SweepID, t.SweepID, string(t.Status), string(assignments), string(reports),
		t.Error, t.StartedAt.UTC().Format(time.RFC3339Nano), ended)
	if err != nil {
		return fmt.Errorf("save trial %s: %w", t.ID, err)
	}
	return nil
}

// Sweep loads one sweep by ID.
func (s *SQLite) Sweep(ctx context.Context, id string) (types.Sweep, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, fingerprint, spec, created_at FROM sweeps WHERE id = ?`, id)
	sw, err := scanSweep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Sweep{}, fmt.Errorf("sweep %s: %w", id, ErrNotFound)
	}
	return sw, err
}

// LatestSweep returns the most recently created sweep.
func (s *SQLite) LatestSweep(ctx context.Context) (types.Sweep, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, fingerprint, spec, created_at FROM sweeps ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	sw, err := scanSweep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Sweep{}, fmt.Errorf("latest sweep: %w", ErrNotFound)
	}
	return sw, err
}

// Sweeps lists every stored sweep, oldest first.
func (s *SQLite) Sweeps(ctx context.Context) ([]types.Sweep, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, fingerprint, spec, created_at FROM sweeps ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list sweeps: %w", err)
	}
	defer rows.Close()
	var out []types.Sweep
	for rows.Next() {
		sw, err := scanSweep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sw)
	}
	return out, rows.Err()
}

// Trials returns the trials of a sweep in the order they were issued.
func (s *SQLite) Trials(ctx context.Context, sweepID string) ([]types.Trial, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sweep_id, status, assignments, reports, error, started_at, ended_at
		FROM trials WHERE sweep_id = ? ORDER BY seq`, sweepID)
	if err != nil {
		return nil, fmt.Errorf("list trials: %w", err)
	}
	defer rows.Close()
	var out []types.Trial
	for rows.Next() {
		var (
			t                   types.Trial
			status, assignments string
			reports, started    string
			errMsg, ended       sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.SweepID, &status, &assignments, &reports, &errMsg, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		t.Status = types.TrialStatus(status)
		t.Error = errMsg.String
		if err := json.Unmarshal([]byte(assignments), &t.Assignments); err != nil {
			return nil, fmt.Errorf("decode assignments of %s: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(reports), &t.Reports); err != nil {
			return nil, fmt.Errorf("decode reports of %s: %w", t.ID, err)
		}
		if t.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("decode start of %s: %w", t.ID, err)
		}
		if ended.Valid {
			end, err := time.Parse(time.RFC3339Nano, ended.String)
			if err != nil {
				return nil, fmt.Errorf("decode end of %s: %w", t.ID, err)
			}
			t.EndedAt = &end
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSweep(row scanner) (types.Sweep, error) {
	var (
		sw            types.Sweep
		name          sql.NullString
		spec, created string
	)
	if err := row.Scan(&sw.ID, &name, &sw.Fingerprint, &spec, &created); err != nil {
		return types.Sweep{}, err
	}
	sw.Name = name.String
	if err := json.Unmarshal([]byte(spec), &sw.Spec); err != nil {
		return types.Sweep{}, fmt.Errorf("decode spec of %s: %w", sw.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return types.Sweep{}, fmt.Errorf("decode creation time of %s: %w", sw.ID, err)
	}
	sw.CreatedAt = t
	return sw, nil
}
