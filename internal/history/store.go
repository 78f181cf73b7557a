// Package history keeps a local SQLite record of past runs.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joshsymonds/gmailer/internal/runner"
)

// Store is a SQLite-backed run log.
type Store struct {
	db *sqlx.DB
}

// Run is one recorded run without its outcomes.
type Run struct {
	ID       string
	Origin   string
	Started  time.Time
	Finished time.Time
	DryRun   bool
	Rules    int
	Failed   int
	Mutated  int
}

type runRow struct {
	ID         string `db:"id"`
	Origin     string `db:"origin"`
	StartedAt  int64  `db:"started_at"`
	FinishedAt int64  `db:"finished_at"`
	DryRun     bool   `db:"dry_run"`
	Rules      int    `db:"rules"`
	Failed     int    `db:"failed"`
	Mutated    int    `db:"mutated"`
}

type outcomeRow struct {
	Rule       string `db:"rule"`
	Source     string `db:"source"`
	Matched    int    `db:"matched"`
	Mutated    int    `db:"mutated"`
	DurationMS int64  `db:"duration_ms"`
	Error      string `db:"error"`
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	currentVersion := 0
	var tableCount int
	err := s.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}
	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Record stores rep and its outcomes in one transaction.
func (s *Store) Record(ctx context.Context, origin string, rep runner.Report) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, origin, started_at, finished_at, dry_run, rules, failed, mutated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.RunID, origin, rep.Started.UnixNano(), rep.Finished.UnixNano(), rep.DryRun,
		len(rep.Outcomes), rep.Failed(), rep.Mutated(),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", rep.RunID, err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO outcomes (run_id, position, rule, source, matched, mutated, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing outcome insert: %w", err)
	}
	defer stmt.Close()
	for i, o := range rep.Outcomes {
		_, err := stmt.ExecContext(ctx,
			rep.RunID, i, o.Rule, o.Source, o.Matched, o.Mutated, o.Duration.Milliseconds(), o.Error)
		if err != nil {
			return fmt.Errorf("inserting outcome %d of run %s: %w", i, rep.RunID, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM runs ORDER BY started_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	runs := make([]Run, len(rows))
	for i, r := range rows {
		runs[i] = Run{
			ID:       r.ID,
			Origin:   r.Origin,
			Started:  time.Unix(0, r.StartedAt),
			Finished: time.Unix(0, r.FinishedAt),
			DryRun:   r.DryRun,
			Rules:    r.Rules,
			Failed:   r.Failed,
			Mutated:  r.Mutated,
		}
	}
	return runs, nil
}

// Outcomes returns the outcomes of one run in execution order.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]runner.Outcome, error) {
	var rows []outcomeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT rule, source, matched, mutated, duration_ms, error
		FROM outcomes WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing outcomes of %s: %w", runID, err)
	}
	out := make([]runner.Outcome, len(rows))
	for i, r := range rows {
		out[i] = runner.Outcome{
			Rule:     r.Rule,
			Source:   r.Source,
			Matched:  r.Matched,
			Mutated:  r.Mutated,
			Duration: time.Duration(r.DurationMS) * time.Millisecond,
			Error:    r.Error,
		}
	}
	return out, nil
}
