// Package store records training runs and their per-epoch metrics in a
// local SQLite database, so runs can be compared after the fact without
// grepping logs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const createRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	corpus_path TEXT NOT NULL,
	config_yaml TEXT NOT NULL,
	seed INTEGER NOT NULL,
	started_at_utc TEXT NOT NULL,
	finished_at_utc TEXT NOT NULL DEFAULT ''
)`

const createEpochsTableSQL = `
CREATE TABLE IF NOT EXISTS epochs (
	run_id TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	train_loss REAL NOT NULL,
	train_acc REAL NOT NULL,
	val_loss REAL NOT NULL,
	val_acc REAL NOT NULL,
	improved INTEGER NOT NULL,
	recorded_at_utc TEXT NOT NULL,
	PRIMARY KEY (run_id, epoch),
	FOREIGN KEY (run_id) REFERENCES runs(id)
)`

var createIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind)`,
	`CREATE INDEX IF NOT EXISTS idx_epochs_run ON epochs(run_id)`,
}

const insertRunSQL = `
INSERT INTO runs (id, kind, corpus_path, config_yaml, seed, started_at_utc)
VALUES (?, ?, ?, ?, ?, ?)`

const finishRunSQL = `UPDATE runs SET finished_at_utc = ? WHERE id = ?`

const insertEpochSQL = `
INSERT INTO epochs (run_id, epoch, train_loss, train_acc, val_loss, val_acc, improved, recorded_at_utc)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const selectEpochsSQL = `
SELECT epoch, train_loss, train_acc, val_loss, val_acc, improved
FROM epochs WHERE run_id = ? ORDER BY epoch`

// Run identifies one training invocation.
type Run struct {
	ID         string
	Kind       string
	CorpusPath string
	ConfigYAML string
	Seed       int64
}

// EpochRecord is one row of per-epoch metrics.
type EpochRecord struct {
	Epoch     int
	TrainLoss float64
	TrainAcc  float64
	ValLoss   float64
	ValAcc    float64
	Improved  bool
}

// Store wraps the runs database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the runs database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(createRunsTableSQL); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	if _, err := s.db.Exec(createEpochsTableSQL); err != nil {
		return fmt.Errorf("create epochs table: %w", err)
	}
	for _, stmt := range createIndexesSQL {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// BeginRun registers a new run and returns it with a fresh ID.
func (s *Store) BeginRun(ctx context.Context, kind, corpusPath, configYAML string, seed int64) (Run, error) {
	run := Run{
		ID:         uuid.NewString(),
		Kind:       kind,
		CorpusPath: corpusPath,
		ConfigYAML: configYAML,
		Seed:       seed,
	}
	_, err := s.db.ExecContext(ctx, insertRunSQL,
		run.ID, run.Kind, run.CorpusPath, run.ConfigYAML, run.Seed,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun stamps the run's end time.
func (s *Store) FinishRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, finishRunSQL, time.Now().UTC().Format(time.RFC3339), runID); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecordEpoch appends one epoch's metrics to a run.
func (s *Store) RecordEpoch(ctx context.Context, runID string, rec EpochRecord) error {
	improved := 0
	if rec.Improved {
		improved = 1
	}
	_, err := s.db.ExecContext(ctx, insertEpochSQL,
		runID, rec.Epoch, rec.TrainLoss, rec.TrainAcc, rec.ValLoss, rec.ValAcc, improved,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert epoch: %w", err)
	}
	return nil
}

// Epochs returns a run's metrics ordered by epoch.
func (s *Store) Epochs(ctx context.Context, runID string) ([]EpochRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectEpochsSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("query epochs: %w", err)
	}
	defer rows.Close()

	var out []EpochRecord
	for rows.Next() {
		var rec EpochRecord
		var improved int
		if err := rows.Scan(&rec.Epoch, &rec.TrainLoss, &rec.TrainAcc, &rec.ValLoss, &rec.ValAcc, &improved); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		rec.Improved = improved == 1
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate epochs: %w", err)
	}
	return out, nil
}
