package results

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/CommonRoad/sandra/internal/actions"
)

// Store persists runs and their per-iteration decisions in SQLite so
// batches can be queried after the CSV files have been archived.
type Store struct {
	db *sql.DB
}

// Run is one recorded simulation or open-loop evaluation.
type Run struct {
	ID        string
	Scenario  string
	Model     string
	CreatedAt time.Time
}

// Decision is one stored decision cycle of a run.
type Decision struct {
	RunID      string
	Iteration  int
	VerifiedID int
	Ranking    []actions.Action
}

// OpenStore opens (or creates) the database at path and initializes the
// schema. Use ":memory:" for an ephemeral store.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			model TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS decisions (
			run_id TEXT NOT NULL REFERENCES runs(id),
			iteration INTEGER NOT NULL,
			verified_id INTEGER NOT NULL,
			lateral TEXT NOT NULL,
			longitudinal TEXT NOT NULL,
			PRIMARY KEY (run_id, iteration)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create decisions table: %w", err)
	}
	_, err = s.db.Exec("CREATE INDEX IF NOT EXISTS idx_decisions_run ON decisions(run_id)")
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// CreateRun registers a new run and returns its generated id.
func (s *Store) CreateRun(ctx context.Context, scenario, model string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, scenario, model) VALUES (?, ?, ?)",
		id, scenario, model)
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

// RecordDecision stores one decision cycle. The ranked actions are stored
// as semicolon-separated columns, best first.
func (s *Store) RecordDecision(ctx context.Context, d Decision) error {
	lats := make([]string, 0, len(d.Ranking))
	lons := make([]string, 0, len(d.Ranking))
	for _, a := range d.Ranking {
		lats = append(lats, string(a.Lateral))
		lons = append(lons, string(a.Longitudinal))
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO decisions (run_id, iteration, verified_id, lateral, longitudinal) VALUES (?, ?, ?, ?, ?)",
		d.RunID, d.Iteration, d.VerifiedID, strings.Join(lats, ";"), strings.Join(lons, ";"))
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

// Runs lists all recorded runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, scenario, model, created_at FROM runs ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Scenario, &r.Model, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Decisions returns the decision cycles of a run ordered by iteration.
func (s *Store) Decisions(ctx context.Context, runID string) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, iteration, verified_id, lateral, longitudinal FROM decisions WHERE run_id = ? ORDER BY iteration",
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		var lats, lons string
		if err := rows.Scan(&d.RunID, &d.Iteration, &d.VerifiedID, &lats, &lons); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		if lats != "" {
			latParts := strings.Split(lats, ";")
			lonParts := strings.Split(lons, ";")
			for i := range latParts {
				a := actions.Action{Lateral: actions.Lateral(latParts[i])}
				if i < len(lonParts) {
					a.Longitudinal = actions.Longitudinal(lonParts[i])
				}
				d.Ranking = append(d.Ranking, a)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
