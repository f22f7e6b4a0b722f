package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run is one registered pipeline run.
type Run struct {
	RunID           string
	ControlRoot     string
	RunRoot         string
	Edition         string
	Mode            string
	SourceSignature string
	Status          string
	StartedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     time.Time
}

// StageEvent is one orchestrator transition for a run.
type StageEvent struct {
	ID        int64
	RunID     string
	Stage     string
	Event     string
	Detail    string
	CreatedAt time.Time
}

const runColumns = "run_id, control_root, run_root, edition, mode, source_signature, status, started_at, updated_at, completed_at"

// RegisterRun inserts run or refreshes its mutable columns. The start time
// of an existing row is preserved.
func (s *Store) RegisterRun(ctx context.Context, run Run) error {
	if run.RunID == "" {
		return errors.New("run id is required")
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	now := run.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	started := run.StartedAt
	if started.IsZero() {
		started = now
	}
	err := s.exec(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
         ON CONFLICT(run_id) DO UPDATE SET
             control_root = excluded.control_root,
             run_root = excluded.run_root,
             source_signature = COALESCE(excluded.source_signature, runs.source_signature),
             updated_at = excluded.updated_at`,
		run.RunID, run.ControlRoot, run.RunRoot, run.Edition, run.Mode,
		nullableString(run.SourceSignature), run.Status, formatTime(started), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("register run %s: %w", run.RunID, err)
	}
	return nil
}

// SetSourceSignature records the hash of a run's resolved source parts.
func (s *Store) SetSourceSignature(ctx context.Context, runID, signature string, now time.Time) error {
	if err := s.exec(ctx, `UPDATE runs SET source_signature = ?, updated_at = ? WHERE run_id = ?`,
		signature, formatTime(now), runID); err != nil {
		return fmt.Errorf("set source signature: %w", err)
	}
	return nil
}

// MarkCompleted flags a run as completed.
func (s *Store) MarkCompleted(ctx context.Context, runID string, now time.Time) error {
	ts := formatTime(now)
	if err := s.exec(ctx, `UPDATE runs SET status = ?, completed_at = ?, updated_at = ? WHERE run_id = ?`,
		StatusCompleted, ts, ts, runID); err != nil {
		return fmt.Errorf("mark run completed: %w", err)
	}
	return nil
}

// GetRun returns the run or nil when unknown.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// LatestCompleted returns the most recently completed run other than
// excludeRunID, or nil.
func (s *Store) LatestCompleted(ctx context.Context, excludeRunID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs
         WHERE status = ? AND run_id <> ?
         ORDER BY completed_at DESC, run_id DESC LIMIT 1`,
		StatusCompleted, excludeRunID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest completed run: %w", err)
	}
	return run, nil
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// RecordStageEvent appends an orchestrator event.
func (s *Store) RecordStageEvent(ctx context.Context, ev StageEvent) error {
	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if err := s.exec(ctx,
		`INSERT INTO stage_events (run_id, stage, event, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.RunID, ev.Stage, ev.Event, nullableString(ev.Detail), formatTime(created)); err != nil {
		return fmt.Errorf("record stage event: %w", err)
	}
	return nil
}

// StageEvents returns a run's events in insertion order.
func (s *Store) StageEvents(ctx context.Context, runID string) ([]StageEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, event, detail, created_at FROM stage_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list stage events: %w", err)
	}
	defer rows.Close()
	var out []StageEvent
	for rows.Next() {
		var (
			ev      StageEvent
			detail  sql.NullString
			created sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Stage, &ev.Event, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan stage event: %w", err)
		}
		ev.Detail = detail.String
		ev.CreatedAt = parseTime(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run                         Run
		sourceSig                   sql.NullString
		started, updated, completed sql.NullString
	)
	if err := scanner.Scan(&run.RunID, &run.ControlRoot, &run.RunRoot, &run.Edition, &run.Mode,
		&sourceSig, &run.Status, &started, &updated, &completed); err != nil {
		return nil, err
	}
	run.SourceSignature = sourceSig.String
	run.StartedAt = parseTime(started)
	run.UpdatedAt = parseTime(updated)
	run.CompletedAt = parseTime(completed)
	return &run, nil
}
