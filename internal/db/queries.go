package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lucasnoah/qafactory/internal/pipeline"
)

// Run represents a row in the runs table.
type Run struct {
	RunID         string
	Question      string
	Status        string
	FailureReason string
	BackwardCount int
	EvidenceCount int
	StartedAt     string
	FinishedAt    string
}

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID        int
	RunID     string
	Event     string
	Stage     string
	Attempt   int
	Detail    string
	Timestamp string
}

// StageAttempt represents a row in the stage_attempts table.
type StageAttempt struct {
	ID         int
	RunID      string
	Stage      string
	Invocation int
	Attempt    int
	Passed     bool
	Terminal   bool
	Kind       string
	Reason     string
	Source     string
	Accepted   int
	DurationMs int64
	Timestamp  string
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// StartRun records a new run as running.
func (d *DB) StartRun(runID, question string) error {
	_, err := d.conn.Exec(
		d.Rebind(`INSERT INTO runs (run_id, question, status, started_at) VALUES (?, ?, ?, ?)`),
		runID, question, pipeline.StatusRunning, now(),
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of a run.
func (d *DB) FinishRun(runID, status, reason string, backwardCount, evidenceCount int) error {
	res, err := d.conn.Exec(
		d.Rebind(`UPDATE runs SET status = ?, failure_reason = ?, backward_count = ?, evidence_count = ?, finished_at = ?
		 WHERE run_id = ?`),
		status, nullString(reason), backwardCount, evidenceCount, now(), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun returns a run, or nil if it does not exist.
func (d *DB) GetRun(runID string) (*Run, error) {
	row := d.conn.QueryRow(
		d.Rebind(`SELECT run_id, question, status, failure_reason, backward_count, evidence_count, started_at, finished_at
		 FROM runs WHERE run_id = ?`),
		runID,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. An empty status returns all;
// limit <= 0 means no limit.
func (d *DB) ListRuns(status string, limit int) ([]Run, error) {
	q := `SELECT run_id, question, status, failure_reason, backward_count, evidence_count, started_at, finished_at FROM runs`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY started_at DESC, run_id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.conn.Query(d.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var reason, finished sql.NullString
	if err := s.Scan(&r.RunID, &r.Question, &r.Status, &reason, &r.BackwardCount, &r.EvidenceCount, &r.StartedAt, &finished); err != nil {
		return nil, err
	}
	r.FailureReason = reason.String
	r.FinishedAt = finished.String
	return &r, nil
}

// LogRunEvent inserts a run-level event such as a routing decision.
func (d *DB) LogRunEvent(runID, event, stage string, attempt int, detail string) error {
	_, err := d.conn.Exec(
		d.Rebind(`INSERT INTO run_events (run_id, event, stage, attempt, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?)`),
		runID, event, nullString(stage), attempt, nullString(detail), now(),
	)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// GetRunEvents returns every event for a run in order.
func (d *DB) GetRunEvents(runID string) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		d.Rebind(`SELECT id, run_id, event, stage, attempt, detail, timestamp
		 FROM run_events WHERE run_id = ? ORDER BY id`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var stage, detail sql.NullString
		var attempt sql.NullInt64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &stage, &attempt, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.Stage = stage.String
		e.Attempt = int(attempt.Int64)
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// LogAttempt records one stage attempt outcome.
func (d *DB) LogAttempt(runID string, o pipeline.Outcome) error {
	ts := o.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := d.conn.Exec(
		d.Rebind(`INSERT INTO stage_attempts
		 (run_id, stage, invocation, attempt, passed, terminal, kind, reason, source, accepted, duration_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		runID, string(o.Stage), o.Invocation, o.Attempt, o.Passed(), o.Terminal,
		nullString(string(o.Kind)), nullString(o.Reason), nullString(string(o.Source)),
		o.Accepted, o.DurationMS, ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log attempt: %w", err)
	}
	return nil
}

// GetAttempts returns every attempt recorded for a run in order.
func (d *DB) GetAttempts(runID string) ([]StageAttempt, error) {
	rows, err := d.conn.Query(
		d.Rebind(`SELECT id, run_id, stage, invocation, attempt, passed, terminal, kind, reason, source, accepted, duration_ms, timestamp
		 FROM stage_attempts WHERE run_id = ? ORDER BY id`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get attempts: %w", err)
	}
	defer rows.Close()

	var attempts []StageAttempt
	for rows.Next() {
		var a StageAttempt
		var kind, reason, source sql.NullString
		if err := rows.Scan(&a.ID, &a.RunID, &a.Stage, &a.Invocation, &a.Attempt, &a.Passed, &a.Terminal,
			&kind, &reason, &source, &a.Accepted, &a.DurationMs, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Kind = kind.String
		a.Reason = reason.String
		a.Source = source.String
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
