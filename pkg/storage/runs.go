package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/odvcencio/greenlight/pkg/errors"
	"github.com/odvcencio/greenlight/pkg/report"
)

// Run status values.
const (
	RunRunning = "running"
	RunPassed  = "passed"
	RunFailed  = "failed"
	RunAborted = "aborted"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = stderrors.New("run not found")

// Run is one suite execution.
type Run struct {
	ID         string
	Engine     string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Summary    report.Summary
}

// UnitRecord is a persisted unit result.
type UnitRecord struct {
	ID          string
	RunID       string
	Name        string
	Outcome     report.Outcome
	StartedAt   time.Time
	Duration    time.Duration
	Error       string
	Attachments []report.Attachment
}

// CreateRun inserts a running run.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New(errors.ErrCodeInvalidInput, "run id required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	return s.write(ctx, "create run", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (run_id, engine, started_at, status) VALUES (?, ?, ?, ?)`,
			run.ID, run.Engine, run.StartedAt.UnixMilli(), RunRunning,
		)
		return err
	})
}

// FinishRun stamps the end of a run. An empty status is derived from the
// recorded units: failed when any unit failed, passed otherwise.
func (s *Store) FinishRun(ctx context.Context, runID string, finishedAt time.Time, status string) error {
	if status == "" {
		run, err := s.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		status = RunPassed
		if !run.Summary.OK() {
			status = RunFailed
		}
	}
	return s.write(ctx, "finish run", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE runs SET finished_at = ?, status = ? WHERE run_id = ?`,
			finishedAt.UnixMilli(), status, runID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrRunNotFound
		}
		return nil
	})
}

// Record implements report.Sink: it stores the unit and its attachments in
// one transaction.
func (s *Store) Record(ctx context.Context, result report.UnitResult) error {
	return s.write(ctx, "record unit", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO units (unit_id, run_id, name, outcome, started_at, duration_ms, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			result.UnitID, result.RunID, result.Name, string(result.Outcome),
			result.StartedAt.UnixMilli(), result.Duration.Milliseconds(), result.Error(),
		); err != nil {
			return err
		}
		for _, a := range result.Attachments {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO attachments (unit_id, name, media_type, path, data) VALUES (?, ?, ?, ?, ?)`,
				result.UnitID, a.Name, a.MediaType, a.Path, a.Data,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// GetRun loads a run with its outcome summary.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, runQuery+` WHERE r.run_id = ? GROUP BY r.run_id`, runID)
	run, err := scanRun(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrRunNotFound, errors.ErrCodeStorageRead, "run "+runID+" not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to load run")
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, runQuery+` GROUP BY r.run_id ORDER BY r.started_at DESC, r.run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to scan run")
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Prune deletes every run except the newest keep, together with their units
// and attachments. It returns how many runs were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, errors.New(errors.ErrCodeInvalidInput, "keep must be >= 0")
	}
	var removed int64
	err := s.write(ctx, "prune runs", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM runs WHERE run_id NOT IN (
				SELECT run_id FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?
			)`, keep)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}

// Units returns the units of a run in start order, with their attachments.
func (s *Store) Units(ctx context.Context, runID string) ([]UnitRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unit_id, run_id, name, outcome, started_at, duration_ms, error
		 FROM units WHERE run_id = ? ORDER BY started_at, unit_id`, runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to list units")
	}
	var units []UnitRecord
	index := make(map[string]int)
	for rows.Next() {
		var u UnitRecord
		var outcome string
		var started, durationMS int64
		if err := rows.Scan(&u.ID, &u.RunID, &u.Name, &outcome, &started, &durationMS, &u.Error); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to scan unit")
		}
		u.Outcome = report.Outcome(outcome)
		u.StartedAt = time.UnixMilli(started)
		u.Duration = time.Duration(durationMS) * time.Millisecond
		index[u.ID] = len(units)
		units = append(units, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	arows, err := s.db.QueryContext(ctx,
		`SELECT a.unit_id, a.name, a.media_type, a.path, a.data
		 FROM attachments a JOIN units u ON u.unit_id = a.unit_id
		 WHERE u.run_id = ? ORDER BY a.id`, runID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to list attachments")
	}
	defer arows.Close()
	for arows.Next() {
		var unitID string
		var a report.Attachment
		if err := arows.Scan(&unitID, &a.Name, &a.MediaType, &a.Path, &a.Data); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to scan attachment")
		}
		if i, ok := index[unitID]; ok {
			units[i].Attachments = append(units[i].Attachments, a)
		}
	}
	return units, arows.Err()
}

const runQuery = `
	SELECT r.run_id, r.engine, r.started_at, COALESCE(r.finished_at, 0), r.status,
	       COUNT(u.unit_id),
	       COALESCE(SUM(CASE WHEN u.outcome = 'passed' THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN u.outcome = 'failed' THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN u.outcome = 'skipped' THEN 1 ELSE 0 END), 0)
	FROM runs r LEFT JOIN units u ON u.run_id = r.run_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var started, finished int64
	if err := row.Scan(&run.ID, &run.Engine, &started, &finished, &run.Status,
		&run.Summary.Total, &run.Summary.Passed, &run.Summary.Failed, &run.Summary.Skipped); err != nil {
		return nil, err
	}
	run.StartedAt = time.UnixMilli(started)
	if finished > 0 {
		run.FinishedAt = time.UnixMilli(finished)
	}
	return &run, nil
}

// write runs op, retrying while SQLite reports the database busy.
func (s *Store) write(ctx context.Context, description string, op func(context.Context) error) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.retry.Do(ctx, description, op)
	if err == nil {
		return nil
	}
	if stderrors.Is(err, ErrRunNotFound) {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, description+": run not found")
	}
	return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to "+description)
}
