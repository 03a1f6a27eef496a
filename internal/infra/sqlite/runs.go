package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tutu-network/gridpool/internal/domain"
)

// ─── Run Repository ─────────────────────────────────────────────────────────

const runColumns = `id, mode, cost, size, workers, total_tasks, answer, elapsed_ns, reassigned, status, error, started_at`

// InsertRun stores a finished run and its per-worker breakdown atomically.
func (d *DB) InsertRun(rec domain.RunRecord) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Mode), rec.Cost, rec.Size, rec.Workers, rec.TotalTasks,
		rec.Answer, int64(rec.Elapsed), rec.Reassigned, string(rec.Status),
		nullStr(rec.Error), rec.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rec.ID, err)
	}

	for _, ws := range rec.PerWorker {
		_, err := tx.Exec(
			`INSERT INTO run_workers (run_id, worker, tasks, failed) VALUES (?, ?, ?, ?)`,
			rec.ID, int(ws.Worker), ws.Tasks, ws.Failed,
		)
		if err != nil {
			return fmt.Errorf("insert run %s worker %d: %w", rec.ID, ws.Worker, err)
		}
	}
	return tx.Commit()
}

// GetRun retrieves a run with its per-worker breakdown.
// Returns domain.ErrRunNotFound for an unknown id.
func (d *DB) GetRun(id string) (*domain.RunRecord, error) {
	row := d.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := d.db.Query(
		`SELECT worker, tasks, failed FROM run_workers WHERE run_id = ? ORDER BY worker`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ws domain.WorkerStat
		var worker int
		if err := rows.Scan(&worker, &ws.Tasks, &ws.Failed); err != nil {
			return nil, err
		}
		ws.Worker = domain.WorkerID(worker)
		rec.PerWorker = append(rec.PerWorker, ws)
	}
	return rec, rows.Err()
}

// ListRuns returns the most recent runs first, without per-worker rows.
// A limit of zero or less means no limit.
func (d *DB) ListRuns(limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *rec)
	}
	return runs, rows.Err()
}

// DeleteRunsBefore prunes history older than cutoff. Per-worker rows go
// with their run.
func (d *DB) DeleteRunsBefore(cutoff time.Time) (int64, error) {
	result, err := d.db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanRun(s scanner) (*domain.RunRecord, error) {
	var rec domain.RunRecord
	var mode, status string
	var elapsed, startedAt int64
	var errText sql.NullString

	err := s.Scan(&rec.ID, &mode, &rec.Cost, &rec.Size, &rec.Workers, &rec.TotalTasks,
		&rec.Answer, &elapsed, &rec.Reassigned, &status, &errText, &startedAt)
	if err != nil {
		return nil, err
	}

	rec.Mode = domain.RunMode(mode)
	rec.Status = domain.RunStatus(status)
	rec.Elapsed = time.Duration(elapsed)
	rec.StartedAt = time.Unix(0, startedAt)
	rec.Error = errText.String
	return &rec, nil
}
