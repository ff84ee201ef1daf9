package run

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
	domain "github.com/ahmethakanbesel/histdata/internal/run"
)

const dateFormat = "2006-01-02"

const selectRun = `SELECT id, symbol, start_date, end_date, format, destination,
	status, error, records_count, complete, output_key, created_at, updated_at
	FROM runs`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, run *domain.Run) error {
	const query = `INSERT INTO runs (id, symbol, start_date, end_date, format, destination, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.Symbol,
		run.StartDate.Format(dateFormat), run.EndDate.Format(dateFormat),
		run.Format, run.Destination, string(run.Status),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	run.CreatedAt = time.Now().UTC()
	run.UpdatedAt = run.CreatedAt
	return nil
}

func (r *Repository) Update(ctx context.Context, run *domain.Run) error {
	const query = `UPDATE runs SET status = ?, error = ?, records_count = ?, complete = ?, output_key = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query,
		string(run.Status), nullString(run.Error), run.RecordsCount, run.Complete, nullString(run.Key), run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.New(apperror.NotFound, "run not found")
	}
	run.UpdatedAt = time.Now().UTC()
	return nil
}

// Get returns the run with its recorded units.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, "run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	run.Units, err = r.listUnits(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns the latest 100 runs, newest first, without their units.
func (r *Repository) List(ctx context.Context, symbol string) ([]domain.Run, error) {
	query := selectRun
	var args []any
	if symbol != "" {
		query += " WHERE symbol = ?"
		args = append(args, symbol)
	}
	query += " ORDER BY seq DESC LIMIT 100"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

func (r *Repository) FindActive(ctx context.Context, symbol, from, to, format, destination string) (*domain.Run, error) {
	const where = ` WHERE symbol = ? AND start_date = ? AND end_date = ?
		  AND format = ? AND destination = ?
		  AND status IN ('pending', 'running')
		ORDER BY seq ASC LIMIT 1`

	run, err := scanRun(r.db.QueryRowContext(ctx, selectRun+where, symbol, from, to, format, destination))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active run: %w", err)
	}
	return run, nil
}

func (r *Repository) ClaimPending(ctx context.Context) (*domain.Run, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim pending: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM runs WHERE status = 'pending' ORDER BY seq ASC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending: select: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status = 'running', updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now') WHERE id = ?`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("claim pending: update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim pending: commit: %w", err)
	}

	return r.Get(ctx, id)
}

// RecoverStale re-queues runs a previous process left running and clears
// their partial unit records.
func (r *Repository) RecoverStale(ctx context.Context) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("recover stale runs: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM run_units WHERE run_id IN (SELECT id FROM runs WHERE status = 'running')`,
	); err != nil {
		return 0, fmt.Errorf("recover stale runs: clear units: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE runs SET status = 'pending', error = NULL,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE status = 'running'`)
	if err != nil {
		return 0, fmt.Errorf("recover stale runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover stale runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("recover stale runs: commit: %w", err)
	}
	return n, nil
}

// SaveUnits replaces the unit records of a run.
func (r *Repository) SaveUnits(ctx context.Context, runID string, units []domain.Unit) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save units: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_units WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("save units: delete: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_units (run_id, year, worker, status, row_count, error) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("save units: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, u := range units {
		if _, err := stmt.ExecContext(ctx, runID, u.Year, u.Worker, u.Status, u.Rows, nullString(u.Error)); err != nil {
			return fmt.Errorf("save units: insert %d: %w", u.Year, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save units: commit: %w", err)
	}
	return nil
}

func (r *Repository) listUnits(ctx context.Context, runID string) ([]domain.Unit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT year, worker, status, row_count, error FROM run_units WHERE run_id = ? ORDER BY year ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var units []domain.Unit
	for rows.Next() {
		var u domain.Unit
		var dbErr sql.NullString
		if err := rows.Scan(&u.Year, &u.Worker, &u.Status, &u.Rows, &dbErr); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		u.Error = dbErr.String
		units = append(units, u)
	}
	return units, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.Run, error) {
	run := &domain.Run{}
	var startStr, endStr, status, createdStr, updatedStr string
	var dbErr, key sql.NullString

	if err := s.Scan(
		&run.ID, &run.Symbol, &startStr, &endStr, &run.Format, &run.Destination,
		&status, &dbErr, &run.RecordsCount, &run.Complete, &key,
		&createdStr, &updatedStr,
	); err != nil {
		return nil, err
	}

	run.Status = domain.Status(status)
	run.Error = dbErr.String
	run.Key = key.String
	run.StartDate, _ = time.Parse(dateFormat, startStr)
	run.EndDate, _ = time.Parse(dateFormat, endStr)
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
