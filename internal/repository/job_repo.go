package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"nutrient_mixer/internal/models"
)

type JobSQLite struct {
	db *sql.DB
}

func NewJobSQLite(db *sql.DB) *JobSQLite { return &JobSQLite{db: db} }

const (
	upsertJobSQL = `
		INSERT INTO jobs (id, job_type, tank_id, params, status, progress, actual_gallons, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			progress=excluded.progress,
			actual_gallons=excluded.actual_gallons,
			error=excluded.error,
			finished_at=excluded.finished_at
	`

	updateJobProgressSQL = `UPDATE jobs SET progress = ? WHERE id = ? AND progress < ?`

	selectJobsSQL = `SELECT id, job_type, tank_id, params, status, progress, actual_gallons, error, started_at, finished_at FROM jobs`
)

// Save inserts the record, or updates the outcome columns of an existing one.
func (r *JobSQLite) Save(ctx context.Context, rec models.JobRecord) error {
	var params *string
	if len(rec.Params) > 0 {
		b, err := json.Marshal(rec.Params)
		if err != nil {
			return fmt.Errorf("marshal params of job %s: %w", rec.ID, err)
		}
		s := string(b)
		params = &s
	}

	var finished *time.Time
	if rec.FinishedAt != nil {
		t := rec.FinishedAt.UTC()
		finished = &t
	}

	_, err := r.db.ExecContext(ctx, upsertJobSQL,
		rec.ID,
		string(rec.Type),
		rec.TankID,
		params,
		string(rec.Status),
		rec.Progress,
		rec.ActualGallons,
		rec.Error,
		rec.StartedAt.UTC(),
		finished,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateProgress only ever raises the stored percentage.
func (r *JobSQLite) UpdateProgress(ctx context.Context, id string, percent float64) error {
	if _, err := r.db.ExecContext(ctx, updateJobProgressSQL, percent, id, percent); err != nil {
		return fmt.Errorf("update progress of job %s: %w", id, err)
	}
	return nil
}

// List returns jobs started within [from, to] (zero bounds are open) and of
// type typ when set, oldest first.
func (r *JobSQLite) List(ctx context.Context, from, to time.Time, typ string) ([]models.JobRecord, error) {
	var (
		conds []string
		args  []any
	)
	if !from.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		conds = append(conds, "started_at <= ?")
		args = append(args, to.UTC())
	}
	if typ = strings.ToLower(strings.TrimSpace(typ)); typ != "" {
		conds = append(conds, "job_type = ?")
		args = append(args, typ)
	}

	q := selectJobsSQL
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY started_at ASC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]models.JobRecord, 0, 32)
	for rows.Next() {
		var (
			rec      models.JobRecord
			typ      string
			status   string
			params   sql.NullString
			gallons  sql.NullInt64
			errMsg   sql.NullString
			finished sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &typ, &rec.TankID, &params, &status, &rec.Progress, &gallons, &errMsg, &rec.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		rec.Type = models.JobType(typ)
		rec.Status = models.JobStatus(status)
		rec.Error = errMsg.String
		rec.StartedAt = rec.StartedAt.UTC()
		if gallons.Valid {
			g := int(gallons.Int64)
			rec.ActualGallons = &g
		}
		if finished.Valid {
			t := finished.Time.UTC()
			rec.FinishedAt = &t
		}
		if params.Valid && params.String != "" {
			if err := json.Unmarshal([]byte(params.String), &rec.Params); err != nil {
				rec.Params = map[string]any{"raw": params.String}
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}
