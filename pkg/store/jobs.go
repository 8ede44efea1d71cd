package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
)

const jobColumns = `id, kind, status, distro, profile_name, dry_run, host_count, error, created_at, updated_at`

func scanJob(row rowScanner) (*Job, error) {
	j := &Job{}
	var errText sql.NullString
	err := row.Scan(&j.ID, &j.Kind, &j.Status, &j.Distro, &j.ProfileName, &j.DryRun,
		&j.HostCount, &errText, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Error = errText.String
	return j, nil
}

// CreateJob inserts j, assigning ID and timestamps. An empty status
// becomes pending.
func (s *Storage) CreateJob(ctx context.Context, j *Job) error {
	const op = "store.CreateJob"
	if j.Kind != KindAudit && j.Kind != KindMitigation {
		return sgerrors.E(sgerrors.KindInvalidInput, op, "unknown job kind "+j.Kind)
	}
	if j.Status == "" {
		j.Status = JobPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j.ID = uuid.New().String()
	j.CreatedAt = s.now()
	j.UpdatedAt = j.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Kind, j.Status, j.Distro, j.ProfileName, j.DryRun, j.HostCount,
		sql.NullString{String: j.Error, Valid: j.Error != ""}, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return sgerrors.E(sgerrors.KindInternal, op, err)
	}
	return nil
}

// UpdateJobStatus moves a job to status, recording errText when non-empty.
func (s *Storage) UpdateJobStatus(ctx context.Context, id, status, errText string) error {
	const op = "store.UpdateJobStatus"

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = COALESCE(?, error), updated_at = ? WHERE id = ?
	`, status, sql.NullString{String: errText, Valid: errText != ""}, s.now(), id)
	if err != nil {
		return sgerrors.E(sgerrors.KindInternal, op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(op, "job", id)
	}
	return nil
}

// GetJob returns the job with the given ID.
func (s *Storage) GetJob(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("store.GetJob", "job", id)
	}
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindInternal, "store.GetJob", err)
	}
	return j, nil
}

// ListJobs returns jobs newest first.
func (s *Storage) ListJobs(ctx context.Context, f JobFilter) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if f.Kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, f.Kind)
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindInternal, "store.ListJobs", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, sgerrors.E(sgerrors.KindInternal, "store.ListJobs", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
