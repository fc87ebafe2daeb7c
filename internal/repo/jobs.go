package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"upkeep/internal/domain"
)

const jobColumns = `id,schedule_id,building_id,run_date,status,succession_created,created_at,updated_at`

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.ScheduleJob) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO schedule_jobs(`+jobColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		j.ID, j.ScheduleID, j.BuildingID, formatDate(j.RunDate), j.Status, boolInt(j.SuccessionCreated), formatTS(j.CreatedAt), formatTS(j.UpdatedAt))
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.ScheduleJob, error) {
	return r.GetJobTx(ctx, nil, id)
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.ScheduleJob, error) {
	j, err := scanJob(r.q(tx).QueryRowContext(ctx, `SELECT `+jobColumns+` FROM schedule_jobs WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}

// JobFilters narrows ListJobs. From is inclusive and To exclusive, both compared on run_date.
type JobFilters struct {
	ScheduleID string
	BuildingID string
	Status     string
	From       *time.Time
	To         *time.Time
	Limit      int
}

func (r Repo) ListJobs(ctx context.Context, f JobFilters) ([]domain.ScheduleJob, error) {
	var (
		clauses []string
		args    []any
	)
	if f.ScheduleID != "" {
		clauses = append(clauses, "schedule_id=?")
		args = append(args, f.ScheduleID)
	}
	if f.BuildingID != "" {
		clauses = append(clauses, "building_id=?")
		args = append(args, f.BuildingID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.From != nil {
		clauses = append(clauses, "run_date >= ?")
		args = append(args, formatDate(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "run_date < ?")
		args = append(args, formatDate(*f.To))
	}
	query := `SELECT ` + jobColumns + ` FROM schedule_jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY run_date, building_id, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduleJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// TransitionJob moves a job from one status to another only if it is still
// in the from status. It reports whether this call performed the transition.
func (r Repo) TransitionJob(ctx context.Context, tx *sql.Tx, id, from, to string, now time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE schedule_jobs SET status=?, updated_at=? WHERE id=? AND status=?`, to, formatTS(now), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkSuccessionCreated sets the succession flag once. It reports false when
// the flag was already set, meaning another caller owns the successor.
func (r Repo) MarkSuccessionCreated(ctx context.Context, tx *sql.Tx, id string, now time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE schedule_jobs SET succession_created=1, updated_at=? WHERE id=? AND succession_created=0`, formatTS(now), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountOpenJobs counts jobs of a schedule that are not Completed.
func (r Repo) CountOpenJobs(ctx context.Context, tx *sql.Tx, scheduleID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM schedule_jobs WHERE schedule_id=? AND status<>?`, scheduleID, domain.JobStatusCompleted).Scan(&n)
	return n, err
}

// CountJobsByStatus returns job counts keyed by status.
func (r Repo) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM schedule_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}

func scanJob(s scanner) (domain.ScheduleJob, error) {
	var j domain.ScheduleJob
	var run, created, updated string
	var succession int
	if err := s.Scan(&j.ID, &j.ScheduleID, &j.BuildingID, &run, &j.Status, &succession, &created, &updated); err != nil {
		return j, err
	}
	j.SuccessionCreated = succession != 0
	var err error
	if j.RunDate, err = parseDate(run); err != nil {
		return j, err
	}
	if j.CreatedAt, err = parseTS(created); err != nil {
		return j, err
	}
	j.UpdatedAt, err = parseTS(updated)
	return j, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
