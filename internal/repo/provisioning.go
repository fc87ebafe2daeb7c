package repo

import (
	"context"
	"database/sql"
	"time"

	"upkeep/internal/domain"
)

const provisioningColumns = `origin_kind,origin_id,task_id,assignment_id,employee_id,status,COALESCE(message,''),attempts,created_at,updated_at`

func (r Repo) GetProvisioning(ctx context.Context, originKind, originID string) (domain.ProvisioningRecord, error) {
	return r.GetProvisioningTx(ctx, nil, originKind, originID)
}

func (r Repo) GetProvisioningTx(ctx context.Context, tx *sql.Tx, originKind, originID string) (domain.ProvisioningRecord, error) {
	p, err := scanProvisioning(r.q(tx).QueryRowContext(ctx, `SELECT `+provisioningColumns+` FROM provisioning_records WHERE origin_kind=? AND origin_id=?`, originKind, originID))
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// ClaimProvisioning marks an origin in_flight for the caller. A new origin is
// always claimable; an existing row only when it failed or when an earlier
// claim went quiet before staleBefore. Completed rows and live claims are
// returned unchanged with claimed=false. Run it inside a transaction.
func (r Repo) ClaimProvisioning(ctx context.Context, tx *sql.Tx, originKind, originID string, now, staleBefore time.Time) (domain.ProvisioningRecord, bool, error) {
	q := r.q(tx)
	res, err := q.ExecContext(ctx, `INSERT INTO provisioning_records(origin_kind,origin_id,status,attempts,created_at,updated_at)
VALUES (?,?,?,1,?,?)
ON CONFLICT(origin_kind,origin_id) DO NOTHING`,
		originKind, originID, domain.ProvisionInFlight, formatTS(now), formatTS(now))
	if err != nil {
		return domain.ProvisioningRecord{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.ProvisioningRecord{}, false, err
	}
	if n == 0 {
		res, err = q.ExecContext(ctx, `UPDATE provisioning_records SET status=?, message=NULL, attempts=attempts+1, updated_at=?
WHERE origin_kind=? AND origin_id=?
  AND (status IN (?,?) OR (status IN (?,?) AND updated_at < ?))`,
			domain.ProvisionInFlight, formatTS(now), originKind, originID,
			domain.ProvisionFailed, domain.ProvisionAssignmentFailed,
			domain.ProvisionInFlight, domain.ProvisionTaskCreated, formatTS(staleBefore))
		if err != nil {
			return domain.ProvisioningRecord{}, false, err
		}
		if n, err = res.RowsAffected(); err != nil {
			return domain.ProvisioningRecord{}, false, err
		}
	}
	p, err := r.GetProvisioningTx(ctx, tx, originKind, originID)
	return p, n == 1, err
}

// UpsertProvisioning records the latest saga state for an origin. Ids already
// stored are kept when p leaves them empty.
func (r Repo) UpsertProvisioning(ctx context.Context, tx *sql.Tx, p domain.ProvisioningRecord) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO provisioning_records(origin_kind,origin_id,task_id,assignment_id,employee_id,status,message,attempts,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,1,?,?)
ON CONFLICT(origin_kind,origin_id) DO UPDATE SET
  task_id=COALESCE(excluded.task_id, provisioning_records.task_id),
  assignment_id=COALESCE(excluded.assignment_id, provisioning_records.assignment_id),
  employee_id=COALESCE(excluded.employee_id, provisioning_records.employee_id),
  status=excluded.status,
  message=excluded.message,
  updated_at=excluded.updated_at`,
		p.OriginKind, p.OriginID, nullableStringPtr(p.TaskID), nullableStringPtr(p.AssignmentID), nullableStringPtr(p.EmployeeID),
		p.Status, nullable(p.Message), formatTS(p.CreatedAt), formatTS(p.UpdatedAt))
	return err
}

// ListProvisioning returns ledger rows, optionally filtered by status.
func (r Repo) ListProvisioning(ctx context.Context, status string) ([]domain.ProvisioningRecord, error) {
	query := `SELECT ` + provisioningColumns + ` FROM provisioning_records`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProvisioningRecord
	for rows.Next() {
		p, err := scanProvisioning(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// JobsAwaitingProvisioning lists InProgress jobs activated before the given
// time whose provisioning never completed. Jobs with a claim touched at or
// after before are still being provisioned and are left out.
func (r Repo) JobsAwaitingProvisioning(ctx context.Context, before time.Time, limit int) ([]string, error) {
	query := `SELECT j.id FROM schedule_jobs j
LEFT JOIN provisioning_records p ON p.origin_kind='job' AND p.origin_id=j.id
WHERE j.status=? AND j.updated_at < ?
  AND (p.status IS NULL OR (p.status<>? AND NOT (p.status IN (?,?) AND p.updated_at >= ?)))
ORDER BY j.run_date, j.id`
	args := []any{domain.JobStatusInProgress, formatTS(before), domain.ProvisionCompleted,
		domain.ProvisionInFlight, domain.ProvisionTaskCreated, formatTS(before)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanProvisioning(s scanner) (domain.ProvisioningRecord, error) {
	var p domain.ProvisioningRecord
	var taskID, assignmentID, employeeID sql.NullString
	var created, updated string
	if err := s.Scan(&p.OriginKind, &p.OriginID, &taskID, &assignmentID, &employeeID, &p.Status, &p.Message, &p.Attempts, &created, &updated); err != nil {
		return p, err
	}
	if employeeID.Valid {
		p.EmployeeID = &employeeID.String
	}
	if taskID.Valid {
		p.TaskID = &taskID.String
	}
	if assignmentID.Valid {
		p.AssignmentID = &assignmentID.String
	}
	var err error
	if p.CreatedAt, err = parseTS(created); err != nil {
		return p, err
	}
	p.UpdatedAt, err = parseTS(updated)
	return p, err
}
