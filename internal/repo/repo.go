package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"upkeep/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns tx when set so reads inside a transaction never wait on the pool.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) InsertCycle(ctx context.Context, tx *sql.Tx, c domain.MaintenanceCycle) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO maintenance_cycles(id,name,device_type,frequency,basis,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.Name, c.DeviceType, string(c.Frequency), c.Basis, formatTS(c.CreatedAt))
	return err
}

func (r Repo) GetCycle(ctx context.Context, id string) (domain.MaintenanceCycle, error) {
	return r.GetCycleTx(ctx, nil, id)
}

func (r Repo) GetCycleTx(ctx context.Context, tx *sql.Tx, id string) (domain.MaintenanceCycle, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT id,name,device_type,frequency,basis,created_at FROM maintenance_cycles WHERE id=?`, id)
	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCycles(ctx context.Context) ([]domain.MaintenanceCycle, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,device_type,frequency,basis,created_at FROM maintenance_cycles ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MaintenanceCycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(s scanner) (domain.MaintenanceCycle, error) {
	var c domain.MaintenanceCycle
	var freq, created string
	if err := s.Scan(&c.ID, &c.Name, &c.DeviceType, &freq, &c.Basis, &created); err != nil {
		return c, err
	}
	c.Frequency = domain.Frequency(freq)
	var err error
	c.CreatedAt, err = parseTS(created)
	return c, err
}

const scheduleColumns = `id,cycle_id,name,description,start_date,end_date,status,created_at,updated_at`

func (r Repo) InsertSchedule(ctx context.Context, tx *sql.Tx, s domain.Schedule) error {
	var end any
	if s.EndDate != nil {
		end = formatDate(*s.EndDate)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO schedules(`+scheduleColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.CycleID, s.Name, nullable(s.Description), formatDate(s.StartDate), end, s.Status, formatTS(s.CreatedAt), formatTS(s.UpdatedAt))
	return err
}

func (r Repo) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	return r.GetScheduleTx(ctx, nil, id)
}

func (r Repo) GetScheduleTx(ctx context.Context, tx *sql.Tx, id string) (domain.Schedule, error) {
	s, err := scanSchedule(r.q(tx).QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// LatestScheduleForCycle returns the most recently created schedule of a cycle.
func (r Repo) LatestScheduleForCycle(ctx context.Context, cycleID string) (domain.Schedule, error) {
	return r.LatestScheduleForCycleTx(ctx, nil, cycleID)
}

func (r Repo) LatestScheduleForCycleTx(ctx context.Context, tx *sql.Tx, cycleID string) (domain.Schedule, error) {
	s, err := scanSchedule(r.q(tx).QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE cycle_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, cycleID))
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

type ScheduleFilters struct {
	CycleID string
	Status  string
}

func (r Repo) ListSchedules(ctx context.Context, f ScheduleFilters) ([]domain.Schedule, error) {
	var (
		clauses []string
		args    []any
	)
	if f.CycleID != "" {
		clauses = append(clauses, "cycle_id=?")
		args = append(args, f.CycleID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpdateScheduleStatus(ctx context.Context, tx *sql.Tx, id, status string, now time.Time) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE schedules SET status=?, updated_at=? WHERE id=?`, status, formatTS(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSchedule(s scanner) (domain.Schedule, error) {
	var sc domain.Schedule
	var desc, end sql.NullString
	var start, created, updated string
	if err := s.Scan(&sc.ID, &sc.CycleID, &sc.Name, &desc, &start, &end, &sc.Status, &created, &updated); err != nil {
		return sc, err
	}
	if desc.Valid {
		sc.Description = desc.String
	}
	var err error
	if sc.StartDate, err = parseDate(start); err != nil {
		return sc, err
	}
	if end.Valid {
		d, err := parseDate(end.String)
		if err != nil {
			return sc, err
		}
		sc.EndDate = &d
	}
	if sc.CreatedAt, err = parseTS(created); err != nil {
		return sc, err
	}
	sc.UpdatedAt, err = parseTS(updated)
	return sc, err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	var (
		clauses []string
		args    []any
	)
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return t, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(domain.DateLayout)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(domain.DateLayout, s, time.UTC)
	if err != nil {
		return t, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
