package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"edusched/internal/schedule"
)

// Repository persists batches in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const batchCols = `id, name, code, course_id, educator_id, sub_org_id, mode,
	start_date, end_date, capacity, enrollment_count, status,
	days_of_week, start_time, end_time, time_zone, created_by, created_at, updated_at`

func scanBatch(scan func(dest ...any) error) (Batch, error) {
	var b Batch
	var days string
	err := scan(&b.ID, &b.Name, &b.Code, &b.CourseID, &b.EducatorID, &b.SubOrgID, &b.Mode,
		&b.StartDate, &b.EndDate, &b.Capacity, &b.EnrollmentCount, &b.Status,
		&days, &b.Schedule.StartTime, &b.Schedule.EndTime, &b.Schedule.TimeZone,
		&b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Batch{}, err
	}
	if days != "" {
		b.Schedule.DaysOfWeek = strings.Split(days, ",")
	}
	return b, nil
}

// Create inserts a new batch.
func (r *Repository) Create(ctx context.Context, b Batch) (Batch, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO batches (id, name, code, course_id, educator_id, sub_org_id, mode,
			start_date, end_date, capacity, enrollment_count, status,
			days_of_week, start_time, end_time, time_zone, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING created_at, updated_at
	`, b.ID, b.Name, b.Code, b.CourseID, b.EducatorID, b.SubOrgID, b.Mode,
		b.StartDate, b.EndDate, b.Capacity, b.EnrollmentCount, b.Status,
		strings.Join(b.Schedule.DaysOfWeek, ","), b.Schedule.StartTime, b.Schedule.EndTime,
		b.Schedule.TimeZone, b.CreatedBy)
	if err := row.Scan(&b.CreatedAt, &b.UpdatedAt); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// Get returns a batch by id, nil when absent.
func (r *Repository) Get(ctx context.Context, id string) (*Batch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+batchCols+` FROM batches WHERE id = $1`, id)
	b, err := scanBatch(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// Update overwrites the mutable fields of a batch.
func (r *Repository) Update(ctx context.Context, b Batch) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE batches
		SET name = $2, code = $3, educator_id = $4, sub_org_id = $5, mode = $6,
			start_date = $7, end_date = $8, capacity = $9, status = $10,
			days_of_week = $11, start_time = $12, end_time = $13, time_zone = $14,
			updated_at = NOW()
		WHERE id = $1
	`, b.ID, b.Name, b.Code, b.EducatorID, b.SubOrgID, b.Mode,
		b.StartDate, b.EndDate, b.Capacity, b.Status,
		strings.Join(b.Schedule.DaysOfWeek, ","), b.Schedule.StartTime, b.Schedule.EndTime,
		b.Schedule.TimeZone)
	return err
}

// UpdateStatus sets the lifecycle status.
func (r *Repository) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE batches SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return err
}

// ListActiveByEducator returns the educator's draft/published/ongoing
// batches whose weekday set intersects days, excluding excludeID. The
// weekday pre-filter runs in Go because day sets are stored joined.
func (r *Repository) ListActiveByEducator(ctx context.Context, educatorID, excludeID string, days []string) ([]Batch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+batchCols+`
		FROM batches
		WHERE educator_id = $1 AND id <> $2 AND status = ANY($3)
	`, educatorID, excludeID, "{"+strings.Join(ActiveStatuses, ",")+"}")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Batch
	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, err
		}
		if schedule.DaysIntersect(b.Schedule.DaysOfWeek, days) {
			res = append(res, b)
		}
	}
	return res, rows.Err()
}

// CountByEducator counts the educator's batches in the given statuses.
func (r *Repository) CountByEducator(ctx context.Context, educatorID string, statuses []string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM batches WHERE educator_id = $1 AND status = ANY($2)
	`, educatorID, "{"+strings.Join(statuses, ",")+"}").Scan(&n)
	return n, err
}

// Filter narrows List results.
type Filter struct {
	Status     string
	Mode       string
	CourseID   string
	EducatorID string
	SubOrgID   string
	Limit      int
	Offset     int
}

// List returns batches matching the filter, newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Batch, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT ` + batchCols + ` FROM batches`
	args := []any{}
	clauses := []string{}
	add := func(col, val string) {
		if val != "" {
			args = append(args, val)
			clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
		}
	}
	add("status", f.Status)
	add("mode", f.Mode)
	add("course_id", f.CourseID)
	add("educator_id", f.EducatorID)
	add("sub_org_id", f.SubOrgID)
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Batch
	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
