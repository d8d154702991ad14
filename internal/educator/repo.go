package educator

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Repository persists educators and their availability in Postgres.
// Weekday and course sets are stored as comma-joined text columns.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func joinSet(vals []string) string {
	return strings.Join(vals, ",")
}

func splitSet(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Get returns an educator by id, nil when absent.
func (r *Repository) Get(ctx context.Context, id string) (*Educator, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, sub_org_id, status, verification_status, teaches_courses, created_at, updated_at
		FROM educators WHERE id = $1
	`, id)
	return scanEducator(row)
}

// ListEligible returns active, verification-approved educators,
// optionally scoped to a sub-organization. Enumeration order is stable
// (creation order) so first-fit selection is deterministic.
func (r *Repository) ListEligible(ctx context.Context, subOrgID *string) ([]Educator, error) {
	query := `
		SELECT id, name, email, sub_org_id, status, verification_status, teaches_courses, created_at, updated_at
		FROM educators
		WHERE status = 'active' AND verification_status = 'approved'`
	args := []any{}
	if subOrgID != nil {
		query += ` AND sub_org_id = $1`
		args = append(args, *subOrgID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Educator
	for rows.Next() {
		edu, err := scanEducatorRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, edu)
	}
	return res, rows.Err()
}

func scanEducator(row *sql.Row) (*Educator, error) {
	var e Educator
	var courses string
	if err := row.Scan(&e.ID, &e.Name, &e.Email, &e.SubOrgID, &e.Status, &e.VerificationStatus, &courses, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.TeachesCourses = splitSet(courses)
	return &e, nil
}

func scanEducatorRows(rows *sql.Rows) (Educator, error) {
	var e Educator
	var courses string
	if err := rows.Scan(&e.ID, &e.Name, &e.Email, &e.SubOrgID, &e.Status, &e.VerificationStatus, &courses, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Educator{}, err
	}
	e.TeachesCourses = splitSet(courses)
	return e, nil
}

// CreateAvailability inserts a new availability window.
func (r *Repository) CreateAvailability(ctx context.Context, av Availability) (Availability, error) {
	if av.ID == "" {
		av.ID = uuid.NewString()
	}
	if av.TimeZone == "" {
		av.TimeZone = "Asia/Kolkata"
	}
	av.Active = true
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO educator_availability (id, educator_id, days_of_week, start_time, end_time, time_zone, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at
	`, av.ID, av.EducatorID, joinSet(av.DaysOfWeek), av.StartTime, av.EndTime, av.TimeZone, av.Active)
	if err := row.Scan(&av.CreatedAt, &av.UpdatedAt); err != nil {
		return Availability{}, err
	}
	return av, nil
}

// GetAvailability returns one window owned by the educator, nil when absent.
func (r *Repository) GetAvailability(ctx context.Context, educatorID, id string) (*Availability, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, educator_id, days_of_week, start_time, end_time, time_zone, active, created_at, updated_at
		FROM educator_availability WHERE id = $1 AND educator_id = $2
	`, id, educatorID)
	var av Availability
	var days string
	if err := row.Scan(&av.ID, &av.EducatorID, &days, &av.StartTime, &av.EndTime, &av.TimeZone, &av.Active, &av.CreatedAt, &av.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	av.DaysOfWeek = splitSet(days)
	return &av, nil
}

// ListActiveAvailability returns the educator's active windows.
func (r *Repository) ListActiveAvailability(ctx context.Context, educatorID string) ([]Availability, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, educator_id, days_of_week, start_time, end_time, time_zone, active, created_at, updated_at
		FROM educator_availability
		WHERE educator_id = $1 AND active = TRUE
		ORDER BY created_at
	`, educatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Availability
	for rows.Next() {
		var av Availability
		var days string
		if err := rows.Scan(&av.ID, &av.EducatorID, &days, &av.StartTime, &av.EndTime, &av.TimeZone, &av.Active, &av.CreatedAt, &av.UpdatedAt); err != nil {
			return nil, err
		}
		av.DaysOfWeek = splitSet(days)
		res = append(res, av)
	}
	return res, rows.Err()
}

// UpdateAvailability overwrites the mutable fields of a window.
func (r *Repository) UpdateAvailability(ctx context.Context, av Availability) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE educator_availability
		SET days_of_week = $3, start_time = $4, end_time = $5, time_zone = $6, active = $7, updated_at = NOW()
		WHERE id = $1 AND educator_id = $2
	`, av.ID, av.EducatorID, joinSet(av.DaysOfWeek), av.StartTime, av.EndTime, av.TimeZone, av.Active)
	return err
}

// DeleteAvailability removes a window owned by the educator.
func (r *Repository) DeleteAvailability(ctx context.Context, educatorID, id string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM educator_availability WHERE id = $1 AND educator_id = $2
	`, id, educatorID)
	return err
}
