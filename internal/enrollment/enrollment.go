// Package enrollment exposes the read surface of the external
// enrollment subsystem that the attendance recorder consults.
// Enrollment lifecycle management lives elsewhere.
package enrollment

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Enrollment is a learner's membership in a batch.
type Enrollment struct {
	ID         string    `json:"id"`
	BatchID    string    `json:"batch_id"`
	LearnerID  string    `json:"learner_id"`
	Status     string    `json:"status"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// Repository reads enrollments from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Active returns the learner's enrollment in the batch when its status
// authorizes a check-in, nil otherwise.
func (r *Repository) Active(ctx context.Context, batchID, learnerID string) (*Enrollment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, batch_id, learner_id, status, enrolled_at
		FROM enrollments
		WHERE batch_id = $1 AND learner_id = $2 AND status = ANY('{pending,confirmed,completed}')
		LIMIT 1
	`, batchID, learnerID)
	var e Enrollment
	if err := row.Scan(&e.ID, &e.BatchID, &e.LearnerID, &e.Status, &e.EnrolledAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// ListActive returns every enrollment in the batch whose status
// authorizes a check-in, in enrollment order.
func (r *Repository) ListActive(ctx context.Context, batchID string) ([]Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, batch_id, learner_id, status, enrolled_at
		FROM enrollments
		WHERE batch_id = $1 AND status = ANY('{pending,confirmed,completed}')
		ORDER BY enrolled_at
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Enrollment
	for rows.Next() {
		var e Enrollment
		if err := rows.Scan(&e.ID, &e.BatchID, &e.LearnerID, &e.Status, &e.EnrolledAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
