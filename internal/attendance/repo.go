package attendance

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// SessionRepository persists attendance sessions in Postgres.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a repo.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionCols = `id, batch_id, date, mode, start_time, end_time, time_zone,
	qr_enabled, qr_token, auto_online, status, created_by, created_at, updated_at`

func scanSession(scan func(dest ...any) error) (Session, error) {
	var s Session
	err := scan(&s.ID, &s.BatchID, &s.Date, &s.Mode, &s.StartTime, &s.EndTime, &s.TimeZone,
		&s.QrEnabled, &s.QrToken, &s.AutoOnline, &s.Status, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// Insert creates a session. A natural-key collision on
// (batch_id, date, start_time) is reported as created=false so the
// generator can skip it; it is an expected outcome of re-runs, not an
// error.
func (r *SessionRepository) Insert(ctx context.Context, s Session) (bool, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions (id, batch_id, date, mode, start_time, end_time, time_zone,
			qr_enabled, qr_token, auto_online, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (batch_id, date, start_time) DO NOTHING
	`, s.ID, s.BatchID, s.Date, s.Mode, s.StartTime, s.EndTime, s.TimeZone,
		s.QrEnabled, s.QrToken, s.AutoOnline, s.Status, s.CreatedBy)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteByBatch removes every session of a batch.
func (r *SessionRepository) DeleteByBatch(ctx context.Context, batchID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM attendance_sessions WHERE batch_id = $1`, batchID)
	return err
}

// Get returns a session by id, nil when absent.
func (r *SessionRepository) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM attendance_sessions WHERE id = $1`, id)
	s, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetByToken resolves a QR token to its scannable session, nil when no
// qr-enabled session carries the token.
func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionCols+` FROM attendance_sessions
		WHERE qr_token = $1 AND qr_enabled = TRUE
	`, token)
	s, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListByBatch returns the batch's sessions in calendar order.
func (r *SessionRepository) ListByBatch(ctx context.Context, batchID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionCols+` FROM attendance_sessions
		WHERE batch_id = $1
		ORDER BY date, start_time
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateStatus moves a session through its lifecycle.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance_sessions SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return err
}

// RecordRepository persists attendance records in Postgres.
type RecordRepository struct {
	db *sql.DB
}

// NewRecordRepository creates a repo.
func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Upsert writes a record keyed by (session_id, learner_id) as a single
// atomic statement. The uniqueness constraint is the sole mechanism
// preventing duplicate check-ins under concurrent scans; last write
// wins.
func (r *RecordRepository) Upsert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, session_id, batch_id, enrollment_id, learner_id, status, source, checked_in_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (session_id, learner_id) DO UPDATE SET
			enrollment_id = EXCLUDED.enrollment_id,
			status = EXCLUDED.status,
			source = EXCLUDED.source,
			checked_in_at = EXCLUDED.checked_in_at,
			updated_at = NOW()
		RETURNING id
	`, rec.ID, rec.SessionID, rec.BatchID, rec.EnrollmentID, rec.LearnerID, rec.Status, rec.Source, rec.CheckedInAt)
	if err := row.Scan(&rec.ID); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListBySession returns every record written for a session.
func (r *RecordRepository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, batch_id, enrollment_id, learner_id, status, source, checked_in_at
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY checked_in_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.BatchID, &rec.EnrollmentID, &rec.LearnerID, &rec.Status, &rec.Source, &rec.CheckedInAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
