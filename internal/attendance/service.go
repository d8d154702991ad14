package attendance

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"edusched/internal/apperr"
	"edusched/internal/batch"
	"edusched/internal/enrollment"
	"edusched/internal/metrics"
	"edusched/internal/schedule"
)

// Session lifecycle statuses.
const (
	SessionScheduled  = "scheduled"
	SessionInProgress = "in-progress"
	SessionClosed     = "closed"
)

// Record statuses and sources.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"

	SourceQr         = "qr"
	SourceOnlineAuto = "online-auto"
	SourceManual     = "manual"
)

// Session is one dated occurrence of a batch's recurrence.
// (batch_id, date, start_time) is the natural key.
type Session struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batch_id"`
	Date      time.Time `json:"date"`
	Mode      string    `json:"mode"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	TimeZone  string    `json:"time_zone"`
	QrEnabled bool      `json:"qr_enabled"`
	// QrToken is the scan secret; it is only emitted through the
	// dedicated QR endpoint, never in listings.
	QrToken    string    `json:"-"`
	AutoOnline bool      `json:"auto_online"`
	Status     string    `json:"status"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Record is one learner's presence outcome for one session.
// (session_id, learner_id) is the natural key; writes are upserts.
type Record struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	BatchID      string    `json:"batch_id"`
	EnrollmentID string    `json:"enrollment_id,omitempty"`
	LearnerID    string    `json:"learner_id"`
	Status       string    `json:"status"`
	Source       string    `json:"source"`
	CheckedInAt  time.Time `json:"checked_in_at"`
}

// SessionStore is the session persistence surface.
type SessionStore interface {
	// Insert creates the session; created is false when the natural key
	// already exists (the insert is skipped, attributes not refreshed).
	Insert(ctx context.Context, s Session) (created bool, err error)
	DeleteByBatch(ctx context.Context, batchID string) error
	Get(ctx context.Context, id string) (*Session, error)
	GetByToken(ctx context.Context, token string) (*Session, error)
	ListByBatch(ctx context.Context, batchID string) ([]Session, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// RecordStore is the attendance-record persistence surface. Upsert must
// be a single atomic insert-or-update keyed by (session_id, learner_id),
// never a read-then-write pair.
type RecordStore interface {
	Upsert(ctx context.Context, r Record) (Record, error)
	ListBySession(ctx context.Context, sessionID string) ([]Record, error)
}

// EnrollmentSource supplies authoritative learner-to-batch membership.
type EnrollmentSource interface {
	Active(ctx context.Context, batchID, learnerID string) (*enrollment.Enrollment, error)
	ListActive(ctx context.Context, batchID string) ([]enrollment.Enrollment, error)
}

// Service expands batch recurrences into sessions and records presence.
type Service struct {
	sessions    SessionStore
	records     RecordStore
	enrollments EnrollmentSource
}

// NewService creates a service over the three stores.
func NewService(sessions SessionStore, records RecordStore, enrollments EnrollmentSource) *Service {
	return &Service{sessions: sessions, records: records, enrollments: enrollments}
}

// newQrToken returns 192 bits of hex-encoded randomness. The token is
// the sole credential for the scan path and must be unguessable.
func newQrToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// dateOnly truncates to the UTC calendar date. Batch start/end dates
// are stored as UTC midnights; re-reading them in another zone would
// shift the calendar range.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Generate expands the batch's recurrence into dated sessions and
// returns how many were newly created. A batch without weekdays or
// dates is a harmless no-op: generation is routinely re-triggered and
// must be safe to call speculatively. With regenerate, existing
// sessions are deleted first; attendance records tied to them are not
// cascade-deleted here. Natural-key collisions on insert are skipped
// silently, so a partial prior run fills in without refreshing the
// skipped dates.
func (s *Service) Generate(ctx context.Context, b batch.Batch, regenerate bool, createdBy string) (int, error) {
	if b.Schedule.Empty() || b.StartDate.IsZero() || b.EndDate.IsZero() {
		return 0, nil
	}

	if regenerate {
		if err := s.sessions.DeleteByBatch(ctx, b.ID); err != nil {
			return 0, err
		}
	}

	start := dateOnly(b.StartDate)
	end := dateOnly(b.EndDate)

	created := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !schedule.ContainsDay(b.Schedule.DaysOfWeek, schedule.DayCode(d.Weekday())) {
			continue
		}
		sess := Session{
			BatchID:    b.ID,
			Date:       d,
			Mode:       b.Mode,
			StartTime:  b.Schedule.StartTime,
			EndTime:    b.Schedule.EndTime,
			TimeZone:   b.Schedule.TimeZone,
			AutoOnline: b.Mode == batch.ModeOnline,
			QrEnabled:  b.Mode != batch.ModeOnline,
			Status:     SessionScheduled,
			CreatedBy:  createdBy,
		}
		if sess.QrEnabled {
			token, err := newQrToken()
			if err != nil {
				return created, err
			}
			sess.QrToken = token
		}
		ok, err := s.sessions.Insert(ctx, sess)
		if err != nil {
			return created, err
		}
		if ok {
			created++
			metrics.SessionsGenerated.Inc()
		}
	}
	return created, nil
}

// RecordQrScan resolves a presented token to a session and upserts a
// present record for the learner. Concurrent scans by the same learner
// end as one record, last writer wins.
func (s *Service) RecordQrScan(ctx context.Context, token, learnerID string) (Record, error) {
	if token == "" {
		return Record{}, apperr.InvalidInput("invalid or expired QR code")
	}
	sess, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return Record{}, err
	}
	if sess == nil || !sess.QrEnabled {
		return Record{}, apperr.InvalidInput("invalid or expired QR code")
	}

	enr, err := s.enrollments.Active(ctx, sess.BatchID, learnerID)
	if err != nil {
		return Record{}, err
	}
	if enr == nil {
		return Record{}, apperr.Forbidden("you are not enrolled in this batch")
	}

	rec, err := s.records.Upsert(ctx, Record{
		SessionID:    sess.ID,
		BatchID:      sess.BatchID,
		EnrollmentID: enr.ID,
		LearnerID:    learnerID,
		Status:       StatusPresent,
		Source:       SourceQr,
		CheckedInAt:  time.Now().UTC(),
	})
	if err != nil {
		return Record{}, err
	}
	metrics.QrCheckins.Inc()
	return rec, nil
}

// RecordRollCall bulk-marks presence on an online session and closes
// it. An empty presentLearnerIDs set means "mark everyone enrolled
// present". Learners outside the set get no record at all; absence is
// the absence of a record. The close is unconditional and this is meant
// to be the session's closing action; re-invoking re-marks presence
// without failing.
func (s *Service) RecordRollCall(ctx context.Context, sessionID string, presentLearnerIDs []string) (int, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if sess == nil {
		return 0, apperr.NotFound("attendance session not found")
	}
	if sess.Mode != batch.ModeOnline {
		return 0, apperr.InvalidInput("auto roll-call is only for online sessions")
	}

	enrollments, err := s.enrollments.ListActive(ctx, sess.BatchID)
	if err != nil {
		return 0, err
	}

	presentSet := make(map[string]struct{}, len(presentLearnerIDs))
	for _, id := range presentLearnerIDs {
		presentSet[id] = struct{}{}
	}

	now := time.Now().UTC()
	marked := 0
	for _, enr := range enrollments {
		if len(presentSet) > 0 {
			if _, ok := presentSet[enr.LearnerID]; !ok {
				continue
			}
		}
		_, err := s.records.Upsert(ctx, Record{
			SessionID:    sess.ID,
			BatchID:      sess.BatchID,
			EnrollmentID: enr.ID,
			LearnerID:    enr.LearnerID,
			Status:       StatusPresent,
			Source:       SourceOnlineAuto,
			CheckedInAt:  now,
		})
		if err != nil {
			return marked, err
		}
		marked++
		metrics.RollCallMarks.Inc()
	}

	if err := s.sessions.UpdateStatus(ctx, sess.ID, SessionClosed); err != nil {
		return marked, err
	}
	return marked, nil
}

// ListSessions returns the batch's sessions in calendar order.
func (s *Service) ListSessions(ctx context.Context, batchID string) ([]Session, error) {
	return s.sessions.ListByBatch(ctx, batchID)
}

// SessionDetail pairs a session with its attendance records.
type SessionDetail struct {
	Session Session  `json:"session"`
	Records []Record `json:"attendance"`
}

// GetSessionWithRecords returns a session and every record written for it.
func (s *Service) GetSessionWithRecords(ctx context.Context, sessionID string) (SessionDetail, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return SessionDetail{}, err
	}
	if sess == nil {
		return SessionDetail{}, apperr.NotFound("attendance session not found")
	}
	recs, err := s.records.ListBySession(ctx, sessionID)
	if err != nil {
		return SessionDetail{}, err
	}
	return SessionDetail{Session: *sess, Records: recs}, nil
}

// GetSession returns a session by id.
func (s *Service) GetSession(ctx context.Context, sessionID string) (Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess == nil {
		return Session{}, apperr.NotFound("attendance session not found")
	}
	return *sess, nil
}
