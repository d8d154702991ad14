package batch

import (
	"context"
	"time"

	"edusched/internal/apperr"
	"edusched/internal/metrics"
)

// Actor roles recognized by the batch surface.
const (
	RoleAdmin       = "admin"
	RoleSubOrgAdmin = "subOrgAdmin"
	RoleEducator    = "educator"
	RoleLearner     = "learner"
)

// Actor is the authenticated caller, used for scope checks.
type Actor struct {
	UserID   string
	Role     string
	SubOrgID *string
}

// Store is the persistence surface the service needs.
type Store interface {
	Create(ctx context.Context, b Batch) (Batch, error)
	Get(ctx context.Context, id string) (*Batch, error)
	Update(ctx context.Context, b Batch) error
	UpdateStatus(ctx context.Context, id, status string) error
	List(ctx context.Context, f Filter) ([]Batch, error)
}

// Publisher hands off work triggered by batch lifecycle changes.
type Publisher interface {
	PublishGenerateSessions(ctx context.Context, batchID string) error
}

// Service manages batches and drives educator resolution.
type Service struct {
	store    Store
	resolver *Resolver
	pub      Publisher
}

// NewService creates a service. pub may be nil when no worker is wired.
func NewService(store Store, resolver *Resolver, pub Publisher) *Service {
	return &Service{store: store, resolver: resolver, pub: pub}
}

func canManage(actor Actor) error {
	switch actor.Role {
	case RoleAdmin, RoleSubOrgAdmin, RoleEducator:
		return nil
	}
	return apperr.Forbidden("not allowed to manage batches")
}

// scopeBatch enforces sub-org and assignment boundaries on an existing batch.
func scopeBatch(actor Actor, b *Batch) error {
	if actor.Role == RoleSubOrgAdmin && actor.SubOrgID != nil {
		if b.SubOrgID != nil && *b.SubOrgID != *actor.SubOrgID {
			return apperr.Forbidden("batch outside your sub-organization")
		}
	}
	if actor.Role == RoleEducator {
		if b.EducatorID == nil || *b.EducatorID != actor.UserID {
			return apperr.Forbidden("batch not assigned to you")
		}
	}
	return nil
}

// CreateInput carries the fields of a new batch.
type CreateInput struct {
	Name       string
	Code       string
	CourseID   string
	EducatorID string
	SubOrgID   *string
	Mode       string
	StartDate  time.Time
	EndDate    time.Time
	Capacity   int
	Schedule   Schedule
	Status     string
}

// Create validates input, resolves the educator (explicit or auto) and
// persists the batch. The educator lock spans resolution and the
// insert, closing the concurrent-assignment race.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (Batch, error) {
	if actor.Role != RoleAdmin && actor.Role != RoleSubOrgAdmin {
		return Batch{}, apperr.Forbidden("only admin or subOrgAdmin can create batches")
	}
	if in.Name == "" || in.CourseID == "" || in.StartDate.IsZero() || in.EndDate.IsZero() {
		return Batch{}, apperr.InvalidInput("name, course_id, start_date and end_date are required")
	}
	if in.StartDate.After(in.EndDate) {
		return Batch{}, apperr.InvalidInput("start_date must not be after end_date")
	}
	if err := in.Schedule.Validate(); err != nil {
		return Batch{}, err
	}
	if in.Mode == "" {
		in.Mode = ModeOnline
	}
	if !ValidMode(in.Mode) {
		return Batch{}, apperr.Newf(apperr.KindInvalidInput, "unknown mode %q", in.Mode)
	}
	if in.Status == "" {
		in.Status = StatusDraft
	}
	if !ValidStatus(in.Status) {
		return Batch{}, apperr.Newf(apperr.KindInvalidInput, "unknown status %q", in.Status)
	}
	if in.Schedule.TimeZone == "" {
		in.Schedule.TimeZone = "Asia/Kolkata"
	}

	subOrgID := in.SubOrgID
	if actor.Role == RoleSubOrgAdmin && actor.SubOrgID != nil {
		subOrgID = actor.SubOrgID
	}

	educatorID, release, err := s.resolver.Resolve(ctx, AssignRequest{
		CourseID:           in.CourseID,
		SubOrgID:           subOrgID,
		Schedule:           in.Schedule,
		StartDate:          in.StartDate,
		EndDate:            in.EndDate,
		ExplicitEducatorID: in.EducatorID,
	})
	if err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			metrics.ScheduleConflicts.Inc()
		}
		return Batch{}, err
	}
	defer release()

	return s.store.Create(ctx, Batch{
		Name:       in.Name,
		Code:       in.Code,
		CourseID:   in.CourseID,
		EducatorID: &educatorID,
		SubOrgID:   subOrgID,
		Mode:       in.Mode,
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		Capacity:   in.Capacity,
		Status:     in.Status,
		Schedule:   in.Schedule,
		CreatedBy:  actor.UserID,
	})
}

// UpdateInput carries a partial batch update; nil/zero fields are kept.
type UpdateInput struct {
	Name       *string
	Code       *string
	EducatorID string
	SubOrgID   *string
	Mode       string
	StartDate  time.Time
	EndDate    time.Time
	Capacity   *int
	Schedule   *Schedule
}

// Update patches a batch and re-runs educator resolution when the
// educator, schedule or date range changes.
func (s *Service) Update(ctx context.Context, actor Actor, batchID string, in UpdateInput) (Batch, error) {
	if err := canManage(actor); err != nil {
		return Batch{}, err
	}
	b, err := s.store.Get(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	if b == nil {
		return Batch{}, apperr.NotFound("batch not found")
	}
	if err := scopeBatch(actor, b); err != nil {
		return Batch{}, err
	}

	reResolve := false
	if in.Name != nil {
		b.Name = *in.Name
	}
	if in.Code != nil {
		b.Code = *in.Code
	}
	if in.Capacity != nil {
		b.Capacity = *in.Capacity
	}
	if in.Mode != "" {
		if !ValidMode(in.Mode) {
			return Batch{}, apperr.Newf(apperr.KindInvalidInput, "unknown mode %q", in.Mode)
		}
		b.Mode = in.Mode
	}
	if !in.StartDate.IsZero() {
		b.StartDate = in.StartDate
		reResolve = true
	}
	if !in.EndDate.IsZero() {
		b.EndDate = in.EndDate
		reResolve = true
	}
	if b.StartDate.After(b.EndDate) {
		return Batch{}, apperr.InvalidInput("start_date must not be after end_date")
	}
	if in.SubOrgID != nil {
		if actor.Role == RoleSubOrgAdmin && actor.SubOrgID != nil && *in.SubOrgID != *actor.SubOrgID {
			return Batch{}, apperr.Forbidden("cannot move batch to another sub-organization")
		}
		b.SubOrgID = in.SubOrgID
		reResolve = true
	}
	if in.Schedule != nil {
		if err := in.Schedule.Validate(); err != nil {
			return Batch{}, err
		}
		b.Schedule = *in.Schedule
		reResolve = true
	}

	// Re-resolve when the educator changes, or re-check the current
	// educator when the recurrence or sub-org scope moved under them.
	explicit := in.EducatorID
	if explicit == "" && reResolve && b.EducatorID != nil {
		explicit = *b.EducatorID
	}
	if explicit != "" {
		educatorID, release, err := s.resolver.Resolve(ctx, AssignRequest{
			CourseID:           b.CourseID,
			SubOrgID:           b.SubOrgID,
			Schedule:           b.Schedule,
			StartDate:          b.StartDate,
			EndDate:            b.EndDate,
			ExplicitEducatorID: explicit,
			ExcludeBatchID:     b.ID,
		})
		if err != nil {
			if apperr.IsKind(err, apperr.KindConflict) {
				metrics.ScheduleConflicts.Inc()
			}
			return Batch{}, err
		}
		defer release()
		b.EducatorID = &educatorID
	}

	if err := s.store.Update(ctx, *b); err != nil {
		return Batch{}, err
	}
	return *b, nil
}

// ChangeStatus moves the batch through its lifecycle. Publishing a
// batch hands a session-generation job to the worker.
func (s *Service) ChangeStatus(ctx context.Context, actor Actor, batchID, status string) (Batch, error) {
	if err := canManage(actor); err != nil {
		return Batch{}, err
	}
	if !ValidStatus(status) {
		return Batch{}, apperr.Newf(apperr.KindInvalidInput, "unknown status %q", status)
	}
	b, err := s.store.Get(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	if b == nil {
		return Batch{}, apperr.NotFound("batch not found")
	}
	if err := scopeBatch(actor, b); err != nil {
		return Batch{}, err
	}
	if err := s.store.UpdateStatus(ctx, batchID, status); err != nil {
		return Batch{}, err
	}
	b.Status = status

	if status == StatusPublished && s.pub != nil {
		if err := s.pub.PublishGenerateSessions(ctx, batchID); err != nil {
			// Generation is re-triggerable and safe to call speculatively;
			// a failed handoff is not fatal to the status change.
			return *b, nil
		}
	}
	return *b, nil
}

// Get returns a batch within the actor's scope.
func (s *Service) Get(ctx context.Context, actor Actor, batchID string) (Batch, error) {
	b, err := s.store.Get(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	if b == nil {
		return Batch{}, apperr.NotFound("batch not found")
	}
	if err := scopeBatch(actor, b); err != nil {
		return Batch{}, err
	}
	return *b, nil
}

// List returns batches matching the filter, narrowed to the actor's scope.
func (s *Service) List(ctx context.Context, actor Actor, f Filter) ([]Batch, error) {
	if actor.Role == RoleSubOrgAdmin && actor.SubOrgID != nil {
		f.SubOrgID = *actor.SubOrgID
	}
	if actor.Role == RoleEducator {
		f.EducatorID = actor.UserID
	}
	return s.store.List(ctx, f)
}

// AssignEducator resolves an educator for a schedule without persisting
// a batch (dry-run surface of the resolver).
func (s *Service) AssignEducator(ctx context.Context, req AssignRequest) (string, error) {
	id, release, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			metrics.ScheduleConflicts.Inc()
		}
		return "", err
	}
	release()
	return id, nil
}
