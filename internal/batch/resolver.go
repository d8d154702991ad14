package batch

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"edusched/internal/apperr"
	"edusched/internal/educator"
	"edusched/internal/schedule"
)

// Strategy picks among eligible educators on the auto-assign path.
type Strategy string

const (
	StrategyManual         Strategy = "manual"
	StrategyFirstAvailable Strategy = "first_available"
	StrategyCourseDefault  Strategy = "course_default"
	StrategyLeastBatches   Strategy = "least_batches"
	// StrategyRoundRobin picks uniformly at random among candidates; it
	// does not keep a rotating pointer across restarts.
	StrategyRoundRobin Strategy = "round_robin"
)

// ValidStrategy reports whether s names a known strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyManual, StrategyFirstAvailable, StrategyCourseDefault, StrategyLeastBatches, StrategyRoundRobin:
		return true
	}
	return false
}

// EducatorDirectory is the educator read surface the resolver needs.
type EducatorDirectory interface {
	Get(ctx context.Context, id string) (*educator.Educator, error)
	ListEligible(ctx context.Context, subOrgID *string) ([]educator.Educator, error)
	ListActiveAvailability(ctx context.Context, educatorID string) ([]educator.Availability, error)
}

// BatchCounter counts an educator's batches for least_batches selection.
type BatchCounter interface {
	CountByEducator(ctx context.Context, educatorID string, statuses []string) (int, error)
}

// Locker serializes assignment per educator so two concurrent batch
// writes cannot both pass conflict checking before either commits.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// NopLocker is a Locker that never blocks, for single-writer setups.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

// AssignRequest describes the schedule an educator is needed for.
type AssignRequest struct {
	CourseID           string
	SubOrgID           *string
	Schedule           Schedule
	StartDate          time.Time
	EndDate            time.Time
	ExplicitEducatorID string
	// ExcludeBatchID skips the batch being updated during conflict checks.
	ExcludeBatchID string
}

// Resolver validates explicit educator assignments and auto-selects an
// educator when none is given.
type Resolver struct {
	educators EducatorDirectory
	counts    BatchCounter
	detector  *Detector
	locker    Locker
	strategy  Strategy
}

// NewResolver creates a resolver. strategy applies to the auto-assign
// path only.
func NewResolver(educators EducatorDirectory, counts BatchCounter, detector *Detector, locker Locker, strategy Strategy) *Resolver {
	if locker == nil {
		locker = NopLocker{}
	}
	if strategy == "" {
		strategy = StrategyFirstAvailable
	}
	return &Resolver{educators: educators, counts: counts, detector: detector, locker: locker, strategy: strategy}
}

// Resolve returns the id of the educator to assign. The returned
// release func holds a per-educator lock open; callers must release it
// only after committing the batch-educator link so the conflict check
// and the write form one exclusive section.
func (r *Resolver) Resolve(ctx context.Context, req AssignRequest) (string, func(), error) {
	if req.ExplicitEducatorID != "" {
		return r.resolveExplicit(ctx, req)
	}
	return r.autoSelect(ctx, req)
}

func (r *Resolver) resolveExplicit(ctx context.Context, req AssignRequest) (string, func(), error) {
	edu, err := r.educators.Get(ctx, req.ExplicitEducatorID)
	if err != nil {
		return "", nil, err
	}
	if edu == nil || edu.Status != "active" || edu.VerificationStatus != educator.VerificationApproved {
		return "", nil, apperr.InvalidInput("educator not found, inactive, or not verified")
	}
	if req.SubOrgID != nil && edu.SubOrgID != nil && *edu.SubOrgID != *req.SubOrgID {
		return "", nil, apperr.Forbidden("educator not in this sub-organization")
	}

	release, err := r.locker.Acquire(ctx, edu.ID)
	if err != nil {
		return "", nil, err
	}
	conflict, err := r.detector.HasConflict(ctx, edu.ID, req.Schedule, req.StartDate, req.EndDate, req.ExcludeBatchID)
	if err != nil {
		release()
		return "", nil, err
	}
	if conflict {
		release()
		return "", nil, apperr.Conflict("educator already has a conflicting batch for this schedule")
	}
	return edu.ID, release, nil
}

func (r *Resolver) autoSelect(ctx context.Context, req AssignRequest) (string, func(), error) {
	if r.strategy == StrategyManual {
		return "", nil, apperr.InvalidInput("manual assignment strategy requires an explicit educator")
	}

	pool, err := r.educators.ListEligible(ctx, req.SubOrgID)
	if err != nil {
		return "", nil, err
	}

	var candidates []educator.Educator
	for _, edu := range pool {
		if req.CourseID != "" && len(edu.TeachesCourses) > 0 && !contains(edu.TeachesCourses, req.CourseID) {
			continue
		}
		covered, err := r.availabilityCovers(ctx, edu.ID, req.Schedule)
		if err != nil {
			return "", nil, err
		}
		if covered {
			candidates = append(candidates, edu)
		}
	}
	if len(candidates) == 0 {
		return "", nil, apperr.ResourceExhausted("no eligible educator found for this schedule")
	}

	if err := r.order(ctx, candidates); err != nil {
		return "", nil, err
	}

	for _, edu := range candidates {
		release, err := r.locker.Acquire(ctx, edu.ID)
		if err != nil {
			return "", nil, err
		}
		conflict, err := r.detector.HasConflict(ctx, edu.ID, req.Schedule, req.StartDate, req.EndDate, req.ExcludeBatchID)
		if err != nil {
			release()
			return "", nil, err
		}
		if conflict {
			release()
			continue
		}
		return edu.ID, release, nil
	}
	return "", nil, apperr.ResourceExhausted("every eligible educator has a conflicting batch")
}

// availabilityCovers reports whether the educator's active windows
// jointly cover every candidate weekday, each with a window whose time
// range contains the candidate's. Educators with no windows never
// qualify.
func (r *Resolver) availabilityCovers(ctx context.Context, educatorID string, cand Schedule) (bool, error) {
	windows, err := r.educators.ListActiveAvailability(ctx, educatorID)
	if err != nil {
		return false, err
	}
	if len(windows) == 0 {
		return false, nil
	}
	candStart, candEnd := cand.Minutes()

	for _, day := range cand.DaysOfWeek {
		dayCovered := false
		for _, w := range windows {
			if !schedule.ContainsDay(w.DaysOfWeek, day) {
				continue
			}
			if candStart == schedule.NoTime {
				dayCovered = true
				break
			}
			wStart, okS := schedule.TimeToMinutes(w.StartTime)
			wEnd, okE := schedule.TimeToMinutes(w.EndTime)
			if !okS || !okE {
				continue
			}
			end := candEnd
			if end == schedule.NoTime {
				end = candStart
			}
			if wStart <= candStart && wEnd >= end {
				dayCovered = true
				break
			}
		}
		if !dayCovered {
			return false, nil
		}
	}
	return true, nil
}

// order arranges candidates per the configured strategy. The incoming
// slice is in enumeration order, which is the tiebreak.
func (r *Resolver) order(ctx context.Context, candidates []educator.Educator) error {
	switch r.strategy {
	case StrategyLeastBatches:
		counts := make(map[string]int, len(candidates))
		for _, edu := range candidates {
			n, err := r.counts.CountByEducator(ctx, edu.ID, []string{StatusPublished, StatusOngoing})
			if err != nil {
				return err
			}
			counts[edu.ID] = n
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return counts[candidates[i].ID] < counts[candidates[j].ID]
		})
	case StrategyRoundRobin:
		rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
