package batch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edusched/internal/apperr"
	"edusched/internal/educator"
)

// fakeDirectory is an in-memory EducatorDirectory.
type fakeDirectory struct {
	educators []educator.Educator
	windows   map[string][]educator.Availability
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{windows: make(map[string][]educator.Availability)}
}

func (f *fakeDirectory) addEducator(id string, subOrgID *string, courses ...string) {
	f.educators = append(f.educators, educator.Educator{
		ID:                 id,
		Name:               id,
		Status:             "active",
		VerificationStatus: educator.VerificationApproved,
		SubOrgID:           subOrgID,
		TeachesCourses:     courses,
	})
}

func (f *fakeDirectory) addWindow(educatorID string, days []string, start, end string) {
	f.windows[educatorID] = append(f.windows[educatorID], educator.Availability{
		EducatorID: educatorID,
		DaysOfWeek: days,
		StartTime:  start,
		EndTime:    end,
		Active:     true,
	})
}

func (f *fakeDirectory) Get(_ context.Context, id string) (*educator.Educator, error) {
	for i := range f.educators {
		if f.educators[i].ID == id {
			copied := f.educators[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeDirectory) ListEligible(_ context.Context, subOrgID *string) ([]educator.Educator, error) {
	var res []educator.Educator
	for _, e := range f.educators {
		if e.Status != "active" || e.VerificationStatus != educator.VerificationApproved {
			continue
		}
		if subOrgID != nil && (e.SubOrgID == nil || *e.SubOrgID != *subOrgID) {
			continue
		}
		res = append(res, e)
	}
	return res, nil
}

func (f *fakeDirectory) ListActiveAvailability(_ context.Context, educatorID string) ([]educator.Availability, error) {
	return f.windows[educatorID], nil
}

// countingLocker verifies the lock is held across resolution.
type countingLocker struct {
	mu       sync.Mutex
	acquired []string
	released int
}

func (l *countingLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	l.acquired = append(l.acquired, key)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}

func weeklySchedule(days []string, start, end string) Schedule {
	return Schedule{DaysOfWeek: days, StartTime: start, EndTime: end, TimeZone: "UTC"}
}

func newTestResolver(dir *fakeDirectory, store *fakeBatchStore, strategy Strategy) (*Resolver, *countingLocker) {
	locker := &countingLocker{}
	return NewResolver(dir, store, NewDetector(store), locker, strategy), locker
}

func TestAutoAssignRespectsAvailability(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeBatchStore()
	// edu-1 has no declared availability at all; edu-2 covers the slot.
	dir.addEducator("edu-1", nil)
	dir.addEducator("edu-2", nil)
	dir.addWindow("edu-2", []string{"Mon", "Wed"}, "09:00", "13:00")

	r, _ := newTestResolver(dir, store, StrategyFirstAvailable)
	id, release, err := r.Resolve(context.Background(), AssignRequest{
		Schedule:  weeklySchedule([]string{"Mon", "Wed"}, "10:00", "11:30"),
		StartDate: date(2024, 3, 4),
		EndDate:   date(2024, 3, 29),
	})
	require.NoError(t, err)
	defer release()
	assert.Equal(t, "edu-2", id, "educator without a covering window is never auto-selected, even with zero batches")
}

func TestAutoAssignRequiresContainmentNotOverlap(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeBatchStore()
	// Window overlaps the candidate but does not contain it.
	dir.addEducator("edu-1", nil)
	dir.addWindow("edu-1", []string{"Mon"}, "10:30", "12:00")

	r, _ := newTestResolver(dir, store, StrategyFirstAvailable)
	_, _, err := r.Resolve(context.Background(), AssignRequest{
		Schedule:  weeklySchedule([]string{"Mon"}, "10:00", "11:00"),
		StartDate: date(2024, 3, 4),
		EndDate:   date(2024, 3, 29),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindResourceExhausted))
}

func TestAutoAssignEveryCandidateDayMustBeCovered(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeBatchStore()
	dir.addEducator("edu-1", nil)
	dir.addWindow("edu-1", []string{"Mon"}, "09:00", "13:00")

	r, _ := newTestResolver(dir, store, StrategyFirstAvailable)
	_, _, err := r.Resolve(context.Background(), AssignRequest{
		Schedule:  weeklySchedule([]string{"Mon", "Wed"}, "10:00", "11:00"),
		StartDate: date(2024, 3, 4),
		EndDate:   date(2024, 3, 29),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindResourceExhausted))
}

func TestAutoAssignSkipsConflictedEducators(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeBatchStore()
	dir.addEducator("edu-1", nil)
	dir.addEducator("edu-2", nil)
	dir.addWindow("edu-1", []string{"Mon"}, "08:00", "18:00")
	dir.addWindow("edu-2", []string{"Mon"}, "08:00", "18:00")
	seedBatch(t, store, "edu-1", StatusPublished,
		[]string{"Mon"}, "10:00", "11:00", date(2024, 3, 1), date(2024, 5, 31))

	r, _ := newTestResolver(dir, store, StrategyFirstAvailable)
	id, release, err := r.Resolve(context.Background(), AssignRequest{
		Schedule:  weeklySchedule([]string{"Mon"}, "10:30", "11:30"),
		StartDate: date(2024, 3, 1), EndDate: date(2024, 5, 31),
	})
	require.NoError(t, err)
	defer release()
	assert.Equal(t, "edu-2", id)
}

func TestAutoAssignLeastBatches(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeBatchStore()
	dir.addEducator("edu-1", nil)
	dir.addEducator("edu-2", nil)
	dir.addWindow("edu-1", []string{"Fri"}, "08:00", "18:00")
	dir.addWindow("edu-2", []string{"Fri"}, "08:00", "18:00")
	// edu-1 carries two published batches on other days, edu-2 none.
	seedBatch(t, store, "edu-1", StatusPublished,
		[]string{"Mon"}, "10:00", "11:00", date(2024, 3, 1), date(2024, 5, 31))
	seedBatch(t, store, "edu-1", StatusOngoing,
		[]string{"Tue"}, "10:00", "11:00", date(2024, 3, 1), date(2024, 5, 31))

	r, _ := newTestResolver(dir, store, StrategyLeastBatches)
	id, release, err := r.Resolve(context.Background(), AssignRequest{
		Schedule:  weeklySchedule([]string{"Fri"}, "10:00", "11:00"),
		StartDate: date(2024, 3, 1), EndDate: date(2024, 5, 31),
	})
	require.NoError(t, err)
	defer release()
	assert.Equal(t, "edu-2", id)
}

func TestAutoAssignLeastBatchesTiesBreakByEnumeration(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeBatchStore()
	dir.addEducator("edu-1", nil)
	dir.addEducator("edu-2", nil)
	dir.addWindow("edu-1", []string{"Fri"}, "08:00", "18:00")
	dir.addWindow("edu-2", []string{"Fri"}, "08:00", "18:00")

	r, _ := newTestResolver(dir, store, StrategyLeastBatches)
	id, release, err := r.Resolve(context.Background(), AssignRequest{
		Schedule:  weeklySchedule([]string{"Fri"}, "10:00", "11:00"),
		StartDate: date(2024, 3, 1), EndDate: date(2024, 5, 31),
	})
	require.NoError(t, err)
	defer release()
	assert.Equal(t, "edu-1", id)
}

func TestAutoAssignManualStrategyRefuses(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeBatchStore()
	dir.addEducator("edu-1", nil)
	dir.addWindow("edu-1", []string{"Mon"}, "08:00", "18:00")

	r, _ := newTestResolver(dir, store, StrategyManual)
	_, _, err := r.Resolve(context.Background(), AssignRequest{
		Schedule:  weeklySchedule([]string{"Mon"}, "10:00", "11:00"),
		StartDate: date(2024, 3, 1), EndDate: date(2024, 5, 31),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
}

func TestAutoAssignRoundRobinPicksFromCandidates(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeBatchStore()
	dir.addEducator("edu-1", nil)
	dir.addEducator("edu-2", nil)
	dir.addWindow("edu-1", []string{"Mon"}, "08:00", "18:00")
	dir.addWindow("edu-2", []string{"Mon"}, "08:00", "18:00")

	r, _ := newTestResolver(dir, store, StrategyRoundRobin)
	id, release, err := r.Resolve(context.Background(), AssignRequest{
		Schedule:  weeklySchedule([]string{"Mon"}, "10:00", "11:00"),
		StartDate: date(2024, 3, 1), EndDate: date(2024, 5, 31),
	})
	require.NoError(t, err)
	defer release()
	assert.Contains(t, []string{"edu-1", "edu-2"}, id)
}

func TestAutoAssignCourseEligibility(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeBatchStore()
	dir.addEducator("edu-1", nil, "course-other")
	dir.addEducator("edu-2", nil, "course-1")
	dir.addWindow("edu-1", []string{"Mon"}, "08:00", "18:00")
	dir.addWindow("edu-2", []string{"Mon"}, "08:00", "18:00")

	r, _ := newTestResolver(dir, store, StrategyFirstAvailable)
	id, release, err := r.Resolve(context.Background(), AssignRequest{
		CourseID:  "course-1",
		Schedule:  weeklySchedule([]string{"Mon"}, "10:00", "11:00"),
		StartDate: date(2024, 3, 1), EndDate: date(2024, 5, 31),
	})
	require.NoError(t, err)
	defer release()
	assert.Equal(t, "edu-2", id)
}

func TestExplicitAssignConflict(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeBatchStore()
	dir.addEducator("edu-1", nil)
	seedBatch(t, store, "edu-1", StatusPublished,
		[]string{"Mon"}, "10:00", "11:00", date(2024, 3, 1), date(2024, 5, 31))

	r, locker := newTestResolver(dir, store, StrategyFirstAvailable)
	_, _, err := r.Resolve(context.Background(), AssignRequest{
		ExplicitEducatorID: "edu-1",
		Schedule:           weeklySchedule([]string{"Mon"}, "10:30", "11:30"),
		StartDate:          date(2024, 3, 1), EndDate: date(2024, 5, 31),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
	assert.Equal(t, 1, locker.released, "lock must be released on conflict")
}

func TestExplicitAssignUnknownOrUnverified(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeBatchStore()
	dir.educators = append(dir.educators, educator.Educator{
		ID: "edu-pending", Status: "active", VerificationStatus: educator.VerificationPending,
	})

	r, _ := newTestResolver(dir, store, StrategyFirstAvailable)

	for _, id := range []string{"edu-missing", "edu-pending"} {
		_, _, err := r.Resolve(context.Background(), AssignRequest{
			ExplicitEducatorID: id,
			Schedule:           weeklySchedule([]string{"Mon"}, "10:00", "11:00"),
			StartDate:          date(2024, 3, 1), EndDate: date(2024, 5, 31),
		})
		require.Error(t, err, id)
		assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput), id)
	}
}

func TestExplicitAssignSubOrgScope(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeBatchStore()
	other := "suborg-b"
	dir.addEducator("edu-1", &other)

	r, _ := newTestResolver(dir, store, StrategyFirstAvailable)
	scope := "suborg-a"
	_, _, err := r.Resolve(context.Background(), AssignRequest{
		ExplicitEducatorID: "edu-1",
		SubOrgID:           &scope,
		Schedule:           weeklySchedule([]string{"Mon"}, "10:00", "11:00"),
		StartDate:          date(2024, 3, 1), EndDate: date(2024, 5, 31),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
}

func TestResolveHoldsLockUntilRelease(t *testing.T) {
	dir := newFakeDirectory()
	store := newFakeBatchStore()
	dir.addEducator("edu-1", nil)
	dir.addWindow("edu-1", []string{"Mon"}, "08:00", "18:00")

	r, locker := newTestResolver(dir, store, StrategyFirstAvailable)
	id, release, err := r.Resolve(context.Background(), AssignRequest{
		Schedule:  weeklySchedule([]string{"Mon"}, "10:00", "11:00"),
		StartDate: date(2024, 3, 1), EndDate: date(2024, 5, 31),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"edu-1"}, locker.acquired)
	assert.Equal(t, 0, locker.released, "winning lock stays held for the caller's commit")
	release()
	assert.Equal(t, 1, locker.released)
	assert.Equal(t, "edu-1", id)
}
