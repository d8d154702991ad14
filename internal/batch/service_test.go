package batch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edusched/internal/apperr"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	fail      bool
}

func (f *fakePublisher) PublishGenerateSessions(_ context.Context, batchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.published = append(f.published, batchID)
	return nil
}

func newTestService(store *fakeBatchStore, dir *fakeDirectory) (*Service, *fakePublisher) {
	pub := &fakePublisher{}
	r := NewResolver(dir, store, NewDetector(store), NopLocker{}, StrategyFirstAvailable)
	return NewService(store, r, pub), pub
}

func adminActor() Actor { return Actor{UserID: "admin-1", Role: RoleAdmin} }

func validInput() CreateInput {
	return CreateInput{
		Name:       "Algebra II",
		CourseID:   "course-1",
		EducatorID: "edu-1",
		Mode:       ModeOffline,
		StartDate:  date(2024, 3, 4),
		EndDate:    date(2024, 5, 31),
		Schedule:   weeklySchedule([]string{"Mon", "Wed"}, "10:00", "11:30"),
	}
}

func TestCreateExplicitEducator(t *testing.T) {
	store := newFakeBatchStore()
	dir := newFakeDirectory()
	dir.addEducator("edu-1", nil)
	svc, _ := newTestService(store, dir)

	b, err := svc.Create(context.Background(), adminActor(), validInput())
	require.NoError(t, err)
	require.NotNil(t, b.EducatorID)
	assert.Equal(t, "edu-1", *b.EducatorID)
	assert.Equal(t, StatusDraft, b.Status, "status defaults to draft")
	assert.Equal(t, "admin-1", b.CreatedBy)
}

func TestCreateRejectsNonAdmins(t *testing.T) {
	store := newFakeBatchStore()
	dir := newFakeDirectory()
	svc, _ := newTestService(store, dir)

	for _, role := range []string{RoleEducator, RoleLearner} {
		_, err := svc.Create(context.Background(), Actor{UserID: "u", Role: role}, validInput())
		require.Error(t, err, role)
		assert.True(t, apperr.IsKind(err, apperr.KindForbidden), role)
	}
}

func TestCreateValidation(t *testing.T) {
	store := newFakeBatchStore()
	dir := newFakeDirectory()
	dir.addEducator("edu-1", nil)
	svc, _ := newTestService(store, dir)

	t.Run("missing required fields", func(t *testing.T) {
		in := validInput()
		in.CourseID = ""
		_, err := svc.Create(context.Background(), adminActor(), in)
		assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
	})

	t.Run("inverted date range", func(t *testing.T) {
		in := validInput()
		in.StartDate, in.EndDate = in.EndDate, in.StartDate
		_, err := svc.Create(context.Background(), adminActor(), in)
		assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
	})

	t.Run("bad schedule times", func(t *testing.T) {
		in := validInput()
		in.Schedule.StartTime = "25:00"
		_, err := svc.Create(context.Background(), adminActor(), in)
		assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
	})

	t.Run("unknown mode", func(t *testing.T) {
		in := validInput()
		in.Mode = "in-person"
		_, err := svc.Create(context.Background(), adminActor(), in)
		assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
	})
}

func TestCreateSubOrgAdminPinnedToOwnScope(t *testing.T) {
	store := newFakeBatchStore()
	dir := newFakeDirectory()
	mine := "suborg-a"
	dir.addEducator("edu-1", &mine)
	svc, _ := newTestService(store, dir)

	other := "suborg-b"
	in := validInput()
	in.SubOrgID = &other
	b, err := svc.Create(context.Background(), Actor{UserID: "sa-1", Role: RoleSubOrgAdmin, SubOrgID: &mine}, in)
	require.NoError(t, err)
	require.NotNil(t, b.SubOrgID)
	assert.Equal(t, mine, *b.SubOrgID, "subOrgAdmin cannot create outside their own sub-org")
}

func TestCreateConflictSurfaces(t *testing.T) {
	store := newFakeBatchStore()
	dir := newFakeDirectory()
	dir.addEducator("edu-1", nil)
	svc, _ := newTestService(store, dir)

	_, err := svc.Create(context.Background(), adminActor(), validInput())
	require.NoError(t, err)

	in := validInput()
	in.Status = StatusPublished
	_, err = svc.Create(context.Background(), adminActor(), in)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestUpdateRechecksConflictsOnScheduleChange(t *testing.T) {
	store := newFakeBatchStore()
	dir := newFakeDirectory()
	dir.addEducator("edu-1", nil)
	svc, _ := newTestService(store, dir)

	first, err := svc.Create(context.Background(), adminActor(), validInput())
	require.NoError(t, err)

	in := validInput()
	in.Schedule = weeklySchedule([]string{"Fri"}, "10:00", "11:30")
	second, err := svc.Create(context.Background(), adminActor(), in)
	require.NoError(t, err)

	// Moving the second batch onto the first one's slot must conflict.
	clash := first.Schedule
	_, err = svc.Update(context.Background(), adminActor(), second.ID, UpdateInput{Schedule: &clash})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestUpdateExcludesSelfFromConflictCheck(t *testing.T) {
	store := newFakeBatchStore()
	dir := newFakeDirectory()
	dir.addEducator("edu-1", nil)
	svc, _ := newTestService(store, dir)

	b, err := svc.Create(context.Background(), adminActor(), validInput())
	require.NoError(t, err)

	// Nudging the same batch's own schedule must not self-conflict.
	moved := weeklySchedule([]string{"Mon", "Wed"}, "10:30", "12:00")
	updated, err := svc.Update(context.Background(), adminActor(), b.ID, UpdateInput{Schedule: &moved})
	require.NoError(t, err)
	assert.Equal(t, "10:30", updated.Schedule.StartTime)
}

func TestUpdateSubOrgMoveRechecksEducatorMembership(t *testing.T) {
	store := newFakeBatchStore()
	dir := newFakeDirectory()
	orgA := "suborg-a"
	dir.addEducator("edu-1", &orgA)
	svc, _ := newTestService(store, dir)

	in := validInput()
	in.SubOrgID = &orgA
	b, err := svc.Create(context.Background(), adminActor(), in)
	require.NoError(t, err)

	// Moving the batch to another sub-org alone must re-check the
	// assigned educator's membership.
	orgB := "suborg-b"
	_, err = svc.Update(context.Background(), adminActor(), b.ID, UpdateInput{SubOrgID: &orgB})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
}

func TestUpdateEducatorScopedToOwnBatches(t *testing.T) {
	store := newFakeBatchStore()
	dir := newFakeDirectory()
	dir.addEducator("edu-1", nil)
	svc, _ := newTestService(store, dir)

	b, err := svc.Create(context.Background(), adminActor(), validInput())
	require.NoError(t, err)

	name := "renamed"
	_, err = svc.Update(context.Background(), Actor{UserID: "edu-other", Role: RoleEducator}, b.ID, UpdateInput{Name: &name})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	got, err := svc.Update(context.Background(), Actor{UserID: "edu-1", Role: RoleEducator}, b.ID, UpdateInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}

func TestChangeStatusPublishEnqueuesGeneration(t *testing.T) {
	store := newFakeBatchStore()
	dir := newFakeDirectory()
	dir.addEducator("edu-1", nil)
	svc, pub := newTestService(store, dir)

	b, err := svc.Create(context.Background(), adminActor(), validInput())
	require.NoError(t, err)

	got, err := svc.ChangeStatus(context.Background(), adminActor(), b.ID, StatusPublished)
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, got.Status)
	assert.Equal(t, []string{b.ID}, pub.published)
}

func TestChangeStatusPublishFailureIsNotFatal(t *testing.T) {
	store := newFakeBatchStore()
	dir := newFakeDirectory()
	dir.addEducator("edu-1", nil)
	svc, pub := newTestService(store, dir)
	pub.fail = true

	b, err := svc.Create(context.Background(), adminActor(), validInput())
	require.NoError(t, err)

	got, err := svc.ChangeStatus(context.Background(), adminActor(), b.ID, StatusPublished)
	require.NoError(t, err, "a failed queue handoff must not fail the status change")
	assert.Equal(t, StatusPublished, got.Status)
}

func TestChangeStatusCancelDoesNotEnqueue(t *testing.T) {
	store := newFakeBatchStore()
	dir := newFakeDirectory()
	dir.addEducator("edu-1", nil)
	svc, pub := newTestService(store, dir)

	b, err := svc.Create(context.Background(), adminActor(), validInput())
	require.NoError(t, err)

	_, err = svc.ChangeStatus(context.Background(), adminActor(), b.ID, StatusCancelled)
	require.NoError(t, err)
	assert.Empty(t, pub.published)
}

func TestListScoping(t *testing.T) {
	store := newFakeBatchStore()
	dir := newFakeDirectory()
	orgA, orgB := "suborg-a", "suborg-b"
	eduA, eduB := "edu-a", "edu-b"
	seed := func(edu string, org *string) {
		b := Batch{
			Name: "b", CourseID: "c", EducatorID: &edu, SubOrgID: org,
			Mode: ModeOnline, Status: StatusPublished,
			StartDate: date(2024, 3, 1), EndDate: date(2024, 5, 31),
		}
		_, err := store.Create(context.Background(), b)
		require.NoError(t, err)
	}
	seed(eduA, &orgA)
	seed(eduB, &orgB)
	svc, _ := newTestService(store, dir)

	all, err := svc.List(context.Background(), adminActor(), Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2, "admin sees everything")

	scoped, err := svc.List(context.Background(), Actor{UserID: "sa", Role: RoleSubOrgAdmin, SubOrgID: &orgA}, Filter{})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, orgA, *scoped[0].SubOrgID)

	own, err := svc.List(context.Background(), Actor{UserID: eduB, Role: RoleEducator}, Filter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, eduB, *own[0].EducatorID)
}
