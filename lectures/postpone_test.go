package lectures_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/lectures"
	"github.com/warp/lecture-engine/records"
)

func TestPostpone_CreatesOneMakeup(t *testing.T) {
	// GIVEN: A course with 8 lectures
	// WHEN: Lecture 2 is postponed by the student to 2025-04-02
	// THEN: Lecture 2 is flagged, one linked makeup exists, 9 records total

	f := newFixture(t, date(2025, time.April, 30))
	_, ls := singleCourse(f)
	newTime := at(18, 0)

	res, err := f.svc.Postpone(f.ctx, trainerTR, lectures.PostponeRequest{
		LectureID:  ls[1].ID,
		NewDate:    date(2025, time.April, 2),
		NewTime:    &newTime,
		Reason:     records.AttendancePostponedByStudent,
		ReasonText: "exam week",
	})
	require.NoError(t, err)

	assert.Equal(t, records.AttendancePostponedByStudent, res.Original.Attendance)
	assert.Equal(t, "exam week", res.Original.PostponeReason)
	assert.Empty(t, res.Conflicts)

	m := res.Makeup
	assert.True(t, m.IsMakeup)
	require.NotNil(t, m.PostponedFrom)
	assert.Equal(t, ls[1].ID, *m.PostponedFrom)
	assert.Equal(t, ls[1].Sequence, m.Sequence)
	assert.Equal(t, date(2025, time.April, 2), m.Date)
	assert.Equal(t, newTime, m.Time)
	assert.Equal(t, records.AttendancePending, m.Attendance)
	assert.Equal(t, 1, m.PostponementCount)

	all := f.lectures("c-1")
	assert.Len(t, all, 9)
	assert.Equal(t, records.AttendancePostponedByStudent, f.lecture(ls[1].ID).Attendance)

	makeup, err := f.store.FindMakeup(f.ctx, ls[1].ID)
	require.NoError(t, err)
	require.NotNil(t, makeup)
	assert.Equal(t, m.ID, makeup.ID)
}

func TestPostpone_KeepsOriginalTimeByDefault(t *testing.T) {
	f := newFixture(t, date(2025, time.April, 30))
	_, ls := singleCourse(f)

	res, err := f.svc.Postpone(f.ctx, csAgent, lectures.PostponeRequest{
		LectureID: ls[0].ID,
		NewDate:   date(2025, time.April, 1),
		Reason:    records.AttendancePostponedHoliday,
	})
	require.NoError(t, err)
	assert.Equal(t, at(16, 0), res.Makeup.Time)
}

func TestCancelPostponement_RestoresOriginal(t *testing.T) {
	f := newFixture(t, date(2025, time.April, 30))
	_, ls := singleCourse(f)

	_, err := f.svc.Postpone(f.ctx, csAgent, lectures.PostponeRequest{
		LectureID: ls[3].ID, NewDate: date(2025, time.April, 1), Reason: records.AttendancePostponedByTrainer,
	})
	require.NoError(t, err)
	require.Len(t, f.lectures("c-1"), 9)

	require.NoError(t, f.svc.CancelPostponement(f.ctx, csAgent, ls[3].ID))

	assert.Len(t, f.lectures("c-1"), 8)
	restored := f.lecture(ls[3].ID)
	assert.Equal(t, records.AttendancePending, restored.Attendance)
	assert.Empty(t, restored.PostponeReason)

	makeup, err := f.store.FindMakeup(f.ctx, ls[3].ID)
	require.NoError(t, err)
	assert.Nil(t, makeup)

	err = f.svc.CancelPostponement(f.ctx, csAgent, ls[3].ID)
	assert.ErrorIs(t, err, generic.ErrValidation, "lecture is no longer postponed")
}

func TestCancelPostponement_BlockedOnceMakeupAttended(t *testing.T) {
	f := newFixture(t, date(2025, time.April, 30))
	_, ls := singleCourse(f)

	res, err := f.svc.Postpone(f.ctx, csAgent, lectures.PostponeRequest{
		LectureID: ls[0].ID, NewDate: date(2025, time.April, 1), Reason: records.AttendancePostponedByStudent,
	})
	require.NoError(t, err)
	f.mark(csAgent, res.Makeup.ID, records.AttendancePresent)

	err = f.svc.CancelPostponement(f.ctx, csAgent, ls[0].ID)
	var me *generic.ModificationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, generic.ReasonMakeupModified, me.Reason)
	assert.Len(t, f.lectures("c-1"), 9)
	assert.Equal(t, records.AttendancePostponedByStudent, f.lecture(ls[0].ID).Attendance)
}

func TestPostpone_LimitExceeded(t *testing.T) {
	// GIVEN: Max 2 postponements per slot
	// WHEN: A slot is postponed, its makeup postponed, and that makeup postponed again
	// THEN: The third attempt fails with LimitExceededError{count: 2, max: 2}

	f := newFixture(t, date(2025, time.April, 30))
	_, ls := singleCourse(f)

	first, err := f.svc.Postpone(f.ctx, csAgent, lectures.PostponeRequest{
		LectureID: ls[0].ID, NewDate: date(2025, time.April, 1), Reason: records.AttendancePostponedByStudent,
	})
	require.NoError(t, err)
	second, err := f.svc.Postpone(f.ctx, csAgent, lectures.PostponeRequest{
		LectureID: first.Makeup.ID, NewDate: date(2025, time.April, 8), Reason: records.AttendancePostponedByStudent,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Makeup.PostponementCount)

	_, err = f.svc.Postpone(f.ctx, csAgent, lectures.PostponeRequest{
		LectureID: second.Makeup.ID, NewDate: date(2025, time.April, 15), Reason: records.AttendancePostponedByStudent,
	})
	var le *generic.LimitExceededError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 2, le.Count)
	assert.Equal(t, 2, le.Max)
	assert.Len(t, f.lectures("c-1"), 10)
}

func TestPostpone_LimitIsOverridable(t *testing.T) {
	f := newFixture(t, date(2025, time.April, 30))
	_, ls := singleCourse(f)

	limits := lectures.DefaultLimits()
	limits.MaxPostponements = 0
	require.NoError(t, f.svc.SetLimits(limits))

	_, err := f.svc.Postpone(f.ctx, csAgent, lectures.PostponeRequest{
		LectureID: ls[0].ID, NewDate: date(2025, time.April, 1), Reason: records.AttendancePostponedByStudent,
	})
	assert.ErrorIs(t, err, generic.ErrLimitExceeded)
}

func TestPostpone_TrainerConflict(t *testing.T) {
	// GIVEN: Trainer tr-1 teaches course A on Mondays and course B on Wednesdays, both 16:00
	// WHEN: A's first lecture is moved to Wednesday 2025-03-05 16:30
	// THEN: Without force -> ConflictError listing course B
	//       Trainer with force -> AuthorizationError
	//       Customer service with force -> success, conflicts reported

	f := newFixture(t, date(2025, time.April, 30))
	_, a := f.course(courseOpts{ID: "A", Start: date(2025, time.March, 3), Weekdays: []time.Weekday{time.Monday}, Count: 4, Time: at(16, 0)})
	_, b := f.course(courseOpts{ID: "B", Start: date(2025, time.March, 3), Weekdays: []time.Weekday{time.Wednesday}, Count: 4, Time: at(16, 0)})
	require.Equal(t, date(2025, time.March, 5), b[0].Date)

	req := lectures.PostponeRequest{
		LectureID: a[0].ID,
		NewDate:   date(2025, time.March, 5),
		NewTime:   ptrTime(at(16, 30)),
		Reason:    records.AttendancePostponedByTrainer,
	}

	_, err := f.svc.Postpone(f.ctx, csAgent, req)
	var ce *generic.ConflictError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Conflicts, 1)
	assert.Equal(t, "B", ce.Conflicts[0].CourseID)
	assert.Equal(t, string(b[0].ID), ce.Conflicts[0].LectureID)
	assert.Contains(t, ce.Conflicts[0].Message, "Course B")
	assert.Equal(t, records.AttendancePending, f.lecture(a[0].ID).Attendance, "nothing written on conflict")

	req.Force = true
	_, err = f.svc.Postpone(f.ctx, trainerTR, req)
	assert.ErrorIs(t, err, generic.ErrAuthorization)

	res, err := f.svc.Postpone(f.ctx, csAgent, req)
	require.NoError(t, err)
	assert.Len(t, res.Conflicts, 1)
	assert.True(t, res.Makeup.IsMakeup)
}

func TestPostpone_NoConflictOutsideWindowOrOtherTrainer(t *testing.T) {
	f := newFixture(t, date(2025, time.April, 30))
	_, a := f.course(courseOpts{ID: "A", Start: date(2025, time.March, 3), Weekdays: []time.Weekday{time.Monday}, Count: 4, Time: at(16, 0)})
	f.course(courseOpts{ID: "B", Start: date(2025, time.March, 3), Weekdays: []time.Weekday{time.Wednesday}, Count: 4, Time: at(16, 0)})
	f.course(courseOpts{ID: "C", Trainer: "tr-2", Start: date(2025, time.March, 3), Weekdays: []time.Weekday{time.Wednesday}, Count: 4, Time: at(18, 0)})

	_, err := f.svc.Postpone(f.ctx, csAgent, lectures.PostponeRequest{
		LectureID: a[0].ID,
		NewDate:   date(2025, time.March, 5),
		NewTime:   ptrTime(at(18, 0)),
		Reason:    records.AttendancePostponedByTrainer,
	})
	require.NoError(t, err, "B ends at 17:00 and C belongs to another trainer")
}

func TestPostpone_FutureLectureLocked(t *testing.T) {
	f := newFixture(t, date(2025, time.March, 5))
	_, ls := singleCourse(f)

	_, err := f.svc.Postpone(f.ctx, csAgent, lectures.PostponeRequest{
		LectureID: ls[2].ID, NewDate: date(2025, time.April, 1), Reason: records.AttendancePostponedHoliday,
	})
	var me *generic.ModificationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, generic.ReasonFutureLecture, me.Reason)
	assert.Len(t, f.lectures("c-1"), 8)
}

func TestPostpone_HeldLectureCannotBePostponed(t *testing.T) {
	f := newFixture(t, date(2025, time.April, 30))
	_, ls := singleCourse(f)
	f.mark(csAgent, ls[0].ID, records.AttendancePresent)

	_, err := f.svc.Postpone(f.ctx, csAgent, lectures.PostponeRequest{
		LectureID: ls[0].ID, NewDate: date(2025, time.April, 1), Reason: records.AttendancePostponedHoliday,
	})
	assert.ErrorIs(t, err, generic.ErrModification)
}

func TestPostpone_InvalidRequest(t *testing.T) {
	f := newFixture(t, date(2025, time.April, 30))
	_, ls := singleCourse(f)

	_, err := f.svc.Postpone(f.ctx, csAgent, lectures.PostponeRequest{LectureID: ls[0].ID, NewDate: date(2025, time.April, 1), Reason: records.AttendancePresent})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.svc.Postpone(f.ctx, csAgent, lectures.PostponeRequest{LectureID: ls[0].ID, Reason: records.AttendancePostponedHoliday})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = f.svc.Postpone(f.ctx, csAgent, lectures.PostponeRequest{LectureID: "nope", NewDate: date(2025, time.April, 1), Reason: records.AttendancePostponedHoliday})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestPostpone_ConcurrentRequestsOnlyOneWins(t *testing.T) {
	// GIVEN: Two simultaneous postponements of the same lecture
	// THEN: Exactly one succeeds; the other observes the postponed state (ConflictError)

	f := newFixture(t, date(2025, time.April, 30))
	_, ls := singleCourse(f)

	const n = 2
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Postpone(f.ctx, csAgent, lectures.PostponeRequest{
				LectureID: ls[0].ID,
				NewDate:   date(2025, time.April, 1+i),
				Reason:    records.AttendancePostponedByStudent,
			})
		}(i)
	}
	wg.Wait()

	succeeded, conflicted := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, generic.ErrConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)
	assert.Len(t, f.lectures("c-1"), 9)
}

func ptrTime(t generic.TimeOfDay) *generic.TimeOfDay { return &t }
