package lectures_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/lectures"
	"github.com/warp/lecture-engine/records"
)

func TestCurrentMilestone(t *testing.T) {
	cases := map[int]int{0: 0, 4: 0, 5: 5, 9: 5, 10: 10, 14: 10, 23: 20}
	for completed, want := range cases {
		assert.Equal(t, want, lectures.CurrentMilestone(completed), "completed=%d", completed)
	}
}

func TestEvaluationMilestones(t *testing.T) {
	// GIVEN: A 12-lecture course with last_evaluation_milestone = 0
	// WHEN: Lectures are completed one by one
	// THEN: Signal at 5; after confirming 5 no signal at 6..9; new signal at 10

	f := newFixture(t, date(2025, time.June, 30))
	_, ls := f.course(courseOpts{ID: "c-1", Start: date(2025, time.March, 3), Weekdays: tueThu, Count: 12, Time: at(16, 0)})

	progress := func() *lectures.Progress {
		p, err := f.svc.Progress(f.ctx, "c-1")
		require.NoError(t, err)
		return p
	}

	for i := 0; i < 4; i++ {
		f.mark(csAgent, ls[i].ID, records.AttendancePresent)
		assert.False(t, progress().EvaluationRequired, "after %d lectures", i+1)
	}
	f.mark(csAgent, ls[4].ID, records.AttendancePresent)
	p := progress()
	assert.True(t, p.EvaluationRequired)
	assert.Equal(t, 5, p.CurrentMilestone)

	c, err := f.svc.ConfirmEvaluation(f.ctx, trainerTR, "c-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, c.LastEvaluationMilestone)

	for i := 5; i < 9; i++ {
		f.mark(trainerTR, ls[i].ID, records.AttendancePresent)
		assert.False(t, progress().EvaluationRequired, "after %d lectures", i+1)
	}
	f.mark(trainerTR, ls[9].ID, records.AttendanceAbsent)
	p = progress()
	assert.True(t, p.EvaluationRequired)
	assert.Equal(t, 10, p.CurrentMilestone)
	assert.Equal(t, 5, p.LastEvaluationMilestone)
}

func TestConfirmEvaluation_Validation(t *testing.T) {
	f := newFixture(t, date(2025, time.June, 30))
	_, ls := singleCourse(f)
	for i := 0; i < 5; i++ {
		f.mark(csAgent, ls[i].ID, records.AttendancePresent)
	}

	for _, m := range []int{0, 3, -5, 10} {
		_, err := f.svc.ConfirmEvaluation(f.ctx, csAgent, "c-1", m)
		assert.ErrorIs(t, err, generic.ErrValidation, "milestone %d", m)
	}

	_, err := f.svc.ConfirmEvaluation(f.ctx, csAgent, "unknown", 5)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	c, err := f.svc.ConfirmEvaluation(f.ctx, csAgent, "c-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, c.LastEvaluationMilestone)
}

func TestEffectiveRenewalStatus(t *testing.T) {
	cases := []struct {
		stored records.RenewalAlertStatus
		pct    int
		want   records.RenewalAlertStatus
	}{
		{records.RenewalNone, 74, records.RenewalNone},
		{records.RenewalNone, 75, records.RenewalAlert},
		{records.RenewalNone, 99, records.RenewalAlert},
		{records.RenewalNone, 100, records.RenewalNone},
		{records.RenewalAlert, 50, records.RenewalNone},
		{records.RenewalAlert, 80, records.RenewalAlert},
		{records.RenewalSent, 10, records.RenewalSent},
		{records.RenewalRenewed, 80, records.RenewalRenewed},
		{records.RenewalRenewed, 100, records.RenewalRenewed},
	}
	for _, tc := range cases {
		got := lectures.EffectiveRenewalStatus(tc.stored, tc.pct, 75)
		assert.Equal(t, tc.want, got, "stored=%s pct=%d", tc.stored, tc.pct)
	}
}

func TestProgress_RenewalAlertAtThreshold(t *testing.T) {
	f := newFixture(t, date(2025, time.June, 30))
	_, ls := singleCourse(f)
	for i := 0; i < 6; i++ {
		f.mark(csAgent, ls[i].ID, records.AttendancePresent)
	}

	p, err := f.svc.Progress(f.ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 75, p.Percentage)
	assert.Equal(t, 6, p.Completed)
	assert.Equal(t, 8, p.Total)
	assert.Equal(t, records.RenewalAlert, p.RenewalAlert)
}

func TestSetRenewalAlertStatus_Transitions(t *testing.T) {
	f := newFixture(t, date(2025, time.June, 30))
	singleCourse(f)

	_, err := f.svc.SetRenewalAlertStatus(f.ctx, trainerTR, "c-1", records.RenewalSent)
	assert.ErrorIs(t, err, generic.ErrAuthorization)

	_, err = f.svc.SetRenewalAlertStatus(f.ctx, csAgent, "c-1", records.RenewalRenewed)
	assert.ErrorIs(t, err, generic.ErrValidation, "none cannot jump to renewed")

	c, err := f.svc.SetRenewalAlertStatus(f.ctx, csAgent, "c-1", records.RenewalSent)
	require.NoError(t, err)
	assert.Equal(t, records.RenewalSent, c.RenewalAlertStatus)

	c, err = f.svc.SetRenewalAlertStatus(f.ctx, csAgent, "c-1", records.RenewalSent)
	require.NoError(t, err, "same status is a no-op")
	assert.Equal(t, records.RenewalSent, c.RenewalAlertStatus)

	_, err = f.svc.SetRenewalAlertStatus(f.ctx, csAgent, "c-1", records.RenewalAlert)
	assert.ErrorIs(t, err, generic.ErrValidation)

	c, err = f.svc.SetRenewalAlertStatus(f.ctx, csAgent, "c-1", records.RenewalRenewed)
	require.NoError(t, err)
	assert.Equal(t, records.RenewalRenewed, c.RenewalAlertStatus)

	_, err = f.svc.SetRenewalAlertStatus(f.ctx, csAgent, "c-1", records.RenewalNone)
	assert.ErrorIs(t, err, generic.ErrValidation, "renewed is terminal")

	_, err = f.svc.SetRenewalAlertStatus(f.ctx, csAgent, "c-1", "lost")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestRenewCourse(t *testing.T) {
	// GIVEN: A course whose renewal offer was sent
	// WHEN: It is renewed with a new package of 4 lectures
	// THEN: A new course starts the day after the last lecture with the same
	//       trainer, students and days; the prior course is renewed for good

	f := newFixture(t, date(2025, time.June, 30))
	prior, ls := singleCourse(f)

	_, _, err := f.svc.RenewCourse(f.ctx, csAgent, prior.ID, lectures.RenewalRequest{})
	require.ErrorIs(t, err, generic.ErrValidation, "renewal must be sent first")

	_, err = f.svc.SetRenewalAlertStatus(f.ctx, csAgent, prior.ID, records.RenewalSent)
	require.NoError(t, err)

	_, _, err = f.svc.RenewCourse(f.ctx, trainerTR, prior.ID, lectures.RenewalRequest{})
	require.ErrorIs(t, err, generic.ErrAuthorization)

	next, nextLectures, err := f.svc.RenewCourse(f.ctx, csAgent, prior.ID, lectures.RenewalRequest{
		CourseID:     "c-2",
		PackageID:    "pkg-4",
		LectureCount: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, records.CourseID("c-2"), next.ID)
	assert.True(t, next.IsRenewal)
	require.NotNil(t, next.RenewedFrom)
	assert.Equal(t, prior.ID, *next.RenewedFrom)
	assert.Equal(t, prior.TrainerID, next.TrainerID)
	assert.Equal(t, prior.StudentIDs, next.StudentIDs)
	assert.Equal(t, prior.Weekdays, next.Weekdays)
	assert.Equal(t, records.PackageID("pkg-4"), next.PackageID)
	assert.Equal(t, ls[len(ls)-1].Date.AddDays(1), next.StartDate)
	assert.Equal(t, records.RenewalNone, next.RenewalAlertStatus)

	require.Len(t, nextLectures, 4)
	assert.Equal(t, date(2025, time.April, 1), nextLectures[0].Date)
	assert.Len(t, f.lectures("c-2"), 4)

	stored, err := f.store.GetCourse(f.ctx, prior.ID)
	require.NoError(t, err)
	assert.Equal(t, records.RenewalRenewed, stored.RenewalAlertStatus)

	_, _, err = f.svc.RenewCourse(f.ctx, csAgent, prior.ID, lectures.RenewalRequest{})
	assert.ErrorIs(t, err, generic.ErrConflict, "a course is renewed once")
}

func TestCreateCourse_Validation(t *testing.T) {
	f := newFixture(t, date(2025, time.June, 30))
	base := records.Course{
		ID:           "c-x",
		TrainerID:    "tr-1",
		StudentIDs:   []records.StudentID{"s-1"},
		StartDate:    date(2025, time.March, 3),
		LectureTime:  at(16, 0),
		Weekdays:     tueThu,
		LectureCount: 8,
	}

	dual := base
	dual.IsDual = true
	_, _, err := f.svc.CreateCourse(f.ctx, csAgent, dual)
	assert.ErrorIs(t, err, generic.ErrValidation, "dual course needs two students")

	noDays := base
	noDays.Weekdays = nil
	_, _, err = f.svc.CreateCourse(f.ctx, csAgent, noDays)
	assert.ErrorIs(t, err, generic.ErrValidation)

	unknownTrainer := base
	unknownTrainer.TrainerID = "tr-404"
	_, _, err = f.svc.CreateCourse(f.ctx, csAgent, unknownTrainer)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	_, _, err = f.svc.CreateCourse(f.ctx, trainerTR, base)
	assert.ErrorIs(t, err, generic.ErrAuthorization)

	c, ls, err := f.svc.CreateCourse(f.ctx, csAgent, base)
	require.NoError(t, err)
	assert.Equal(t, records.CourseActive, c.Status)
	assert.Equal(t, records.RenewalNone, c.RenewalAlertStatus)
	assert.Len(t, ls, 8)

	_, _, err = f.svc.CreateCourse(f.ctx, csAgent, base)
	assert.ErrorIs(t, err, generic.ErrConflict)
}

func TestTrainers_WeeklyLectures(t *testing.T) {
	f := newFixture(t, date(2025, time.June, 30))
	singleCourse(f)
	f.course(courseOpts{ID: "c-2", Start: date(2025, time.March, 3), Weekdays: []time.Weekday{time.Saturday}, Count: 4, Time: at(10, 0)})

	trainers, err := f.svc.Trainers(f.ctx)
	require.NoError(t, err)
	require.Len(t, trainers, 2)
	assert.Equal(t, 3, trainers[0].WeeklyLectures)
	assert.Equal(t, 0, trainers[1].WeeklyLectures)
}
