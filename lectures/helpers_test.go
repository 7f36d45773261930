package lectures_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/lectures"
	"github.com/warp/lecture-engine/records"
	"github.com/warp/lecture-engine/records/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	csAgent   = generic.Actor{ID: "cs-1", Role: generic.RoleCustomerService}
	trainerTR = generic.Actor{ID: "tr-1", Role: generic.RoleTrainer}
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *store.Memory
	svc   *lectures.Service
}

// newFixture builds a service whose "today" is the given date.
func newFixture(t *testing.T, today generic.Date) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	for _, tr := range []records.Trainer{
		{ID: "tr-1", Name: "Amal", LevelMin: 1, LevelMax: 4},
		{ID: "tr-2", Name: "Bassam", LevelMin: 2, LevelMax: 6},
	} {
		require.NoError(t, mem.SaveTrainer(ctx, tr))
	}

	clock := generic.FixedClock{At: today.Time.Add(10 * time.Hour)}
	svc := lectures.NewService(mem, clock, lectures.DefaultLimits(), nil)
	n := 0
	svc.NewID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return &fixture{t: t, ctx: ctx, store: mem, svc: svc}
}

func date(year int, month time.Month, day int) generic.Date {
	return generic.NewDate(year, month, day)
}

func at(hour, minute int) generic.TimeOfDay {
	return generic.NewTimeOfDay(hour, minute)
}

type courseOpts struct {
	ID       records.CourseID
	Trainer  records.TrainerID
	Start    generic.Date
	Weekdays []time.Weekday
	Count    int
	Time     generic.TimeOfDay
	Dual     bool
}

// course creates a course through the service and returns its lectures.
func (f *fixture) course(o courseOpts) (*records.Course, []records.Lecture) {
	f.t.Helper()
	if o.Trainer == "" {
		o.Trainer = "tr-1"
	}
	students := []records.StudentID{"st-" + records.StudentID(o.ID)}
	if o.Dual {
		students = []records.StudentID{"st-a", "st-b"}
	}
	c, ls, err := f.svc.CreateCourse(f.ctx, csAgent, records.Course{
		ID:           o.ID,
		Title:        "Course " + string(o.ID),
		TrainerID:    o.Trainer,
		StudentIDs:   students,
		IsDual:       o.Dual,
		StartDate:    o.Start,
		LectureTime:  o.Time,
		Weekdays:     o.Weekdays,
		LectureCount: o.Count,
	})
	require.NoError(f.t, err)
	return c, ls
}

func (f *fixture) lecture(id records.LectureID) records.Lecture {
	f.t.Helper()
	l, err := f.store.GetLecture(f.ctx, id)
	require.NoError(f.t, err)
	return *l
}

func (f *fixture) lectures(courseID records.CourseID) []records.Lecture {
	f.t.Helper()
	ls, err := f.store.ListLectures(f.ctx, courseID)
	require.NoError(f.t, err)
	return ls
}

func (f *fixture) mark(actor generic.Actor, id records.LectureID, a records.Attendance) {
	f.t.Helper()
	_, err := f.svc.SetLectureField(f.ctx, actor, lectures.FieldUpdate{
		LectureID: id,
		Field:     lectures.FieldAttendance,
		Value:     string(a),
	})
	require.NoError(f.t, err)
}
