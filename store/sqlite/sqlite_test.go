package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/records"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.SaveTrainer(ctx, records.Trainer{ID: "tr-1", Name: "Amal", LevelMin: 1, LevelMax: 3}))
	require.NoError(t, s.SaveCourse(ctx, records.Course{
		ID:           "c-1",
		Title:        "Conversation B1",
		TrainerID:    "tr-1",
		StudentIDs:   []records.StudentID{"st-a", "st-b"},
		IsDual:       true,
		StartDate:    generic.NewDate(2025, time.March, 3),
		LectureTime:  generic.NewTimeOfDay(16, 30),
		Weekdays:     []time.Weekday{time.Tuesday, time.Thursday},
		LectureCount: 8,
		Status:       records.CourseActive,
		CreatedAt:    time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC),
	}))
	return s
}

func lecture(id records.LectureID, seq int, day int) records.Lecture {
	return records.Lecture{
		ID:                   id,
		CourseID:             "c-1",
		Sequence:             seq,
		Date:                 generic.NewDate(2025, time.March, day),
		Time:                 generic.NewTimeOfDay(16, 30),
		Attendance:           records.AttendancePending,
		TrainerPaymentStatus: records.LectureUnpaid,
	}
}

func TestCourseRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.GetCourse(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Conversation B1", c.Title)
	assert.Equal(t, []records.StudentID{"st-a", "st-b"}, c.StudentIDs)
	assert.Equal(t, []time.Weekday{time.Tuesday, time.Thursday}, c.Weekdays)
	assert.Equal(t, generic.NewTimeOfDay(16, 30), c.LectureTime)
	assert.True(t, c.StartDate.Equal(generic.NewDate(2025, time.March, 3)))
	assert.Nil(t, c.RenewedFrom)
	assert.Nil(t, c.ReportedCompletion)

	_, err = s.GetCourse(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestListCourses_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prior := records.CourseID("c-1")
	require.NoError(t, s.SaveCourse(ctx, records.Course{
		ID: "c-2", TrainerID: "tr-1", StudentIDs: []records.StudentID{"st-a"},
		StartDate: generic.NewDate(2025, time.April, 1), Weekdays: []time.Weekday{time.Monday},
		LectureCount: 4, Status: records.CourseActive, IsRenewal: true, RenewedFrom: &prior,
	}))

	april := generic.MonthPeriod(2025, time.April)
	trainer := records.TrainerID("tr-1")
	got, err := s.ListCourses(ctx, records.CourseFilter{TrainerID: &trainer, StartedIn: &april, RenewalOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, records.CourseID("c-2"), got[0].ID)
	require.NotNil(t, got[0].RenewedFrom)
	assert.Equal(t, prior, *got[0].RenewedFrom)

	got, err = s.ListCourses(ctx, records.CourseFilter{RenewedFrom: &prior})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.ListCourses(ctx, records.CourseFilter{Statuses: []records.CourseStatus{records.CoursePaused}})
	require.NoError(t, err)
	assert.Empty(t, got)

	err = s.SaveCourse(ctx, records.Course{
		ID: "c-3", TrainerID: "tr-1", StudentIDs: []records.StudentID{"st-a"},
		StartDate: generic.NewDate(2025, time.April, 1), Status: records.CourseActive,
		IsRenewal: true, RenewedFrom: &prior,
	})
	assert.ErrorIs(t, err, generic.ErrConflict, "a course is renewed once")
}

func TestLectures_StudentAttendanceAndOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l2 := lecture("l-2", 2, 6)
	l1 := lecture("l-1", 1, 4)
	l1.Attendance = records.AttendancePresent
	l1.IsCompleted = true
	l1.StudentAttendance = map[records.StudentID]records.StudentEntry{
		"st-a": {Attendance: records.AttendancePresent, Activity: records.ActivityGood},
		"st-b": {Attendance: records.AttendanceAbsent},
	}
	require.NoError(t, s.InsertLectures(ctx, []records.Lecture{l2, l1}))

	ls, err := s.ListLectures(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, ls, 2)
	assert.Equal(t, records.LectureID("l-1"), ls[0].ID)
	assert.Equal(t, records.ActivityGood, ls[0].StudentAttendance["st-a"].Activity)
	assert.Equal(t, records.AttendanceAbsent, ls[0].StudentAttendance["st-b"].Attendance)
	assert.Nil(t, ls[1].StudentAttendance)

	l2.Sequence = 5
	err = s.UpdateLecture(ctx, l2)
	assert.ErrorIs(t, err, generic.ErrValidation, "sequence is immutable")
}

func TestLectures_LegacyArrayAttendanceIsNormalized(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertLectures(ctx, []records.Lecture{lecture("l-1", 1, 4)}))

	_, err := s.db.ExecContext(ctx,
		`UPDATE lectures SET student_attendance = ? WHERE id = ?`,
		`[{"student_id":"st-a","attendance":"present"},{"student_id":"st-b","attendance":"absent"}]`, "l-1")
	require.NoError(t, err)

	l, err := s.GetLecture(ctx, "l-1")
	require.NoError(t, err)
	assert.Equal(t, records.AttendancePresent, l.StudentAttendance["st-a"].Attendance)
	assert.Equal(t, records.AttendanceAbsent, l.StudentAttendance["st-b"].Attendance)
}

func TestMakeupUniqueness(t *testing.T) {
	// GIVEN: A lecture that already has a makeup
	// WHEN: A second makeup for the same lecture is inserted
	// THEN: The unique index rejects it as a conflict

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertLectures(ctx, []records.Lecture{lecture("l-1", 1, 4)}))

	from := records.LectureID("l-1")
	makeup := lecture("m-1", 1, 7)
	makeup.IsMakeup = true
	makeup.PostponedFrom = &from
	makeup.PostponementCount = 1
	require.NoError(t, s.InsertLectures(ctx, []records.Lecture{makeup}))

	found, err := s.FindMakeup(ctx, "l-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, records.LectureID("m-1"), found.ID)
	assert.Equal(t, 1, found.PostponementCount)

	second := lecture("m-2", 1, 8)
	second.IsMakeup = true
	second.PostponedFrom = &from
	err = s.InsertLectures(ctx, []records.Lecture{second})
	assert.ErrorIs(t, err, generic.ErrConflict)

	none, err := s.FindMakeup(ctx, "m-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, s.DeleteLecture(ctx, "m-1"))
	assert.ErrorIs(t, s.DeleteLecture(ctx, "m-1"), generic.ErrNotFound)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(st records.Store) error {
		if err := st.InsertLectures(ctx, []records.Lecture{lecture("l-1", 1, 4)}); err != nil {
			return err
		}
		ls, err := st.ListLectures(ctx, "c-1")
		require.NoError(t, err)
		assert.Len(t, ls, 1, "a transaction sees its own writes")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	ls, err := s.ListLectures(ctx, "c-1")
	require.NoError(t, err)
	assert.Empty(t, ls)
}

func TestTrainerLectures_Period(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	outside := lecture("l-apr", 3, 4)
	outside.Date = generic.NewDate(2025, time.April, 1)
	require.NoError(t, s.InsertLectures(ctx, []records.Lecture{lecture("l-1", 1, 4), lecture("l-2", 2, 31), outside}))

	ls, err := s.TrainerLectures(ctx, "tr-1", generic.MonthPeriod(2025, time.March))
	require.NoError(t, err)
	require.Len(t, ls, 2)
	assert.Equal(t, records.LectureID("l-2"), ls[1].ID)
}

func TestPayrollBookkeeping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	march := generic.MonthPeriod(2025, time.March)

	a, err := s.GetAdjustment(ctx, "tr-1", march)
	require.NoError(t, err)
	assert.Nil(t, a)

	adj := records.DefaultAdjustment("tr-1", 2025, time.March)
	override := generic.MustParseMoney("15000.50")
	paidAt := time.Date(2025, time.April, 2, 12, 0, 0, 0, time.UTC)
	adj.RenewalTotalOverride = &override
	adj.BonusDeduction = generic.NewMoney(-2500)
	adj.Status = records.PayrollPaid
	adj.PaidAt = &paidAt
	require.NoError(t, s.SaveAdjustment(ctx, adj))

	a, err = s.GetAdjustment(ctx, "tr-1", march)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, time.March, a.Month)
	assert.True(t, a.BonusDeduction.Equal(generic.NewMoney(-2500)))
	require.NotNil(t, a.RenewalTotalOverride)
	assert.True(t, a.RenewalTotalOverride.Equal(override))
	require.NotNil(t, a.PaidAt)
	assert.True(t, a.PaidAt.Equal(paidAt))

	all, err := s.ListAdjustments(ctx, march)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	pin := "4321"
	require.NoError(t, s.SavePaymentMethod(ctx, records.PaymentMethod{TrainerID: "tr-1", Method: "bank", AccountNumber: "IBAN-1", PIN: &pin}))
	m, err := s.GetPaymentMethod(ctx, "tr-1")
	require.NoError(t, err)
	require.NotNil(t, m.PIN)
	assert.Equal(t, "4321", *m.PIN)
}

func TestRulesAreVersioned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.GetRules(ctx)
	require.NoError(t, err)
	assert.Nil(t, r)

	first, err := s.SaveRules(ctx, records.RulesRecord{ConfigJSON: `{}`, UpdatedBy: "admin-1", UpdatedAt: time.Now()})
	require.NoError(t, err)
	second, err := s.SaveRules(ctx, records.RulesRecord{ConfigJSON: `{"lectures":{}}`, UpdatedBy: "admin-1", UpdatedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, first.Version+1, second.Version)

	r, err = s.GetRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Version, r.Version)
	assert.Equal(t, `{"lectures":{}}`, r.ConfigJSON)
}

func TestAuditLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, time.March, 4, 10, 0, 0, 0, time.UTC)

	for i, action := range []generic.AuditAction{generic.AuditLectureUpdated, generic.AuditLecturePostponed, generic.AuditLectureUpdated} {
		require.NoError(t, s.AppendAudit(ctx, generic.AuditEntry{
			ID:        string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			ActorID:   "cs-1",
			ActorRole: generic.RoleCustomerService,
			Action:    action,
			SubjectID: "l-1",
			Payload:   map[string]any{"n": float64(i)},
		}))
	}

	subject := "l-1"
	entries, err := s.QueryAudit(ctx, generic.AuditFilter{SubjectID: &subject, Actions: []generic.AuditAction{generic.AuditLectureUpdated}})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].ID, "newest first")
	assert.Equal(t, float64(2), entries[0].Payload["n"])

	entries, err = s.QueryAudit(ctx, generic.AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestCorruptTimestampsSurface(t *testing.T) {
	// GIVEN: Rows whose timestamps were edited outside the engine
	// WHEN: They are read back
	// THEN: The read fails instead of returning a zero time

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePaymentMethod(ctx, records.PaymentMethod{TrainerID: "tr-1", Method: "cash"}))
	adj := records.DefaultAdjustment("tr-1", 2025, time.March)
	require.NoError(t, s.SaveAdjustment(ctx, adj))
	require.NoError(t, s.AppendAudit(ctx, generic.AuditEntry{ID: "a-1", Action: generic.AuditLectureUpdated}))

	for _, stmt := range []string{
		"UPDATE courses SET created_at = 'yesterday' WHERE id = 'c-1'",
		"UPDATE payment_methods SET updated_at = '2025-13-45' WHERE trainer_id = 'tr-1'",
		"UPDATE payroll_adjustments SET paid_at = 'soon' WHERE trainer_id = 'tr-1'",
		"UPDATE audit_log SET timestamp = '' WHERE id = 'a-1'",
	} {
		_, err := s.db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	_, err := s.GetCourse(ctx, "c-1")
	assert.ErrorContains(t, err, "created_at")
	_, err = s.GetPaymentMethod(ctx, "tr-1")
	assert.Error(t, err)
	_, err = s.GetAdjustment(ctx, "tr-1", generic.MonthPeriod(2025, time.March))
	assert.ErrorContains(t, err, "paid_at")
	_, err = s.QueryAudit(ctx, generic.AuditFilter{})
	assert.Error(t, err)
}
