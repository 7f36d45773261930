package store

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

func seed(t *testing.T) *Memory {
	t.Helper()
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveTrainer(ctx, records.Trainer{ID: "tr-1", Name: "Amal"}))
	require.NoError(t, m.SaveCourse(ctx, records.Course{
		ID: "c-1", TrainerID: "tr-1", StudentIDs: []records.StudentID{"st-1"},
		StartDate: generic.NewDate(2025, 6, 3), Weekdays: []time.Weekday{time.Tuesday},
		LectureCount: 2, Status: records.CourseActive,
	}))
	require.NoError(t, m.InsertLectures(ctx, []records.Lecture{
		{ID: "l-2", CourseID: "c-1", Sequence: 2, Date: generic.NewDate(2025, 6, 10)},
		{ID: "l-1", CourseID: "c-1", Sequence: 1, Date: generic.NewDate(2025, 6, 3)},
	}))
	return m
}

func TestWithTx_RollsBackEveryTable(t *testing.T) {
	// GIVEN: A seeded store
	// WHEN: A transaction writes a lecture, a rules version and an audit entry, then fails
	// THEN: None of the writes survive

	ctx := context.Background()
	m := seed(t)
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(st records.Store) error {
		l, err := st.GetLecture(ctx, "l-1")
		require.NoError(t, err)
		l.Attendance = records.AttendancePresent
		require.NoError(t, st.UpdateLecture(ctx, *l))
		_, err = st.SaveRules(ctx, records.RulesRecord{ConfigJSON: "{}"})
		require.NoError(t, err)
		require.NoError(t, st.AppendAudit(ctx, generic.AuditEntry{ID: "a-1", Action: generic.AuditLectureUpdated}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	l, err := m.GetLecture(ctx, "l-1")
	require.NoError(t, err)
	assert.Equal(t, records.Attendance(""), l.Attendance)
	rules, err := m.GetRules(ctx)
	require.NoError(t, err)
	assert.Nil(t, rules)
	entries, err := m.QueryAudit(ctx, generic.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	m := seed(t)

	c, err := m.GetCourse(ctx, "c-1")
	require.NoError(t, err)
	c.StudentIDs[0] = "intruder"

	again, err := m.GetCourse(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, records.StudentID("st-1"), again.StudentIDs[0])
}

func TestListLectures_Ordered(t *testing.T) {
	ls, err := seed(t).ListLectures(context.Background(), "c-1")
	require.NoError(t, err)
	require.Len(t, ls, 2)
	assert.Equal(t, records.LectureID("l-1"), ls[0].ID)
	assert.Equal(t, records.LectureID("l-2"), ls[1].ID)
}

func TestInsertLectures_OneMakeupPerOriginal(t *testing.T) {
	ctx := context.Background()
	m := seed(t)
	from := records.LectureID("l-1")

	require.NoError(t, m.InsertLectures(ctx, []records.Lecture{
		{ID: "mk-1", CourseID: "c-1", Sequence: 1, IsMakeup: true, PostponedFrom: &from, Date: generic.NewDate(2025, 6, 5)},
	}))
	err := m.InsertLectures(ctx, []records.Lecture{
		{ID: "mk-2", CourseID: "c-1", Sequence: 1, IsMakeup: true, PostponedFrom: &from, Date: generic.NewDate(2025, 6, 6)},
	})
	assert.ErrorIs(t, err, generic.ErrConflict)

	mk, err := m.FindMakeup(ctx, from)
	require.NoError(t, err)
	require.NotNil(t, mk)
	assert.Equal(t, records.LectureID("mk-1"), mk.ID)
}

func TestUpdateLecture_SequenceImmutable(t *testing.T) {
	ctx := context.Background()
	m := seed(t)
	l, err := m.GetLecture(ctx, "l-1")
	require.NoError(t, err)
	l.Sequence = 7
	assert.ErrorIs(t, m.UpdateLecture(ctx, *l), generic.ErrValidation)
}

func TestQueryAudit_NewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, id := range []string{"a-1", "a-2", "a-3"} {
		require.NoError(t, m.AppendAudit(ctx, generic.AuditEntry{ID: id, Action: generic.AuditLectureUpdated}))
	}
	entries, err := m.QueryAudit(ctx, generic.AuditFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a-3", entries[0].ID)
	assert.Equal(t, "a-2", entries[1].ID)
}

func TestInsertLectures_OneRegularLecturePerSequence(t *testing.T) {
	// GIVEN: Course c-1 already holds lectures #1 and #2
	// WHEN: Another regular #2 is inserted, or a batch repeats a sequence
	// THEN: The insert conflicts and nothing from the batch is stored;
	//       makeups may reuse a sequence

	ctx := context.Background()
	m := seed(t)

	err := m.InsertLectures(ctx, []records.Lecture{
		{ID: "l-2b", CourseID: "c-1", Sequence: 2, Date: generic.NewDate(2025, 6, 17)},
	})
	assert.ErrorIs(t, err, generic.ErrConflict)

	err = m.InsertLectures(ctx, []records.Lecture{
		{ID: "l-3", CourseID: "c-1", Sequence: 3, Date: generic.NewDate(2025, 6, 17)},
		{ID: "l-3b", CourseID: "c-1", Sequence: 3, Date: generic.NewDate(2025, 6, 24)},
	})
	assert.ErrorIs(t, err, generic.ErrConflict)
	_, err = m.GetLecture(ctx, "l-3")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	from := records.LectureID("l-2")
	require.NoError(t, m.InsertLectures(ctx, []records.Lecture{
		{ID: "mk-2", CourseID: "c-1", Sequence: 2, IsMakeup: true, PostponedFrom: &from, Date: generic.NewDate(2025, 6, 12)},
		{ID: "other-2", CourseID: "c-2", Sequence: 2, Date: generic.NewDate(2025, 6, 12)},
	}))
}
