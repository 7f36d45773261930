package lectures

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/logging"
	"github.com/warp/lecture-engine/records"
)

// =============================================================================
// FIELD UPDATES - The closed set of lecture mutations
// =============================================================================

type Field string

const (
	FieldAttendance Field = "attendance"
	FieldActivity   Field = "activity"
	FieldHomework   Field = "homework"
	FieldNotes      Field = "notes"
)

func (f Field) Valid() bool {
	switch f {
	case FieldAttendance, FieldActivity, FieldHomework, FieldNotes:
		return true
	}
	return false
}

// Reschedule carries the makeup slot when an attendance write is a postponement.
type Reschedule struct {
	NewDate    generic.Date
	NewTime    *generic.TimeOfDay
	ReasonText string
	Force      bool
}

// FieldUpdate is one typed write to a lecture. StudentID selects a
// student's entry in a dual course; empty means the lecture-level field.
type FieldUpdate struct {
	LectureID  records.LectureID
	Field      Field
	Value      string
	StudentID  records.StudentID
	Reschedule *Reschedule
}

// validate checks the field name and value without touching the store.
func (u FieldUpdate) validate() error {
	if u.LectureID == "" {
		return &generic.ValidationError{Field: "lecture_id", Message: "lecture id is required"}
	}
	switch u.Field {
	case FieldAttendance:
		if !records.Attendance(u.Value).Valid() {
			return &generic.ValidationError{Field: "attendance", Message: fmt.Sprintf("unknown value %q", u.Value)}
		}
	case FieldActivity:
		if !records.Activity(u.Value).Valid() {
			return &generic.ValidationError{Field: "activity", Message: fmt.Sprintf("unknown value %q", u.Value)}
		}
	case FieldHomework:
		if !records.Homework(u.Value).Valid() {
			return &generic.ValidationError{Field: "homework", Message: fmt.Sprintf("unknown value %q", u.Value)}
		}
	case FieldNotes:
	default:
		return &generic.ValidationError{Field: "field", Message: fmt.Sprintf("unknown field %q", u.Field)}
	}
	return nil
}

func (u FieldUpdate) isPostponement() bool {
	return u.Field == FieldAttendance && records.Attendance(u.Value).IsPostponement()
}

// =============================================================================
// SET LECTURE FIELD
// =============================================================================

// SetLectureField applies one typed write. An attendance write carrying a
// postponement code is routed through Postpone and needs Reschedule.
func (s *Service) SetLectureField(ctx context.Context, actor generic.Actor, u FieldUpdate) (*records.Lecture, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}

	if u.isPostponement() {
		if u.Reschedule == nil {
			return nil, &generic.ValidationError{Field: "reschedule", Message: "a postponement needs the new date of the makeup lecture"}
		}
		res, err := s.Postpone(ctx, actor, PostponeRequest{
			LectureID:  u.LectureID,
			NewDate:    u.Reschedule.NewDate,
			NewTime:    u.Reschedule.NewTime,
			Reason:     records.Attendance(u.Value),
			ReasonText: u.Reschedule.ReasonText,
			Force:      u.Reschedule.Force,
		})
		if err != nil {
			return nil, err
		}
		return &res.Original, nil
	}

	today := s.Clock.Today()
	var updated *records.Lecture
	err := s.Store.WithTx(ctx, func(st records.Store) error {
		l, err := s.applyUpdate(ctx, st, actor, today, u)
		if err != nil {
			return err
		}
		updated = l
		return s.audit(ctx, st, actor, generic.AuditLectureUpdated, string(l.ID), map[string]any{
			"field":      string(u.Field),
			"value":      u.Value,
			"student_id": string(u.StudentID),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// applyUpdate performs a validated non-postponement write inside a transaction.
func (s *Service) applyUpdate(ctx context.Context, st records.Store, actor generic.Actor, today generic.Date, u FieldUpdate) (*records.Lecture, error) {
	l, err := st.GetLecture(ctx, u.LectureID)
	if err != nil {
		return nil, err
	}
	c, err := st.GetCourse(ctx, l.CourseID)
	if err != nil {
		return nil, err
	}
	if err := checkModifiable(*l, today); err != nil {
		return nil, err
	}
	if u.Field == FieldAttendance && l.IsPostponed() {
		return nil, &generic.ModificationError{LectureID: string(l.ID), Reason: generic.ReasonLecturePostponed}
	}
	if u.Field == FieldAttendance {
		if err := checkEvaluationGate(ctx, st, actor, *c, l.ID); err != nil {
			return nil, err
		}
	}
	if u.StudentID != "" && !c.HasStudent(u.StudentID) {
		return nil, &generic.ValidationError{
			Field:   "student_id",
			Message: fmt.Sprintf("student %s is not enrolled in course %s", u.StudentID, c.ID),
		}
	}

	if c.IsDual && u.StudentID != "" {
		applyStudentField(l, u)
	} else {
		applyLectureField(l, u)
	}
	if u.Field == FieldAttendance {
		l.IsCompleted = deriveCompleted(*l)
	}

	if err := st.UpdateLecture(ctx, *l); err != nil {
		return nil, fmt.Errorf("update lecture: %w", err)
	}
	return l, nil
}

// checkEvaluationGate blocks trainer attendance changes while the course
// has an unacknowledged milestone evaluation.
func checkEvaluationGate(ctx context.Context, st records.Store, actor generic.Actor, c records.Course, id records.LectureID) error {
	if actor.Role != generic.RoleTrainer {
		return nil
	}
	siblings, err := st.ListLectures(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("list lectures: %w", err)
	}
	if EvaluationRequired(CompletedCount(siblings), c.LastEvaluationMilestone) {
		return &generic.ModificationError{LectureID: string(id), Reason: generic.ReasonEvaluationPending}
	}
	return nil
}

func applyLectureField(l *records.Lecture, u FieldUpdate) {
	switch u.Field {
	case FieldAttendance:
		l.Attendance = records.Attendance(u.Value)
	case FieldActivity:
		l.Activity = records.Activity(u.Value)
	case FieldHomework:
		l.Homework = records.Homework(u.Value)
	case FieldNotes:
		l.Notes = strings.TrimSpace(u.Value)
	}
}

func applyStudentField(l *records.Lecture, u FieldUpdate) {
	if l.StudentAttendance == nil {
		l.StudentAttendance = make(map[records.StudentID]records.StudentEntry)
	}
	e, ok := l.StudentAttendance[u.StudentID]
	if !ok {
		e.Attendance = records.AttendancePending
	}
	switch u.Field {
	case FieldAttendance:
		e.Attendance = records.Attendance(u.Value)
	case FieldActivity:
		e.Activity = records.Activity(u.Value)
	case FieldHomework:
		e.Homework = records.Homework(u.Value)
	case FieldNotes:
		e.Notes = strings.TrimSpace(u.Value)
	}
	l.StudentAttendance[u.StudentID] = e
}

// deriveCompleted: a lecture is held once the lecture-level attendance or
// any student's attendance is present or absent.
func deriveCompleted(l records.Lecture) bool {
	if l.Attendance.IsAttended() {
		return true
	}
	for _, e := range l.StudentAttendance {
		if e.Attendance.IsAttended() {
			return true
		}
	}
	return false
}

// =============================================================================
// BULK SAVE
// =============================================================================

// BatchFailure names one rejected entry of a bulk save.
type BatchFailure struct {
	Index     int
	LectureID records.LectureID
	Err       error
}

// BatchError is returned when any entry of a bulk save fails. No entry
// of the batch was written.
type BatchError struct {
	Failures []BatchFailure
}

func (e *BatchError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = fmt.Sprintf("#%d %s: %v", f.Index, f.LectureID, f.Err)
	}
	return fmt.Sprintf("bulk save rejected (%d invalid): %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *BatchError) Unwrap() error { return generic.ErrValidation }

type BulkResult struct {
	SavedCount int
}

// BulkSave applies every update in one transaction. If any entry fails
// validation the whole batch is rolled back and a BatchError lists every
// failing entry. Store failures abort immediately.
func (s *Service) BulkSave(ctx context.Context, actor generic.Actor, updates []FieldUpdate) (*BulkResult, error) {
	if len(updates) == 0 {
		return nil, &generic.ValidationError{Field: "updates", Message: "nothing to save"}
	}

	today := s.Clock.Today()
	err := s.Store.WithTx(ctx, func(st records.Store) error {
		var failures []BatchFailure
		for i, u := range updates {
			err := u.validate()
			if err == nil && u.isPostponement() {
				err = &generic.ValidationError{Field: "attendance", Message: "postponements cannot be bulk saved"}
			}
			if err == nil {
				_, err = s.applyUpdate(ctx, st, actor, today, u)
			}
			if err == nil {
				continue
			}
			if !generic.IsClientError(err) {
				return err
			}
			failures = append(failures, BatchFailure{Index: i, LectureID: u.LectureID, Err: err})
		}
		if len(failures) > 0 {
			return &BatchError{Failures: failures}
		}
		return s.audit(ctx, st, actor, generic.AuditLectureUpdated, "", map[string]any{
			"bulk":  true,
			"count": len(updates),
		})
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Debug("bulk lecture save", zap.Int("count", len(updates)), logging.Actor(actor))
	return &BulkResult{SavedCount: len(updates)}, nil
}

// =============================================================================
// COMPLETION
// =============================================================================

// CompletedCount counts lectures that were held (attended or marked absent).
func CompletedCount(lectures []records.Lecture) int {
	n := 0
	for _, l := range lectures {
		if l.CountsAsCompleted() {
			n++
		}
	}
	return n
}

// CalculateCompletionPercentage returns the share of a course's planned
// lectures that were held, in [0,100]. A percentage reported by the
// external source wins. The declared lecture count is preferred over
// len(lectures) because the loaded list may be partial.
func CalculateCompletionPercentage(c records.Course, lectures []records.Lecture) int {
	if c.ReportedCompletion != nil {
		return clampPercent(*c.ReportedCompletion)
	}
	total := c.LectureCount
	if total <= 0 {
		total = len(lectures)
	}
	if total == 0 {
		return 0
	}
	pct := int(math.Round(100 * float64(CompletedCount(lectures)) / float64(total)))
	return clampPercent(pct)
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
