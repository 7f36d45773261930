/*
Package records defines the persisted data model of the back office.

PURPOSE:
  Courses, lectures, trainers and payroll bookkeeping are plain records
  supplied by (and written back to) the external data store. This package
  owns their shapes, their enums and the invariants that hold for a record
  in isolation. Behaviour that spans records lives in lectures/ and payroll/.

KEY CONCEPTS:
  - Course: A package of planned lectures for one or two students
  - Lecture: One slot of a course; may be a makeup for a postponed slot
  - StudentEntry: Per-student attendance inside a dual-course lecture
  - PayrollAdjustment / PaymentMethod: Manually maintained payroll fields

INVARIANTS:
  1. A course has exactly 1 student, or exactly 2 when IsDual
  2. A lecture's Sequence never changes after creation
  3. A postponed lecture is flagged, never deleted
  4. At most one makeup per postponed lecture (unique PostponedFrom)

SEE ALSO:
  - store.go: Persistence interfaces
  - attendance.go: Canonical per-student attendance representation
*/
package records

import (
	"fmt"
	"time"

	"github.com/warp/lecture-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CourseID string
type LectureID string
type TrainerID string
type StudentID string
type PackageID string

// =============================================================================
// ENUMS
// =============================================================================

type CourseStatus string

const (
	CourseActive    CourseStatus = "active"
	CoursePaused    CourseStatus = "paused"
	CourseFinished  CourseStatus = "finished"
	CourseCancelled CourseStatus = "cancelled"
)

func (s CourseStatus) Valid() bool {
	switch s {
	case CourseActive, CoursePaused, CourseFinished, CourseCancelled:
		return true
	}
	return false
}

// Scheduled reports whether the course still occupies its trainer's calendar.
func (s CourseStatus) Scheduled() bool {
	return s == CourseActive || s == CoursePaused
}

type RenewalAlertStatus string

const (
	RenewalNone    RenewalAlertStatus = "none"
	RenewalAlert   RenewalAlertStatus = "alert"
	RenewalSent    RenewalAlertStatus = "sent"
	RenewalRenewed RenewalAlertStatus = "renewed"
)

func (s RenewalAlertStatus) Valid() bool {
	switch s {
	case RenewalNone, RenewalAlert, RenewalSent, RenewalRenewed:
		return true
	}
	return false
}

type Attendance string

const (
	AttendancePending            Attendance = "pending"
	AttendancePresent            Attendance = "present"
	AttendanceAbsent             Attendance = "absent"
	AttendancePostponedByTrainer Attendance = "postponed_by_trainer"
	AttendancePostponedByStudent Attendance = "postponed_by_student"
	AttendancePostponedHoliday   Attendance = "postponed_holiday"
)

func (a Attendance) Valid() bool {
	switch a {
	case AttendancePending, AttendancePresent, AttendanceAbsent,
		AttendancePostponedByTrainer, AttendancePostponedByStudent, AttendancePostponedHoliday:
		return true
	}
	return false
}

// IsPostponement reports whether a is one of the postponement reason codes.
func (a Attendance) IsPostponement() bool {
	return a == AttendancePostponedByTrainer || a == AttendancePostponedByStudent || a == AttendancePostponedHoliday
}

// IsAttended reports whether a completes the lecture (present or absent).
func (a Attendance) IsAttended() bool {
	return a == AttendancePresent || a == AttendanceAbsent
}

type Activity string

const (
	ActivityNone      Activity = ""
	ActivityExcellent Activity = "excellent"
	ActivityGood      Activity = "good"
	ActivityAverage   Activity = "average"
	ActivityWeak      Activity = "weak"
)

func (a Activity) Valid() bool {
	switch a {
	case ActivityNone, ActivityExcellent, ActivityGood, ActivityAverage, ActivityWeak:
		return true
	}
	return false
}

type Homework string

const (
	HomeworkNone    Homework = ""
	HomeworkDone    Homework = "done"
	HomeworkPartial Homework = "partial"
	HomeworkNotDone Homework = "not_done"
)

func (h Homework) Valid() bool {
	switch h {
	case HomeworkNone, HomeworkDone, HomeworkPartial, HomeworkNotDone:
		return true
	}
	return false
}

type LecturePaymentStatus string

const (
	LectureUnpaid LecturePaymentStatus = "unpaid"
	LecturePaid   LecturePaymentStatus = "paid"
)

type PayrollStatus string

const (
	PayrollDraft PayrollStatus = "draft"
	PayrollPaid  PayrollStatus = "paid"
)

// =============================================================================
// COURSE
// =============================================================================

type Course struct {
	ID         CourseID
	Title      string
	PackageID  PackageID
	TrainerID  TrainerID
	StudentIDs []StudentID
	IsDual     bool

	StartDate    generic.Date
	LectureTime  generic.TimeOfDay
	Weekdays     []time.Weekday
	LectureCount int

	Status                  CourseStatus
	RenewalAlertStatus      RenewalAlertStatus
	LastEvaluationMilestone int

	// ReportedCompletion is a percentage precomputed by the external data
	// source. When set it wins over the locally derived value.
	ReportedCompletion *int

	IsRenewal   bool
	RenewedFrom *CourseID

	CreatedAt time.Time
}

// Validate checks the invariants of a single course record.
func (c Course) Validate() error {
	if c.ID == "" {
		return &generic.ValidationError{Field: "id", Message: "course id is required"}
	}
	if c.TrainerID == "" {
		return &generic.ValidationError{Field: "trainer_id", Message: "trainer is required"}
	}
	want := 1
	if c.IsDual {
		want = 2
	}
	if len(c.StudentIDs) != want {
		return &generic.ValidationError{
			Field:   "student_ids",
			Message: fmt.Sprintf("expected %d student(s), got %d", want, len(c.StudentIDs)),
		}
	}
	if c.IsDual && c.StudentIDs[0] == c.StudentIDs[1] {
		return &generic.ValidationError{Field: "student_ids", Message: "dual course needs two distinct students"}
	}
	if c.Status != "" && !c.Status.Valid() {
		return &generic.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", c.Status)}
	}
	if c.RenewalAlertStatus != "" && !c.RenewalAlertStatus.Valid() {
		return &generic.ValidationError{Field: "renewal_alert_status", Message: fmt.Sprintf("unknown status %q", c.RenewalAlertStatus)}
	}
	if c.LastEvaluationMilestone < 0 || c.LastEvaluationMilestone%5 != 0 {
		return &generic.ValidationError{Field: "last_evaluation_milestone", Message: "must be a non-negative multiple of 5"}
	}
	return nil
}

// HasStudent reports whether id is enrolled in the course.
func (c Course) HasStudent(id StudentID) bool {
	for _, s := range c.StudentIDs {
		if s == id {
			return true
		}
	}
	return false
}

func (c Course) Clone() Course {
	out := c
	out.StudentIDs = append([]StudentID(nil), c.StudentIDs...)
	out.Weekdays = append([]time.Weekday(nil), c.Weekdays...)
	if c.ReportedCompletion != nil {
		v := *c.ReportedCompletion
		out.ReportedCompletion = &v
	}
	if c.RenewedFrom != nil {
		v := *c.RenewedFrom
		out.RenewedFrom = &v
	}
	return out
}

// =============================================================================
// LECTURE
// =============================================================================

type Lecture struct {
	ID       LectureID
	CourseID CourseID
	Sequence int

	Date generic.Date
	Time generic.TimeOfDay

	IsMakeup          bool
	PostponedFrom     *LectureID
	PostponementCount int
	PostponeReason    string

	Attendance  Attendance
	Activity    Activity
	Homework    Homework
	Notes       string
	IsCompleted bool

	// StudentAttendance holds per-student entries for dual courses.
	// Lecture-level fields are the fallback for single courses.
	StudentAttendance map[StudentID]StudentEntry

	TrainerPaymentStatus LecturePaymentStatus
}

// CountsAsCompleted is the completion rule shared by progress and payroll.
func (l Lecture) CountsAsCompleted() bool {
	return l.IsCompleted || l.Attendance.IsAttended()
}

// IsPostponed reports whether the lecture was replaced by a makeup.
func (l Lecture) IsPostponed() bool { return l.Attendance.IsPostponement() }

// Untouched reports whether nobody recorded anything on the lecture yet.
func (l Lecture) Untouched() bool {
	if l.Attendance != AttendancePending || l.IsCompleted {
		return false
	}
	if l.Activity != ActivityNone || l.Homework != HomeworkNone || l.Notes != "" {
		return false
	}
	for _, e := range l.StudentAttendance {
		if !e.Empty() {
			return false
		}
	}
	return true
}

func (l Lecture) Clone() Lecture {
	out := l
	if l.PostponedFrom != nil {
		v := *l.PostponedFrom
		out.PostponedFrom = &v
	}
	if l.StudentAttendance != nil {
		out.StudentAttendance = make(map[StudentID]StudentEntry, len(l.StudentAttendance))
		for k, v := range l.StudentAttendance {
			out.StudentAttendance[k] = v
		}
	}
	return out
}

// =============================================================================
// TRAINER
// =============================================================================

type Trainer struct {
	ID       TrainerID
	Name     string
	LevelMin int
	LevelMax int
	Notes    string

	// WeeklyLectures is derived from the weekday sets of the trainer's
	// scheduled courses. It is never written by callers.
	WeeklyLectures int
}

// =============================================================================
// PAYROLL BOOKKEEPING
// =============================================================================

// PayrollAdjustment holds the manually maintained fields of one trainer's
// payroll month. Everything else on a payroll record is recomputed.
type PayrollAdjustment struct {
	TrainerID TrainerID
	Year      int
	Month     time.Month

	RenewalBonusEnabled  bool
	RenewalTotalOverride *generic.Money
	VolumeBonusEnabled   bool

	BonusDeduction generic.Money
	Notes          string

	Status PayrollStatus
	PaidAt *time.Time

	UpdatedAt time.Time
	UpdatedBy string
}

// DefaultAdjustment is the state of a month nobody has touched yet.
func DefaultAdjustment(trainerID TrainerID, year int, month time.Month) PayrollAdjustment {
	return PayrollAdjustment{
		TrainerID:           trainerID,
		Year:                year,
		Month:               month,
		RenewalBonusEnabled: true,
		VolumeBonusEnabled:  true,
		BonusDeduction:      generic.Zero(),
		Status:              PayrollDraft,
	}
}

type PaymentMethod struct {
	TrainerID     TrainerID
	Method        string
	AccountNumber string
	PIN           *string
	UpdatedAt     time.Time
}

// =============================================================================
// BUSINESS RULES
// =============================================================================

// RulesRecord is a stored business-rules document. Version increments on every save.
type RulesRecord struct {
	Version    int
	ConfigJSON string
	UpdatedBy  string
	UpdatedAt  time.Time
}
