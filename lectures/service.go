/*
Package lectures implements the lecture lifecycle of a course.

PURPOSE:
  A course is planned as a series of lectures. This package generates that
  series, records what happened in each lecture, moves lectures when they
  are postponed, and tells the back office when a course needs an
  evaluation or is due for renewal.

KEY CONCEPTS:
  - Generator: Turns start date + weekdays + count into dated slots
  - Tracker: Typed attendance/activity/homework/notes writes
  - Postponement: Original lecture flagged, one makeup lecture created
  - Milestone: Every 5 completed lectures an evaluation is due
  - Renewal alert: none -> alert -> sent -> renewed once a course is 75% done

TRANSACTIONS:
  Every mutation runs in records.TxStore.WithTx. Checks (modifiability,
  postponement cap, trainer conflicts) read through the same transactional
  view as the write, so two concurrent postponements of one lecture cannot
  both succeed.

SEE ALSO:
  - generator.go, attendance.go, postpone.go, milestone.go
  - records/: Data model and store interfaces
  - payroll/: Consumes completed lectures
*/
package lectures

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/records"
)

// =============================================================================
// LIMITS - Business rules the lifecycle depends on
// =============================================================================

// Limits are the overridable business rules of the lecture lifecycle.
type Limits struct {
	// MaxPostponements caps how many times one slot may be postponed.
	MaxPostponements int

	// LectureDuration is the window used for trainer conflict detection.
	LectureDuration time.Duration

	// RenewalAlertThreshold is the completion percentage at which the
	// renewal alert opens.
	RenewalAlertThreshold int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPostponements:      2,
		LectureDuration:       60 * time.Minute,
		RenewalAlertThreshold: 75,
	}
}

func (l Limits) Validate() error {
	if l.MaxPostponements < 0 {
		return &generic.ValidationError{Field: "max_postponements", Message: "must not be negative"}
	}
	if l.LectureDuration < 0 {
		return &generic.ValidationError{Field: "lecture_duration_minutes", Message: "must not be negative"}
	}
	if l.RenewalAlertThreshold < 1 || l.RenewalAlertThreshold > 99 {
		return &generic.ValidationError{Field: "renewal_alert_threshold", Message: "must be between 1 and 99"}
	}
	return nil
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store  records.TxStore
	Clock  generic.Clock
	Logger *zap.Logger

	// NewID generates record ids. Defaults to random UUIDs.
	NewID func() string

	mu     sync.RWMutex
	limits Limits
}

func NewService(store records.TxStore, clock generic.Clock, limits Limits, logger *zap.Logger) *Service {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:  store,
		Clock:  clock,
		Logger: logger,
		NewID:  uuid.NewString,
		limits: limits,
	}
}

// Limits returns the rules currently in force.
func (s *Service) Limits() Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits
}

// SetLimits replaces the rules at runtime.
func (s *Service) SetLimits(l Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.limits = l
	s.mu.Unlock()
	return nil
}

func (s *Service) newID() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

func (s *Service) audit(ctx context.Context, st records.Store, actor generic.Actor, action generic.AuditAction, subject string, payload map[string]any) error {
	err := st.AppendAudit(ctx, generic.AuditEntry{
		ID:        s.newID(),
		Timestamp: s.Clock.Now(),
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		SubjectID: subject,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// =============================================================================
// COURSES
// =============================================================================

// CreateCourse stores a new course and generates its lecture series.
func (s *Service) CreateCourse(ctx context.Context, actor generic.Actor, c records.Course) (*records.Course, []records.Lecture, error) {
	if err := generic.RequirePrivileged(actor, "create courses"); err != nil {
		return nil, nil, err
	}
	if c.ID == "" {
		c.ID = records.CourseID(s.newID())
	}
	if c.Status == "" {
		c.Status = records.CourseActive
	}
	if c.RenewalAlertStatus == "" {
		c.RenewalAlertStatus = records.RenewalNone
	}
	c.CreatedAt = s.Clock.Now()
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	lectures, err := s.generate(c)
	if err != nil {
		return nil, nil, err
	}

	err = s.Store.WithTx(ctx, func(st records.Store) error {
		if _, err := st.GetTrainer(ctx, c.TrainerID); err != nil {
			return err
		}
		if _, err := st.GetCourse(ctx, c.ID); err == nil {
			return &generic.ConflictError{Message: fmt.Sprintf("course %s already exists", c.ID)}
		} else if !generic.IsNotFound(err) {
			return err
		}
		if err := st.SaveCourse(ctx, c); err != nil {
			return fmt.Errorf("save course: %w", err)
		}
		if err := st.InsertLectures(ctx, lectures); err != nil {
			return fmt.Errorf("insert lectures: %w", err)
		}
		return s.audit(ctx, st, actor, generic.AuditCourseCreated, string(c.ID), map[string]any{
			"trainer_id": c.TrainerID,
			"lectures":   len(lectures),
		})
	})
	if err != nil {
		return nil, nil, err
	}

	s.Logger.Info("course created",
		zap.String("course_id", string(c.ID)),
		zap.String("trainer_id", string(c.TrainerID)),
		zap.Int("lectures", len(lectures)))
	return &c, lectures, nil
}

// generate builds the lecture records of c with fresh ids.
func (s *Service) generate(c records.Course) ([]records.Lecture, error) {
	lectures, err := GenerateLectures(c)
	if err != nil {
		return nil, err
	}
	for i := range lectures {
		lectures[i].ID = records.LectureID(s.newID())
	}
	return lectures, nil
}

// Course returns a course with its lectures.
func (s *Service) Course(ctx context.Context, id records.CourseID) (*records.Course, []records.Lecture, error) {
	c, err := s.Store.GetCourse(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	lectures, err := s.Store.ListLectures(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list lectures: %w", err)
	}
	return c, lectures, nil
}

// =============================================================================
// TRAINERS
// =============================================================================

// Trainers lists trainers with WeeklyLectures derived from their scheduled courses.
func (s *Service) Trainers(ctx context.Context) ([]records.Trainer, error) {
	trainers, err := s.Store.ListTrainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trainers: %w", err)
	}
	courses, err := s.Store.ListCourses(ctx, records.CourseFilter{
		Statuses: []records.CourseStatus{records.CourseActive, records.CoursePaused},
	})
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	weekly := make(map[records.TrainerID]int)
	for _, c := range courses {
		weekly[c.TrainerID] += len(c.Weekdays)
	}
	for i := range trainers {
		trainers[i].WeeklyLectures = weekly[trainers[i].ID]
	}
	return trainers, nil
}

// =============================================================================
// GATES
// =============================================================================

// checkModifiable rejects writes to lectures dated after today.
func checkModifiable(l records.Lecture, today generic.Date) error {
	if l.Date.After(today) {
		return &generic.ModificationError{LectureID: string(l.ID), Reason: generic.ReasonFutureLecture}
	}
	return nil
}
