package lectures

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/records"
)

// =============================================================================
// MILESTONES - Evaluation every 5 completed lectures
// =============================================================================

const MilestoneStep = 5

// CurrentMilestone rounds completed down to a multiple of MilestoneStep.
func CurrentMilestone(completed int) int {
	if completed < 0 {
		return 0
	}
	return completed / MilestoneStep * MilestoneStep
}

// EvaluationRequired reports whether a milestone was crossed that has not
// been acknowledged yet.
func EvaluationRequired(completed, lastAcknowledged int) bool {
	m := CurrentMilestone(completed)
	return m >= MilestoneStep && m > lastAcknowledged
}

// =============================================================================
// RENEWAL ALERT
// =============================================================================

// EffectiveRenewalStatus derives the alert shown for a course. Manually
// driven states (sent, renewed) are reported as stored. Otherwise the
// alert is open only while threshold <= pct < 100.
func EffectiveRenewalStatus(stored records.RenewalAlertStatus, pct, threshold int) records.RenewalAlertStatus {
	switch stored {
	case records.RenewalSent, records.RenewalRenewed:
		return stored
	}
	if pct >= threshold && pct < 100 {
		return records.RenewalAlert
	}
	return records.RenewalNone
}

var renewalTransitions = map[records.RenewalAlertStatus][]records.RenewalAlertStatus{
	records.RenewalNone:  {records.RenewalAlert, records.RenewalSent},
	records.RenewalAlert: {records.RenewalSent},
	records.RenewalSent:  {records.RenewalRenewed},
}

func canTransition(from, to records.RenewalAlertStatus) bool {
	for _, s := range renewalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// =============================================================================
// PROGRESS
// =============================================================================

// Progress is the derived state of a course.
type Progress struct {
	CourseID                records.CourseID
	Completed               int
	Total                   int
	Percentage              int
	CurrentMilestone        int
	LastEvaluationMilestone int
	EvaluationRequired      bool
	RenewalAlert            records.RenewalAlertStatus
}

// ComputeProgress derives completion, milestone and renewal alert.
func ComputeProgress(c records.Course, lectures []records.Lecture, limits Limits) Progress {
	completed := CompletedCount(lectures)
	total := c.LectureCount
	if total <= 0 {
		total = len(lectures)
	}
	pct := CalculateCompletionPercentage(c, lectures)
	return Progress{
		CourseID:                c.ID,
		Completed:               completed,
		Total:                   total,
		Percentage:              pct,
		CurrentMilestone:        CurrentMilestone(completed),
		LastEvaluationMilestone: c.LastEvaluationMilestone,
		EvaluationRequired:      EvaluationRequired(completed, c.LastEvaluationMilestone),
		RenewalAlert:            EffectiveRenewalStatus(c.RenewalAlertStatus, pct, limits.RenewalAlertThreshold),
	}
}

func (s *Service) Progress(ctx context.Context, id records.CourseID) (*Progress, error) {
	c, lectures, err := s.Course(ctx, id)
	if err != nil {
		return nil, err
	}
	p := ComputeProgress(*c, lectures, s.Limits())
	return &p, nil
}

// =============================================================================
// CONFIRM EVALUATION
// =============================================================================

// ConfirmEvaluation acknowledges an evaluation milestone. The milestone
// must be a positive multiple of 5 already reached by the course.
func (s *Service) ConfirmEvaluation(ctx context.Context, actor generic.Actor, id records.CourseID, milestone int) (*records.Course, error) {
	if milestone < MilestoneStep || milestone%MilestoneStep != 0 {
		return nil, &generic.ValidationError{
			Field:   "milestone",
			Message: fmt.Sprintf("must be a positive multiple of %d, got %d", MilestoneStep, milestone),
		}
	}

	var updated *records.Course
	err := s.Store.WithTx(ctx, func(st records.Store) error {
		c, err := st.GetCourse(ctx, id)
		if err != nil {
			return err
		}
		lectures, err := st.ListLectures(ctx, id)
		if err != nil {
			return fmt.Errorf("list lectures: %w", err)
		}
		current := CurrentMilestone(CompletedCount(lectures))
		if milestone > current {
			return &generic.ValidationError{
				Field:   "milestone",
				Message: fmt.Sprintf("milestone %d not reached yet (current %d)", milestone, current),
			}
		}
		if milestone > c.LastEvaluationMilestone {
			c.LastEvaluationMilestone = milestone
			if err := st.SaveCourse(ctx, *c); err != nil {
				return fmt.Errorf("save course: %w", err)
			}
		}
		updated = c
		return s.audit(ctx, st, actor, generic.AuditEvaluationConfirmed, string(c.ID), map[string]any{
			"milestone": milestone,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// =============================================================================
// RENEWAL STATUS
// =============================================================================

// SetRenewalAlertStatus moves the stored renewal state forward:
// none -> alert|sent, alert -> sent, sent -> renewed. Setting the current
// status again is a no-op.
func (s *Service) SetRenewalAlertStatus(ctx context.Context, actor generic.Actor, id records.CourseID, status records.RenewalAlertStatus) (*records.Course, error) {
	if err := generic.RequirePrivileged(actor, "change renewal status"); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, &generic.ValidationError{Field: "status", Message: fmt.Sprintf("unknown renewal status %q", status)}
	}

	var updated *records.Course
	err := s.Store.WithTx(ctx, func(st records.Store) error {
		c, err := st.GetCourse(ctx, id)
		if err != nil {
			return err
		}
		from := c.RenewalAlertStatus
		if from == "" {
			from = records.RenewalNone
		}
		if from == status {
			updated = c
			return nil
		}
		if !canTransition(from, status) {
			return &generic.ValidationError{
				Field:   "status",
				Message: fmt.Sprintf("cannot move renewal status from %s to %s", from, status),
			}
		}
		c.RenewalAlertStatus = status
		if err := st.SaveCourse(ctx, *c); err != nil {
			return fmt.Errorf("save course: %w", err)
		}
		updated = c
		return s.audit(ctx, st, actor, generic.AuditRenewalStatusChanged, string(c.ID), map[string]any{
			"from": string(from),
			"to":   string(status),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// =============================================================================
// RENEW COURSE
// =============================================================================

// RenewalRequest overrides parts of the prior course for its renewal.
// Zero values carry the prior course's settings over.
type RenewalRequest struct {
	CourseID     records.CourseID
	Title        string
	PackageID    records.PackageID
	LectureCount int
	StartDate    generic.Date
	LectureTime  *generic.TimeOfDay
	Weekdays     []time.Weekday
}

// RenewCourse creates the follow-up course of a course whose renewal was
// sent (or already marked renewed) and marks the prior course renewed for
// good. A course can be renewed only once.
func (s *Service) RenewCourse(ctx context.Context, actor generic.Actor, id records.CourseID, req RenewalRequest) (*records.Course, []records.Lecture, error) {
	if err := generic.RequirePrivileged(actor, "renew courses"); err != nil {
		return nil, nil, err
	}

	var (
		next     records.Course
		lectures []records.Lecture
	)
	err := s.Store.WithTx(ctx, func(st records.Store) error {
		prior, err := st.GetCourse(ctx, id)
		if err != nil {
			return err
		}
		if prior.RenewalAlertStatus != records.RenewalSent && prior.RenewalAlertStatus != records.RenewalRenewed {
			return &generic.ValidationError{
				Field:   "renewal_alert_status",
				Message: fmt.Sprintf("course %s renewal status is %s; send the renewal first", prior.ID, prior.RenewalAlertStatus),
			}
		}
		existing, err := st.ListCourses(ctx, records.CourseFilter{RenewedFrom: &prior.ID})
		if err != nil {
			return fmt.Errorf("list renewals: %w", err)
		}
		if len(existing) > 0 {
			return &generic.ConflictError{Message: fmt.Sprintf("course %s was already renewed as %s", prior.ID, existing[0].ID)}
		}

		priorLectures, err := st.ListLectures(ctx, prior.ID)
		if err != nil {
			return fmt.Errorf("list lectures: %w", err)
		}

		next = renewalOf(*prior, priorLectures, req)
		if next.ID == "" {
			next.ID = records.CourseID(s.newID())
		}
		next.CreatedAt = s.Clock.Now()
		if err := next.Validate(); err != nil {
			return err
		}
		lectures, err = s.generate(next)
		if err != nil {
			return err
		}

		if err := st.SaveCourse(ctx, next); err != nil {
			return fmt.Errorf("save renewal: %w", err)
		}
		if err := st.InsertLectures(ctx, lectures); err != nil {
			return fmt.Errorf("insert lectures: %w", err)
		}

		prior.RenewalAlertStatus = records.RenewalRenewed
		if err := st.SaveCourse(ctx, *prior); err != nil {
			return fmt.Errorf("save prior course: %w", err)
		}
		return s.audit(ctx, st, actor, generic.AuditCourseRenewed, string(prior.ID), map[string]any{
			"renewal_id": string(next.ID),
			"lectures":   len(lectures),
		})
	})
	if err != nil {
		return nil, nil, err
	}

	s.Logger.Info("course renewed",
		zap.String("course_id", string(id)),
		zap.String("renewal_id", string(next.ID)))
	return &next, lectures, nil
}

// renewalOf builds the follow-up course. The default start date is the day
// after the prior course's last lecture.
func renewalOf(prior records.Course, priorLectures []records.Lecture, req RenewalRequest) records.Course {
	next := prior.Clone()
	from := prior.ID
	next.ID = req.CourseID
	next.RenewedFrom = &from
	next.IsRenewal = true
	next.Status = records.CourseActive
	next.RenewalAlertStatus = records.RenewalNone
	next.LastEvaluationMilestone = 0
	next.ReportedCompletion = nil

	if req.Title != "" {
		next.Title = req.Title
	}
	if req.PackageID != "" {
		next.PackageID = req.PackageID
	}
	if req.LectureCount > 0 {
		next.LectureCount = req.LectureCount
	}
	if req.LectureTime != nil {
		next.LectureTime = *req.LectureTime
	}
	if len(req.Weekdays) > 0 {
		next.Weekdays = append([]time.Weekday(nil), req.Weekdays...)
	}

	next.StartDate = req.StartDate
	if next.StartDate.IsZero() {
		last := prior.StartDate
		for _, l := range priorLectures {
			if l.Date.After(last) {
				last = l.Date
			}
		}
		next.StartDate = last.AddDays(1)
	}
	return next
}
