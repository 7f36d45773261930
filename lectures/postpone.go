package lectures

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/records"
)

// =============================================================================
// POSTPONEMENT ENGINE
// =============================================================================
//
// State machine of one lecture slot:
//
//   scheduled --postpone--> postponed_by_trainer | postponed_by_student | postponed_holiday
//       ^                          |
//       |                          +--> makeup lecture (scheduled, is_makeup, postponed_from)
//       +-----cancel postponement--+     (deleted again on cancel while untouched)
//
// A postponed lecture is terminal until its postponement is cancelled.

type PostponeRequest struct {
	LectureID  records.LectureID
	NewDate    generic.Date
	NewTime    *generic.TimeOfDay // nil keeps the original time
	Reason     records.Attendance
	ReasonText string
	Force      bool
}

type PostponeResult struct {
	Original records.Lecture
	Makeup   records.Lecture

	// Conflicts the caller overrode with Force. Empty otherwise.
	Conflicts []generic.Conflict
}

// Postpone flags the lecture with the reason code and creates its makeup.
//
// Preconditions, checked inside the write transaction:
//  1. the lecture is not dated after today
//  2. it is not already postponed (a second concurrent request fails here)
//  3. it was not held yet
//  4. its postponement chain is below Limits.MaxPostponements
//  5. Force is only honoured for privileged actors
//  6. trainers are held by a pending milestone evaluation
//  7. the trainer has no other lecture overlapping the new slot, unless forced
func (s *Service) Postpone(ctx context.Context, actor generic.Actor, req PostponeRequest) (*PostponeResult, error) {
	if !req.Reason.IsPostponement() {
		return nil, &generic.ValidationError{Field: "reason", Message: fmt.Sprintf("%q is not a postponement reason", req.Reason)}
	}
	if req.NewDate.IsZero() {
		return nil, &generic.ValidationError{Field: "new_date", Message: "new date is required"}
	}
	if req.Force {
		if err := generic.RequirePrivileged(actor, "force a conflicting postponement"); err != nil {
			return nil, err
		}
	}

	limits := s.Limits()
	today := s.Clock.Today()

	var result *PostponeResult
	err := s.Store.WithTx(ctx, func(st records.Store) error {
		l, err := st.GetLecture(ctx, req.LectureID)
		if err != nil {
			return err
		}
		if err := checkModifiable(*l, today); err != nil {
			return err
		}
		if l.IsPostponed() {
			return &generic.ConflictError{Message: fmt.Sprintf("lecture %s is already postponed", l.ID)}
		}
		if l.CountsAsCompleted() {
			return &generic.ModificationError{LectureID: string(l.ID), Reason: generic.ReasonLectureHeld}
		}
		if l.PostponementCount >= limits.MaxPostponements {
			return &generic.LimitExceededError{LectureID: string(l.ID), Count: l.PostponementCount, Max: limits.MaxPostponements}
		}

		c, err := st.GetCourse(ctx, l.CourseID)
		if err != nil {
			return err
		}
		if err := checkEvaluationGate(ctx, st, actor, *c, l.ID); err != nil {
			return err
		}

		newTime := l.Time
		if req.NewTime != nil {
			newTime = *req.NewTime
		}

		conflicts, err := findConflicts(ctx, st, c.TrainerID, l.ID, req.NewDate, newTime, limits)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 && !req.Force {
			return &generic.ConflictError{Message: "trainer schedule conflict", Conflicts: conflicts}
		}

		original := *l
		original.Attendance = req.Reason
		original.IsCompleted = false
		original.PostponeReason = req.ReasonText
		if err := st.UpdateLecture(ctx, original); err != nil {
			return fmt.Errorf("update original lecture: %w", err)
		}

		from := original.ID
		makeup := records.Lecture{
			ID:                   records.LectureID(s.newID()),
			CourseID:             original.CourseID,
			Sequence:             original.Sequence,
			Date:                 req.NewDate,
			Time:                 newTime,
			IsMakeup:             true,
			PostponedFrom:        &from,
			PostponementCount:    original.PostponementCount + 1,
			Attendance:           records.AttendancePending,
			TrainerPaymentStatus: records.LectureUnpaid,
		}
		if err := st.InsertLectures(ctx, []records.Lecture{makeup}); err != nil {
			return fmt.Errorf("insert makeup lecture: %w", err)
		}

		result = &PostponeResult{Original: original, Makeup: makeup}
		if req.Force {
			result.Conflicts = conflicts
		}

		return s.audit(ctx, st, actor, generic.AuditLecturePostponed, string(original.ID), map[string]any{
			"reason":    string(req.Reason),
			"makeup_id": string(makeup.ID),
			"new_date":  req.NewDate.String(),
			"new_time":  newTime.String(),
			"forced":    req.Force && len(conflicts) > 0,
			"conflicts": len(conflicts),
		})
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("lecture postponed",
		zap.String("lecture_id", string(result.Original.ID)),
		zap.String("makeup_id", string(result.Makeup.ID)),
		zap.String("reason", string(req.Reason)),
		zap.Int("forced_conflicts", len(result.Conflicts)))
	return result, nil
}

// findConflicts lists the trainer's other live lectures on date whose
// window overlaps the candidate slot. Lectures of finished or cancelled
// courses and postponed lectures no longer occupy the calendar.
func findConflicts(ctx context.Context, st records.Store, trainerID records.TrainerID, self records.LectureID, date generic.Date, at generic.TimeOfDay, limits Limits) ([]generic.Conflict, error) {
	sameDay, err := st.TrainerLectures(ctx, trainerID, generic.Period{Start: date, End: date})
	if err != nil {
		return nil, fmt.Errorf("load trainer lectures: %w", err)
	}

	courses := make(map[records.CourseID]*records.Course)
	var conflicts []generic.Conflict
	for _, other := range sameDay {
		if other.ID == self || other.IsPostponed() {
			continue
		}
		if !other.Time.Overlaps(at, limits.LectureDuration) {
			continue
		}
		c, ok := courses[other.CourseID]
		if !ok {
			c, err = st.GetCourse(ctx, other.CourseID)
			if err != nil {
				return nil, err
			}
			courses[other.CourseID] = c
		}
		if !c.Status.Scheduled() {
			continue
		}
		label := c.Title
		if label == "" {
			label = string(c.ID)
		}
		conflicts = append(conflicts, generic.Conflict{
			CourseID:    string(c.ID),
			CourseTitle: c.Title,
			LectureID:   string(other.ID),
			Message:     fmt.Sprintf("trainer already teaches %s on %s at %s", label, other.Date, other.Time),
		})
	}
	return conflicts, nil
}

// =============================================================================
// CANCEL POSTPONEMENT
// =============================================================================

// CancelPostponement deletes the makeup of a postponed lecture and resets
// the original to pending. Only allowed while the makeup is untouched.
func (s *Service) CancelPostponement(ctx context.Context, actor generic.Actor, id records.LectureID) error {
	today := s.Clock.Today()
	return s.Store.WithTx(ctx, func(st records.Store) error {
		l, err := st.GetLecture(ctx, id)
		if err != nil {
			return err
		}
		if err := checkModifiable(*l, today); err != nil {
			return err
		}
		if !l.IsPostponed() {
			return &generic.ValidationError{Field: "lecture_id", Message: fmt.Sprintf("lecture %s is not postponed", l.ID)}
		}

		makeup, err := st.FindMakeup(ctx, l.ID)
		if err != nil {
			return fmt.Errorf("find makeup: %w", err)
		}
		if makeup == nil {
			return &generic.NotFoundError{Kind: "makeup lecture for", ID: string(l.ID)}
		}
		if !makeup.Untouched() {
			return &generic.ModificationError{LectureID: string(makeup.ID), Reason: generic.ReasonMakeupModified}
		}

		if err := st.DeleteLecture(ctx, makeup.ID); err != nil {
			return fmt.Errorf("delete makeup: %w", err)
		}
		reason := l.Attendance
		l.Attendance = records.AttendancePending
		l.PostponeReason = ""
		l.IsCompleted = deriveCompleted(*l)
		if err := st.UpdateLecture(ctx, *l); err != nil {
			return fmt.Errorf("revert original lecture: %w", err)
		}

		return s.audit(ctx, st, actor, generic.AuditPostponementCanceled, string(l.ID), map[string]any{
			"makeup_id": string(makeup.ID),
			"reason":    string(reason),
		})
	})
}
