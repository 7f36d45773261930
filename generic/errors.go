/*
errors.go - Centralized error kinds for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure the engine returns to a caller is one of six kinds, each
  with a sentinel (for errors.Is) and a structured type (for errors.As)
  carrying the detail a caller needs to decide how to proceed.

ERROR KINDS:
  ValidationError     Malformed input (empty weekday set, bad month)
  ModificationError   Lecture is locked (future date, evaluation pending)
  LimitExceededError  Postponement cap reached; reports {count, max}
  ConflictError       Trainer double-booking or a concurrent postponement
  NotFoundError       Unknown lecture, course, trainer
  AuthorizationError  Role lacks permission (force override, payment status)

USAGE:
  var conflict *generic.ConflictError
  if errors.As(err, &conflict) {
      // offer a forced override to privileged roles
  }

SEE ALSO:
  - api/errors.go: Maps kinds to HTTP status codes
  - lectures/postpone.go: Produces most of these
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation    = errors.New("validation failed")
	ErrModification  = errors.New("modification not allowed")
	ErrLimitExceeded = errors.New("limit exceeded")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrAuthorization = errors.New("not authorized")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Modification lock reasons.
const (
	ReasonFutureLecture     = "future lecture locked"
	ReasonEvaluationPending = "evaluation pending"
	ReasonMakeupModified    = "makeup lecture already modified"
	ReasonLecturePostponed  = "lecture postponed; cancel the postponement first"
	ReasonLectureHeld       = "lecture already held"
)

// ModificationError is returned when a lecture may not be edited.
type ModificationError struct {
	LectureID string
	Reason    string
}

func (e *ModificationError) Error() string {
	return fmt.Sprintf("modification not allowed for lecture %s: %s", e.LectureID, e.Reason)
}

func (e *ModificationError) Unwrap() error { return ErrModification }

// LimitExceededError reports the postponement count against its cap.
type LimitExceededError struct {
	LectureID string
	Count     int
	Max       int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("postponement limit reached for lecture %s: %d of %d", e.LectureID, e.Count, e.Max)
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

// Conflict is one clashing lecture in the trainer's schedule.
type Conflict struct {
	CourseID    string `json:"course_id"`
	CourseTitle string `json:"course_title,omitempty"`
	LectureID   string `json:"lecture_id"`
	Message     string `json:"message"`
}

// ConflictError is returned for trainer double-booking (Conflicts populated)
// or when the lecture state changed underneath the caller (Conflicts empty).
type ConflictError struct {
	Message   string
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return "conflict: " + e.Message
	}
	msgs := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		msgs[i] = c.Message
	}
	return fmt.Sprintf("conflict: %s (%s)", e.Message, strings.Join(msgs, "; "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AuthorizationError names the role and the refused action.
type AuthorizationError struct {
	Role   Role
	Action string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("role %q may not %s", e.Role, e.Action)
}

func (e *AuthorizationError) Unwrap() error { return ErrAuthorization }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's request
// rather than a failure of the engine or its store.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrModification) ||
		errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAuthorization) ||
		errors.Is(err, ErrNotFound)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// RequirePrivileged returns an AuthorizationError unless the actor is privileged.
func RequirePrivileged(actor Actor, action string) error {
	if actor.IsPrivileged() {
		return nil
	}
	return &AuthorizationError{Role: actor.Role, Action: action}
}
