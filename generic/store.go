package generic

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT LOG - Separate from the records, tracks who did what when
// =============================================================================

// AuditEntry records who did what when. Append-only.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string
	ActorRole Role
	Action    AuditAction
	SubjectID string // lecture, course or trainer the action targeted
	Payload   map[string]any
}

type AuditAction string

const (
	AuditCourseCreated        AuditAction = "course_created"
	AuditCourseRenewed        AuditAction = "course_renewed"
	AuditLectureUpdated       AuditAction = "lecture_updated"
	AuditLecturePostponed     AuditAction = "lecture_postponed"
	AuditPostponementCanceled AuditAction = "postponement_canceled"
	AuditEvaluationConfirmed  AuditAction = "evaluation_confirmed"
	AuditRenewalStatusChanged AuditAction = "renewal_status_changed"
	AuditPayrollAdjusted      AuditAction = "payroll_adjusted"
	AuditPaymentMethodSet     AuditAction = "payment_method_set"
	AuditPaymentStatusChanged AuditAction = "payment_status_changed"
	AuditRulesChanged         AuditAction = "rules_changed"
)

// AuditLog stores audit entries.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	SubjectID *string
	ActorID   *string
	Actions   []AuditAction
	From      *time.Time
	To        *time.Time
	Limit     int
}

// Matches reports whether e passes the filter. Limit is applied by the caller.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.SubjectID != nil && e.SubjectID != *f.SubjectID {
		return false
	}
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}
