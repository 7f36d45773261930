/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the records model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required fields, enums, ranges). Business rules stay in the engines.

SEE ALSO:
  - handlers.go: Uses these types
  - validate.go: Validator setup
*/
package api

import (
	"strings"
	"time"

	"github.com/warp/lecture-engine/factory"
	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/lectures"
	"github.com/warp/lecture-engine/records"
)

// =============================================================================
// COURSES
// =============================================================================

type CourseDTO struct {
	ID                      string    `json:"id"`
	Title                   string    `json:"title"`
	PackageID               string    `json:"package_id,omitempty"`
	TrainerID               string    `json:"trainer_id"`
	StudentIDs              []string  `json:"student_ids"`
	IsDual                  bool      `json:"is_dual"`
	StartDate               string    `json:"start_date"`
	LectureTime             string    `json:"lecture_time"`
	Weekdays                []string  `json:"weekdays"`
	LectureCount            int       `json:"lecture_count"`
	Status                  string    `json:"status"`
	RenewalAlertStatus      string    `json:"renewal_alert_status"`
	LastEvaluationMilestone int       `json:"last_evaluation_milestone"`
	ReportedCompletion      *int      `json:"reported_completion,omitempty"`
	IsRenewal               bool      `json:"is_renewal"`
	RenewedFrom             *string   `json:"renewed_from,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

type ProgressDTO struct {
	Completed               int    `json:"completed"`
	Total                   int    `json:"total"`
	Percentage              int    `json:"percentage"`
	CurrentMilestone        int    `json:"current_milestone"`
	LastEvaluationMilestone int    `json:"last_evaluation_milestone"`
	EvaluationRequired      bool   `json:"evaluation_required"`
	RenewalAlert            string `json:"renewal_alert"`
}

type CourseDetailDTO struct {
	Course   CourseDTO   `json:"course"`
	Progress ProgressDTO `json:"progress"`
}

type CourseWithLecturesDTO struct {
	Course   CourseDTO    `json:"course"`
	Lectures []LectureDTO `json:"lectures"`
}

type CreateCourseRequest struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	PackageID    string   `json:"package_id"`
	TrainerID    string   `json:"trainer_id" validate:"required"`
	StudentIDs   []string `json:"student_ids" validate:"required,min=1,max=2,dive,required"`
	IsDual       bool     `json:"is_dual"`
	StartDate    string   `json:"start_date" validate:"required"`
	LectureTime  string   `json:"lecture_time" validate:"required"`
	Weekdays     []string `json:"weekdays" validate:"required,min=1,max=7,dive,required"`
	LectureCount int      `json:"lecture_count" validate:"required,min=1,max=500"`

	// Imported courses may carry a completion percentage and renewal flag
	// from the system they were migrated out of.
	ReportedCompletion *int `json:"reported_completion" validate:"omitempty,min=0,max=100"`
	IsRenewal          bool `json:"is_renewal"`
}

type GenerateLecturesRequest struct {
	StartDate    string   `json:"start_date" validate:"required"`
	LectureTime  string   `json:"lecture_time"`
	Weekdays     []string `json:"weekdays" validate:"required,min=1,max=7,dive,required"`
	LectureCount int      `json:"lecture_count" validate:"required,min=1,max=500"`
}

type ScheduledLectureDTO struct {
	Sequence int    `json:"sequence"`
	Date     string `json:"date"`
	Time     string `json:"time,omitempty"`
}

type EvaluationRequest struct {
	Milestone int `json:"milestone" validate:"required,gt=0"`
}

type RenewalAlertRequest struct {
	Status string `json:"status" validate:"required,oneof=none alert sent renewed"`
}

type RenewCourseRequest struct {
	CourseID     string   `json:"course_id"`
	Title        string   `json:"title"`
	PackageID    string   `json:"package_id"`
	LectureCount int      `json:"lecture_count" validate:"omitempty,min=1,max=500"`
	StartDate    string   `json:"start_date"`
	LectureTime  string   `json:"lecture_time"`
	Weekdays     []string `json:"weekdays" validate:"omitempty,max=7,dive,required"`
}

// =============================================================================
// LECTURES
// =============================================================================

type StudentEntryDTO struct {
	Attendance string `json:"attendance,omitempty"`
	Activity   string `json:"activity,omitempty"`
	Homework   string `json:"homework,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type LectureDTO struct {
	ID                   string                     `json:"id"`
	CourseID             string                     `json:"course_id"`
	Sequence             int                        `json:"sequence"`
	Date                 string                     `json:"date"`
	Time                 string                     `json:"time"`
	IsMakeup             bool                       `json:"is_makeup"`
	PostponedFrom        *string                    `json:"postponed_from,omitempty"`
	PostponementCount    int                        `json:"postponement_count"`
	PostponeReason       string                     `json:"postpone_reason,omitempty"`
	Attendance           string                     `json:"attendance"`
	Activity             string                     `json:"activity,omitempty"`
	Homework             string                     `json:"homework,omitempty"`
	Notes                string                     `json:"notes,omitempty"`
	IsCompleted          bool                       `json:"is_completed"`
	StudentAttendance    map[string]StudentEntryDTO `json:"student_attendance,omitempty"`
	TrainerPaymentStatus string                     `json:"trainer_payment_status"`
}

// UpdateLectureRequest writes one field. A postponement code in an
// attendance write needs new_date.
type UpdateLectureRequest struct {
	Field      string `json:"field" validate:"required,oneof=attendance activity homework notes"`
	Value      string `json:"value"`
	StudentID  string `json:"student_id"`
	NewDate    string `json:"new_date"`
	NewTime    string `json:"new_time"`
	ReasonText string `json:"reason_text"`
	Force      bool   `json:"force"`
}

type BulkEntryRequest struct {
	LectureID string `json:"lecture_id" validate:"required"`
	UpdateLectureRequest
}

type BulkSaveRequest struct {
	Updates []BulkEntryRequest `json:"updates" validate:"required,min=1,dive"`
}

type BulkSaveResponse struct {
	SavedCount int `json:"saved_count"`
}

type PostponeLectureRequest struct {
	Reason     string `json:"reason" validate:"required,oneof=postponed_by_trainer postponed_by_student postponed_holiday"`
	NewDate    string `json:"new_date" validate:"required"`
	NewTime    string `json:"new_time"`
	ReasonText string `json:"reason_text" validate:"max=500"`
	Force      bool   `json:"force"`
}

type PostponeResponse struct {
	Original  LectureDTO         `json:"original"`
	Makeup    LectureDTO         `json:"makeup"`
	Conflicts []generic.Conflict `json:"overridden_conflicts,omitempty"`
}

// =============================================================================
// TRAINERS
// =============================================================================

type TrainerDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	LevelMin       int    `json:"level_min"`
	LevelMax       int    `json:"level_max"`
	Notes          string `json:"notes,omitempty"`
	WeeklyLectures int    `json:"weekly_lectures"`
}

type TrainerRequest struct {
	ID       string `json:"id" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=200"`
	LevelMin int    `json:"level_min" validate:"gte=0"`
	LevelMax int    `json:"level_max" validate:"gtefield=LevelMin"`
	Notes    string `json:"notes"`
}

type PaymentMethodRequest struct {
	Method        string  `json:"method" validate:"required"`
	AccountNumber string  `json:"account_number" validate:"required"`
	PIN           *string `json:"pin"`
	Year          int     `json:"year" validate:"omitempty,min=2000,max=9999"`
	Month         int     `json:"month" validate:"omitempty,min=1,max=12"`
}

// =============================================================================
// PAYROLL
// =============================================================================

type AdjustmentRequest struct {
	Amount *generic.Money `json:"amount" validate:"required"`
	Notes  string         `json:"notes" validate:"max=1000"`
}

type BonusOptionsRequest struct {
	RenewalBonusEnabled  *bool          `json:"renewal_bonus_enabled"`
	RenewalTotalOverride *generic.Money `json:"renewal_total_override"`
	ClearRenewalOverride bool           `json:"clear_renewal_override"`
	VolumeBonusEnabled   *bool          `json:"volume_bonus_enabled"`
}

// =============================================================================
// RULES & AUDIT
// =============================================================================

type RulesDTO struct {
	Version   int               `json:"version"`
	UpdatedBy string            `json:"updated_by,omitempty"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
	Rules     factory.RulesJSON `json:"rules"`
}

type AuditEntryDTO struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	ActorID   string         `json:"actor_id"`
	ActorRole string         `json:"actor_role"`
	Action    string         `json:"action"`
	SubjectID string         `json:"subject_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCourseDTO(c records.Course) CourseDTO {
	dto := CourseDTO{
		ID:                      string(c.ID),
		Title:                   c.Title,
		PackageID:               string(c.PackageID),
		TrainerID:               string(c.TrainerID),
		StudentIDs:              make([]string, len(c.StudentIDs)),
		IsDual:                  c.IsDual,
		StartDate:               c.StartDate.String(),
		LectureTime:             c.LectureTime.String(),
		Weekdays:                make([]string, len(c.Weekdays)),
		LectureCount:            c.LectureCount,
		Status:                  string(c.Status),
		RenewalAlertStatus:      string(c.RenewalAlertStatus),
		LastEvaluationMilestone: c.LastEvaluationMilestone,
		ReportedCompletion:      c.ReportedCompletion,
		IsRenewal:               c.IsRenewal,
		CreatedAt:               c.CreatedAt,
	}
	for i, s := range c.StudentIDs {
		dto.StudentIDs[i] = string(s)
	}
	for i, wd := range c.Weekdays {
		dto.Weekdays[i] = strings.ToLower(wd.String())
	}
	if c.RenewedFrom != nil {
		v := string(*c.RenewedFrom)
		dto.RenewedFrom = &v
	}
	return dto
}

func toProgressDTO(p lectures.Progress) ProgressDTO {
	return ProgressDTO{
		Completed:               p.Completed,
		Total:                   p.Total,
		Percentage:              p.Percentage,
		CurrentMilestone:        p.CurrentMilestone,
		LastEvaluationMilestone: p.LastEvaluationMilestone,
		EvaluationRequired:      p.EvaluationRequired,
		RenewalAlert:            string(p.RenewalAlert),
	}
}

func toLectureDTO(l records.Lecture) LectureDTO {
	dto := LectureDTO{
		ID:                   string(l.ID),
		CourseID:             string(l.CourseID),
		Sequence:             l.Sequence,
		Date:                 l.Date.String(),
		Time:                 l.Time.String(),
		IsMakeup:             l.IsMakeup,
		PostponementCount:    l.PostponementCount,
		PostponeReason:       l.PostponeReason,
		Attendance:           string(l.Attendance),
		Activity:             string(l.Activity),
		Homework:             string(l.Homework),
		Notes:                l.Notes,
		IsCompleted:          l.IsCompleted,
		TrainerPaymentStatus: string(l.TrainerPaymentStatus),
	}
	if l.PostponedFrom != nil {
		v := string(*l.PostponedFrom)
		dto.PostponedFrom = &v
	}
	if len(l.StudentAttendance) > 0 {
		dto.StudentAttendance = make(map[string]StudentEntryDTO, len(l.StudentAttendance))
		for id, e := range l.StudentAttendance {
			dto.StudentAttendance[string(id)] = StudentEntryDTO{
				Attendance: string(e.Attendance),
				Activity:   string(e.Activity),
				Homework:   string(e.Homework),
				Notes:      e.Notes,
			}
		}
	}
	return dto
}

func toLectureDTOs(ls []records.Lecture) []LectureDTO {
	out := make([]LectureDTO, len(ls))
	for i, l := range ls {
		out[i] = toLectureDTO(l)
	}
	return out
}

func toTrainerDTO(t records.Trainer) TrainerDTO {
	return TrainerDTO{
		ID:             string(t.ID),
		Name:           t.Name,
		LevelMin:       t.LevelMin,
		LevelMax:       t.LevelMax,
		Notes:          t.Notes,
		WeeklyLectures: t.WeeklyLectures,
	}
}

func toAuditDTO(e generic.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		ActorID:   e.ActorID,
		ActorRole: string(e.ActorRole),
		Action:    string(e.Action),
		SubjectID: e.SubjectID,
		Payload:   e.Payload,
	}
}
