/*
handlers.go - HTTP API handlers for the lecture engine

PURPOSE:
  Exposes the lecture lifecycle and trainer payroll engines via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  lectures and payroll packages.

ENDPOINTS:
  Courses:
    POST   /api/courses                      Create course and its lectures
    GET    /api/courses/{id}                 Course with progress
    GET    /api/courses/{id}/lectures        Lectures in display order
    GET    /api/courses/{id}/completion      Progress and milestone state
    POST   /api/courses/{id}/evaluation      Acknowledge a milestone
    PUT    /api/courses/{id}/renewal-alert   Move the renewal workflow
    POST   /api/courses/{id}/renew           Create the follow-up course

  Lectures:
    POST   /api/lectures/generate            Preview a schedule
    POST   /api/lectures/bulk                Atomic batch of field writes
    PATCH  /api/lectures/{id}                Write one field
    POST   /api/lectures/{id}/postpone       Postpone and create a makeup
    DELETE /api/lectures/{id}/postponement   Undo a postponement

  Trainers:
    GET    /api/trainers                     List with weekly load
    POST   /api/trainers                     Create or update
    PUT    /api/trainers/{id}/payment-method Store payout details

  Payroll, rules and audit: see payroll_handlers.go and rules.go.

ACTOR:
  Every /api request carries X-Actor-ID and X-Actor-Role. Authorization is
  decided by the engines, not here.

ERROR HANDLING:
  Engine errors are mapped by classify (errors.go):
  - 400: Validation errors, malformed body
  - 403: Role not allowed
  - 404: Unknown course, lecture or trainer
  - 409: Schedule conflict, duplicate
  - 422: Postponement limit, failed batch
  - 423: Lecture not modifiable yet
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/lecture-engine/factory"
	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/lectures"
	"github.com/warp/lecture-engine/metrics"
	"github.com/warp/lecture-engine/payroll"
	"github.com/warp/lecture-engine/records"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Store    records.TxStore
	Lectures *lectures.Service
	Payroll  *payroll.Engine
	Rules    *factory.RulesFactory
	Clock    generic.Clock
	Logger   *zap.Logger

	validate *validator.Validate
}

// NewHandler creates a new handler with dependencies.
func NewHandler(store records.TxStore, svc *lectures.Service, engine *payroll.Engine, rules *factory.RulesFactory, clock generic.Clock, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:    store,
		Lectures: svc,
		Payroll:  engine,
		Rules:    rules,
		Clock:    clock,
		Logger:   logger,
		validate: newValidator(),
	}
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := h.Store.Ping(r.Context())
	metrics.ObserveDBPing(time.Since(start))
	if err != nil {
		h.Logger.Warn("health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unavailable", "database unreachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// COURSES
// =============================================================================

// CreateCourse stores a course and generates its lectures.
func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var req CreateCourseRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	at, err := parseTime("lecture_time", req.LectureTime)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	weekdays, err := parseWeekdays(req.Weekdays)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	c := records.Course{
		ID:           records.CourseID(strings.TrimSpace(req.ID)),
		Title:        strings.TrimSpace(req.Title),
		PackageID:    records.PackageID(req.PackageID),
		TrainerID:    records.TrainerID(req.TrainerID),
		StudentIDs:   make([]records.StudentID, len(req.StudentIDs)),
		IsDual:       req.IsDual || len(req.StudentIDs) == 2,
		StartDate:    start,
		LectureTime:  at,
		Weekdays:     weekdays,
		LectureCount: req.LectureCount,
		IsRenewal:    req.IsRenewal,
	}
	if req.ReportedCompletion != nil {
		v := *req.ReportedCompletion
		c.ReportedCompletion = &v
	}
	for i, s := range req.StudentIDs {
		c.StudentIDs[i] = records.StudentID(s)
	}

	course, ls, err := h.Lectures.CreateCourse(r.Context(), actorFrom(r.Context()), c)
	countMutation("create_course", err)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CourseWithLecturesDTO{Course: toCourseDTO(*course), Lectures: toLectureDTOs(ls)})
}

// GetCourse returns a course with its progress.
func (h *Handler) GetCourse(w http.ResponseWriter, r *http.Request) {
	c, ls, err := h.Lectures.Course(r.Context(), records.CourseID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	progress := lectures.ComputeProgress(*c, ls, h.Lectures.Limits())
	writeJSON(w, http.StatusOK, CourseDetailDTO{Course: toCourseDTO(*c), Progress: toProgressDTO(progress)})
}

// ListCourseLectures returns the lectures of a course in display order.
func (h *Handler) ListCourseLectures(w http.ResponseWriter, r *http.Request) {
	_, ls, err := h.Lectures.Course(r.Context(), records.CourseID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLectureDTOs(ls))
}

// GetCompletion returns the completion percentage and milestone state.
func (h *Handler) GetCompletion(w http.ResponseWriter, r *http.Request) {
	p, err := h.Lectures.Progress(r.Context(), records.CourseID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgressDTO(*p))
}

func (h *Handler) ConfirmEvaluation(w http.ResponseWriter, r *http.Request) {
	var req EvaluationRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	c, err := h.Lectures.ConfirmEvaluation(r.Context(), actorFrom(r.Context()), records.CourseID(chi.URLParam(r, "id")), req.Milestone)
	countMutation("confirm_evaluation", err)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCourseDTO(*c))
}

func (h *Handler) SetRenewalAlert(w http.ResponseWriter, r *http.Request) {
	var req RenewalAlertRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	c, err := h.Lectures.SetRenewalAlertStatus(r.Context(), actorFrom(r.Context()),
		records.CourseID(chi.URLParam(r, "id")), records.RenewalAlertStatus(req.Status))
	countMutation("renewal_alert", err)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCourseDTO(*c))
}

// RenewCourse creates the follow-up course. Omitted fields are taken
// from the prior course.
func (h *Handler) RenewCourse(w http.ResponseWriter, r *http.Request) {
	var req RenewCourseRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	rr := lectures.RenewalRequest{
		CourseID:     records.CourseID(strings.TrimSpace(req.CourseID)),
		Title:        strings.TrimSpace(req.Title),
		PackageID:    records.PackageID(req.PackageID),
		LectureCount: req.LectureCount,
	}
	if req.StartDate != "" {
		d, err := parseDate("start_date", req.StartDate)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		rr.StartDate = d
	}
	if req.LectureTime != "" {
		t, err := parseTime("lecture_time", req.LectureTime)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		rr.LectureTime = &t
	}
	if len(req.Weekdays) > 0 {
		wds, err := parseWeekdays(req.Weekdays)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		rr.Weekdays = wds
	}

	c, ls, err := h.Lectures.RenewCourse(r.Context(), actorFrom(r.Context()), records.CourseID(chi.URLParam(r, "id")), rr)
	countMutation("renew_course", err)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CourseWithLecturesDTO{Course: toCourseDTO(*c), Lectures: toLectureDTOs(ls)})
}

// =============================================================================
// LECTURES
// =============================================================================

// GenerateLectures previews the dates a course would be scheduled on.
// Nothing is stored.
func (h *Handler) GenerateLectures(w http.ResponseWriter, r *http.Request) {
	var req GenerateLecturesRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	weekdays, err := parseWeekdays(req.Weekdays)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	var at string
	if req.LectureTime != "" {
		t, err := parseTime("lecture_time", req.LectureTime)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		at = t.String()
	}

	dates, err := lectures.GenerateSchedule(start, weekdays, req.LectureCount)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	out := make([]ScheduledLectureDTO, len(dates))
	for i, d := range dates {
		out[i] = ScheduledLectureDTO{Sequence: i + 1, Date: d.String(), Time: at}
	}
	writeJSON(w, http.StatusOK, out)
}

// UpdateLecture writes one field of a lecture. Writing a postponement code
// with new_date postpones the lecture.
func (h *Handler) UpdateLecture(w http.ResponseWriter, r *http.Request) {
	var req UpdateLectureRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	u, err := toFieldUpdate(records.LectureID(chi.URLParam(r, "id")), req)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	l, err := h.Lectures.SetLectureField(r.Context(), actorFrom(r.Context()), u)
	countMutation("set_field", err)
	if err != nil {
		countConflict(err)
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLectureDTO(*l))
}

// BulkSave applies a batch of field writes. Either all of them are saved
// or none is, and the response lists every failing entry.
func (h *Handler) BulkSave(w http.ResponseWriter, r *http.Request) {
	var req BulkSaveRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	updates := make([]lectures.FieldUpdate, 0, len(req.Updates))
	var failures []lectures.BatchFailure
	for i, e := range req.Updates {
		u, err := toFieldUpdate(records.LectureID(e.LectureID), e.UpdateLectureRequest)
		if err != nil {
			failures = append(failures, lectures.BatchFailure{Index: i, LectureID: records.LectureID(e.LectureID), Err: err})
			continue
		}
		updates = append(updates, u)
	}
	if len(failures) > 0 {
		h.writeEngineError(w, r, &lectures.BatchError{Failures: failures})
		return
	}

	res, err := h.Lectures.BulkSave(r.Context(), actorFrom(r.Context()), updates)
	countMutation("bulk_save", err)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BulkSaveResponse{SavedCount: res.SavedCount})
}

// PostponeLecture marks a lecture postponed and creates its makeup.
func (h *Handler) PostponeLecture(w http.ResponseWriter, r *http.Request) {
	var req PostponeLectureRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	newDate, err := parseDate("new_date", req.NewDate)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	newTime, err := parseOptionalTime("new_time", req.NewTime)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	res, err := h.Lectures.Postpone(r.Context(), actorFrom(r.Context()), lectures.PostponeRequest{
		LectureID:  records.LectureID(chi.URLParam(r, "id")),
		NewDate:    newDate,
		NewTime:    newTime,
		Reason:     records.Attendance(req.Reason),
		ReasonText: req.ReasonText,
		Force:      req.Force,
	})
	countMutation("postpone", err)
	if err != nil {
		countConflict(err)
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PostponeResponse{
		Original:  toLectureDTO(res.Original),
		Makeup:    toLectureDTO(res.Makeup),
		Conflicts: res.Conflicts,
	})
}

// CancelPostponement restores a postponed lecture and removes its makeup.
func (h *Handler) CancelPostponement(w http.ResponseWriter, r *http.Request) {
	err := h.Lectures.CancelPostponement(r.Context(), actorFrom(r.Context()), records.LectureID(chi.URLParam(r, "id")))
	countMutation("cancel_postponement", err)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TRAINERS
// =============================================================================

func (h *Handler) ListTrainers(w http.ResponseWriter, r *http.Request) {
	trainers, err := h.Lectures.Trainers(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	out := make([]TrainerDTO, len(trainers))
	for i, t := range trainers {
		out[i] = toTrainerDTO(t)
	}
	writeJSON(w, http.StatusOK, out)
}

// SaveTrainer creates or updates a trainer profile.
func (h *Handler) SaveTrainer(w http.ResponseWriter, r *http.Request) {
	if err := generic.RequirePrivileged(actorFrom(r.Context()), "manage trainers"); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	var req TrainerRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	t := records.Trainer{
		ID:       records.TrainerID(strings.TrimSpace(req.ID)),
		Name:     strings.TrimSpace(req.Name),
		LevelMin: req.LevelMin,
		LevelMax: req.LevelMax,
		Notes:    req.Notes,
	}
	if err := h.Store.SaveTrainer(r.Context(), t); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.Logger.Info("trainer saved", zap.String("trainer_id", string(t.ID)))
	writeJSON(w, http.StatusCreated, toTrainerDTO(t))
}

// SetPaymentMethod stores payout details and returns the trainer's payroll
// record for the given month (current month by default).
func (h *Handler) SetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req PaymentMethodRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	period := h.currentPeriod()
	if req.Year != 0 || req.Month != 0 {
		p, err := generic.ParseMonthPeriod(req.Year, req.Month)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		period = p
	}

	rec, err := h.Payroll.SetPaymentMethod(r.Context(), actorFrom(r.Context()),
		records.TrainerID(chi.URLParam(r, "id")), period, req.Method, req.AccountNumber, req.PIN)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) currentPeriod() generic.Period {
	today := h.Clock.Today()
	return generic.MonthPeriod(today.Year(), today.Month())
}

// toFieldUpdate converts a write request. new_date turns a postponement
// code into a reschedule.
func toFieldUpdate(id records.LectureID, req UpdateLectureRequest) (lectures.FieldUpdate, error) {
	u := lectures.FieldUpdate{
		LectureID: id,
		Field:     lectures.Field(req.Field),
		Value:     req.Value,
		StudentID: records.StudentID(req.StudentID),
	}
	if req.NewDate == "" {
		return u, nil
	}
	d, err := parseDate("new_date", req.NewDate)
	if err != nil {
		return u, err
	}
	t, err := parseOptionalTime("new_time", req.NewTime)
	if err != nil {
		return u, err
	}
	u.Reschedule = &lectures.Reschedule{NewDate: d, NewTime: t, ReasonText: req.ReasonText, Force: req.Force}
	return u, nil
}

func parseDate(field, s string) (generic.Date, error) {
	d, err := generic.ParseDate(s)
	if err != nil {
		return generic.Date{}, &generic.ValidationError{Field: field, Message: err.Error()}
	}
	return d, nil
}

func parseTime(field, s string) (generic.TimeOfDay, error) {
	t, err := generic.ParseTimeOfDay(s)
	if err != nil {
		return 0, &generic.ValidationError{Field: field, Message: err.Error()}
	}
	return t, nil
}

func parseOptionalTime(field, s string) (*generic.TimeOfDay, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(field, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, len(names))
	for i, n := range names {
		wd, err := generic.ParseWeekday(n)
		if err != nil {
			return nil, &generic.ValidationError{Field: "weekdays", Message: err.Error()}
		}
		out[i] = wd
	}
	return out, nil
}

func countMutation(op string, err error) {
	metrics.LectureMutations.WithLabelValues(op, metrics.Outcome(err)).Inc()
}

func countConflict(err error) {
	var conflict *generic.ConflictError
	if errors.As(err, &conflict) && len(conflict.Conflicts) > 0 {
		metrics.PostponementConflicts.Inc()
	}
}
