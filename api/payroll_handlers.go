package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/metrics"
	"github.com/warp/lecture-engine/payroll"
	"github.com/warp/lecture-engine/records"
)

// =============================================================================
// PAYROLL
// =============================================================================

// GetPayroll computes the monthly report. ?year=&month= default to the
// current month. Trainers only see their own record.
func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	period, err := h.queryPeriod(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	report, err := h.Payroll.Compute(r.Context(), period)
	metrics.PayrollComputations.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	actor := actorFrom(r.Context())
	if !actor.IsPrivileged() {
		if actor.ID == "" {
			h.writeEngineError(w, r, &generic.AuthorizationError{Role: actor.Role, Action: "view payroll without an actor id"})
			return
		}
		report = report.Only(records.TrainerID(actor.ID))
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) SetBonusDeduction(w http.ResponseWriter, r *http.Request) {
	trainerID, period, err := pathPeriod(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	var req AdjustmentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	rec, err := h.Payroll.SetBonusDeduction(r.Context(), actorFrom(r.Context()), trainerID, period, *req.Amount, req.Notes)
	h.respondRecord(w, r, rec, err)
}

func (h *Handler) SetBonusOptions(w http.ResponseWriter, r *http.Request) {
	trainerID, period, err := pathPeriod(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	var req BonusOptionsRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	rec, err := h.Payroll.SetBonusOptions(r.Context(), actorFrom(r.Context()), trainerID, period, payroll.BonusOptions{
		RenewalBonusEnabled:  req.RenewalBonusEnabled,
		RenewalTotalOverride: req.RenewalTotalOverride,
		ClearRenewalOverride: req.ClearRenewalOverride,
		VolumeBonusEnabled:   req.VolumeBonusEnabled,
	})
	h.respondRecord(w, r, rec, err)
}

func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	trainerID, period, err := pathPeriod(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	rec, err := h.Payroll.MarkPaid(r.Context(), actorFrom(r.Context()), trainerID, period)
	h.respondRecord(w, r, rec, err)
}

func (h *Handler) MarkUnpaid(w http.ResponseWriter, r *http.Request) {
	trainerID, period, err := pathPeriod(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	rec, err := h.Payroll.MarkUnpaid(r.Context(), actorFrom(r.Context()), trainerID, period)
	h.respondRecord(w, r, rec, err)
}

func (h *Handler) respondRecord(w http.ResponseWriter, r *http.Request, rec *payroll.Record, err error) {
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	h.Logger.Debug("payroll record returned",
		zap.String("trainer_id", string(rec.TrainerID)),
		zap.Int("year", rec.Year),
		zap.Int("month", rec.Month),
		zap.String("total_pay", rec.TotalPay.String()))
	writeJSON(w, http.StatusOK, rec)
}

// queryPeriod reads ?year=&month=. Both are optional but go together.
func (h *Handler) queryPeriod(r *http.Request) (generic.Period, error) {
	q := r.URL.Query()
	ys, ms := q.Get("year"), q.Get("month")
	if ys == "" && ms == "" {
		return h.currentPeriod(), nil
	}
	year, err := strconv.Atoi(ys)
	if err != nil {
		return generic.Period{}, &generic.ValidationError{Field: "year", Message: "year must be a number"}
	}
	month, err := strconv.Atoi(ms)
	if err != nil {
		return generic.Period{}, &generic.ValidationError{Field: "month", Message: "month must be a number"}
	}
	return generic.ParseMonthPeriod(year, month)
}

// pathPeriod reads {trainerID}/{year}/{month}.
func pathPeriod(r *http.Request) (records.TrainerID, generic.Period, error) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		return "", generic.Period{}, &generic.ValidationError{Field: "year", Message: "year must be a number"}
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil {
		return "", generic.Period{}, &generic.ValidationError{Field: "month", Message: "month must be a number"}
	}
	period, err := generic.ParseMonthPeriod(year, month)
	if err != nil {
		return "", generic.Period{}, err
	}
	return records.TrainerID(chi.URLParam(r, "trainerID")), period, nil
}
