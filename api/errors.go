package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/lectures"
	"github.com/warp/lecture-engine/observability"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

type batchFailureDTO struct {
	Index     int    `json:"index"`
	LectureID string `json:"lecture_id"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// classify maps an engine error to a status, a stable code and details.
func classify(err error) (int, string, any) {
	var (
		reqErr   *RequestError
		batchErr *lectures.BatchError
		valErr   *generic.ValidationError
		conflict *generic.ConflictError
		limit    *generic.LimitExceededError
		modErr   *generic.ModificationError
	)
	switch {
	case errors.As(err, &reqErr):
		if len(reqErr.Fields) > 0 {
			return http.StatusBadRequest, "validation_error", reqErr.Fields
		}
		return http.StatusBadRequest, "bad_request", nil
	case errors.As(err, &batchErr):
		failures := make([]batchFailureDTO, len(batchErr.Failures))
		for i, f := range batchErr.Failures {
			_, code, _ := classify(f.Err)
			failures[i] = batchFailureDTO{Index: f.Index, LectureID: string(f.LectureID), Code: code, Error: f.Err.Error()}
		}
		return http.StatusUnprocessableEntity, "batch_failed", failures
	case errors.As(err, &valErr):
		return http.StatusBadRequest, "validation_error", []FieldError{{Field: valErr.Field, Rule: valErr.Message}}
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest, "validation_error", nil
	case errors.Is(err, generic.ErrAuthorization):
		return http.StatusForbidden, "forbidden", nil
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound, "not_found", nil
	case errors.As(err, &conflict):
		return http.StatusConflict, "conflict", conflict.Conflicts
	case errors.As(err, &limit):
		return http.StatusUnprocessableEntity, "limit_exceeded", map[string]int{"count": limit.Count, "max": limit.Max}
	case errors.As(err, &modErr):
		return http.StatusLocked, "locked", map[string]string{"lecture_id": modErr.LectureID, "reason": modErr.Reason}
	}
	return http.StatusInternalServerError, "internal", nil
}

// writeEngineError maps err to a response. Server errors are logged and
// reported to Sentry without leaking their text.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, details := classify(err)
	if status >= http.StatusInternalServerError {
		route := routePattern(r)
		reqID := middleware.GetReqID(r.Context())
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.String("request_id", reqID),
			zap.Error(err),
		)
		observability.CaptureRequestErr(err, r.Method, route, reqID)
		writeError(w, status, code, "internal server error", nil)
		return
	}
	writeError(w, status, code, err.Error(), details)
}
