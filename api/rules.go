package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/lecture-engine/factory"
	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/logging"
	"github.com/warp/lecture-engine/records"
)

const maxRulesBody = 64 << 10

// =============================================================================
// BUSINESS RULES
// =============================================================================

// LoadRules applies the latest stored rules document. With none stored the
// configured defaults stay active.
func (h *Handler) LoadRules(ctx context.Context) error {
	rec, err := h.Store.GetRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if rec == nil {
		return nil
	}
	rules, err := h.Rules.ParseRules(rec.ConfigJSON)
	if err != nil {
		return fmt.Errorf("parse rules version %d: %w", rec.Version, err)
	}
	if err := h.applyRules(rules); err != nil {
		return err
	}
	h.Logger.Info("business rules loaded", zap.Int("version", rec.Version))
	return nil
}

func (h *Handler) applyRules(rules factory.Rules) error {
	if err := h.Lectures.SetLimits(rules.Limits); err != nil {
		return err
	}
	return h.Payroll.SetRates(rules.Rates)
}

// activeRules is the rule set the engines run with right now.
func (h *Handler) activeRules() factory.Rules {
	return factory.Rules{Limits: h.Lectures.Limits(), Rates: h.Payroll.Rates()}
}

// GetRules returns the active rules. Version 0 means nothing was stored yet.
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetRules(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dto := RulesDTO{Rules: h.Rules.Document(h.activeRules())}
	if rec != nil {
		at := rec.UpdatedAt
		dto.Version = rec.Version
		dto.UpdatedBy = rec.UpdatedBy
		dto.UpdatedAt = &at
	}
	writeJSON(w, http.StatusOK, dto)
}

// PutRules replaces the rules. Missing fields take the configured defaults,
// not the previous version. Admin only.
func (h *Handler) PutRules(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if actor.Role != generic.RoleAdmin {
		h.writeEngineError(w, r, &generic.AuthorizationError{Role: actor.Role, Action: "change business rules"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRulesBody))
	if err != nil {
		h.writeEngineError(w, r, &RequestError{Message: fmt.Sprintf("read body: %v", err)})
		return
	}
	rules, err := h.Rules.ParseRules(string(body))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	doc, err := h.Rules.ToJSON(rules)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	var saved records.RulesRecord
	err = h.Store.WithTx(r.Context(), func(st records.Store) error {
		var err error
		saved, err = st.SaveRules(r.Context(), records.RulesRecord{
			ConfigJSON: doc,
			UpdatedBy:  actor.ID,
			UpdatedAt:  h.Clock.Now(),
		})
		if err != nil {
			return fmt.Errorf("save rules: %w", err)
		}
		return st.AppendAudit(r.Context(), generic.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: h.Clock.Now(),
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Action:    generic.AuditRulesChanged,
			SubjectID: "rules",
			Payload:   map[string]any{"version": saved.Version},
		})
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if err := h.applyRules(rules); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	h.Logger.Info("business rules changed",
		zap.Int("version", saved.Version),
		logging.Actor(actor))
	at := saved.UpdatedAt
	writeJSON(w, http.StatusOK, RulesDTO{
		Version:   saved.Version,
		UpdatedBy: saved.UpdatedBy,
		UpdatedAt: &at,
		Rules:     h.Rules.Document(rules),
	})
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// QueryAudit lists audit entries newest first.
//
// Query parameters: subject_id, actor_id, action (comma separated),
// from and to (RFC3339), limit (default 100, max 1000).
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	if err := generic.RequirePrivileged(actorFrom(r.Context()), "read the audit log"); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	filter, err := auditFilter(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	entries, err := h.Store.QueryAudit(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	out := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, out)
}

func auditFilter(r *http.Request) (generic.AuditFilter, error) {
	q := r.URL.Query()
	f := generic.AuditFilter{Limit: 100}
	if v := q.Get("subject_id"); v != "" {
		f.SubjectID = &v
	}
	if v := q.Get("actor_id"); v != "" {
		f.ActorID = &v
	}
	if v := q.Get("action"); v != "" {
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				f.Actions = append(f.Actions, generic.AuditAction(a))
			}
		}
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, &generic.ValidationError{Field: p.name, Message: "use RFC3339"}
		}
		*p.dst = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return f, &generic.ValidationError{Field: "limit", Message: "limit must be 1..1000"}
		}
		f.Limit = n
	}
	return f, nil
}
