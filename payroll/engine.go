package payroll

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/logging"
	"github.com/warp/lecture-engine/records"
)

// =============================================================================
// PAYROLL RECORD - Derived on every fetch
// =============================================================================

type Record struct {
	TrainerID   records.TrainerID `json:"trainer_id"`
	TrainerName string            `json:"trainer_name"`
	Year        int               `json:"year"`
	Month       int               `json:"month"`

	CompletedLectures int           `json:"completed_lectures"`
	BasePay           generic.Money `json:"base_pay"`

	RenewalCount         int            `json:"renewal_count"`
	RenewalBonusEnabled  bool           `json:"renewal_bonus_enabled"`
	RenewalTotalOverride *generic.Money `json:"renewal_total_override,omitempty"`
	RenewalBonus         generic.Money  `json:"renewal_bonus"`

	VolumeBonusEnabled bool          `json:"volume_bonus_enabled"`
	VolumeTier         int           `json:"volume_tier"`
	VolumeBonus        generic.Money `json:"volume_bonus"`

	CompetitionWinner bool          `json:"competition_winner"`
	CompetitionRank   int           `json:"competition_rank,omitempty"`
	CompetitionBonus  generic.Money `json:"competition_bonus"`

	BonusDeduction generic.Money `json:"bonus_deduction"`
	Notes          string        `json:"notes,omitempty"`

	TotalPay generic.Money `json:"total_pay"`

	PaymentStatus records.PayrollStatus `json:"payment_status"`
	PaidAt        *time.Time            `json:"paid_at,omitempty"`
	PaymentMethod *PaymentMethod        `json:"payment_method,omitempty"`
}

type PaymentMethod struct {
	Method        string  `json:"method"`
	AccountNumber string  `json:"account_number"`
	PIN           *string `json:"pin,omitempty"`
}

// RecordInput is everything one trainer's record is derived from.
type RecordInput struct {
	Trainer       records.Trainer
	Period        generic.Period
	Completed     int
	RenewalCount  int
	Adjustment    records.PayrollAdjustment
	PaymentMethod *records.PaymentMethod
}

// BuildRecord applies the pay formula. winner is nil unless the trainer
// placed in the renewal competition.
func BuildRecord(in RecordInput, rates Rates, winner *CompetitionWinner) Record {
	adj := in.Adjustment
	rec := Record{
		TrainerID:            in.Trainer.ID,
		TrainerName:          in.Trainer.Name,
		Year:                 in.Period.Year(),
		Month:                int(in.Period.Month()),
		CompletedLectures:    in.Completed,
		BasePay:              rates.RatePerLecture.MulInt(in.Completed),
		RenewalCount:         in.RenewalCount,
		RenewalBonusEnabled:  adj.RenewalBonusEnabled,
		RenewalTotalOverride: adj.RenewalTotalOverride,
		RenewalBonus:         generic.Zero(),
		VolumeBonusEnabled:   adj.VolumeBonusEnabled,
		VolumeBonus:          generic.Zero(),
		CompetitionBonus:     generic.Zero(),
		BonusDeduction:       adj.BonusDeduction,
		Notes:                adj.Notes,
		PaymentStatus:        adj.Status,
		PaidAt:               adj.PaidAt,
	}
	if rec.PaymentStatus == "" {
		rec.PaymentStatus = records.PayrollDraft
	}

	if adj.RenewalBonusEnabled && in.RenewalCount > 0 {
		if adj.RenewalTotalOverride != nil {
			rec.RenewalBonus = *adj.RenewalTotalOverride
		} else {
			rec.RenewalBonus = rates.RenewalUnit.MulInt(in.RenewalCount)
		}
	}

	if adj.VolumeBonusEnabled {
		rec.VolumeTier, rec.VolumeBonus = rates.VolumeTier(in.Completed)
	}

	if winner != nil {
		rec.CompetitionWinner = true
		rec.CompetitionRank = winner.Rank
		rec.CompetitionBonus = winner.Bonus
	}

	if pm := in.PaymentMethod; pm != nil {
		rec.PaymentMethod = &PaymentMethod{Method: pm.Method, AccountNumber: pm.AccountNumber, PIN: pm.PIN}
	}

	rec.TotalPay = rec.BasePay.
		Add(rec.RenewalBonus).
		Add(rec.VolumeBonus).
		Add(rec.CompetitionBonus).
		Add(rec.BonusDeduction)
	return rec
}

// =============================================================================
// REPORT
// =============================================================================

type Summary struct {
	TrainerCount      int           `json:"trainer_count"`
	CompletedLectures int           `json:"completed_lectures"`
	TotalPay          generic.Money `json:"total_pay"`
	PaidCount         int           `json:"paid_count"`
	DraftCount        int           `json:"draft_count"`
	PaidTotal         generic.Money `json:"paid_total"`
	OutstandingTotal  generic.Money `json:"outstanding_total"`
}

type Report struct {
	Year               int                 `json:"year"`
	Month              int                 `json:"month"`
	Records            []Record            `json:"records"`
	CompetitionWinners []CompetitionWinner `json:"competition_winners"`
	Summary            Summary             `json:"summary"`
}

// Record returns the record of one trainer, or nil.
func (r *Report) Record(id records.TrainerID) *Record {
	for i := range r.Records {
		if r.Records[i].TrainerID == id {
			return &r.Records[i]
		}
	}
	return nil
}

// Only narrows the report to one trainer's record. Competition winners are
// kept since the podium is public.
func (r *Report) Only(id records.TrainerID) *Report {
	out := &Report{Year: r.Year, Month: r.Month, CompetitionWinners: r.CompetitionWinners, Records: []Record{}}
	if rec := r.Record(id); rec != nil {
		out.Records = append(out.Records, *rec)
	}
	out.Summary = summarize(out.Records)
	return out
}

func summarize(recs []Record) Summary {
	s := Summary{
		TrainerCount:     len(recs),
		TotalPay:         generic.Zero(),
		PaidTotal:        generic.Zero(),
		OutstandingTotal: generic.Zero(),
	}
	for _, r := range recs {
		s.CompletedLectures += r.CompletedLectures
		s.TotalPay = s.TotalPay.Add(r.TotalPay)
		if r.PaymentStatus == records.PayrollPaid {
			s.PaidCount++
			s.PaidTotal = s.PaidTotal.Add(r.TotalPay)
		} else {
			s.DraftCount++
			s.OutstandingTotal = s.OutstandingTotal.Add(r.TotalPay)
		}
	}
	return s
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store  records.TxStore
	Clock  generic.Clock
	Logger *zap.Logger

	mu    sync.RWMutex
	rates Rates
}

func NewEngine(store records.TxStore, clock generic.Clock, rates Rates, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{Store: store, Clock: clock, Logger: logger, rates: rates}
}

func (e *Engine) Rates() Rates {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rates
}

// SetRates replaces the pay rules at runtime.
func (e *Engine) SetRates(r Rates) error {
	if err := r.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.rates = r
	e.mu.Unlock()
	return nil
}

// Compute derives every trainer's record for the month.
func (e *Engine) Compute(ctx context.Context, period generic.Period) (*Report, error) {
	return e.compute(ctx, e.Store, period)
}

func (e *Engine) compute(ctx context.Context, st records.Store, period generic.Period) (*Report, error) {
	rates := e.Rates()

	trainers, err := st.ListTrainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trainers: %w", err)
	}

	stored, err := st.ListAdjustments(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	adjustments := make(map[records.TrainerID]records.PayrollAdjustment, len(stored))
	for _, a := range stored {
		adjustments[a.TrainerID] = a
	}

	inputs := make([]RecordInput, 0, len(trainers))
	tallies := make([]RenewalTally, 0, len(trainers))
	for _, t := range trainers {
		in, err := loadInput(ctx, st, t, period, adjustments)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
		tallies = append(tallies, RenewalTally{TrainerID: t.ID, RenewalCount: in.RenewalCount})
	}

	winners := RankCompetition(tallies, rates)
	byTrainer := make(map[records.TrainerID]*CompetitionWinner, len(winners))
	names := make(map[records.TrainerID]string, len(trainers))
	for _, t := range trainers {
		names[t.ID] = t.Name
	}
	for i := range winners {
		winners[i].TrainerName = names[winners[i].TrainerID]
		byTrainer[winners[i].TrainerID] = &winners[i]
	}

	recs := make([]Record, 0, len(inputs))
	for _, in := range inputs {
		recs = append(recs, BuildRecord(in, rates, byTrainer[in.Trainer.ID]))
	}

	return &Report{
		Year:               period.Year(),
		Month:              int(period.Month()),
		Records:            recs,
		CompetitionWinners: winners,
		Summary:            summarize(recs),
	}, nil
}

// loadInput gathers one trainer's month. Trainers missing from adjustments
// get the untouched default.
func loadInput(ctx context.Context, st records.Store, t records.Trainer, period generic.Period,
	adjustments map[records.TrainerID]records.PayrollAdjustment) (RecordInput, error) {
	in := RecordInput{Trainer: t, Period: period}

	lectures, err := st.TrainerLectures(ctx, t.ID, period)
	if err != nil {
		return in, fmt.Errorf("load lectures of trainer %s: %w", t.ID, err)
	}
	for _, l := range lectures {
		if l.CountsAsCompleted() {
			in.Completed++
		}
	}

	id := t.ID
	renewals, err := st.ListCourses(ctx, records.CourseFilter{TrainerID: &id, StartedIn: &period, RenewalOnly: true})
	if err != nil {
		return in, fmt.Errorf("load renewals of trainer %s: %w", t.ID, err)
	}
	for _, c := range renewals {
		if c.Status != records.CourseCancelled {
			in.RenewalCount++
		}
	}

	if adj, ok := adjustments[t.ID]; ok {
		in.Adjustment = adj
	} else {
		in.Adjustment = records.DefaultAdjustment(t.ID, period.Year(), period.Month())
	}

	in.PaymentMethod, err = st.GetPaymentMethod(ctx, t.ID)
	if err != nil {
		return in, fmt.Errorf("load payment method of trainer %s: %w", t.ID, err)
	}
	return in, nil
}

// =============================================================================
// BOOKKEEPING - Manual fields, all privileged
// =============================================================================

// adjust runs mutate on the trainer's stored adjustment inside a
// transaction and returns the recomputed record.
func (e *Engine) adjust(ctx context.Context, actor generic.Actor, trainerID records.TrainerID, period generic.Period,
	action string, auditAction generic.AuditAction, payload map[string]any,
	mutate func(st records.Store, adj *records.PayrollAdjustment) error) (*Record, error) {

	if err := generic.RequirePrivileged(actor, action); err != nil {
		return nil, err
	}

	var rec *Record
	err := e.Store.WithTx(ctx, func(st records.Store) error {
		if _, err := st.GetTrainer(ctx, trainerID); err != nil {
			return err
		}
		adj, err := st.GetAdjustment(ctx, trainerID, period)
		if err != nil {
			return fmt.Errorf("load adjustment: %w", err)
		}
		if adj == nil {
			d := records.DefaultAdjustment(trainerID, period.Year(), period.Month())
			adj = &d
		}
		if err := mutate(st, adj); err != nil {
			return err
		}
		adj.UpdatedAt = e.Clock.Now()
		adj.UpdatedBy = actor.ID
		if err := st.SaveAdjustment(ctx, *adj); err != nil {
			return fmt.Errorf("save adjustment: %w", err)
		}

		if payload == nil {
			payload = map[string]any{}
		}
		payload["period"] = period.String()
		if err := st.AppendAudit(ctx, generic.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: e.Clock.Now(),
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Action:    auditAction,
			SubjectID: string(trainerID),
			Payload:   payload,
		}); err != nil {
			return fmt.Errorf("append audit entry: %w", err)
		}

		report, err := e.compute(ctx, st, period)
		if err != nil {
			return err
		}
		rec = report.Record(trainerID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Logger.Info("payroll updated",
		zap.String("trainer_id", string(trainerID)),
		zap.String("period", period.String()),
		zap.String("action", string(auditAction)),
		logging.Actor(actor),
	)
	return rec, nil
}

// SetBonusDeduction stores the signed manual adjustment of the month.
func (e *Engine) SetBonusDeduction(ctx context.Context, actor generic.Actor, trainerID records.TrainerID, period generic.Period, amount generic.Money, notes string) (*Record, error) {
	payload := map[string]any{"amount": amount.String(), "notes": notes}
	return e.adjust(ctx, actor, trainerID, period, "adjust payroll", generic.AuditPayrollAdjusted, payload,
		func(_ records.Store, adj *records.PayrollAdjustment) error {
			adj.BonusDeduction = amount
			adj.Notes = strings.TrimSpace(notes)
			return nil
		})
}

// BonusOptions toggles the optional bonuses. Nil fields are left unchanged.
type BonusOptions struct {
	RenewalBonusEnabled  *bool
	RenewalTotalOverride *generic.Money
	ClearRenewalOverride bool
	VolumeBonusEnabled   *bool
}

func (e *Engine) SetBonusOptions(ctx context.Context, actor generic.Actor, trainerID records.TrainerID, period generic.Period, opts BonusOptions) (*Record, error) {
	if opts.RenewalTotalOverride != nil && opts.RenewalTotalOverride.IsNegative() {
		return nil, &generic.ValidationError{Field: "renewal_total_override", Message: "must not be negative"}
	}
	payload := map[string]any{"bonus_options": true}
	return e.adjust(ctx, actor, trainerID, period, "adjust payroll", generic.AuditPayrollAdjusted, payload,
		func(_ records.Store, adj *records.PayrollAdjustment) error {
			if opts.RenewalBonusEnabled != nil {
				adj.RenewalBonusEnabled = *opts.RenewalBonusEnabled
			}
			if opts.ClearRenewalOverride {
				adj.RenewalTotalOverride = nil
			}
			if opts.RenewalTotalOverride != nil {
				v := *opts.RenewalTotalOverride
				adj.RenewalTotalOverride = &v
			}
			if opts.VolumeBonusEnabled != nil {
				adj.VolumeBonusEnabled = *opts.VolumeBonusEnabled
			}
			return nil
		})
}

// SetPaymentMethod stores how the trainer is paid. It is independent of
// the payment status. The returned record is for period.
func (e *Engine) SetPaymentMethod(ctx context.Context, actor generic.Actor, trainerID records.TrainerID, period generic.Period, method, account string, pin *string) (*Record, error) {
	method = strings.TrimSpace(method)
	account = strings.TrimSpace(account)
	if method == "" {
		return nil, &generic.ValidationError{Field: "method", Message: "payment method is required"}
	}
	if account == "" {
		return nil, &generic.ValidationError{Field: "account_number", Message: "account number is required"}
	}
	payload := map[string]any{"method": method}
	return e.adjust(ctx, actor, trainerID, period, "set payment methods", generic.AuditPaymentMethodSet, payload,
		func(st records.Store, _ *records.PayrollAdjustment) error {
			err := st.SavePaymentMethod(ctx, records.PaymentMethod{
				TrainerID:     trainerID,
				Method:        method,
				AccountNumber: account,
				PIN:           pin,
				UpdatedAt:     e.Clock.Now(),
			})
			if err != nil {
				return fmt.Errorf("save payment method: %w", err)
			}
			return nil
		})
}

// MarkPaid flips the month to paid, stamps paid_at and flags the trainer's
// completed lectures of the month as paid.
func (e *Engine) MarkPaid(ctx context.Context, actor generic.Actor, trainerID records.TrainerID, period generic.Period) (*Record, error) {
	payload := map[string]any{"status": string(records.PayrollPaid)}
	return e.adjust(ctx, actor, trainerID, period, "change payment status", generic.AuditPaymentStatusChanged, payload,
		func(st records.Store, adj *records.PayrollAdjustment) error {
			if adj.Status != records.PayrollPaid || adj.PaidAt == nil {
				now := e.Clock.Now()
				adj.PaidAt = &now
			}
			adj.Status = records.PayrollPaid
			return setLecturePayment(ctx, st, trainerID, period, records.LectureUnpaid, records.LecturePaid)
		})
}

// MarkUnpaid reverts MarkPaid.
func (e *Engine) MarkUnpaid(ctx context.Context, actor generic.Actor, trainerID records.TrainerID, period generic.Period) (*Record, error) {
	payload := map[string]any{"status": string(records.PayrollDraft)}
	return e.adjust(ctx, actor, trainerID, period, "change payment status", generic.AuditPaymentStatusChanged, payload,
		func(st records.Store, adj *records.PayrollAdjustment) error {
			adj.Status = records.PayrollDraft
			adj.PaidAt = nil
			return setLecturePayment(ctx, st, trainerID, period, records.LecturePaid, records.LectureUnpaid)
		})
}

func setLecturePayment(ctx context.Context, st records.Store, trainerID records.TrainerID, period generic.Period, from, to records.LecturePaymentStatus) error {
	lectures, err := st.TrainerLectures(ctx, trainerID, period)
	if err != nil {
		return fmt.Errorf("load lectures: %w", err)
	}
	for _, l := range lectures {
		current := l.TrainerPaymentStatus
		if current == "" {
			current = records.LectureUnpaid
		}
		if !l.CountsAsCompleted() || current != from {
			continue
		}
		l.TrainerPaymentStatus = to
		if err := st.UpdateLecture(ctx, l); err != nil {
			return fmt.Errorf("update lecture %s: %w", l.ID, err)
		}
	}
	return nil
}
