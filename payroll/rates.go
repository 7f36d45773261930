/*
Package payroll turns completed lectures into monthly trainer pay.

PURPOSE:
  For a month, every trainer's pay is recomputed from the lectures they held
  and the renewals they won. Only the manual fields (bonus/deduction,
  bonus toggles, payment method and status) are stored; everything else is
  derived on every fetch.

PAY FORMULA:
  basePay          = completed lectures x RatePerLecture
  renewalBonus     = renewals x RenewalUnit (or the stored override), if opted in
  volumeBonus      = Tier2Amount if completed >= Tier2Threshold,
                     Tier1Amount if completed >= Tier1Threshold, if enabled
  competitionBonus = CompetitionUnit for the top 3 trainers by renewals
  manual           = stored signed bonus_deduction
  totalPay         = sum of the above

SEE ALSO:
  - engine.go: Computation and bookkeeping operations
  - competition.go: Renewal ranking
  - factory/rules.go: JSON overrides for Rates
*/
package payroll

import (
	"github.com/warp/lecture-engine/generic"
)

// MaxCompetitionWinners is the size of the podium.
const MaxCompetitionWinners = 3

// Rates are the overridable amounts and thresholds of the pay formula.
type Rates struct {
	RatePerLecture generic.Money
	RenewalUnit    generic.Money

	Tier1Threshold int
	Tier1Amount    generic.Money
	Tier2Threshold int
	Tier2Amount    generic.Money

	CompetitionUnit    generic.Money
	CompetitionWinners int
}

func DefaultRates() Rates {
	return Rates{
		RatePerLecture:     generic.NewMoney(4000),
		RenewalUnit:        generic.NewMoney(10000),
		Tier1Threshold:     60,
		Tier1Amount:        generic.NewMoney(30000),
		Tier2Threshold:     80,
		Tier2Amount:        generic.NewMoney(80000),
		CompetitionUnit:    generic.NewMoney(20000),
		CompetitionWinners: 3,
	}
}

func (r Rates) Validate() error {
	amounts := []struct {
		field string
		value generic.Money
	}{
		{"rate_per_lecture", r.RatePerLecture},
		{"renewal_unit", r.RenewalUnit},
		{"tier1_amount", r.Tier1Amount},
		{"tier2_amount", r.Tier2Amount},
		{"competition_unit", r.CompetitionUnit},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			return &generic.ValidationError{Field: a.field, Message: "must not be negative"}
		}
	}
	if r.Tier1Threshold <= 0 {
		return &generic.ValidationError{Field: "tier1_threshold", Message: "must be positive"}
	}
	if r.Tier2Threshold <= r.Tier1Threshold {
		return &generic.ValidationError{Field: "tier2_threshold", Message: "must be above tier1_threshold"}
	}
	if r.CompetitionWinners < 0 || r.CompetitionWinners > MaxCompetitionWinners {
		return &generic.ValidationError{Field: "competition_winners", Message: "must be between 0 and 3"}
	}
	return nil
}

// VolumeTier returns the tier (0, 1, 2) and bonus for a lecture count.
func (r Rates) VolumeTier(completed int) (int, generic.Money) {
	switch {
	case completed >= r.Tier2Threshold:
		return 2, r.Tier2Amount
	case completed >= r.Tier1Threshold:
		return 1, r.Tier1Amount
	}
	return 0, generic.Zero()
}
