/*
Package factory provides JSON to Go business-rules conversion.

PURPOSE:
  Converts the business-rules document into lectures.Limits and
  payroll.Rates. Operations can retune pay amounts, tiers and the
  postponement limit without a redeploy: the document is stored versioned
  in the business_rules table and loaded at startup.

JSON SCHEMA:
  {
    "lectures": {
      "max_postponements": 2,
      "lecture_duration_minutes": 60,
      "renewal_alert_threshold": 75
    },
    "payroll": {
      "rate_per_lecture": "4000",
      "renewal_unit": "10000",
      "tier1_threshold": 60,
      "tier1_amount": "30000",
      "tier2_threshold": 80,
      "tier2_amount": "80000",
      "competition_unit": "20000",
      "competition_winners": 3
    }
  }

  Every field is optional. A missing field keeps the factory default.
  Amounts accept JSON numbers or decimal strings.

USAGE:
  f := NewRulesFactory(Rules{Limits: lectures.DefaultLimits(), Rates: payroll.DefaultRates()})
  rules, err := f.ParseRules(body)
  svc.SetLimits(rules.Limits)
  engine.SetRates(rules.Rates)

SEE ALSO:
  - lectures/service.go: Limits
  - payroll/rates.go: Rates
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/lectures"
	"github.com/warp/lecture-engine/payroll"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RulesJSON is the JSON representation of the business rules.
type RulesJSON struct {
	Lectures *LecturesJSON `json:"lectures,omitempty"`
	Payroll  *PayrollJSON  `json:"payroll,omitempty"`
}

type LecturesJSON struct {
	MaxPostponements       *int `json:"max_postponements,omitempty"`
	LectureDurationMinutes *int `json:"lecture_duration_minutes,omitempty"`
	RenewalAlertThreshold  *int `json:"renewal_alert_threshold,omitempty"`
}

type PayrollJSON struct {
	RatePerLecture     *generic.Money `json:"rate_per_lecture,omitempty"`
	RenewalUnit        *generic.Money `json:"renewal_unit,omitempty"`
	Tier1Threshold     *int           `json:"tier1_threshold,omitempty"`
	Tier1Amount        *generic.Money `json:"tier1_amount,omitempty"`
	Tier2Threshold     *int           `json:"tier2_threshold,omitempty"`
	Tier2Amount        *generic.Money `json:"tier2_amount,omitempty"`
	CompetitionUnit    *generic.Money `json:"competition_unit,omitempty"`
	CompetitionWinners *int           `json:"competition_winners,omitempty"`
}

// Rules is the parsed, validated rule set.
type Rules struct {
	Limits lectures.Limits
	Rates  payroll.Rates
}

func (r Rules) Validate() error {
	if err := r.Limits.Validate(); err != nil {
		return err
	}
	return r.Rates.Validate()
}

// =============================================================================
// RULES FACTORY
// =============================================================================

// RulesFactory converts JSON rule documents to Go structs.
type RulesFactory struct {
	defaults Rules
}

// NewRulesFactory creates a factory that fills missing fields from defaults.
func NewRulesFactory(defaults Rules) *RulesFactory {
	return &RulesFactory{defaults: defaults}
}

// ParseRules parses and validates a rules document.
func (f *RulesFactory) ParseRules(jsonStr string) (Rules, error) {
	var rj RulesJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return Rules{}, &generic.ValidationError{Field: "rules", Message: fmt.Sprintf("invalid rules JSON: %v", err)}
	}
	return f.FromJSON(rj)
}

// FromJSON overlays rj on the defaults and validates the result.
func (f *RulesFactory) FromJSON(rj RulesJSON) (Rules, error) {
	out := f.defaults

	if l := rj.Lectures; l != nil {
		setInt(&out.Limits.MaxPostponements, l.MaxPostponements)
		setInt(&out.Limits.RenewalAlertThreshold, l.RenewalAlertThreshold)
		if l.LectureDurationMinutes != nil {
			out.Limits.LectureDuration = time.Duration(*l.LectureDurationMinutes) * time.Minute
		}
	}

	if p := rj.Payroll; p != nil {
		setMoney(&out.Rates.RatePerLecture, p.RatePerLecture)
		setMoney(&out.Rates.RenewalUnit, p.RenewalUnit)
		setInt(&out.Rates.Tier1Threshold, p.Tier1Threshold)
		setMoney(&out.Rates.Tier1Amount, p.Tier1Amount)
		setInt(&out.Rates.Tier2Threshold, p.Tier2Threshold)
		setMoney(&out.Rates.Tier2Amount, p.Tier2Amount)
		setMoney(&out.Rates.CompetitionUnit, p.CompetitionUnit)
		setInt(&out.Rates.CompetitionWinners, p.CompetitionWinners)
	}

	if err := out.Validate(); err != nil {
		return Rules{}, err
	}
	return out, nil
}

// Document returns the complete JSON form of r.
func (f *RulesFactory) Document(r Rules) RulesJSON {
	minutes := int(r.Limits.LectureDuration / time.Minute)
	return RulesJSON{
		Lectures: &LecturesJSON{
			MaxPostponements:       &r.Limits.MaxPostponements,
			LectureDurationMinutes: &minutes,
			RenewalAlertThreshold:  &r.Limits.RenewalAlertThreshold,
		},
		Payroll: &PayrollJSON{
			RatePerLecture:     &r.Rates.RatePerLecture,
			RenewalUnit:        &r.Rates.RenewalUnit,
			Tier1Threshold:     &r.Rates.Tier1Threshold,
			Tier1Amount:        &r.Rates.Tier1Amount,
			Tier2Threshold:     &r.Rates.Tier2Threshold,
			Tier2Amount:        &r.Rates.Tier2Amount,
			CompetitionUnit:    &r.Rates.CompetitionUnit,
			CompetitionWinners: &r.Rates.CompetitionWinners,
		},
	}
}

// ToJSON renders a complete document for r.
func (f *RulesFactory) ToJSON(r Rules) (string, error) {
	data, err := json.MarshalIndent(f.Document(r), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal rules: %w", err)
	}
	return string(data), nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setMoney(dst *generic.Money, v *generic.Money) {
	if v != nil {
		*dst = *v
	}
}
