package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/lectures"
	"github.com/warp/lecture-engine/payroll"
)

func defaults() Rules {
	return Rules{Limits: lectures.DefaultLimits(), Rates: payroll.DefaultRates()}
}

func TestParseRules_EmptyDocumentKeepsDefaults(t *testing.T) {
	f := NewRulesFactory(defaults())

	rules, err := f.ParseRules(`{}`)
	require.NoError(t, err)
	assert.Equal(t, lectures.DefaultLimits(), rules.Limits)
	assert.True(t, rules.Rates.RatePerLecture.Equal(generic.NewMoney(4000)))
	assert.Equal(t, 60, rules.Rates.Tier1Threshold)
}

func TestParseRules_PartialOverride(t *testing.T) {
	// GIVEN: A document that changes only the lecture rate and postponement cap
	// WHEN: It is parsed
	// THEN: Those fields change and everything else keeps its default

	f := NewRulesFactory(defaults())
	rules, err := f.ParseRules(`{
		"lectures": {"max_postponements": 3, "lecture_duration_minutes": 90},
		"payroll": {"rate_per_lecture": 4500, "tier2_amount": "90000.50"}
	}`)
	require.NoError(t, err)

	assert.Equal(t, 3, rules.Limits.MaxPostponements)
	assert.Equal(t, 90*time.Minute, rules.Limits.LectureDuration)
	assert.Equal(t, 75, rules.Limits.RenewalAlertThreshold)
	assert.True(t, rules.Rates.RatePerLecture.Equal(generic.NewMoney(4500)))
	assert.True(t, rules.Rates.Tier2Amount.Equal(generic.MustParseMoney("90000.50")))
	assert.True(t, rules.Rates.RenewalUnit.Equal(generic.NewMoney(10000)))
}

func TestRules_RoundTrip(t *testing.T) {
	f := NewRulesFactory(defaults())
	in, err := f.ParseRules(`{"payroll": {"tier1_threshold": 50, "competition_winners": 2}}`)
	require.NoError(t, err)

	doc, err := f.ToJSON(in)
	require.NoError(t, err)

	out, err := NewRulesFactory(Rules{}).ParseRules(doc)
	require.NoError(t, err, "a rendered document is complete on its own")
	assert.Equal(t, in.Limits, out.Limits)
	assert.Equal(t, 50, out.Rates.Tier1Threshold)
	assert.Equal(t, 2, out.Rates.CompetitionWinners)
	assert.True(t, in.Rates.Tier2Amount.Equal(out.Rates.Tier2Amount))
	assert.True(t, in.Rates.CompetitionUnit.Equal(out.Rates.CompetitionUnit))
}

func TestParseRules_Rejects(t *testing.T) {
	f := NewRulesFactory(defaults())
	cases := map[string]string{
		"negative amount":    `{"payroll": {"renewal_unit": -1}}`,
		"inverted tiers":     `{"payroll": {"tier1_threshold": 90, "tier2_threshold": 80}}`,
		"too many winners":   `{"payroll": {"competition_winners": 5}}`,
		"threshold too high": `{"lectures": {"renewal_alert_threshold": 100}}`,
		"negative limit":     `{"lectures": {"max_postponements": -1}}`,
		"malformed":          `{"payroll": `,
		"bad amount":         `{"payroll": {"tier1_amount": "lots"}}`,
	}
	for name, doc := range cases {
		_, err := f.ParseRules(doc)
		assert.ErrorIs(t, err, generic.ErrValidation, name)
	}
}
