package payroll

import (
	"sort"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/records"
)

// CompetitionWinner is one of the top trainers by renewals in a month.
type CompetitionWinner struct {
	TrainerID    records.TrainerID `json:"trainer_id"`
	TrainerName  string            `json:"trainer_name,omitempty"`
	Rank         int               `json:"rank"`
	RenewalCount int               `json:"renewal_count"`
	Bonus        generic.Money     `json:"bonus"`
}

// RenewalTally is a trainer's renewal count for the month.
type RenewalTally struct {
	TrainerID    records.TrainerID
	RenewalCount int
}

// RankCompetition ranks trainers with at least one renewal by count,
// descending. Equal counts are ordered by trainer id so the result does
// not depend on input order. The first rates.CompetitionWinners win.
func RankCompetition(tallies []RenewalTally, rates Rates) []CompetitionWinner {
	ranked := make([]RenewalTally, 0, len(tallies))
	for _, t := range tallies {
		if t.RenewalCount > 0 {
			ranked = append(ranked, t)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RenewalCount != ranked[j].RenewalCount {
			return ranked[i].RenewalCount > ranked[j].RenewalCount
		}
		return ranked[i].TrainerID < ranked[j].TrainerID
	})

	n := rates.CompetitionWinners
	if n > len(ranked) {
		n = len(ranked)
	}
	winners := make([]CompetitionWinner, 0, n)
	for i := 0; i < n; i++ {
		winners = append(winners, CompetitionWinner{
			TrainerID:    ranked[i].TrainerID,
			Rank:         i + 1,
			RenewalCount: ranked[i].RenewalCount,
			Bonus:        rates.CompetitionUnit,
		})
	}
	return winners
}
