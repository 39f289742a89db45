// Package rank selects the most crowded strikes on each side of the mark and
// computes window-wide summary statistics.
package rank

import (
	"sort"

	"github.com/eddiefleurent/oi_tracker/internal/models"
)

// Rank builds the ranked view of one reconciled symbol. Ties in OI keep the
// ascending-strike order of res.Strikes.
func Rank(res *models.TickerResult) *models.RankedOutput {
	mark := res.Mark.Rounded

	all := make([]models.StrikeOI, len(res.Strikes))
	copy(all, res.Strikes)

	return &models.RankedOutput{
		Symbol:     res.Symbol,
		Mark:       res.Mark,
		TopCalls:   top(all, func(s models.StrikeOI) int64 { return s.CallOI }, func(strike int) bool { return strike > mark }),
		TopPuts:    top(all, func(s models.StrikeOI) int64 { return s.PutOI }, func(strike int) bool { return strike < mark }),
		AllStrikes: all,
		Summary:    Summarize(all),
	}
}

func top(strikes []models.StrikeOI, oi func(models.StrikeOI) int64, side func(int) bool) []models.StrikeOI {
	picked := make([]models.StrikeOI, 0, models.TopN)
	for _, s := range strikes {
		if side(s.Strike) && oi(s) > 0 {
			picked = append(picked, s)
		}
	}
	sort.SliceStable(picked, func(i, j int) bool { return oi(picked[i]) > oi(picked[j]) })
	if len(picked) > models.TopN {
		picked = picked[:models.TopN]
	}
	sort.SliceStable(picked, func(i, j int) bool { return picked[i].Strike > picked[j].Strike })
	return picked
}

// Summarize totals call and put OI over every strike given.
func Summarize(strikes []models.StrikeOI) models.Summary {
	var calls, puts int64
	for _, s := range strikes {
		calls += s.CallOI
		puts += s.PutOI
	}
	return models.NewSummary(calls, puts)
}

// Market aggregates per-symbol summaries, in the order given.
func Market(outputs []*models.RankedOutput) models.MarketSummary {
	ms := models.MarketSummary{Rows: make([]models.MarketRow, 0, len(outputs))}
	var calls, puts int64
	for _, o := range outputs {
		if o == nil {
			continue
		}
		ms.Rows = append(ms.Rows, models.MarketRow{Symbol: o.Symbol, Summary: o.Summary})
		calls += o.Summary.TotalCallOI
		puts += o.Summary.TotalPutOI
	}
	ms.Total = models.NewSummary(calls, puts)
	return ms
}
