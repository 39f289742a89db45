package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/oi_tracker/internal/models"
)

func result(rounded int, calls, puts map[int]int64) *models.TickerResult {
	mark := models.NewMarkPrice(float64(rounded))
	w := models.NewStrikeWindow(mark.Rounded)
	res := &models.TickerResult{Symbol: "SPY", Mark: mark, Window: w}
	for _, s := range w.Strikes() {
		res.Strikes = append(res.Strikes, models.StrikeOI{Strike: s, CallOI: calls[s], PutOI: puts[s]})
	}
	return res
}

func strikesOf(in []models.StrikeOI) []int {
	out := make([]int, len(in))
	for i, s := range in {
		out[i] = s.Strike
	}
	return out
}

func TestRank_Scenario(t *testing.T) {
	out := Rank(result(562, map[int]int64{560: 100, 565: 50}, map[int]int64{558: 200}))

	require.Len(t, out.AllStrikes, models.WindowSize)
	assert.Equal(t, []int{565}, strikesOf(out.TopCalls), "560 is below the mark")
	assert.Equal(t, []int{558}, strikesOf(out.TopPuts))
	assert.Equal(t, int64(150), out.Summary.TotalCallOI)
	assert.Equal(t, int64(200), out.Summary.TotalPutOI)
	assert.Equal(t, "1.33", out.Summary.PutCallRatio.String())
}

func TestRank_CapsAndOrders(t *testing.T) {
	calls := map[int]int64{}
	puts := map[int]int64{}
	for i := 1; i <= 10; i++ {
		calls[100+i] = int64(i * 10) // 101..110, OI rising with strike
		puts[100-i] = int64(i * 10)  // 99..90, OI rising as strike falls
	}
	calls[100] = 1000 // at the mark: excluded from both sides
	puts[100] = 1000

	out := Rank(result(100, calls, puts))

	assert.Equal(t, []int{110, 109, 108, 107, 106, 105, 104, 103}, strikesOf(out.TopCalls))
	assert.Equal(t, []int{97, 96, 95, 94, 93, 92, 91, 90}, strikesOf(out.TopPuts))
}

func TestRank_StableTieBreak(t *testing.T) {
	calls := map[int]int64{}
	for s := 101; s <= 110; s++ {
		calls[s] = 5
	}
	out := Rank(result(100, calls, nil))

	// Equal OI keeps ascending-strike order, so the lowest eight survive.
	assert.Equal(t, []int{108, 107, 106, 105, 104, 103, 102, 101}, strikesOf(out.TopCalls))
}

func TestRank_Invariants(t *testing.T) {
	for mark := 50; mark < 60; mark++ {
		calls := map[int]int64{}
		puts := map[int]int64{}
		for s := mark - 10; s <= mark+10; s++ {
			calls[s] = int64((s * 7) % 13)
			puts[s] = int64((s * 5) % 11)
		}
		out := Rank(result(mark, calls, puts))

		assert.LessOrEqual(t, len(out.TopCalls), models.TopN)
		assert.LessOrEqual(t, len(out.TopPuts), models.TopN)
		for _, s := range out.TopCalls {
			assert.Greater(t, s.Strike, mark)
			assert.NotZero(t, s.CallOI)
		}
		for _, s := range out.TopPuts {
			assert.Less(t, s.Strike, mark)
			assert.NotZero(t, s.PutOI)
		}

		var c, p int64
		for _, s := range out.AllStrikes {
			c += s.CallOI
			p += s.PutOI
		}
		assert.Equal(t, c, out.Summary.TotalCallOI)
		assert.Equal(t, p, out.Summary.TotalPutOI)
	}
}

func TestSummarize_NoCalls(t *testing.T) {
	s := Summarize([]models.StrikeOI{{Strike: 1, PutOI: 10}})
	assert.False(t, s.PutCallRatio.Valid())
	assert.Equal(t, "N/A", s.PutCallRatio.String())

	s = Summarize(nil)
	assert.Equal(t, "N/A", s.PutCallRatio.String())
}

func TestMarket(t *testing.T) {
	a := &models.RankedOutput{Symbol: "SPY", Summary: models.NewSummary(100, 150)}
	b := &models.RankedOutput{Symbol: "QQQ", Summary: models.NewSummary(50, 0)}

	ms := Market([]*models.RankedOutput{a, nil, b})
	require.Len(t, ms.Rows, 2)
	assert.Equal(t, "SPY", ms.Rows[0].Symbol)
	assert.Equal(t, "QQQ", ms.Rows[1].Symbol)
	assert.Equal(t, int64(150), ms.Total.TotalCallOI)
	assert.Equal(t, int64(150), ms.Total.TotalPutOI)
	assert.Equal(t, "1.00", ms.Total.PutCallRatio.String())

	empty := Market(nil)
	assert.Empty(t, empty.Rows)
	assert.Equal(t, "N/A", empty.Total.PutCallRatio.String())
}
