package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/oi_tracker/internal/models"
	"github.com/eddiefleurent/oi_tracker/internal/rank"
)

func scenario() *models.TickerResult {
	mark := models.NewMarkPrice(562.37)
	w := models.NewStrikeWindow(mark.Rounded)
	res := &models.TickerResult{Symbol: "SPY", Mark: mark, Window: w, Expirations: []string{"2025-06-20"}}
	calls := map[int]int64{560: 100, 565: 50}
	puts := map[int]int64{558: 200}
	for _, s := range w.Strikes() {
		res.Strikes = append(res.Strikes, models.StrikeOI{Strike: s, CallOI: calls[s], PutOI: puts[s]})
		res.Rows = append(res.Rows, models.ExpirationRow{Expiration: "2025-06-20", Strike: s, CallOI: calls[s], PutOI: puts[s]})
	}
	return res
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "spy_top_strikes.json", TopStrikesFile("SPY"))
	assert.Equal(t, "qqq_open_interest.csv", OpenInterestFile("QQQ"))
	assert.Equal(t, "*_top_strikes.json", TopStrikesPattern)
}

func TestTopStrikesJSON(t *testing.T) {
	out := rank.Rank(scenario())

	b, err := TopStrikesJSON(out)
	require.NoError(t, err)

	s := string(b)
	assert.True(t, strings.HasPrefix(s, "{\n  \"ticker\": \"SPY\",\n  \"markPrice\": 562,\n  \"exactMarkPrice\": 562.37,\n"), s)
	assert.Contains(t, s, `"putCallRatio": "1.33"`)
	assert.True(t, strings.HasSuffix(s, "}\n"))

	doc, err := DecodeTopStrikes(b)
	require.NoError(t, err)
	assert.Equal(t, "SPY", doc.Ticker)
	assert.Len(t, doc.AllStrikes, models.WindowSize)
	assert.Equal(t, []CallEntry{{Strike: 565, CallOI: 50}}, doc.TopCalls)
	assert.Equal(t, []PutEntry{{Strike: 558, PutOI: 200}}, doc.TopPuts)
	assert.Equal(t, int64(150), doc.Summary.TotalCallOI)
	assert.Equal(t, int64(200), doc.Summary.TotalPutOI)
	assert.Equal(t, "1.33", doc.Summary.PutCallRatio.String())

	var calls, puts int64
	for _, e := range doc.AllStrikes {
		calls += e.CallOI
		puts += e.PutOI
	}
	assert.Equal(t, doc.Summary.TotalCallOI, calls)
	assert.Equal(t, doc.Summary.TotalPutOI, puts)
}

func TestTopStrikesJSON_EmptySidesAndNA(t *testing.T) {
	mark := models.NewMarkPrice(100)
	out := &models.RankedOutput{Symbol: "DIA", Mark: mark, Summary: models.NewSummary(0, 0)}

	b, err := TopStrikesJSON(out)
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, `"topCalls": []`)
	assert.Contains(t, s, `"topPuts": []`)
	assert.Contains(t, s, `"allStrikes": []`)
	assert.Contains(t, s, `"putCallRatio": "N/A"`)

	doc, err := DecodeTopStrikes(b)
	require.NoError(t, err)
	assert.False(t, doc.Summary.PutCallRatio.Valid())
}

func TestDecodeTopStrikes_Invalid(t *testing.T) {
	_, err := DecodeTopStrikes([]byte("{"))
	assert.Error(t, err)

	_, err = DecodeTopStrikes([]byte(`{"summary":{"putCallRatio":"abc"}}`))
	assert.Error(t, err)
}

func TestOpenInterestCSV(t *testing.T) {
	b, err := OpenInterestCSV(scenario())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	// header + 21 rows + blank + title + header + 21 rows + blank + total
	require.Len(t, lines, 1+21+1+1+1+21+1+1)

	assert.Equal(t, "Expiration,Strike,CallOI,PutOI", lines[0])
	assert.Equal(t, "2025-06-20,552,0,0", lines[1])
	assert.Equal(t, "2025-06-20,558,0,200", lines[7])
	assert.Equal(t, "2025-06-20,560,100,0", lines[9])
	assert.Equal(t, "", lines[22])
	assert.Equal(t, "Summary - Total Open Interest By Strike", lines[23])
	assert.Equal(t, "Strike,Total Call OI,Total Put OI,Put/Call Ratio", lines[24])
	assert.Equal(t, "552,0,0,N/A", lines[25])
	assert.Equal(t, "558,0,200,N/A", lines[31])
	assert.Equal(t, "560,100,0,0.00", lines[33])
	assert.Equal(t, "", lines[46])
	assert.Equal(t, "GRAND TOTAL,150,200,1.33", lines[47])
}

func TestMarketSummaryCSV(t *testing.T) {
	ms := rank.Market([]*models.RankedOutput{
		{Symbol: "SPY", Summary: models.NewSummary(150, 200)},
		{Symbol: "QQQ", Summary: models.NewSummary(0, 30)},
	})

	b, err := MarketSummaryCSV(ms)
	require.NoError(t, err)
	want := "Ticker,Total Call OI,Total Put OI,Put/Call Ratio\n" +
		"SPY,150,200,1.33\n" +
		"QQQ,0,30,N/A\n" +
		"\n" +
		"MARKET TOTAL,150,230,1.53\n"
	assert.Equal(t, want, string(b))
}

func TestArtifactsAreByteIdentical(t *testing.T) {
	res := scenario()
	out := rank.Rank(res)

	j1, err := TopStrikesJSON(out)
	require.NoError(t, err)
	j2, err := TopStrikesJSON(rank.Rank(scenario()))
	require.NoError(t, err)
	assert.Equal(t, j1, j2)

	c1, err := OpenInterestCSV(res)
	require.NoError(t, err)
	c2, err := OpenInterestCSV(scenario())
	require.NoError(t, err)
	assert.Equal(t, c1, c2)

	m1, err := MarketSummaryCSV(rank.Market([]*models.RankedOutput{out}))
	require.NoError(t, err)
	m2, err := MarketSummaryCSV(rank.Market([]*models.RankedOutput{rank.Rank(scenario())}))
	require.NoError(t, err)
	assert.Equal(t, m1, m2)
}

func TestParseMarketSummaryCSV(t *testing.T) {
	ms := rank.Market([]*models.RankedOutput{
		{Symbol: "SPY", Summary: models.NewSummary(150, 200)},
		{Symbol: "QQQ", Summary: models.NewSummary(0, 30)},
	})
	b, err := MarketSummaryCSV(ms)
	require.NoError(t, err)

	got, err := ParseMarketSummaryCSV(b)
	require.NoError(t, err)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "SPY", got.Rows[0].Symbol)
	assert.Equal(t, int64(200), got.Rows[0].Summary.TotalPutOI)
	assert.Equal(t, "1.33", got.Rows[0].Summary.PutCallRatio.String())
	assert.False(t, got.Rows[1].Summary.PutCallRatio.Valid())
	assert.Equal(t, int64(230), got.Total.TotalPutOI)
	assert.Equal(t, "1.53", got.Total.PutCallRatio.String())
}

func TestParseMarketSummaryCSV_Malformed(t *testing.T) {
	tests := map[string]string{
		"empty":         "",
		"no header":     "SPY,1,2,2.00\n",
		"short row":     "Ticker,Total Call OI,Total Put OI,Put/Call Ratio\nSPY,1\n",
		"bad number":    "Ticker,Total Call OI,Total Put OI,Put/Call Ratio\nSPY,x,2,2.00\nMARKET TOTAL,1,2,2.00\n",
		"missing total": "Ticker,Total Call OI,Total Put OI,Put/Call Ratio\nSPY,1,2,2.00\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMarketSummaryCSV([]byte(in))
			assert.Error(t, err)
		})
	}
}
