// Package export renders ranked and reconciled results into the JSON and CSV
// artifacts read by the charting UI.
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/eddiefleurent/oi_tracker/internal/models"
	"github.com/eddiefleurent/oi_tracker/internal/rank"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MarketSummaryFile is the name of the market-wide summary artifact.
const MarketSummaryFile = "market_options_summary.csv"

const (
	topStrikesSuffix   = "_top_strikes.json"
	openInterestSuffix = "_open_interest.csv"
)

// TopStrikesFile returns the per-symbol JSON artifact name.
func TopStrikesFile(symbol string) string {
	return strings.ToLower(symbol) + topStrikesSuffix
}

// OpenInterestFile returns the per-symbol CSV artifact name.
func OpenInterestFile(symbol string) string {
	return strings.ToLower(symbol) + openInterestSuffix
}

// TopStrikesPattern matches every per-symbol JSON artifact.
const TopStrikesPattern = "*" + topStrikesSuffix

// CallEntry is one element of topCalls.
type CallEntry struct {
	Strike int   `json:"strike"`
	CallOI int64 `json:"callOI"`
}

// PutEntry is one element of topPuts.
type PutEntry struct {
	Strike int   `json:"strike"`
	PutOI  int64 `json:"putOI"`
}

// StrikeEntry is one element of allStrikes.
type StrikeEntry struct {
	Strike int   `json:"strike"`
	CallOI int64 `json:"callOI"`
	PutOI  int64 `json:"putOI"`
}

// SummaryDoc is the summary object of the top-strikes document.
type SummaryDoc struct {
	TotalCallOI  int64               `json:"totalCallOI"`
	TotalPutOI   int64               `json:"totalPutOI"`
	PutCallRatio models.PutCallRatio `json:"putCallRatio"`
}

// TopStrikesDoc is the per-symbol JSON artifact.
type TopStrikesDoc struct {
	Ticker         string        `json:"ticker"`
	MarkPrice      int           `json:"markPrice"`
	ExactMarkPrice float64       `json:"exactMarkPrice"`
	TopCalls       []CallEntry   `json:"topCalls"`
	TopPuts        []PutEntry    `json:"topPuts"`
	AllStrikes     []StrikeEntry `json:"allStrikes"`
	Summary        SummaryDoc    `json:"summary"`
}

// NewTopStrikesDoc converts a ranked output into its artifact shape.
func NewTopStrikesDoc(out *models.RankedOutput) TopStrikesDoc {
	doc := TopStrikesDoc{
		Ticker:         out.Symbol,
		MarkPrice:      out.Mark.Rounded,
		ExactMarkPrice: out.Mark.Exact.InexactFloat64(),
		TopCalls:       make([]CallEntry, 0, len(out.TopCalls)),
		TopPuts:        make([]PutEntry, 0, len(out.TopPuts)),
		AllStrikes:     make([]StrikeEntry, 0, len(out.AllStrikes)),
		Summary: SummaryDoc{
			TotalCallOI:  out.Summary.TotalCallOI,
			TotalPutOI:   out.Summary.TotalPutOI,
			PutCallRatio: out.Summary.PutCallRatio,
		},
	}
	for _, s := range out.TopCalls {
		doc.TopCalls = append(doc.TopCalls, CallEntry{Strike: s.Strike, CallOI: s.CallOI})
	}
	for _, s := range out.TopPuts {
		doc.TopPuts = append(doc.TopPuts, PutEntry{Strike: s.Strike, PutOI: s.PutOI})
	}
	for _, s := range out.AllStrikes {
		doc.AllStrikes = append(doc.AllStrikes, StrikeEntry{Strike: s.Strike, CallOI: s.CallOI, PutOI: s.PutOI})
	}
	return doc
}

// TopStrikesJSON renders the per-symbol JSON artifact with two-space indentation.
func TopStrikesJSON(out *models.RankedOutput) ([]byte, error) {
	b, err := json.MarshalIndent(NewTopStrikesDoc(out), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s top strikes: %w", out.Symbol, err)
	}
	return append(b, '\n'), nil
}

// DecodeTopStrikes parses a per-symbol JSON artifact.
func DecodeTopStrikes(b []byte) (TopStrikesDoc, error) {
	var doc TopStrikesDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return TopStrikesDoc{}, fmt.Errorf("failed to decode top strikes: %w", err)
	}
	return doc, nil
}

// OpenInterestCSV renders the per-symbol CSV: one row per expiration and
// strike, then per-strike totals with their put/call ratio and a grand total.
func OpenInterestCSV(res *models.TickerResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	records := make([][]string, 0, len(res.Rows)+len(res.Strikes)+6)
	records = append(records, []string{"Expiration", "Strike", "CallOI", "PutOI"})
	for _, r := range res.Rows {
		records = append(records, []string{r.Expiration, strconv.Itoa(r.Strike), itoa(r.CallOI), itoa(r.PutOI)})
	}

	records = append(records,
		[]string{},
		[]string{"Summary - Total Open Interest By Strike"},
		[]string{"Strike", "Total Call OI", "Total Put OI", "Put/Call Ratio"},
	)
	for _, s := range res.Strikes {
		ratio := models.NewPutCallRatio(s.PutOI, s.CallOI)
		records = append(records, []string{strconv.Itoa(s.Strike), itoa(s.CallOI), itoa(s.PutOI), ratio.String()})
	}

	total := rank.Summarize(res.Strikes)
	records = append(records, []string{}, summaryRecord("GRAND TOTAL", total))

	if err := w.WriteAll(records); err != nil {
		return nil, fmt.Errorf("failed to write %s open interest csv: %w", res.Symbol, err)
	}
	return buf.Bytes(), nil
}

// MarketSummaryCSV renders one row per symbol followed by the market total.
func MarketSummaryCSV(ms models.MarketSummary) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	records := make([][]string, 0, len(ms.Rows)+3)
	records = append(records, []string{"Ticker", "Total Call OI", "Total Put OI", "Put/Call Ratio"})
	for _, row := range ms.Rows {
		records = append(records, summaryRecord(row.Symbol, row.Summary))
	}
	records = append(records, []string{}, summaryRecord("MARKET TOTAL", ms.Total))

	if err := w.WriteAll(records); err != nil {
		return nil, fmt.Errorf("failed to write market summary csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseMarketSummaryCSV reads a market summary artifact back into rows and total.
func ParseMarketSummaryCSV(b []byte) (models.MarketSummary, error) {
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return models.MarketSummary{}, fmt.Errorf("failed to read market summary csv: %w", err)
	}
	if len(records) == 0 || len(records[0]) == 0 || records[0][0] != "Ticker" {
		return models.MarketSummary{}, fmt.Errorf("market summary csv: missing header")
	}

	var ms models.MarketSummary
	var haveTotal bool
	for i, rec := range records[1:] {
		if len(rec) != 4 {
			return models.MarketSummary{}, fmt.Errorf("market summary csv line %d: want 4 fields, got %d", i+2, len(rec))
		}
		calls, err1 := strconv.ParseInt(rec[1], 10, 64)
		puts, err2 := strconv.ParseInt(rec[2], 10, 64)
		ratio, err3 := models.ParsePutCallRatio(rec[3])
		if err := errors.Join(err1, err2, err3); err != nil {
			return models.MarketSummary{}, fmt.Errorf("market summary csv line %d: %w", i+2, err)
		}
		s := models.Summary{TotalCallOI: calls, TotalPutOI: puts, PutCallRatio: ratio}
		if rec[0] == "MARKET TOTAL" {
			ms.Total, haveTotal = s, true
			continue
		}
		ms.Rows = append(ms.Rows, models.MarketRow{Symbol: rec[0], Summary: s})
	}
	if !haveTotal {
		return models.MarketSummary{}, fmt.Errorf("market summary csv: missing MARKET TOTAL row")
	}
	return ms, nil
}

func summaryRecord(label string, s models.Summary) []string {
	return []string{label, itoa(s.TotalCallOI), itoa(s.TotalPutOI), s.PutCallRatio.String()}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
