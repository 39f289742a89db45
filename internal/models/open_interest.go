// Package models defines the data types passed between the stages of the
// open-interest pipeline: fetch, reconcile, rank and export.
package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// StrikeRadius is the number of strikes on each side of the rounded mark.
	StrikeRadius = 10
	// WindowSize is the number of strikes in a StrikeWindow.
	WindowSize = 2*StrikeRadius + 1
	// TopN caps topCalls and topPuts.
	TopN = 8
)

// MarkPrice is the reference price of an underlying at fetch time.
type MarkPrice struct {
	Exact   decimal.Decimal
	Rounded int
}

// NewMarkPrice builds a MarkPrice. Rounding is half away from zero.
func NewMarkPrice(mark float64) MarkPrice {
	exact := decimal.NewFromFloat(mark)
	return MarkPrice{Exact: exact, Rounded: int(exact.Round(0).IntPart())}
}

// StrikeWindow is the inclusive integer strike range [Low, High].
type StrikeWindow struct {
	Low  int
	High int
}

// NewStrikeWindow centers a window of WindowSize strikes on rounded.
func NewStrikeWindow(rounded int) StrikeWindow {
	return StrikeWindow{Low: rounded - StrikeRadius, High: rounded + StrikeRadius}
}

// Strikes lists the window in ascending order.
func (w StrikeWindow) Strikes() []int {
	if w.High < w.Low {
		return nil
	}
	out := make([]int, 0, w.High-w.Low+1)
	for s := w.Low; s <= w.High; s++ {
		out = append(out, s)
	}
	return out
}

// Contains reports whether strike lies inside the window.
func (w StrikeWindow) Contains(strike int) bool {
	return strike >= w.Low && strike <= w.High
}

// Param renders the window as the comma-joined strikes request parameter.
func (w StrikeWindow) Param() string {
	strikes := w.Strikes()
	parts := make([]string, len(strikes))
	for i, s := range strikes {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, ",")
}

// StrikeOI is the aggregated open interest for one strike.
type StrikeOI struct {
	Strike int
	CallOI int64
	PutOI  int64
}

// ExpirationRow is the open interest of one strike for one target expiration.
type ExpirationRow struct {
	Expiration string
	Strike     int
	CallOI     int64
	PutOI      int64
}

// TickerResult is the reconciled open-interest table for one symbol.
type TickerResult struct {
	Symbol      string
	Mark        MarkPrice
	Window      StrikeWindow
	Expirations []string
	// Strikes holds one entry per window strike, ascending.
	Strikes []StrikeOI
	// Rows holds the per-expiration breakdown, expiration-major then strike ascending.
	Rows []ExpirationRow
}

// PutCallRatio is totalPutOI / totalCallOI rounded to two decimals, or "N/A"
// when there is no call open interest.
type PutCallRatio struct {
	value decimal.Decimal
	valid bool
}

// NewPutCallRatio computes the ratio of puts to calls.
func NewPutCallRatio(puts, calls int64) PutCallRatio {
	if calls == 0 {
		return PutCallRatio{}
	}
	r := decimal.NewFromInt(puts).Div(decimal.NewFromInt(calls)).Round(2)
	return PutCallRatio{value: r, valid: true}
}

// Valid is false for the N/A sentinel.
func (r PutCallRatio) Valid() bool { return r.valid }

// Float64 returns the ratio, 0 for N/A.
func (r PutCallRatio) Float64() float64 {
	if !r.valid {
		return 0
	}
	return r.value.InexactFloat64()
}

// String renders "1.33" or "N/A".
func (r PutCallRatio) String() string {
	if !r.valid {
		return "N/A"
	}
	return r.value.StringFixed(2)
}

// MarshalJSON encodes the ratio as a string, matching the artifacts the charting UI reads.
func (r PutCallRatio) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(r.String())), nil
}

// ParsePutCallRatio reads "N/A" or a decimal string back into a ratio.
func ParsePutCallRatio(s string) (PutCallRatio, error) {
	s = strings.TrimSpace(s)
	if s == "N/A" || s == "" {
		return PutCallRatio{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return PutCallRatio{}, fmt.Errorf("invalid put/call ratio %q: %w", s, err)
	}
	return PutCallRatio{value: d.Round(2), valid: true}, nil
}

// UnmarshalJSON accepts "N/A", a quoted decimal, a bare number or null.
func (r *PutCallRatio) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*r = PutCallRatio{}
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	v, err := ParsePutCallRatio(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Summary holds window-wide totals.
type Summary struct {
	TotalCallOI  int64
	TotalPutOI   int64
	PutCallRatio PutCallRatio
}

// NewSummary builds a Summary and its ratio.
func NewSummary(calls, puts int64) Summary {
	return Summary{TotalCallOI: calls, TotalPutOI: puts, PutCallRatio: NewPutCallRatio(puts, calls)}
}

// RankedOutput is the ranked view of one symbol.
type RankedOutput struct {
	Symbol     string
	Mark       MarkPrice
	TopCalls   []StrikeOI
	TopPuts    []StrikeOI
	AllStrikes []StrikeOI
	Summary    Summary
}

// MarketRow is one symbol's line in the market summary.
type MarketRow struct {
	Symbol  string
	Summary Summary
}

// MarketSummary aggregates totals across symbols.
type MarketSummary struct {
	Rows  []MarketRow
	Total Summary
}
