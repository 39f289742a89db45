// Package reconcile folds merged chain slices into per-strike open-interest
// tables.
//
// The upstream API encodes the same strike several ways ("560", "560.0",
// "560.00"). Keys are canonicalized once to an integer strike and a single
// policy applies everywhere: for one target expiration, strike and side, the
// first nonzero OI wins. Matching expiration keys are visited in sorted order
// and encodings in order of increasing decimal places, and nothing is summed
// across encodings of the same strike. Totals are the sum of the
// per-expiration values, so the JSON, CSV and market summary always agree.
package reconcile

import (
	"sort"
	"strings"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/oi_tracker/internal/models"
)

// CanonicalStrike parses a strike key. ok is false for keys that are not an
// integral number. rank is the number of decimal places in the encoding and
// orders competing encodings of the same strike ("560" < "560.0" < "560.00").
func CanonicalStrike(key string) (strike int, rank int, ok bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, 0, false
	}
	d, err := decimal.NewFromString(key)
	if err != nil || !d.IsInteger() {
		return 0, 0, false
	}
	if i := strings.IndexByte(key, '.'); i >= 0 {
		rank = len(key) - i - 1
	}
	return int(d.IntPart()), rank, true
}

// MatchingKeys returns the keys of m that start with expiration, sorted.
func MatchingKeys(m models.ExpDateMap, expiration string) []string {
	var keys []string
	for k := range m {
		if strings.HasPrefix(k, expiration) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

type candidate struct {
	oi   int64
	rank int
}

// canonicalize maps every in-window strike of one expiration key to the OI of
// its lowest-ranked encoding carrying a nonzero value.
func canonicalize(strikes models.StrikeMap, window models.StrikeWindow) map[int]int64 {
	best := make(map[int]candidate, len(strikes))
	for key := range strikes {
		strike, rank, ok := CanonicalStrike(key)
		if !ok || !window.Contains(strike) {
			continue
		}
		oi := strikes.FirstOI(key)
		if oi == 0 {
			continue
		}
		if cur, seen := best[strike]; !seen || rank < cur.rank {
			best[strike] = candidate{oi: oi, rank: rank}
		}
	}
	out := make(map[int]int64, len(best))
	for strike, c := range best {
		out[strike] = c.oi
	}
	return out
}

// SideOI returns the OI per window strike for one target expiration and one side.
func SideOI(m models.ExpDateMap, expiration string, window models.StrikeWindow) map[int]int64 {
	out := make(map[int]int64, models.WindowSize)
	for _, key := range MatchingKeys(m, expiration) {
		for strike, oi := range canonicalize(m[key], window) {
			if out[strike] == 0 {
				out[strike] = oi
			}
		}
	}
	return out
}

// Reconcile builds the TickerResult for one symbol's merged chain.
func Reconcile(data *models.ChainData) *models.TickerResult {
	window := data.Window
	strikes := window.Strikes()

	totals := treemap.NewWithIntComparator()
	for _, s := range strikes {
		totals.Put(s, &models.StrikeOI{Strike: s})
	}

	expirations := make([]string, len(data.Expirations))
	copy(expirations, data.Expirations)
	sort.Strings(expirations)

	rows := make([]models.ExpirationRow, 0, len(expirations)*len(strikes))
	for _, exp := range expirations {
		calls := SideOI(data.Calls, exp, window)
		puts := SideOI(data.Puts, exp, window)
		for _, s := range strikes {
			row := models.ExpirationRow{Expiration: exp, Strike: s, CallOI: calls[s], PutOI: puts[s]}
			rows = append(rows, row)

			v, _ := totals.Get(s)
			acc := v.(*models.StrikeOI)
			acc.CallOI += row.CallOI
			acc.PutOI += row.PutOI
		}
	}

	out := make([]models.StrikeOI, 0, totals.Size())
	it := totals.Iterator()
	for it.Next() {
		out = append(out, *it.Value().(*models.StrikeOI))
	}

	return &models.TickerResult{
		Symbol:      data.Symbol,
		Mark:        data.Mark,
		Window:      window,
		Expirations: expirations,
		Strikes:     out,
		Rows:        rows,
	}
}
