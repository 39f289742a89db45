// Package mock provides a deterministic in-memory market-data source for dry
// runs and tests. The same inputs always produce the same chains.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/eddiefleurent/oi_tracker/internal/broker"
	"github.com/eddiefleurent/oi_tracker/internal/models"
)

// DefaultMarks are the reference prices served when none is configured.
var DefaultMarks = map[string]float64{
	"SPY": 562.37,
	"QQQ": 481.62,
	"DIA": 421.08,
}

// MarketData implements broker.MarketData without network access.
type MarketData struct {
	mu sync.Mutex

	// Marks maps symbol to mark; symbols not present fail with a 404 APIError.
	Marks map[string]float64
	// QuoteErrors forces GetQuote to fail for a symbol.
	QuoteErrors map[string]error
	// ChainErrors forces GetOptionChain to fail, keyed by ChainKey.
	ChainErrors map[string]error
	// Now anchors daysToExpiration in generated keys.
	Now time.Time

	calls []string
}

var _ broker.MarketData = (*MarketData)(nil)

// NewMarketData returns a MarketData serving DefaultMarks.
func NewMarketData() *MarketData {
	marks := make(map[string]float64, len(DefaultMarks))
	for k, v := range DefaultMarks {
		marks[k] = v
	}
	return &MarketData{
		Marks:       marks,
		QuoteErrors: map[string]error{},
		ChainErrors: map[string]error{},
		Now:         time.Now(),
	}
}

// ChainKey identifies one chain request for ChainErrors.
func ChainKey(symbol string, side models.ContractType, toDate string) string {
	return fmt.Sprintf("%s|%s|%s", symbol, side, toDate)
}

// Calls returns the requests served so far, in order.
func (m *MarketData) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MarketData) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

// GetQuote implements broker.MarketData.
func (m *MarketData) GetQuote(ctx context.Context, symbol string) (*broker.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.record("quote " + symbol)
	if err := m.QuoteErrors[symbol]; err != nil {
		return nil, err
	}
	mark, ok := m.Marks[symbol]
	if !ok {
		return nil, &broker.APIError{Status: 404, Body: "GET /quotes -> unknown symbol " + symbol}
	}
	spread := 0.02
	return &broker.Quote{
		Mark:      &mark,
		BidPrice:  mark - spread/2,
		AskPrice:  mark + spread/2,
		LastPrice: mark,
	}, nil
}

// GetOptionChain implements broker.MarketData. It returns one expiration key
// for the requested toDate with a strike entry for every strike in the window.
func (m *MarketData) GetOptionChain(ctx context.Context, req broker.ChainRequest) (*models.ChainSlice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := ChainKey(req.Symbol, req.ContractType, req.ToDate)
	m.record("chain " + key)
	if err := m.ChainErrors[key]; err != nil {
		return nil, err
	}

	expDate, err := time.Parse("2006-01-02", req.ToDate)
	if err != nil {
		return nil, &broker.APIError{Status: 400, Body: fmt.Sprintf("invalid toDate %q", req.ToDate)}
	}
	dte := int(math.Ceil(expDate.Sub(m.Now.Truncate(24*time.Hour)).Hours() / 24))
	if dte < 0 {
		dte = 0
	}

	center := float64(req.Window.Low+req.Window.High) / 2
	strikes := models.StrikeMap{}
	for _, s := range req.Window.Strikes() {
		oi := openInterest(req.Symbol, req.ToDate, req.ContractType, s, center)
		strikes[fmt.Sprintf("%.1f", float64(s))] = []models.ContractRecord{{
			PutCall:      string(req.ContractType),
			Symbol:       fmt.Sprintf("%-6s%s%s%08d", req.Symbol, expDate.Format("060102"), string(req.ContractType)[:1], s*1000),
			StrikePrice:  float64(s),
			OpenInterest: models.OpenInterest{Value: oi, Valid: true},
			DaysToExp:    dte,
		}}
	}

	slice := &models.ChainSlice{
		Symbol:         req.Symbol,
		Status:         "SUCCESS",
		CallExpDateMap: models.ExpDateMap{},
		PutExpDateMap:  models.ExpDateMap{},
	}
	expKey := fmt.Sprintf("%s:%d", req.ToDate, dte)
	if req.ContractType == models.ContractTypePut {
		slice.PutExpDateMap[expKey] = strikes
	} else {
		slice.CallExpDateMap[expKey] = strikes
	}
	return slice, nil
}

// openInterest is a deterministic OI profile: highest near the money, skewed
// toward out-of-the-money strikes, with a hash-derived jitter per contract.
func openInterest(symbol, expiration string, side models.ContractType, strike int, center float64) int64 {
	distance := float64(strike) - center
	if side == models.ContractTypePut {
		distance = -distance
	}
	base := 20000 * math.Exp(-math.Abs(distance)*0.15)
	if distance > 0 {
		base *= 1.4
	}

	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s|%s|%s|%d", symbol, expiration, side, strike)
	jitter := float64(h.Sum32()%1000) / 1000 // [0,1)

	return int64(base*(0.75+0.5*jitter)) + int64(h.Sum32()%97)
}
