package broker

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/oi_tracker/internal/models"
)

// MarketData defines the market-data calls the pipeline needs.
type MarketData interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetOptionChain(ctx context.Context, req ChainRequest) (*models.ChainSlice, error)
}

// Ensure SchwabAPI implements MarketData at compile time.
var _ MarketData = (*SchwabAPI)(nil)

// IsAuthError reports whether err is, or wraps, a credential failure.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrNoToken) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsAuth()
}

var transientPatterns = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"temporary failure",
	"server error",
	"rate limit",
	"eof",
	"network",
	"dns",
	"tcp",
}

// IsTransientError reports whether err is an upstream failure that may clear
// on its own: 5xx, 429, timeouts and transport errors. Credential errors,
// other 4xx responses, caller cancellation and an open breaker are not.
func IsTransientError(err error) bool {
	if err == nil || IsAuthError(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// CircuitBreakerMarketData wraps a MarketData with one circuit breaker per
// underlying symbol, so a symbol the upstream keeps failing cannot block the
// others.
type CircuitBreakerMarketData struct {
	md       MarketData
	settings CircuitBreakerSettings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

var _ MarketData = (*CircuitBreakerMarketData)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	md MarketData,
	fn func(MarketData) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(md) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
	// Logger receives state changes. Nil discards them.
	Logger logrus.FieldLogger
}

// DefaultCircuitBreakerSettings trips after 5 requests at a 60% failure rate.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// NewCircuitBreakerMarketData creates a CircuitBreakerMarketData with default settings
func NewCircuitBreakerMarketData(md MarketData) *CircuitBreakerMarketData {
	return NewCircuitBreakerMarketDataWithSettings(md, DefaultCircuitBreakerSettings)
}

// NewCircuitBreakerMarketDataWithSettings creates a CircuitBreakerMarketData with custom settings.
// Only transient failures count against a breaker.
func NewCircuitBreakerMarketDataWithSettings(md MarketData, settings CircuitBreakerSettings) *CircuitBreakerMarketData {
	if settings.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		settings.Logger = l
	}
	return &CircuitBreakerMarketData{
		md:       md,
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *CircuitBreakerMarketData) breakerFor(symbol string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[symbol]; ok {
		return cb
	}

	settings := c.settings
	logger := settings.Logger.WithField("symbol", symbol)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "MarketData:" + symbol,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return !IsTransientError(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			entry := logger.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()})
			if to == gobreaker.StateOpen {
				entry.Warn("circuit breaker opened")
				return
			}
			entry.Info("circuit breaker state changed")
		},
	})
	c.breakers[symbol] = cb
	return cb
}

// State reports the breaker state for symbol. A symbol never called is closed.
func (c *CircuitBreakerMarketData) State(symbol string) gobreaker.State {
	c.mu.Lock()
	cb, ok := c.breakers[symbol]
	c.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// GetQuote wraps the underlying call with the symbol's circuit breaker
func (c *CircuitBreakerMarketData) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	return execCircuitBreaker(c.breakerFor(symbol), c.md, func(m MarketData) (*Quote, error) { return m.GetQuote(ctx, symbol) })
}

// GetOptionChain wraps the underlying call with the symbol's circuit breaker
func (c *CircuitBreakerMarketData) GetOptionChain(ctx context.Context, req ChainRequest) (*models.ChainSlice, error) {
	return execCircuitBreaker(c.breakerFor(req.Symbol), c.md, func(m MarketData) (*models.ChainSlice, error) {
		return m.GetOptionChain(ctx, req)
	})
}
