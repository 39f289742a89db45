// Package retry wraps market-data calls with a per-call timeout and a small,
// bounded retry budget for transient transport failures.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/oi_tracker/internal/broker"
	"github.com/eddiefleurent/oi_tracker/internal/models"
)

// Config bounds the retry loop. Timeout applies to each attempt.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is used when NewClient gets no Config.
var DefaultConfig = Config{
	MaxRetries:     2,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	Timeout:        10 * time.Second,
}

// Client is a broker.MarketData decorator that retries transient failures.
type Client struct {
	md     broker.MarketData
	logger logrus.FieldLogger
	config Config
}

var _ broker.MarketData = (*Client)(nil)

// NewClient wraps md.
func NewClient(md broker.MarketData, logger logrus.FieldLogger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	return &Client{
		md:     md,
		logger: logger,
		config: cfg,
	}
}

// GetQuote implements broker.MarketData.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*broker.Quote, error) {
	return do(ctx, c, "quote "+symbol, func(ctx context.Context) (*broker.Quote, error) {
		return c.md.GetQuote(ctx, symbol)
	})
}

// GetOptionChain implements broker.MarketData.
func (c *Client) GetOptionChain(ctx context.Context, req broker.ChainRequest) (*models.ChainSlice, error) {
	op := fmt.Sprintf("chain %s %s %s", req.Symbol, req.ContractType, req.ToDate)
	return do(ctx, c, op, func(ctx context.Context) (*models.ChainSlice, error) {
		return c.md.GetOptionChain(ctx, req)
	})
}

func do[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := c.config.InitialBackoff
	attempts := 0

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("operation canceled: %w", ctx.Err())
		}

		attempts++
		res, err := withTimeout(ctx, c.config.Timeout, fn)
		if err == nil {
			if attempt > 0 {
				c.logger.WithFields(logrus.Fields{"op": op, "attempt": attempt + 1}).Info("call succeeded after retry")
			}
			return res, nil
		}

		lastErr = err
		if !c.isTransientError(ctx, err) || attempt == c.config.MaxRetries {
			break
		}

		wait := backoff
		var apiErr *broker.APIError
		if errors.As(err, &apiErr) {
			if ra, ok := broker.RetryAfter(apiErr); ok && ra > wait && ra <= c.config.MaxBackoff {
				wait = ra
			}
		}
		c.logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"of":      c.config.MaxRetries + 1,
			"backoff": wait.String(),
		}).WithError(err).Warn("transient error, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			backoff = c.calculateNextBackoff(backoff)
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempt(s): %w", op, attempts, lastErr)
}

func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Debug("failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

// isTransientError decides whether an attempt is worth repeating. A deadline
// hit by the per-attempt timeout is transient unless the caller's context is
// done.
func (c *Client) isTransientError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return broker.IsTransientError(err)
}
