// Package chain resolves mark prices and fetches the raw option chains that
// feed the open-interest reconciler.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/oi_tracker/internal/broker"
	"github.com/eddiefleurent/oi_tracker/internal/models"
)

// ErrInvalidMark is returned when a quote carries no usable numeric mark.
var ErrInvalidMark = errors.New("'mark' field missing or invalid in quote")

// Resolver fetches the mark price that anchors a symbol's strike window.
type Resolver struct {
	md     broker.MarketData
	logger logrus.FieldLogger
}

// NewResolver creates a Resolver.
func NewResolver(md broker.MarketData, logger logrus.FieldLogger) *Resolver {
	return &Resolver{md: md, logger: logger}
}

// Resolve returns the exact and rounded mark for symbol.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (models.MarkPrice, error) {
	log := r.logger.WithField("symbol", symbol)
	log.Debug("fetching mark price")

	quote, err := r.md.GetQuote(ctx, symbol)
	if err != nil {
		return models.MarkPrice{}, fmt.Errorf("fetching %s quote: %w", symbol, err)
	}
	if quote == nil || quote.Mark == nil || math.IsNaN(*quote.Mark) || math.IsInf(*quote.Mark, 0) || *quote.Mark <= 0 {
		return models.MarkPrice{}, fmt.Errorf("%s: %w", symbol, ErrInvalidMark)
	}

	mark := models.NewMarkPrice(*quote.Mark)
	log.WithFields(logrus.Fields{
		"mark":    mark.Exact.String(),
		"rounded": mark.Rounded,
	}).Info("mark price resolved")
	return mark, nil
}
