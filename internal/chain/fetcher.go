package chain

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/oi_tracker/internal/broker"
	"github.com/eddiefleurent/oi_tracker/internal/models"
)

var sides = []models.ContractType{models.ContractTypeCall, models.ContractTypePut}

// Fetcher pulls call and put chains for every target expiration of a symbol.
// Requests are issued one at a time.
type Fetcher struct {
	md     broker.MarketData
	logger logrus.FieldLogger
}

// NewFetcher creates a Fetcher.
func NewFetcher(md broker.MarketData, logger logrus.FieldLogger) *Fetcher {
	return &Fetcher{md: md, logger: logger}
}

// Fetch retrieves the window around mark for each expiration and merges the
// slices into one ChainData. A failed (expiration, side) request degrades to an
// empty slice and is recorded in Failures; credential errors and cancellation
// abort the symbol.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, mark models.MarkPrice, expirations []string) (*models.ChainData, error) {
	data := models.NewChainData(symbol, mark, expirations)
	log := f.logger.WithFields(logrus.Fields{
		"symbol":      symbol,
		"low_strike":  data.Window.Low,
		"high_strike": data.Window.High,
	})
	log.Info("fetching options chain")

	for _, exp := range expirations {
		for _, side := range sides {
			req := broker.ChainRequest{
				Symbol:       symbol,
				ContractType: side,
				Window:       data.Window,
				ToDate:       exp,
			}
			slice, err := f.md.GetOptionChain(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("fetching %s chain: %w", symbol, ctx.Err())
				}
				if broker.IsAuthError(err) {
					return nil, fmt.Errorf("fetching %s %s chain for %s: %w", symbol, side, exp, err)
				}
				log.WithFields(logrus.Fields{"expiration": exp, "side": side}).
					WithError(err).Warn("chain fetch failed, continuing with empty slice")
				data.Failures = append(data.Failures, models.FetchFailure{Expiration: exp, Side: side, Err: err})
				continue
			}

			got := data.AddSide(side, slice)
			log.WithFields(logrus.Fields{"expiration": exp, "side": side, "exp_keys": got}).Debug("chain slice received")
		}
	}

	log.WithFields(logrus.Fields{
		"call_expirations": len(data.Calls),
		"put_expirations":  len(data.Puts),
		"failures":         len(data.Failures),
	}).Info("options chain fetched")
	return data, nil
}
