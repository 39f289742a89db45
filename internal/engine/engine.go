// Package engine runs one open-interest collection pass: select expirations,
// resolve marks, fetch and reconcile chains, rank, and write the artifacts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/oi_tracker/internal/broker"
	"github.com/eddiefleurent/oi_tracker/internal/chain"
	"github.com/eddiefleurent/oi_tracker/internal/expiration"
	"github.com/eddiefleurent/oi_tracker/internal/export"
	"github.com/eddiefleurent/oi_tracker/internal/models"
	"github.com/eddiefleurent/oi_tracker/internal/rank"
	"github.com/eddiefleurent/oi_tracker/internal/reconcile"
	"github.com/eddiefleurent/oi_tracker/internal/storage"
)

// ErrNoSuccessfulSymbols is returned when every symbol of a run failed.
var ErrNoSuccessfulSymbols = errors.New("no symbol completed successfully")

// Status is the outcome of one symbol.
type Status string

const (
	// StatusOK means the symbol was fetched and both artifacts were written.
	StatusOK Status = "ok"
	// StatusFetchFailed means the mark or chain could not be obtained.
	StatusFetchFailed Status = "fetch_failed"
	// StatusExportFailed means data was fetched but an artifact write failed.
	StatusExportFailed Status = "export_failed"
)

// SymbolReport describes what happened to one symbol.
type SymbolReport struct {
	Symbol string
	Status Status
	Mark   models.MarkPrice
	// Summary is set whenever the fetch succeeded.
	Summary models.Summary
	// DegradedFetches counts (expiration, side) requests that fell back to empty.
	DegradedFetches int
	Err             error
}

// Report summarizes one run.
type Report struct {
	RunID       string
	Today       string
	Expirations []string
	Symbols     []SymbolReport
	Market      *models.MarketSummary
}

// Succeeded returns the symbols whose artifacts were all written.
func (r *Report) Succeeded() []string {
	var out []string
	for _, s := range r.Symbols {
		if s.Status == StatusOK {
			out = append(out, s.Symbol)
		}
	}
	return out
}

// Config controls a run.
type Config struct {
	Symbols []string
	// Location is the zone "today" is evaluated in.
	Location *time.Location
	// Workers bounds how many symbols are processed at once. 1 is sequential.
	Workers int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine wires market data, the pipeline stages and artifact storage.
type Engine struct {
	md     broker.MarketData
	store  storage.Interface
	logger logrus.FieldLogger
	cfg    Config
}

// New creates an Engine.
func New(md broker.MarketData, store storage.Interface, logger logrus.FieldLogger, cfg Config) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Location == nil {
		cfg.Location = expiration.LoadLocation(expiration.DefaultTimezone, logger)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{md: md, store: store, logger: logger, cfg: cfg}
}

type symbolResult struct {
	report SymbolReport
	output *models.RankedOutput
}

// Run processes every configured symbol once. Failures are contained per
// symbol; the error is non-nil when no symbol succeeded, the market summary
// could not be written, or ctx was cancelled.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	log := e.logger.WithField("run_id", runID)

	today := expiration.Today(e.cfg.Now(), e.cfg.Location)
	exps := expiration.Targets(today)
	report := &Report{
		RunID:       runID,
		Today:       today.Format(expiration.DateLayout),
		Expirations: exps,
	}
	log.WithFields(logrus.Fields{
		"today":       report.Today,
		"expirations": strings.Join(exps, ","),
		"symbols":     strings.Join(e.cfg.Symbols, ","),
		"workers":     e.cfg.Workers,
	}).Info("starting open interest run")

	resolver := chain.NewResolver(e.md, log)
	fetcher := chain.NewFetcher(e.md, log)

	results := make([]symbolResult, len(e.cfg.Symbols))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, symbol := range e.cfg.Symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			results[i] = e.processSymbol(ctx, log.WithField("symbol", symbol), resolver, fetcher, symbol, exps)
			return nil
		})
	}
	_ = g.Wait()

	var outputs []*models.RankedOutput
	for _, r := range results {
		report.Symbols = append(report.Symbols, r.report)
		if r.output != nil {
			outputs = append(outputs, r.output)
		}
	}

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run %s cancelled: %w", runID, err)
	}
	if len(outputs) == 0 {
		log.Error("no symbol could be fetched, market summary not written")
		return report, ErrNoSuccessfulSymbols
	}

	market := rank.Market(outputs)
	report.Market = &market
	if err := e.writeMarket(market); err != nil {
		log.WithError(err).Error("failed to write market summary")
		return report, err
	}
	log.WithFields(logrus.Fields{
		"symbols":        len(market.Rows),
		"total_call_oi":  market.Total.TotalCallOI,
		"total_put_oi":   market.Total.TotalPutOI,
		"put_call_ratio": market.Total.PutCallRatio.String(),
	}).Info("market summary written")

	ok := report.Succeeded()
	if len(ok) == 0 {
		return report, ErrNoSuccessfulSymbols
	}
	log.WithField("succeeded", strings.Join(ok, ",")).Info("open interest run complete")
	return report, nil
}

func (e *Engine) processSymbol(
	ctx context.Context,
	log logrus.FieldLogger,
	resolver *chain.Resolver,
	fetcher *chain.Fetcher,
	symbol string,
	exps []string,
) symbolResult {
	rep := SymbolReport{Symbol: symbol}

	mark, err := resolver.Resolve(ctx, symbol)
	if err != nil {
		log.WithError(err).Warn("skipping symbol, mark price unavailable")
		rep.Status, rep.Err = StatusFetchFailed, err
		return symbolResult{report: rep}
	}
	rep.Mark = mark

	data, err := fetcher.Fetch(ctx, symbol, mark, exps)
	if err != nil {
		log.WithError(err).Warn("skipping symbol, chain fetch aborted")
		rep.Status, rep.Err = StatusFetchFailed, err
		return symbolResult{report: rep}
	}
	rep.DegradedFetches = len(data.Failures)

	res := reconcile.Reconcile(data)
	out := rank.Rank(res)
	rep.Summary = out.Summary

	if err := e.writeSymbol(res, out); err != nil {
		log.WithError(err).Error("failed to export symbol artifacts")
		rep.Status, rep.Err = StatusExportFailed, err
		return symbolResult{report: rep, output: out}
	}

	log.WithFields(logrus.Fields{
		"top_calls":      len(out.TopCalls),
		"top_puts":       len(out.TopPuts),
		"total_call_oi":  out.Summary.TotalCallOI,
		"total_put_oi":   out.Summary.TotalPutOI,
		"put_call_ratio": out.Summary.PutCallRatio.String(),
	}).Info("symbol exported")
	rep.Status = StatusOK
	return symbolResult{report: rep, output: out}
}

// writeSymbol attempts both artifacts even when the first write fails.
func (e *Engine) writeSymbol(res *models.TickerResult, out *models.RankedOutput) error {
	var errs []error

	if b, err := export.TopStrikesJSON(out); err != nil {
		errs = append(errs, err)
	} else if err := e.store.Write(export.TopStrikesFile(out.Symbol), b); err != nil {
		errs = append(errs, fmt.Errorf("writing %s: %w", export.TopStrikesFile(out.Symbol), err))
	}

	if b, err := export.OpenInterestCSV(res); err != nil {
		errs = append(errs, err)
	} else if err := e.store.Write(export.OpenInterestFile(out.Symbol), b); err != nil {
		errs = append(errs, fmt.Errorf("writing %s: %w", export.OpenInterestFile(out.Symbol), err))
	}

	return errors.Join(errs...)
}

func (e *Engine) writeMarket(ms models.MarketSummary) error {
	b, err := export.MarketSummaryCSV(ms)
	if err != nil {
		return err
	}
	if err := e.store.Write(export.MarketSummaryFile, b); err != nil {
		return fmt.Errorf("writing %s: %w", export.MarketSummaryFile, err)
	}
	return nil
}
