// Command oi runs one open-interest collection pass and writes the per-symbol
// and market-wide artifacts. It exits non-zero when no symbol succeeded.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/oi_tracker/internal/broker"
	"github.com/eddiefleurent/oi_tracker/internal/config"
	"github.com/eddiefleurent/oi_tracker/internal/engine"
	"github.com/eddiefleurent/oi_tracker/internal/expiration"
	"github.com/eddiefleurent/oi_tracker/internal/logger"
	"github.com/eddiefleurent/oi_tracker/internal/mock"
	"github.com/eddiefleurent/oi_tracker/internal/retry"
	"github.com/eddiefleurent/oi_tracker/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg := logger.New()
	if err := lg.Configure(cfg.Environment.LogLevel, cfg.Environment.LogFormat, cfg.Environment.LogOutput, cfg.Environment.LogMaxAgeDays); err != nil {
		log.Fatalf("Failed to configure logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	report, err := run(ctx, cfg, lg)
	stop()

	code := exitCode(report, err)
	if err != nil {
		lg.WithError(err).Error("open interest run failed")
	}
	_ = lg.Close()
	os.Exit(code)
}

// run builds the client stack from cfg and executes a single engine pass.
func run(ctx context.Context, cfg *config.Config, lg *logger.Log) (*engine.Report, error) {
	log := lg.WithComponent("oi")
	log.WithFields(logrus.Fields{
		"mode":    cfg.Environment.Mode,
		"symbols": cfg.Engine.Symbols,
		"output":  cfg.Output.Dir,
	}).Info("starting open interest tracker")

	md, err := newMarketData(cfg, lg)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStorage(cfg.Output.Dir)
	if err != nil {
		return nil, err
	}

	eng := engine.New(md, store, lg.WithComponent("engine"), engine.Config{
		Symbols:  cfg.Engine.Symbols,
		Location: expiration.LoadLocation(cfg.Engine.Timezone, log),
		Workers:  cfg.Engine.Workers,
	})
	return eng.Run(ctx)
}

// newMarketData stacks retry over the per-symbol circuit breakers over the raw
// client, so each retry attempt is visible to the breaker.
func newMarketData(cfg *config.Config, lg *logger.Log) (broker.MarketData, error) {
	var md broker.MarketData
	if cfg.IsLive() {
		tokens, err := newTokenProvider(cfg)
		if err != nil {
			return nil, err
		}
		md = broker.NewSchwabAPI(tokens, cfg.Broker.APIEndpoint, cfg.Broker.RequestsPerMinute).
			WithTimeout(cfg.BrokerTimeout()).
			WithLogger(lg.WithComponent("schwab"))
	} else {
		lg.WithComponent("oi").Warn("mock mode: serving synthetic market data")
		md = mock.NewMarketData()
	}

	if cfg.CircuitBreakerEnabled() {
		md = broker.NewCircuitBreakerMarketDataWithSettings(md, broker.CircuitBreakerSettings{
			MaxRequests:  cfg.CircuitBreaker.MaxRequests,
			Interval:     cfg.CircuitBreakerInterval(),
			Timeout:      cfg.CircuitBreakerTimeout(),
			MinRequests:  cfg.CircuitBreaker.MinRequests,
			FailureRatio: cfg.CircuitBreaker.FailureRatio,
			Logger:       lg.WithComponent("breaker"),
		})
	}

	return retry.NewClient(md, lg.WithComponent("retry"), retry.Config{
		MaxRetries:     cfg.MaxRetries(),
		InitialBackoff: cfg.InitialBackoff(),
		MaxBackoff:     cfg.MaxBackoff(),
		Timeout:        cfg.BrokerTimeout(),
	}), nil
}

func newTokenProvider(cfg *config.Config) (broker.TokenProvider, error) {
	switch {
	case cfg.Broker.TokenFile != "":
		return broker.FileTokenProvider{Path: cfg.Broker.TokenFile}, nil
	case cfg.Broker.AccessToken != "":
		return broker.StaticToken(cfg.Broker.AccessToken), nil
	default:
		return nil, fmt.Errorf("no access token configured: %w", broker.ErrNoToken)
	}
}

func exitCode(report *engine.Report, err error) int {
	if err == nil {
		return 0
	}
	if report != nil && errors.Is(err, engine.ErrNoSuccessfulSymbols) {
		return 2
	}
	return 1
}
