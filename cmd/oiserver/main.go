// Command oiserver serves the artifacts written by oi to the charting UI.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/eddiefleurent/oi_tracker/internal/config"
	"github.com/eddiefleurent/oi_tracker/internal/dashboard"
	"github.com/eddiefleurent/oi_tracker/internal/logger"
	"github.com/eddiefleurent/oi_tracker/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath, addr string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	lg := logger.New()
	if err := lg.Configure(cfg.Environment.LogLevel, cfg.Environment.LogFormat, cfg.Environment.LogOutput, cfg.Environment.LogMaxAgeDays); err != nil {
		log.Fatalf("Failed to configure logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, lg)
	stop()

	code := 0
	if err != nil {
		lg.WithError(err).Error("artifact server failed")
		code = 1
	}
	_ = lg.Close()
	os.Exit(code)
}

// run serves the artifact store until ctx is done or the listener fails.
func run(ctx context.Context, cfg *config.Config, lg *logger.Log) error {
	store, err := storage.NewStorage(cfg.Output.Dir)
	if err != nil {
		return err
	}

	srv := dashboard.NewServer(dashboard.Config{
		Addr:      cfg.Server.Addr,
		AuthToken: os.Getenv("OI_SERVER_TOKEN"),
	}, store, lg.WithComponent("dashboard"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	lg.Info("Shutdown signal received, stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
