// Command orchestrator runs a client-side kernel: the actor that issues
// reservation requests against a broker and tracks their ticket/lease
// lifecycle through to close.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridianfed/fedres/internal/bootstrap"
	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/internal/kernel/dispatcher"
	"github.com/meridianfed/fedres/pkg/config"
	"github.com/meridianfed/fedres/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (overrides CONFIG_FILE)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.New("orchestrator", logger.Config{Level: "info", Format: "text", Output: "stdout"}).Fatalf("load config: %v", err)
	}
	log := logger.New("orchestrator", logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := bootstrap.OpenDatabase(ctx, *dsn, cfg)
	if err != nil {
		log.WithContext(ctx).WithError(err).Fatal("open database")
	}
	defer db.Close()

	clk := clock.New(time.Now(), cfg.Kernel.CycleMillis)
	k, err := dispatcher.New("orchestrator", clk, db, 256, 1024)
	if err != nil {
		log.WithContext(ctx).WithError(err).Fatal("create kernel")
	}

	go k.Run(ctx)
	go runTickLoop(ctx, k, clk, cfg.Kernel.CycleMillis)

	log.WithContext(ctx).Info("orchestrator kernel started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func runTickLoop(ctx context.Context, k *dispatcher.Kernel, clk *clock.Clock, cycleMillis int64) {
	ticker := time.NewTicker(time.Duration(cycleMillis) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			_ = k.Tick(ctx, clk.Cycle(now))
		}
	}
}
