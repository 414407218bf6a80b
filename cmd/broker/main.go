// Command broker runs the arbiter kernel: it accepts bids from
// orchestrators, holds a cycle-indexed calendar of pending requests, and
// runs the FIFO allocation pass that turns bids into delegations.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridianfed/fedres/internal/bootstrap"
	"github.com/meridianfed/fedres/internal/calendar"
	"github.com/meridianfed/fedres/internal/clock"
	"github.com/meridianfed/fedres/internal/kernel/dispatcher"
	"github.com/meridianfed/fedres/internal/policy"
	"github.com/meridianfed/fedres/pkg/config"
	"github.com/meridianfed/fedres/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (overrides CONFIG_FILE)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	poolCapacity := flag.Int("pool-capacity", 1000, "units available in the default resource pool")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.New("broker", logger.Config{Level: "info", Format: "text", Output: "stdout"}).Fatalf("load config: %v", err)
	}
	log := logger.New("broker", logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := bootstrap.OpenDatabase(ctx, *dsn, cfg)
	if err != nil {
		log.WithContext(ctx).WithError(err).Fatal("open database")
	}
	defer db.Close()

	clk := clock.New(time.Now(), cfg.Kernel.CycleMillis)
	k, err := dispatcher.New("broker", clk, db, 256, 1024)
	if err != nil {
		log.WithContext(ctx).WithError(err).Fatal("create kernel")
	}

	inventory := policy.NewBrokerInventory()
	inventory.RegisterPool("gpu", policy.NewPoolInventory(*poolCapacity))
	inventory.RegisterPool("cpu", policy.NewPoolInventory(*poolCapacity))

	cal := calendar.New(
		clock.Cycle(cfg.Kernel.CallIntervalMillis/cfg.Kernel.CycleMillis),
		clock.Cycle(cfg.Kernel.AllocationHorizon),
		clock.Cycle(cfg.Kernel.QueueThreshold),
	)

	k.SetBrokerPolicy(inventory, cal, pickNode, func(resourceType string) (calendar.Inventory, error) {
		return inventory.PoolFor(resourceType)
	})

	go k.Run(ctx)
	go runTickLoop(ctx, k, clk, cfg.Kernel.CycleMillis)

	log.WithContext(ctx).Info("broker kernel started")

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

// pickNode always assigns to the single default node this binary manages;
// a deployment with multiple aggregates overrides NodePicker with
// topology-aware selection.
func pickNode(calendar.Bid) string {
	return "default"
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
