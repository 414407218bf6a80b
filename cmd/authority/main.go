// Command authority runs the resource-owner kernel: it accepts tickets
// from brokers, assigns concrete slivers against its substrate, and
// drives units through transfer-in/transfer-out via a substrate plugin.
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
	"github.com/meridianfed/fedres/internal/policy"
	"github.com/meridianfed/fedres/internal/policy/quota"
	"github.com/meridianfed/fedres/internal/substrate"
	"github.com/meridianfed/fedres/pkg/config"
	"github.com/meridianfed/fedres/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (overrides CONFIG_FILE)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	nodeCapacity := flag.Int("node-capacity", 1000, "units of delegated capacity on the default node")
	defaultProject := flag.String("default-project", "default", "project identity seeded with a starting quota at boot")
	defaultQuota := flag.Int64("default-quota", 1000, "resource-hour quota seeded for default-project, per resource type")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.New("authority", logger.Config{Level: "info", Format: "text", Output: "stdout"}).Fatalf("load config: %v", err)
	}
	log := logger.New("authority", logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := bootstrap.OpenDatabase(ctx, *dsn, cfg)
	if err != nil {
		log.WithContext(ctx).WithError(err).Fatal("open database")
	}
	defer db.Close()

	clk := clock.New(time.Now(), cfg.Kernel.CycleMillis)
	k, err := dispatcher.New("authority", clk, db, 256, 1024)
	if err != nil {
		log.WithContext(ctx).WithError(err).Fatal("create kernel")
	}

	// Sliver routing isn't threaded through the peer Request payload yet,
	// so every assign sees a zero-value NodeID; key the control by "" to
	// match until per-node sliver selection reaches the wire format.
	authorityPolicy := policy.NewAuthority()
	authorityPolicy.RegisterControl("gpu", policy.NewSimpleControl(map[string]int{"": *nodeCapacity}))
	authorityPolicy.RegisterControl("cpu", policy.NewSimpleControl(map[string]int{"": *nodeCapacity}))

	quotaManager := quota.NewManager()
	quotaManager.SetQuota(*defaultProject, "gpu", *defaultQuota)
	quotaManager.SetQuota(*defaultProject, "cpu", *defaultQuota)

	plugin := substrate.NewFake()

	k.SetAuthorityPolicy(authorityPolicy, plugin)
	k.SetQuota(quotaManager)

	go k.Run(ctx)
	go runTickLoop(ctx, k, clk, cfg.Kernel.CycleMillis)

	log.WithContext(ctx).WithField("node_capacity", *nodeCapacity).Info("authority kernel started")

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
