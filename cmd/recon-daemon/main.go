// Recon engine daemon.
//
// Runs the scheduler loop: periodic sweeps over the monitored targets,
// persistence of reports and diffs, and alert emission. Designed to run
// under systemd (sd_notify READY/WATCHDOG/STOPPING supported).
//
// Usage:
//
//	recon-daemon --config /etc/recon/config.yaml
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osiriscare/recon/internal/config"
	"github.com/osiriscare/recon/internal/engine"
	"github.com/osiriscare/recon/internal/sdnotify"
)

const version = "1.0.0"

var (
	flagConfig  = flag.String("config", "/etc/recon/config.yaml", "Config file path")
	flagVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *flagVersion {
		log.Printf("recon-daemon %s", version)
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Shutdown signal: %v", sig)
		cancel()
	}()

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to init engine: %v", err)
	}

	eng.Bus().Subscribe(func(name string, payload map[string]interface{}) {
		switch name {
		case "alert", "target-error", "scheduler-warning", "dependency-missing":
			log.Printf("[daemon] Event %s: %v", name, payload)
		}
	})

	if err := eng.StartScheduler(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	sdnotify.Ready()
	sdnotify.Status("sweeping on " + cfg.CronSpec)
	log.Printf("[daemon] Started, cron %q, concurrency %d", cfg.CronSpec, cfg.Concurrency)

	watchdog := time.NewTicker(30 * time.Second)
	defer watchdog.Stop()
	for {
		select {
		case <-ctx.Done():
			sdnotify.Stopping()
			log.Printf("[daemon] Shutting down")
			if err := eng.Close(); err != nil {
				log.Printf("[daemon] Cleanup: %v", err)
			}
			return
		case <-watchdog.C:
			sdnotify.Watchdog()
		}
	}
}
