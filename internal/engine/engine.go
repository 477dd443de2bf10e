// Package engine wires the reconnaissance pipeline together: target
// normalization, preset resolution, sequential stage execution with rate
// limiting, fingerprint construction, and the persistence hand-off.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/osiriscare/recon/internal/config"
	"github.com/osiriscare/recon/internal/events"
	"github.com/osiriscare/recon/internal/fingerprint"
	"github.com/osiriscare/recon/internal/procmgr"
	"github.com/osiriscare/recon/internal/report"
	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/scheduler"
	"github.com/osiriscare/recon/internal/session"
	"github.com/osiriscare/recon/internal/stages"
	"github.com/osiriscare/recon/internal/storage"
	"github.com/osiriscare/recon/internal/target"
)

// Engine is the library entry point: scans, reports, targets, scheduling,
// sessions.
type Engine struct {
	cfg      *config.Config
	bus      *events.Bus
	procs    *procmgr.Manager
	runner   *runner.Runner
	env      *stages.Env
	pipeline []stages.Stage

	store    *storage.Manager // nil when storage is disabled
	targets  *scheduler.TargetManager
	sched    *scheduler.Manager
	sessions *session.Store

	uptime *uptimeMonitor
}

// New constructs the engine from configuration. Signal handlers for child
// cleanup are registered here, once, against this engine's process manager.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine requires a config; call config.Load or config.Default")
	}

	bus := events.NewBus()
	procs := procmgr.New()
	procs.RegisterSignalHandlers()
	run := runner.New(procs)
	env := stages.NewEnv(run, procs)

	e := &Engine{
		cfg:      cfg,
		bus:      bus,
		procs:    procs,
		runner:   run,
		env:      env,
		pipeline: stages.Pipeline(env),
		uptime:   newUptimeMonitor(),
	}

	if cfg.StorageEnabled {
		res, err := storage.NewFSResource(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("init storage resource: %w", err)
		}
		db, err := storage.OpenRecordDB(cfg.RecordDBPath())
		if err != nil {
			return nil, fmt.Errorf("init record db: %w", err)
		}
		store, err := storage.NewManager(res, db, bus, cfg.HistoryLimit)
		if err != nil {
			return nil, err
		}
		e.store = store
	}

	targets, err := scheduler.NewTargetManager(cfg.TargetsPath(), bus)
	if err != nil {
		return nil, fmt.Errorf("init target manager: %w", err)
	}
	e.targets = targets
	e.sched = scheduler.NewManager(targets, e.scheduledScan, bus, cfg.CronSpec, cfg.Concurrency)

	var backend session.Backend
	if cfg.SessionDSN != "" {
		backend, err = session.NewPGBackend(ctx, cfg.SessionDSN)
		if err != nil {
			return nil, fmt.Errorf("init session backend: %w", err)
		}
	} else {
		backend = session.NewMemoryBackend()
	}
	e.sessions, err = session.NewStore(backend, nil)
	if err != nil {
		return nil, err
	}

	if cfg.AlertWebhookURL != "" {
		newAlertWebhook(cfg.AlertWebhookURL, cfg.AlertAPIKey).Subscribe(bus)
	}

	e.checkDependencies()
	return e, nil
}

// Bus exposes the engine's event channel for observers.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Sessions exposes the session store for the web UI layer.
func (e *Engine) Sessions() *session.Store { return e.sessions }

// StartScheduler begins periodic sweeps and the session expiry sweeper.
func (e *Engine) StartScheduler(ctx context.Context) error {
	e.sessions.StartSweeper(ctx, time.Duration(e.cfg.SessionCleanupMinutes)*time.Minute)
	return e.sched.Start(ctx)
}

// StopScheduler halts future sweeps.
func (e *Engine) StopScheduler() { e.sched.Stop() }

// Sweep runs one scheduler pass immediately.
func (e *Engine) Sweep(ctx context.Context) { e.sched.Sweep(ctx) }

// Close cleans up child processes, scratch dirs, and storage handles.
func (e *Engine) Close() error {
	e.sched.Stop()
	e.uptime.stopAll()
	err := e.procs.Cleanup(false)
	if e.store != nil {
		if cerr := e.store.Records().Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	e.sessions.Close()
	return err
}

// ScanOptions tune a single scan.
type ScanOptions struct {
	// Behavior selects a preset: passive, stealth, or aggressive.
	Behavior string
	// Features deep-merges over the preset.
	Features config.Features
	// BehaviorOverrides apply last.
	BehaviorOverrides config.Features
	// SkipStorage keeps the report out of the persistence layers.
	SkipStorage bool
}

// Scan runs the full pipeline against one target and returns the report.
func (e *Engine) Scan(ctx context.Context, rawTarget string, opts ScanOptions) (*report.Report, error) {
	tgt, err := target.Normalize(rawTarget)
	if err != nil {
		return nil, err
	}

	behavior := opts.Behavior
	if behavior == "" {
		behavior = e.cfg.Behavior
	}
	if behavior != "" && !config.IsPreset(behavior) {
		return nil, fmt.Errorf("unknown behavior %q (want passive, stealth, or aggressive)", behavior)
	}
	features := config.Resolve(behavior, opts.Features, opts.BehaviorOverrides)
	if behavior != "" {
		e.bus.Emit(events.BehaviorApplied, map[string]interface{}{
			"host":     tgt.Host,
			"behavior": behavior,
		})
	}

	rateEnabled, delayMs := features.RateLimit()
	if !rateEnabled && e.cfg.RateLimitEnabled {
		rateEnabled, delayMs = true, e.cfg.DelayBetweenMs
	}

	started := time.Now()
	results := report.NewResults()

	for i, stage := range e.pipeline {
		name := stage.Name()
		if !features.StageEnabled(name) {
			results.Set(name, &stages.Result{Status: stages.StatusSkipped})
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scan cancelled before %s: %w", name, err)
		}
		if rateEnabled && delayMs > 0 && i > 0 {
			e.bus.Emit(events.RateLimitDelay, map[string]interface{}{
				"host":    tgt.Host,
				"stage":   name,
				"delayMs": delayMs,
			})
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("scan cancelled before %s: %w", name, ctx.Err())
			case <-time.After(time.Duration(delayMs) * time.Millisecond):
			}
		}

		log.Printf("[engine] %s: running stage %s", tgt.Host, name)
		results.Set(name, stage.Execute(ctx, tgt, stages.Options{
			Config:  features.Stage(name),
			Timeout: time.Duration(features.StageTimeoutMs(name)) * time.Millisecond,
		}))
	}

	now := time.Now().UTC()
	rep := &report.Report{
		ID:          report.NewID(now),
		Timestamp:   now.Format(time.RFC3339Nano),
		Target:      tgt,
		Duration:    time.Since(started).Milliseconds(),
		Status:      report.StatusCompleted,
		Results:     results,
		Fingerprint: fingerprint.Build(results),
	}
	if snapshot := e.uptime.snapshot(tgt.Host); snapshot != nil {
		rep.Uptime = snapshot
	}

	if e.store != nil && !opts.SkipStorage {
		if _, err := e.store.PersistReport(ctx, rep); err != nil {
			log.Printf("[engine] Persist report for %s: %v", tgt.Host, err)
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("report not fully persisted: %v", err))
		}
	}

	return rep, nil
}

// BatchResult carries one target's outcome in a batch scan.
type BatchResult struct {
	Target string         `json:"target"`
	Report *report.Report `json:"report,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// BatchScan scans each target in order. Per-target errors are captured, not
// returned.
func (e *Engine) BatchScan(ctx context.Context, targets []string, opts ScanOptions) []BatchResult {
	out := make([]BatchResult, 0, len(targets))
	for _, t := range targets {
		rep, err := e.Scan(ctx, t, opts)
		br := BatchResult{Target: t, Report: rep}
		if err != nil {
			br.Error = err.Error()
		}
		out = append(out, br)
	}
	return out
}

// scheduledScan adapts Scan for the sweep scheduler.
func (e *Engine) scheduledScan(ctx context.Context, rawTarget string) (*report.Report, error) {
	return e.Scan(ctx, rawTarget, ScanOptions{})
}
