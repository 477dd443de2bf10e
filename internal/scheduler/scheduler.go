package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/osiriscare/recon/internal/events"
	"github.com/osiriscare/recon/internal/report"
)

// ScanFunc runs one scan against a raw target string.
type ScanFunc func(ctx context.Context, target string) (*report.Report, error)

// Manager drives periodic sweeps over the enabled targets. Within a sweep,
// scans run concurrently up to the configured limit; sweeps themselves never
// stack: a tick that fires while a sweep is running is skipped.
type Manager struct {
	targets     *TargetManager
	scan        ScanFunc
	bus         *events.Bus
	cronSpec    string
	concurrency int64

	cron     *cron.Cron
	ticker   *time.Ticker
	stopOnce sync.Once
	stopCh   chan struct{}
	sweeping atomic.Bool
}

// NewManager builds a scheduler over the target list.
func NewManager(targets *TargetManager, scan ScanFunc, bus *events.Bus, cronSpec string, concurrency int) *Manager {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Manager{
		targets:     targets,
		scan:        scan,
		bus:         bus,
		cronSpec:    cronSpec,
		concurrency: int64(concurrency),
		stopCh:      make(chan struct{}),
	}
}

// Start registers the cron job. When the spec does not parse, the scheduler
// falls back to a plain interval derived from a crude reading of the spec and
// emits a warning.
func (m *Manager) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(m.cronSpec, func() { m.Sweep(ctx) })
	if err == nil {
		m.cron = c
		c.Start()
		m.bus.Emit(events.SchedulerStarted, map[string]interface{}{"cron": m.cronSpec})
		return nil
	}

	interval := crudeInterval(m.cronSpec)
	m.bus.Emit(events.SchedulerWarning, map[string]interface{}{
		"reason":   fmt.Sprintf("cron spec %q did not parse: %v", m.cronSpec, err),
		"fallback": interval.String(),
	})
	log.Printf("[scheduler] Falling back to %s interval for spec %q", interval, m.cronSpec)

	m.ticker = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-m.ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
	m.bus.Emit(events.SchedulerStarted, map[string]interface{}{"interval": interval.String()})
	return nil
}

// Stop halts future sweeps. A sweep already in flight finishes.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if m.cron != nil {
			m.cron.Stop()
		}
		if m.ticker != nil {
			m.ticker.Stop()
		}
		m.bus.Emit(events.SchedulerStopped, nil)
	})
}

// Sweep scans every enabled target once, bounded by the concurrency limit.
// Returns immediately when a sweep is already running.
func (m *Manager) Sweep(ctx context.Context) {
	if !m.sweeping.CompareAndSwap(false, true) {
		log.Printf("[scheduler] Sweep still running, skipping tick")
		return
	}
	defer m.sweeping.Store(false)

	targets := m.targets.List(false)
	if len(targets) == 0 {
		m.bus.Emit(events.NoActiveTargets, nil)
		return
	}

	start := time.Now()
	m.bus.Emit(events.SweepStarted, map[string]interface{}{"targets": len(targets)})

	sem := semaphore.NewWeighted(m.concurrency)
	var wg sync.WaitGroup
	var completed, failed atomic.Int64

	for _, mt := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(mt *ManagedTarget) {
			defer wg.Done()
			defer sem.Release(1)

			rep, err := m.scan(ctx, mt.Target)
			if err != nil {
				failed.Add(1)
				m.bus.Emit(events.TargetError, map[string]interface{}{
					"host":   mt.ID,
					"target": mt.Target,
					"error":  err.Error(),
				})
				return
			}
			completed.Add(1)
			m.targets.UpdateScanMetadata(mt.ID, rep)
			m.bus.Emit(events.Completed, map[string]interface{}{
				"host":     mt.ID,
				"reportId": rep.ID,
				"status":   rep.Status,
			})
		}(mt)
	}
	wg.Wait()

	m.bus.Emit(events.SweepCompleted, map[string]interface{}{
		"targets":   len(targets),
		"completed": completed.Load(),
		"failed":    failed.Load(),
		"duration":  time.Since(start).String(),
	})
}

// crudeInterval extracts a usable period from a malformed cron spec: a
// "*/N" minute or hour field becomes N minutes or hours, anything else
// falls back to six hours.
func crudeInterval(spec string) time.Duration {
	fields := strings.Fields(spec)
	if len(fields) >= 1 {
		if n, ok := everyN(fields[0]); ok {
			return time.Duration(n) * time.Minute
		}
	}
	if len(fields) >= 2 {
		if n, ok := everyN(fields[1]); ok {
			return time.Duration(n) * time.Hour
		}
	}
	return 6 * time.Hour
}

func everyN(field string) (int, bool) {
	if !strings.HasPrefix(field, "*/") {
		return 0, false
	}
	n, err := strconv.Atoi(field[2:])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
