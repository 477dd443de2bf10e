package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/osiriscare/recon/internal/events"
	"github.com/osiriscare/recon/internal/report"
)

// eventRecorder captures bus events for assertions. Handlers run on their own
// goroutines, so reads go through the channel.
type eventRecorder struct {
	ch chan string
}

func recordEvents(bus *events.Bus) *eventRecorder {
	rec := &eventRecorder{ch: make(chan string, 64)}
	bus.Subscribe(func(name string, payload map[string]interface{}) {
		rec.ch <- name
	})
	return rec
}

func (r *eventRecorder) wait(t *testing.T, name string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-r.ch:
			if got == name {
				return
			}
		case <-deadline:
			t.Fatalf("event %s never arrived", name)
		}
	}
}

func TestSweepScansEnabledTargets(t *testing.T) {
	bus := events.NewBus()
	rec := recordEvents(bus)
	tm, _ := NewTargetManager("", bus)
	tm.Add("alpha.example", "")
	tm.Add("bravo.example", "")
	tm.Add("charlie.example", "")
	disabled := false
	tm.Update("charlie.example", UpdateOptions{Enabled: &disabled})

	var mu sync.Mutex
	scanned := make(map[string]int)
	scan := func(ctx context.Context, tgt string) (*report.Report, error) {
		mu.Lock()
		scanned[tgt]++
		mu.Unlock()
		return &report.Report{
			ID:        "rep-" + tgt,
			Timestamp: "2026-08-25T10:00:00Z",
			Status:    report.StatusCompleted,
		}, nil
	}

	m := NewManager(tm, scan, bus, "0 */6 * * *", 2)
	m.Sweep(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if scanned["alpha.example"] != 1 || scanned["bravo.example"] != 1 {
		t.Errorf("scanned = %v", scanned)
	}
	if scanned["charlie.example"] != 0 {
		t.Error("disabled target scanned")
	}

	mt := tm.Get("alpha.example")
	if mt.LastReportID != "rep-alpha.example" || mt.LastStatus != report.StatusCompleted {
		t.Errorf("metadata = %+v", mt)
	}
	rec.wait(t, events.SweepCompleted)
}

func TestSweepEmitsTargetError(t *testing.T) {
	bus := events.NewBus()
	rec := recordEvents(bus)
	tm, _ := NewTargetManager("", bus)
	tm.Add("broken.example", "")

	scan := func(ctx context.Context, tgt string) (*report.Report, error) {
		return nil, errors.New("dns resolution failed")
	}
	m := NewManager(tm, scan, bus, "0 */6 * * *", 1)
	m.Sweep(context.Background())

	rec.wait(t, events.TargetError)
	rec.wait(t, events.SweepCompleted)

	if mt := tm.Get("broken.example"); mt.LastReportID != "" {
		t.Errorf("failed scan recorded metadata: %+v", mt)
	}
}

func TestSweepNoActiveTargets(t *testing.T) {
	bus := events.NewBus()
	rec := recordEvents(bus)
	tm, _ := NewTargetManager("", bus)

	called := false
	m := NewManager(tm, func(ctx context.Context, tgt string) (*report.Report, error) {
		called = true
		return nil, nil
	}, bus, "0 */6 * * *", 1)
	m.Sweep(context.Background())

	rec.wait(t, events.NoActiveTargets)
	if called {
		t.Error("scan ran with no targets")
	}
}

func TestSweepsDoNotStack(t *testing.T) {
	bus := events.NewBus()
	tm, _ := NewTargetManager("", bus)
	tm.Add("slow.example", "")

	started := make(chan struct{})
	release := make(chan struct{})
	var count int
	var mu sync.Mutex
	scan := func(ctx context.Context, tgt string) (*report.Report, error) {
		mu.Lock()
		count++
		mu.Unlock()
		close(started)
		<-release
		return &report.Report{ID: "r", Status: report.StatusCompleted}, nil
	}
	m := NewManager(tm, scan, bus, "0 */6 * * *", 1)

	done := make(chan struct{})
	go func() {
		m.Sweep(context.Background())
		close(done)
	}()
	<-started

	// Second tick while the first sweep is in flight: skipped.
	m.Sweep(context.Background())

	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("scan count = %d", count)
	}
}

func TestCrudeInterval(t *testing.T) {
	cases := []struct {
		spec string
		want time.Duration
	}{
		{"*/15 * * * *", 15 * time.Minute},
		{"0 */6 * * *", 6 * time.Hour},
		{"not a cron spec", 6 * time.Hour},
		{"*/0 * * * *", 6 * time.Hour},
		{"", 6 * time.Hour},
	}
	for _, tc := range cases {
		if got := crudeInterval(tc.spec); got != tc.want {
			t.Errorf("crudeInterval(%q) = %s, want %s", tc.spec, got, tc.want)
		}
	}
}

func TestStartFallsBackOnBadSpec(t *testing.T) {
	bus := events.NewBus()
	rec := recordEvents(bus)
	tm, _ := NewTargetManager("", bus)

	m := NewManager(tm, func(ctx context.Context, tgt string) (*report.Report, error) {
		return nil, nil
	}, bus, "definitely not cron", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	rec.wait(t, events.SchedulerWarning)
	rec.wait(t, events.SchedulerStarted)
}
