package events

import (
	"sync"
	"testing"
	"time"
)

func TestEmitFansOut(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	wg.Add(3)
	var mu sync.Mutex
	got := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		bus.Subscribe(func(name string, payload map[string]interface{}) {
			mu.Lock()
			got = append(got, name)
			mu.Unlock()
			wg.Done()
		})
	}

	bus.Emit(Alert, map[string]interface{}{"host": "example.com"})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("deliveries = %v", got)
	}
	for _, name := range got {
		if name != Alert {
			t.Errorf("name = %s", name)
		}
	}
}

func TestEmitDoesNotBlockCaller(t *testing.T) {
	bus := NewBus()
	release := make(chan struct{})
	bus.Subscribe(func(name string, payload map[string]interface{}) {
		<-release
	})

	start := time.Now()
	bus.Emit(SweepStarted, nil)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Emit blocked for %s", elapsed)
	}
	close(release)
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := NewBus()
	delivered := make(chan struct{})
	bus.Subscribe(func(name string, payload map[string]interface{}) {
		panic("handler bug")
	})
	bus.Subscribe(func(name string, payload map[string]interface{}) {
		close(delivered)
	})

	bus.Emit(TargetAdded, nil)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("panicking sibling stopped delivery")
	}
	// A second emit still works.
	bus.Emit(TargetRemoved, nil)
}

func TestNilSafety(t *testing.T) {
	var bus *Bus
	bus.Emit(Completed, nil) // must not panic

	b := NewBus()
	b.Subscribe(nil)
	b.Emit(Completed, nil)
}
