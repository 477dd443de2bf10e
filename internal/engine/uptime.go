package engine

import (
	"context"
	"net"
	"sync"
	"time"
)

// uptimeMonitor keeps a lightweight reachability history per host: a
// periodic TCP dial against the target's web port, folded into an uptime
// percentage that scans attach to their reports.
type uptimeMonitor struct {
	mu    sync.Mutex
	hosts map[string]*uptimeState
}

type uptimeState struct {
	cancel   context.CancelFunc
	interval time.Duration

	mu        sync.Mutex
	up        bool
	checks    int
	failures  int
	lastCheck time.Time
}

func newUptimeMonitor() *uptimeMonitor {
	return &uptimeMonitor{hosts: make(map[string]*uptimeState)}
}

// StartUptimeMonitoring begins probing a host every interval. Restarting an
// already-monitored host resets its history.
func (e *Engine) StartUptimeMonitoring(host string, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	e.uptime.start(host, interval)
}

// StopUptimeMonitoring halts probing for a host.
func (e *Engine) StopUptimeMonitoring(host string) bool {
	return e.uptime.stop(host)
}

// GetUptimeStatus returns the current snapshot, or nil when the host is not
// monitored.
func (e *Engine) GetUptimeStatus(host string) map[string]interface{} {
	return e.uptime.snapshot(host)
}

func (m *uptimeMonitor) start(host string, interval time.Duration) {
	m.mu.Lock()
	if prev, ok := m.hosts[host]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	st := &uptimeState{cancel: cancel, interval: interval}
	m.hosts[host] = st
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		st.probe(host)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.probe(host)
			}
		}
	}()
}

func (m *uptimeMonitor) stop(host string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.hosts[host]
	if !ok {
		return false
	}
	st.cancel()
	delete(m.hosts, host)
	return true
}

func (m *uptimeMonitor) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for host, st := range m.hosts {
		st.cancel()
		delete(m.hosts, host)
	}
}

func (m *uptimeMonitor) snapshot(host string) map[string]interface{} {
	m.mu.Lock()
	st, ok := m.hosts[host]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	status := "down"
	if st.up {
		status = "up"
	}
	pct := 100.0
	if st.checks > 0 {
		pct = 100 * float64(st.checks-st.failures) / float64(st.checks)
	}
	return map[string]interface{}{
		"status":    status,
		"checks":    st.checks,
		"failures":  st.failures,
		"uptimePct": pct,
		"lastCheck": st.lastCheck.UTC().Format(time.RFC3339),
		"interval":  st.interval.String(),
	}
}

// probe dials 443 then 80; either connecting counts as up.
func (st *uptimeState) probe(host string) {
	up := false
	for _, port := range []string{"443", "80"} {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), 5*time.Second)
		if err == nil {
			conn.Close()
			up = true
			break
		}
	}

	st.mu.Lock()
	st.up = up
	st.checks++
	if !up {
		st.failures++
	}
	st.lastCheck = time.Now()
	st.mu.Unlock()
}
