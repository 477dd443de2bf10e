package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/osiriscare/recon/internal/diffs"
	"github.com/osiriscare/recon/internal/events"
	"github.com/osiriscare/recon/internal/fingerprint"
	"github.com/osiriscare/recon/internal/report"
	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/stages"
	"github.com/osiriscare/recon/internal/target"
)

func newTestManager(t *testing.T, bus *events.Bus, historyLimit int) *Manager {
	t.Helper()
	res, err := NewFSResource(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	db, err := OpenRecordDB(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	mgr, err := NewManager(res, db, bus, historyLimit)
	if err != nil {
		t.Fatal(err)
	}
	return mgr
}

// testReport assembles a report whose fingerprint is built through the real
// pipeline shape, so the persisted rows match production output.
func testReport(timestamp string, ports []string) *report.Report {
	entries := make([]interface{}, 0, len(ports))
	for _, p := range ports {
		entries = append(entries, map[string]interface{}{
			"port": p, "protocol": "tcp", "service": "unknown", "sources": []string{"connect"},
		})
	}
	results := report.NewResults()
	results.Set("dns", &stages.Result{
		Status: stages.StatusOK,
		Aggregated: map[string]interface{}{
			"records": map[string]interface{}{"A": []string{"1.2.3.4"}},
		},
		Individual: map[string]*runner.ToolResult{
			"native": {Status: runner.StatusOK, Data: map[string]interface{}{"A": []string{"1.2.3.4"}}},
		},
	})
	results.Set("ports", &stages.Result{
		Status:     stages.StatusOK,
		Aggregated: map[string]interface{}{"openPorts": entries},
	})
	results.Set("subdomains", &stages.Result{
		Status: stages.StatusOK,
		Aggregated: map[string]interface{}{
			"subdomains": []string{"www.example.com"},
			"sources":    map[string]interface{}{"crtsh": 1},
		},
	})

	return &report.Report{
		ID:          report.NewID(time.Now()),
		Timestamp:   timestamp,
		Target:      target.Target{Original: "example.com", Host: "example.com", Protocol: "https", Port: 443},
		Duration:    1200,
		Status:      report.StatusCompleted,
		Results:     results,
		Fingerprint: fingerprint.Build(results),
	}
}

func TestPersistReportFirstScan(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, events.NewBus(), 10)

	rep := testReport("2026-08-25T10:00:00Z", []string{"80", "443"})
	diff, err := mgr.PersistReport(ctx, rep)
	if err != nil {
		t.Fatal(err)
	}
	if diff != nil {
		t.Errorf("first scan produced a diff: %+v", diff)
	}

	slug := report.Slug(rep.Timestamp)
	for _, key := range []string{
		"reports/example.com/" + slug + ".json",
		"reports/example.com/latest.json",
		"reports/example.com/index.json",
		"reports/example.com/stages/" + slug + "/aggregated/dns.json",
		"reports/example.com/stages/" + slug + "/tools/dns-native.json",
	} {
		if _, err := mgr.res.Get(ctx, key); err != nil {
			t.Errorf("missing %s: %v", key, err)
		}
	}

	idx, err := mgr.GetIndex(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.History) != 1 || idx.History[0].Timestamp != rep.Timestamp {
		t.Fatalf("index = %+v", idx)
	}

	host, err := mgr.Records().GetHost(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if host == nil || host.LastScanAt != rep.Timestamp {
		t.Fatalf("host row = %+v", host)
	}

	loaded, err := mgr.LoadReport(ctx, idx.History[0].ReportKey)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ID != rep.ID || loaded.Results.Len() != 3 {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestPersistReportDiffAndAlert(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	alerts := make(chan map[string]interface{}, 1)
	bus.Subscribe(func(name string, payload map[string]interface{}) {
		if name == events.Alert {
			alerts <- payload
		}
	})
	mgr := newTestManager(t, bus, 10)

	if _, err := mgr.PersistReport(ctx, testReport("2026-08-25T10:00:00Z", []string{"80", "443"})); err != nil {
		t.Fatal(err)
	}

	// New open port: high severity, alert expected.
	diff, err := mgr.PersistReport(ctx, testReport("2026-08-25T11:00:00Z", []string{"80", "443", "8080"}))
	if err != nil {
		t.Fatal(err)
	}
	if diff == nil {
		t.Fatal("no diff on second scan")
	}
	if diff.Summary.Severity != diffs.SeverityHigh {
		t.Errorf("severity = %s", diff.Summary.Severity)
	}
	if diff.PreviousScan != "2026-08-25T10:00:00Z" || diff.CurrentScan != "2026-08-25T11:00:00Z" {
		t.Errorf("scan markers = %s / %s", diff.PreviousScan, diff.CurrentScan)
	}

	select {
	case payload := <-alerts:
		if payload["host"] != "example.com" || payload["severity"] != diffs.SeverityHigh {
			t.Errorf("alert payload = %v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert never emitted")
	}

	rows, err := mgr.Records().ListDiffs(ctx, "example.com", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Severity != diffs.SeverityHigh || rows[0].TotalChanges != diff.Summary.TotalChanges {
		t.Fatalf("diff rows = %+v", rows)
	}
}

func TestPersistReportIdenticalScansStayQuiet(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	alerts := make(chan map[string]interface{}, 1)
	bus.Subscribe(func(name string, payload map[string]interface{}) {
		if name == events.Alert {
			alerts <- payload
		}
	})
	mgr := newTestManager(t, bus, 10)

	if _, err := mgr.PersistReport(ctx, testReport("2026-08-25T10:00:00Z", []string{"443"})); err != nil {
		t.Fatal(err)
	}
	diff, err := mgr.PersistReport(ctx, testReport("2026-08-25T11:00:00Z", []string{"443"}))
	if err != nil {
		t.Fatal(err)
	}
	if diff == nil || diff.Summary.TotalChanges != 0 {
		t.Fatalf("diff = %+v", diff)
	}
	select {
	case payload := <-alerts:
		t.Errorf("unexpected alert: %v", payload)
	case <-time.After(100 * time.Millisecond):
	}
	rows, err := mgr.Records().ListDiffs(ctx, "example.com", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("diff rows = %+v", rows)
	}
}

func TestPersistReportHistoryLimit(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, events.NewBus(), 2)

	timestamps := []string{
		"2026-08-25T10:00:00Z",
		"2026-08-25T11:00:00Z",
		"2026-08-25T12:00:00Z",
	}
	for _, ts := range timestamps {
		if _, err := mgr.PersistReport(ctx, testReport(ts, []string{"443"})); err != nil {
			t.Fatal(err)
		}
	}

	idx, err := mgr.GetIndex(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.History) != 2 {
		t.Fatalf("history length = %d", len(idx.History))
	}
	if idx.History[0].Timestamp != timestamps[2] || idx.History[1].Timestamp != timestamps[1] {
		t.Errorf("history order = %+v", idx.History)
	}

	// The evicted scan's artifacts are gone.
	oldSlug := report.Slug(timestamps[0])
	for _, key := range []string{
		"reports/example.com/" + oldSlug + ".json",
		"reports/example.com/stages/" + oldSlug + "/aggregated/dns.json",
	} {
		if _, err := mgr.res.Get(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Errorf("evicted key %s still readable (err = %v)", key, err)
		}
	}
	// The survivors are not.
	if _, err := mgr.res.Get(ctx, idx.History[0].ReportKey); err != nil {
		t.Errorf("newest report unreadable: %v", err)
	}
}

func TestGetIndexMissingHost(t *testing.T) {
	mgr := newTestManager(t, events.NewBus(), 10)
	idx, err := mgr.GetIndex(context.Background(), "never-scanned.example")
	if err != nil {
		t.Fatal(err)
	}
	if idx.Host != "never-scanned.example" || len(idx.History) != 0 {
		t.Errorf("index = %+v", idx)
	}
}
