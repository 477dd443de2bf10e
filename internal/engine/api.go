package engine

import (
	"context"
	"fmt"

	"github.com/osiriscare/recon/internal/diffs"
	"github.com/osiriscare/recon/internal/report"
	"github.com/osiriscare/recon/internal/scheduler"
	"github.com/osiriscare/recon/internal/storage"
)

// errStorageDisabled guards the query surface when persistence is off.
var errStorageDisabled = fmt.Errorf("storage is disabled; enable storage_enabled in the config")

// GetReport loads a persisted report by its public id.
func (e *Engine) GetReport(ctx context.Context, id string) (*report.Report, error) {
	if e.store == nil {
		return nil, errStorageDisabled
	}
	row, err := e.store.Records().FindReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("report %s not found", id)
	}
	return e.store.LoadReport(ctx, row.StorageKey)
}

// ListReports returns report rows across all hosts, newest first.
func (e *Engine) ListReports(ctx context.Context, limit int) ([]*storage.ReportRow, error) {
	if e.store == nil {
		return nil, errStorageDisabled
	}
	return e.store.Records().ListReports(ctx, limit)
}

// GetReportsByHost returns a host's report rows, newest first.
func (e *Engine) GetReportsByHost(ctx context.Context, host string, limit int) ([]*storage.ReportRow, error) {
	if e.store == nil {
		return nil, errStorageDisabled
	}
	return e.store.Records().ListReportsByHost(ctx, host, limit)
}

// CompareReports diffs two persisted reports by id. Comparing reports of
// different hosts is allowed; the diff is computed the same way but is of
// limited meaning.
func (e *Engine) CompareReports(ctx context.Context, id1, id2 string) (*diffs.Diff, error) {
	if e.store == nil {
		return nil, errStorageDisabled
	}
	first, err := e.GetReport(ctx, id1)
	if err != nil {
		return nil, err
	}
	second, err := e.GetReport(ctx, id2)
	if err != nil {
		return nil, err
	}

	diff := diffs.Compare(first.Fingerprint, second.Fingerprint)
	if diff == nil {
		return nil, fmt.Errorf("one of the reports has no fingerprint")
	}
	diff.Timestamp = second.Timestamp
	diff.PreviousScan = first.ID
	diff.CurrentScan = second.ID
	return diff, nil
}

// AddTarget registers a host for scheduled scans.
func (e *Engine) AddTarget(input, schedule string) (*scheduler.ManagedTarget, error) {
	return e.targets.Add(input, schedule)
}

// RemoveTarget drops a host from the schedule.
func (e *Engine) RemoveTarget(host string) bool {
	return e.targets.Remove(host)
}

// ListTargets returns the monitored targets.
func (e *Engine) ListTargets(includeDisabled bool) []*scheduler.ManagedTarget {
	return e.targets.List(includeDisabled)
}

// GetTarget returns one monitored target, or nil.
func (e *Engine) GetTarget(host string) *scheduler.ManagedTarget {
	return e.targets.Get(host)
}

// UpdateTargetSchedule patches a target's cron override.
func (e *Engine) UpdateTargetSchedule(host, schedule string) (*scheduler.ManagedTarget, error) {
	return e.targets.Update(host, scheduler.UpdateOptions{Schedule: &schedule})
}

// EnableTarget toggles a target in or out of sweeps.
func (e *Engine) EnableTarget(host string, enabled bool) (*scheduler.ManagedTarget, error) {
	return e.targets.Update(host, scheduler.UpdateOptions{Enabled: &enabled})
}
