// Package scheduler maintains the monitored target list and drives periodic
// sweeps over it with bounded concurrency.
package scheduler

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/osiriscare/recon/internal/events"
	"github.com/osiriscare/recon/internal/report"
	"github.com/osiriscare/recon/internal/target"
)

// ManagedTarget is one monitored host. ID always equals the normalized host.
type ManagedTarget struct {
	ID           string `json:"id"`
	Target       string `json:"target"` // original input
	Enabled      bool   `json:"enabled"`
	Schedule     string `json:"schedule,omitempty"` // cron override, informational
	AddedAt      string `json:"addedAt"`
	LastScanAt   string `json:"lastScanAt,omitempty"`
	LastReportID string `json:"lastReportId,omitempty"`
	LastStatus   string `json:"lastStatus,omitempty"`
}

// TargetManager is a CRUD facade over the target list, persisted as an
// atomic JSON file so the list survives restarts.
type TargetManager struct {
	mu      sync.Mutex
	targets map[string]*ManagedTarget
	path    string
	bus     *events.Bus
}

// NewTargetManager loads any persisted target list from path. An empty path
// keeps the list in memory only.
func NewTargetManager(path string, bus *events.Bus) (*TargetManager, error) {
	tm := &TargetManager{
		targets: make(map[string]*ManagedTarget),
		path:    path,
		bus:     bus,
	}
	if path == "" {
		return tm, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tm, nil
		}
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	var list []*ManagedTarget
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse targets file: %w", err)
	}
	for _, t := range list {
		tm.targets[t.ID] = t
	}
	return tm, nil
}

// Add normalizes the input and registers it. Adding a host twice fails.
func (tm *TargetManager) Add(input, schedule string) (*ManagedTarget, error) {
	tgt, err := target.Normalize(input)
	if err != nil {
		return nil, err
	}

	tm.mu.Lock()
	if _, exists := tm.targets[tgt.Host]; exists {
		tm.mu.Unlock()
		return nil, fmt.Errorf("target %s already exists", tgt.Host)
	}
	mt := &ManagedTarget{
		ID:       tgt.Host,
		Target:   tgt.Original,
		Enabled:  true,
		Schedule: schedule,
		AddedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	tm.targets[tgt.Host] = mt
	tm.saveLocked()
	tm.mu.Unlock()

	tm.bus.Emit(events.TargetAdded, map[string]interface{}{"host": mt.ID, "target": mt.Target})
	return mt, nil
}

// Remove deletes a target, reporting whether it existed. Removing a missing
// host is a no-op.
func (tm *TargetManager) Remove(host string) bool {
	tm.mu.Lock()
	_, existed := tm.targets[host]
	delete(tm.targets, host)
	if existed {
		tm.saveLocked()
	}
	tm.mu.Unlock()

	if existed {
		tm.bus.Emit(events.TargetRemoved, map[string]interface{}{"host": host})
	}
	return existed
}

// UpdateOptions patch a target. Nil fields are left unchanged.
type UpdateOptions struct {
	Enabled  *bool
	Schedule *string
}

// Update patches a target's settings.
func (tm *TargetManager) Update(host string, opts UpdateOptions) (*ManagedTarget, error) {
	tm.mu.Lock()
	mt, ok := tm.targets[host]
	if !ok {
		tm.mu.Unlock()
		return nil, fmt.Errorf("target %s not found", host)
	}
	if opts.Enabled != nil {
		mt.Enabled = *opts.Enabled
	}
	if opts.Schedule != nil {
		mt.Schedule = *opts.Schedule
	}
	cp := *mt
	tm.saveLocked()
	tm.mu.Unlock()

	tm.bus.Emit(events.TargetUpdated, map[string]interface{}{"host": host})
	return &cp, nil
}

// Get returns a copy of the target, or nil.
func (tm *TargetManager) Get(host string) *ManagedTarget {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	mt, ok := tm.targets[host]
	if !ok {
		return nil
	}
	cp := *mt
	return &cp
}

// List returns targets sorted by host. Disabled targets are included only on
// request.
func (tm *TargetManager) List(includeDisabled bool) []*ManagedTarget {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	out := make([]*ManagedTarget, 0, len(tm.targets))
	for _, mt := range tm.targets {
		if !includeDisabled && !mt.Enabled {
			continue
		}
		cp := *mt
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateScanMetadata records the latest scan outcome on the target. Unknown
// hosts are a no-op.
func (tm *TargetManager) UpdateScanMetadata(host string, rep *report.Report) {
	if rep == nil {
		return
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	mt, ok := tm.targets[host]
	if !ok {
		return
	}
	mt.LastScanAt = rep.Timestamp
	mt.LastReportID = rep.ID
	mt.LastStatus = rep.Status
	tm.saveLocked()
}

// saveLocked persists the list atomically. Callers hold tm.mu.
func (tm *TargetManager) saveLocked() {
	if tm.path == "" {
		return
	}
	list := make([]*ManagedTarget, 0, len(tm.targets))
	for _, mt := range tm.targets {
		list = append(list, mt)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		log.Printf("[targets] Marshal targets: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(tm.path), 0o755); err != nil {
		log.Printf("[targets] Create state dir: %v", err)
		return
	}
	tmp := tm.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Printf("[targets] Write targets file: %v", err)
		return
	}
	if err := os.Rename(tmp, tm.path); err != nil {
		log.Printf("[targets] Rename targets file: %v", err)
	}
}
