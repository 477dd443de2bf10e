package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/osiriscare/recon/internal/diffs"
	"github.com/osiriscare/recon/internal/events"
	"github.com/osiriscare/recon/internal/fingerprint"
	"github.com/osiriscare/recon/internal/report"
)

// IndexEntry is one scan's line in the per-host index, newest first.
type IndexEntry struct {
	Timestamp string                 `json:"timestamp"`
	Status    string                 `json:"status"`
	ReportKey string                 `json:"reportKey"`
	StageKeys []string               `json:"stageKeys"`
	ToolKeys  []string               `json:"toolKeys"`
	Summary   map[string]interface{} `json:"summary"`
}

// Index is the per-host scan history document.
type Index struct {
	Host    string       `json:"host"`
	History []IndexEntry `json:"history"`
}

// Manager coordinates the three persistence layers and the diff fold.
type Manager struct {
	res          Resource
	db           *RecordDB
	bus          *events.Bus
	historyLimit int
}

// NewManager wires the storage layers together. historyLimit bounds the
// per-host index length.
func NewManager(res Resource, db *RecordDB, bus *events.Bus, historyLimit int) (*Manager, error) {
	if res == nil {
		return nil, fmt.Errorf("storage manager requires a resource; pass an FSResource or equivalent binding")
	}
	if db == nil {
		return nil, fmt.Errorf("storage manager requires a record db; call OpenRecordDB first")
	}
	if historyLimit < 1 {
		historyLimit = 1
	}
	return &Manager{res: res, db: db, bus: bus, historyLimit: historyLimit}, nil
}

// Key layout helpers. timestampSlug is the report timestamp with ":" and "."
// replaced by "-".
func hostBase(host string) string        { return "reports/" + host }
func indexKey(host string) string        { return hostBase(host) + "/index.json" }
func latestKey(host string) string       { return hostBase(host) + "/latest.json" }
func reportKey(host, slug string) string { return hostBase(host) + "/" + slug + ".json" }
func stageKey(host, slug, stage string) string {
	return hostBase(host) + "/stages/" + slug + "/aggregated/" + stage + ".json"
}
func toolKey(host, slug, stage, tool string) string {
	return hostBase(host) + "/stages/" + slug + "/tools/" + stage + "-" + tool + ".json"
}

// PersistReport runs the full persistence fold for one report: read the prior
// host row, compute the diff, write the diff row, then upsert the new host
// row (in that order), write the L1 artifacts and L2 report/index, prune
// history past the limit, and emit an alert when the diff is medium or worse.
//
// Individual record failures are logged and swallowed; only a failure to
// write the primary report object is returned, and even then the caller keeps
// the report.
func (m *Manager) PersistReport(ctx context.Context, rep *report.Report) (*diffs.Diff, error) {
	host := rep.Target.Host
	slug := report.Slug(rep.Timestamp)
	summary := fingerprint.BuildSummary(rep.Fingerprint)
	primaryKey := reportKey(host, slug)

	// Diff against the stored host row before anything overwrites it.
	prior, err := m.db.GetHost(ctx, host)
	if err != nil {
		log.Printf("[storage] Read prior host row for %s: %v", host, err)
	}

	var diff *diffs.Diff
	if prior != nil {
		diff = diffs.Compare(prior.Fingerprint, rep.Fingerprint)
		if diff != nil {
			diff.Timestamp = rep.Timestamp
			diff.PreviousScan = prior.LastScanAt
			diff.CurrentScan = rep.Timestamp
		}
	}

	// Diff row first, host row second: diffs.timestamp must match the
	// incoming report, not the stored one.
	if diff != nil && diff.Summary.TotalChanges > 0 {
		data, err := json.Marshal(diff)
		if err != nil {
			log.Printf("[storage] Marshal diff for %s: %v", host, err)
		} else if err := m.db.UpsertDiff(ctx, DiffRow{
			ID:           host + "|" + rep.Timestamp,
			Host:         host,
			Timestamp:    rep.Timestamp,
			Severity:     diff.Summary.Severity,
			TotalChanges: diff.Summary.TotalChanges,
			Data:         data,
		}); err != nil {
			log.Printf("[storage] Write diff row for %s: %v", host, err)
		}
	}

	if err := m.db.UpsertHost(ctx, HostRow{
		ID:          host,
		Target:      rep.Target.Original,
		Summary:     summary,
		Fingerprint: rep.Fingerprint,
		LastScanAt:  rep.Timestamp,
		StorageKey:  primaryKey,
	}); err != nil {
		log.Printf("[storage] Upsert host row for %s: %v", host, err)
	}

	// L1: per-tool artifacts and per-stage aggregates.
	var stageKeys, toolKeys []string
	for _, stage := range rep.Results.Keys() {
		res := rep.Results.Get(stage)
		if res == nil {
			continue
		}
		sk := stageKey(host, slug, stage)
		if data, err := json.Marshal(res); err != nil {
			log.Printf("[storage] Marshal stage %s: %v", stage, err)
		} else if err := m.res.Put(ctx, sk, data); err != nil {
			log.Printf("[storage] Write %s: %v", sk, err)
		} else {
			stageKeys = append(stageKeys, sk)
		}

		for tool, tr := range res.Individual {
			tk := toolKey(host, slug, stage, tool)
			if data, err := json.Marshal(tr); err != nil {
				log.Printf("[storage] Marshal tool %s/%s: %v", stage, tool, err)
			} else if err := m.res.Put(ctx, tk, data); err != nil {
				log.Printf("[storage] Write %s: %v", tk, err)
			} else {
				toolKeys = append(toolKeys, tk)
			}
		}

		if err := m.db.UpsertStage(ctx, StageRow{
			ID:         host + "|" + stage + "|" + rep.Timestamp,
			Host:       host,
			Stage:      stage,
			Timestamp:  rep.Timestamp,
			Status:     res.Status,
			StorageKey: sk,
		}); err != nil {
			log.Printf("[storage] Upsert stage row %s/%s: %v", host, stage, err)
		}
	}

	// L2: primary report, latest mirror, index.
	var primaryErr error
	reportData, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		primaryErr = fmt.Errorf("marshal report: %w", err)
	} else {
		if err := m.res.Put(ctx, primaryKey, reportData); err != nil {
			primaryErr = fmt.Errorf("persist primary report: %w", err)
		}
		if err := m.res.Put(ctx, latestKey(host), reportData); err != nil {
			log.Printf("[storage] Write latest for %s: %v", host, err)
		}
	}

	m.updateIndex(ctx, host, IndexEntry{
		Timestamp: rep.Timestamp,
		Status:    rep.Status,
		ReportKey: primaryKey,
		StageKeys: stageKeys,
		ToolKeys:  toolKeys,
		Summary:   summary,
	})

	// L3 report row plus the per-host name lists.
	if err := m.db.UpsertReport(ctx, ReportRow{
		ID:         host + "|" + rep.Timestamp,
		ReportID:   rep.ID,
		Host:       host,
		Timestamp:  rep.Timestamp,
		Status:     rep.Status,
		DurationMs: rep.Duration,
		Summary:    summary,
		StorageKey: primaryKey,
	}); err != nil {
		log.Printf("[storage] Upsert report row for %s: %v", host, err)
	}
	if subs := fingerprintList(rep.Fingerprint, "attackSurface", "subdomains"); subs != nil {
		if err := m.db.UpsertNameList(ctx, "subdomains", host, rep.Timestamp, subs); err != nil {
			log.Printf("[storage] Upsert subdomains for %s: %v", host, err)
		}
	}
	if paths := fingerprintList(rep.Fingerprint, "attackSurface", "discoveredPaths"); paths != nil {
		if err := m.db.UpsertNameList(ctx, "paths", host, rep.Timestamp, paths); err != nil {
			log.Printf("[storage] Upsert paths for %s: %v", host, err)
		}
	}

	// Alerts are fire-and-forget observer events.
	if diff != nil && diff.Summary.TotalChanges > 0 && severityAtLeastMedium(diff.Summary.Severity) {
		m.bus.Emit(events.Alert, map[string]interface{}{
			"host":         host,
			"severity":     diff.Summary.Severity,
			"totalChanges": diff.Summary.TotalChanges,
			"timestamp":    rep.Timestamp,
			"diff":         diff,
		})
	}

	return diff, primaryErr
}

// updateIndex prepends the new entry, truncates past the history limit, and
// prunes the evicted scans' L1/L2 keys best-effort.
func (m *Manager) updateIndex(ctx context.Context, host string, entry IndexEntry) {
	idx, err := m.GetIndex(ctx, host)
	if err != nil {
		log.Printf("[storage] Read index for %s: %v", host, err)
		idx = &Index{Host: host}
	}

	idx.History = append([]IndexEntry{entry}, idx.History...)

	var evicted []IndexEntry
	if len(idx.History) > m.historyLimit {
		evicted = idx.History[m.historyLimit:]
		idx.History = idx.History[:m.historyLimit]
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		log.Printf("[storage] Marshal index for %s: %v", host, err)
		return
	}
	if err := m.res.Put(ctx, indexKey(host), data); err != nil {
		log.Printf("[storage] Write index for %s: %v", host, err)
		return
	}

	for _, old := range evicted {
		m.pruneEntry(ctx, old)
	}
}

// pruneEntry deletes one evicted scan's keys. Deletion errors are swallowed
// so a partially-gone history never blocks new scans.
func (m *Manager) pruneEntry(ctx context.Context, entry IndexEntry) {
	keys := make([]string, 0, 1+len(entry.StageKeys)+len(entry.ToolKeys))
	keys = append(keys, entry.ReportKey)
	keys = append(keys, entry.StageKeys...)
	keys = append(keys, entry.ToolKeys...)
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := m.res.Delete(ctx, key); err != nil {
			log.Printf("[storage] Prune %s: %v", key, err)
		}
	}
}

// GetIndex loads a host's scan index. A host with no scans gets an empty
// index, not an error.
func (m *Manager) GetIndex(ctx context.Context, host string) (*Index, error) {
	data, err := m.res.Get(ctx, indexKey(host))
	if err != nil {
		if isNotFound(err) {
			return &Index{Host: host}, nil
		}
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decode index for %s: %w", host, err)
	}
	if idx.Host == "" {
		idx.Host = host
	}
	return &idx, nil
}

// LoadReport reads a persisted report by its storage key.
func (m *Manager) LoadReport(ctx context.Context, key string) (*report.Report, error) {
	data, err := m.res.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var rep report.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", key, err)
	}
	return &rep, nil
}

// Records exposes the L3 layer for queries.
func (m *Manager) Records() *RecordDB {
	return m.db
}

func severityAtLeastMedium(severity string) bool {
	switch severity {
	case diffs.SeverityMedium, diffs.SeverityHigh, diffs.SeverityCritical:
		return true
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// fingerprintList pulls a {total,list} block's list out of the fingerprint.
func fingerprintList(fp map[string]interface{}, section, field string) []string {
	sec, _ := fp[section].(map[string]interface{})
	block, _ := sec[field].(map[string]interface{})
	raw := block["list"]
	switch vals := raw.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
