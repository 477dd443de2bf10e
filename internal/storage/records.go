package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// RecordDB is the L3 queryable layer: one SQLite file holding the hosts,
// reports, stages, subdomains, paths, and diffs tables. All writes are
// upserts keyed by stable row ids.
type RecordDB struct {
	db *sql.DB
}

const recordSchema = `
CREATE TABLE IF NOT EXISTS hosts (
	id           TEXT PRIMARY KEY,
	target       TEXT NOT NULL,
	summary      TEXT NOT NULL,
	fingerprint  TEXT NOT NULL,
	last_scan_at TEXT NOT NULL,
	storage_key  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS reports (
	id          TEXT PRIMARY KEY,
	report_id   TEXT NOT NULL,
	host        TEXT NOT NULL,
	timestamp   TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	summary     TEXT NOT NULL,
	storage_key TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_host ON reports(host, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_reports_report_id ON reports(report_id);
CREATE TABLE IF NOT EXISTS stages (
	id          TEXT PRIMARY KEY,
	host        TEXT NOT NULL,
	stage       TEXT NOT NULL,
	timestamp   TEXT NOT NULL,
	status      TEXT NOT NULL,
	storage_key TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stages_host ON stages(host, timestamp DESC);
CREATE TABLE IF NOT EXISTS subdomains (
	id        TEXT PRIMARY KEY,
	host      TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	count     INTEGER NOT NULL,
	list      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS paths (
	id        TEXT PRIMARY KEY,
	host      TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	count     INTEGER NOT NULL,
	list      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS diffs (
	id            TEXT PRIMARY KEY,
	host          TEXT NOT NULL,
	timestamp     TEXT NOT NULL,
	severity      TEXT NOT NULL,
	total_changes INTEGER NOT NULL,
	data          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_diffs_host ON diffs(host, timestamp DESC);
`

// OpenRecordDB opens (creating if needed) the records database.
func OpenRecordDB(path string) (*RecordDB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open records db: %w", err)
	}
	// modernc.org/sqlite serializes access per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(recordSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &RecordDB{db: db}, nil
}

// Close closes the underlying database.
func (r *RecordDB) Close() error {
	return r.db.Close()
}

// HostRow is one queryable host summary, upserted per scan.
type HostRow struct {
	ID          string
	Target      string
	Summary     map[string]interface{}
	Fingerprint map[string]interface{}
	LastScanAt  string
	StorageKey  string
}

// UpsertHost inserts or updates the host's summary row.
func (r *RecordDB) UpsertHost(ctx context.Context, row HostRow) error {
	summary, err := json.Marshal(row.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	fp, err := json.Marshal(row.Fingerprint)
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO hosts (id, target, summary, fingerprint, last_scan_at, storage_key)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			target = excluded.target,
			summary = excluded.summary,
			fingerprint = excluded.fingerprint,
			last_scan_at = excluded.last_scan_at,
			storage_key = excluded.storage_key`,
		row.ID, row.Target, string(summary), string(fp), row.LastScanAt, row.StorageKey)
	if err != nil {
		return fmt.Errorf("upsert host %s: %w", row.ID, err)
	}
	return nil
}

// GetHost returns the host row, or nil when the host has never been scanned.
func (r *RecordDB) GetHost(ctx context.Context, host string) (*HostRow, error) {
	var row HostRow
	var summary, fp string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, target, summary, fingerprint, last_scan_at, storage_key
		FROM hosts WHERE id = ?`, host).
		Scan(&row.ID, &row.Target, &summary, &fp, &row.LastScanAt, &row.StorageKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get host %s: %w", host, err)
	}
	if err := json.Unmarshal([]byte(summary), &row.Summary); err != nil {
		return nil, fmt.Errorf("decode summary for %s: %w", host, err)
	}
	if err := json.Unmarshal([]byte(fp), &row.Fingerprint); err != nil {
		return nil, fmt.Errorf("decode fingerprint for %s: %w", host, err)
	}
	return &row, nil
}

// ListHosts returns all host rows ordered by host id.
func (r *RecordDB) ListHosts(ctx context.Context) ([]*HostRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, target, summary, fingerprint, last_scan_at, storage_key
		FROM hosts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	var out []*HostRow
	for rows.Next() {
		var row HostRow
		var summary, fp string
		if err := rows.Scan(&row.ID, &row.Target, &summary, &fp, &row.LastScanAt, &row.StorageKey); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(summary), &row.Summary)
		json.Unmarshal([]byte(fp), &row.Fingerprint)
		out = append(out, &row)
	}
	return out, rows.Err()
}

// ReportRow is one scan's queryable record, keyed host|timestamp.
type ReportRow struct {
	ID         string
	ReportID   string
	Host       string
	Timestamp  string
	Status     string
	DurationMs int64
	Summary    map[string]interface{}
	StorageKey string
}

// UpsertReport inserts or updates a report row.
func (r *RecordDB) UpsertReport(ctx context.Context, row ReportRow) error {
	summary, err := json.Marshal(row.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO reports (id, report_id, host, timestamp, status, duration_ms, summary, storage_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			report_id = excluded.report_id,
			status = excluded.status,
			duration_ms = excluded.duration_ms,
			summary = excluded.summary,
			storage_key = excluded.storage_key`,
		row.ID, row.ReportID, row.Host, row.Timestamp, row.Status, row.DurationMs, string(summary), row.StorageKey)
	if err != nil {
		return fmt.Errorf("upsert report %s: %w", row.ID, err)
	}
	return nil
}

// FindReport locates a report row by its public report id.
func (r *RecordDB) FindReport(ctx context.Context, reportID string) (*ReportRow, error) {
	return r.scanReportRow(r.db.QueryRowContext(ctx, `
		SELECT id, report_id, host, timestamp, status, duration_ms, summary, storage_key
		FROM reports WHERE report_id = ?`, reportID))
}

// ListReports returns report rows, newest first, across all hosts.
func (r *RecordDB) ListReports(ctx context.Context, limit int) ([]*ReportRow, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryReports(ctx, `
		SELECT id, report_id, host, timestamp, status, duration_ms, summary, storage_key
		FROM reports ORDER BY timestamp DESC LIMIT ?`, limit)
}

// ListReportsByHost returns a host's report rows, newest first.
func (r *RecordDB) ListReportsByHost(ctx context.Context, host string, limit int) ([]*ReportRow, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryReports(ctx, `
		SELECT id, report_id, host, timestamp, status, duration_ms, summary, storage_key
		FROM reports WHERE host = ? ORDER BY timestamp DESC LIMIT ?`, host, limit)
}

func (r *RecordDB) queryReports(ctx context.Context, query string, args ...interface{}) ([]*ReportRow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var out []*ReportRow
	for rows.Next() {
		var row ReportRow
		var summary string
		if err := rows.Scan(&row.ID, &row.ReportID, &row.Host, &row.Timestamp,
			&row.Status, &row.DurationMs, &summary, &row.StorageKey); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(summary), &row.Summary)
		out = append(out, &row)
	}
	return out, rows.Err()
}

func (r *RecordDB) scanReportRow(row *sql.Row) (*ReportRow, error) {
	var rr ReportRow
	var summary string
	err := row.Scan(&rr.ID, &rr.ReportID, &rr.Host, &rr.Timestamp,
		&rr.Status, &rr.DurationMs, &summary, &rr.StorageKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}
	json.Unmarshal([]byte(summary), &rr.Summary)
	return &rr, nil
}

// StageRow is one stage's queryable record, keyed host|stage|timestamp.
type StageRow struct {
	ID         string
	Host       string
	Stage      string
	Timestamp  string
	Status     string
	StorageKey string
}

// UpsertStage inserts or updates a stage row.
func (r *RecordDB) UpsertStage(ctx context.Context, row StageRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stages (id, host, stage, timestamp, status, storage_key)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			storage_key = excluded.storage_key`,
		row.ID, row.Host, row.Stage, row.Timestamp, row.Status, row.StorageKey)
	if err != nil {
		return fmt.Errorf("upsert stage %s: %w", row.ID, err)
	}
	return nil
}

// UpsertNameList writes the subdomains or paths row for a host (table is
// "subdomains" or "paths"; both share the same shape, keyed by host).
func (r *RecordDB) UpsertNameList(ctx context.Context, table, host, timestamp string, list []string) error {
	if table != "subdomains" && table != "paths" {
		return fmt.Errorf("unknown name-list table %q", table)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal %s list: %w", table, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO `+table+` (id, host, timestamp, count, list)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			count = excluded.count,
			list = excluded.list`,
		host, host, timestamp, len(list), string(data))
	if err != nil {
		return fmt.Errorf("upsert %s for %s: %w", table, host, err)
	}
	return nil
}

// DiffRow is one persisted diff, keyed host|timestamp.
type DiffRow struct {
	ID           string
	Host         string
	Timestamp    string
	Severity     string
	TotalChanges int
	Data         []byte
}

// UpsertDiff inserts or updates a diff row.
func (r *RecordDB) UpsertDiff(ctx context.Context, row DiffRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO diffs (id, host, timestamp, severity, total_changes, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			total_changes = excluded.total_changes,
			data = excluded.data`,
		row.ID, row.Host, row.Timestamp, row.Severity, row.TotalChanges, string(row.Data))
	if err != nil {
		return fmt.Errorf("upsert diff %s: %w", row.ID, err)
	}
	return nil
}

// ListDiffs returns a host's diffs, newest first.
func (r *RecordDB) ListDiffs(ctx context.Context, host string, limit int) ([]*DiffRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, host, timestamp, severity, total_changes, data
		FROM diffs WHERE host = ? ORDER BY timestamp DESC LIMIT ?`, host, limit)
	if err != nil {
		return nil, fmt.Errorf("list diffs: %w", err)
	}
	defer rows.Close()

	var out []*DiffRow
	for rows.Next() {
		var row DiffRow
		var data string
		if err := rows.Scan(&row.ID, &row.Host, &row.Timestamp, &row.Severity, &row.TotalChanges, &data); err != nil {
			return nil, err
		}
		row.Data = []byte(data)
		out = append(out, &row)
	}
	return out, rows.Err()
}
