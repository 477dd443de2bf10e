// Package report defines the scan report: the immutable record the
// orchestrator assembles after all stages run and hands to storage.
package report

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/osiriscare/recon/internal/stages"
	"github.com/osiriscare/recon/internal/target"
)

// Statuses a report can carry.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Report is one scan's consolidated output. Immutable once persisted.
type Report struct {
	ID          string                 `json:"id"`
	Timestamp   string                 `json:"timestamp"` // RFC 3339 UTC
	Target      target.Target          `json:"target"`
	Duration    int64                  `json:"duration"` // milliseconds
	Status      string                 `json:"status"`
	Results     *Results               `json:"results"`
	Fingerprint map[string]interface{} `json:"fingerprint"`
	Uptime      map[string]interface{} `json:"uptime,omitempty"`
	Warnings    []string               `json:"warnings,omitempty"`
}

// NewID builds a report identifier: monotonic millisecond timestamp plus a
// random suffix, so IDs sort chronologically within a host.
func NewID(now time.Time) string {
	return now.UTC().Format("20060102T150405.000") + "-" + uuid.NewString()[:8]
}

// Slug converts an RFC 3339 timestamp into a filesystem-safe key segment
// (":" and "." become "-").
func Slug(timestamp string) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(timestamp)
}

// Results is an insertion-ordered stage-name → result map. Stage order in
// the serialized report matches execution order.
type Results struct {
	keys []string
	m    map[string]*stages.Result
}

// NewResults creates an empty ordered result map.
func NewResults() *Results {
	return &Results{m: make(map[string]*stages.Result)}
}

// Set appends (or replaces) a stage result, preserving first-insertion order.
func (r *Results) Set(stage string, res *stages.Result) {
	if _, ok := r.m[stage]; !ok {
		r.keys = append(r.keys, stage)
	}
	r.m[stage] = res
}

// Get returns the result for a stage, or nil.
func (r *Results) Get(stage string) *stages.Result {
	if r == nil {
		return nil
	}
	return r.m[stage]
}

// Keys returns stage names in insertion order.
func (r *Results) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of stage results.
func (r *Results) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// MarshalJSON emits stages in insertion order.
func (r *Results) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		val, err := json.Marshal(r.m[k])
		if err != nil {
			return nil, err
		}
		b.Write(val)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// UnmarshalJSON restores the map; key order follows the document order.
func (r *Results) UnmarshalJSON(data []byte) error {
	r.m = make(map[string]*stages.Result)
	r.keys = nil

	dec := json.NewDecoder(strings.NewReader(string(data)))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var agg map[string]interface{}
		if err := json.Unmarshal(raw, &agg); err != nil {
			return err
		}
		res := &stages.Result{Aggregated: agg}
		if s, ok := agg["status"].(string); ok {
			res.Status = s
			delete(agg, "status")
		}
		delete(agg, "_individual")
		delete(agg, "_aggregated")
		delete(agg, "errors")
		r.Set(key, res)
	}
	return nil
}
