// Package stages implements the information-gathering steps of a scan. Every
// stage observes only the target and its feature config, runs its tools
// through the shared runner (or a bounded HTTP client), and returns a uniform
// result envelope. Stages never persist anything and never panic out of
// Execute.
package stages

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/osiriscare/recon/internal/procmgr"
	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// Stage statuses mirror the tool statuses.
const (
	StatusOK          = runner.StatusOK
	StatusEmpty       = runner.StatusEmpty
	StatusSkipped     = runner.StatusSkipped
	StatusUnavailable = runner.StatusUnavailable
	StatusError       = runner.StatusError
)

// Canonical stage execution order for the default pipeline.
var Order = []string{
	"dns", "certificate", "whois", "latency", "http", "ports",
	"subdomains", "webDiscovery", "vulnerability", "tlsAudit",
	"fingerprint", "screenshot", "osint", "asn", "dnsdumpster",
}

// Options carry the per-stage slice of the effective feature config.
type Options struct {
	Config  map[string]interface{}
	Timeout time.Duration
}

// Result is the uniform stage envelope. Aggregated fields are spread into the
// JSON root for compatibility alongside the _aggregated key.
type Result struct {
	Status     string
	Aggregated map[string]interface{}
	Individual map[string]*runner.ToolResult
	Errors     map[string]string
}

// MarshalJSON spreads Aggregated into the root object and emits _individual
// and _aggregated side by side.
func (r *Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Aggregated)+4)
	for k, v := range r.Aggregated {
		out[k] = v
	}
	out["status"] = r.Status
	if len(r.Errors) > 0 {
		out["errors"] = r.Errors
	}
	if len(r.Individual) > 0 {
		out["_individual"] = r.Individual
		out["_aggregated"] = r.Aggregated
	}
	return json.Marshal(out)
}

// Get returns an aggregated field.
func (r *Result) Get(key string) interface{} {
	if r == nil || r.Aggregated == nil {
		return nil
	}
	return r.Aggregated[key]
}

// Stage is one information-gathering step.
type Stage interface {
	Name() string
	Execute(ctx context.Context, tgt target.Target, opts Options) *Result
}

// Env holds the shared collaborators stages run against.
type Env struct {
	Runner *runner.Runner
	Procs  *procmgr.Manager
	HTTP   *http.Client

	// CrtshBaseURL overrides the crt.sh endpoint (tests).
	CrtshBaseURL string
	// DNSDumpsterBaseURL overrides the dnsdumpster endpoint (tests).
	DNSDumpsterBaseURL string
	// DNSServer overrides the resolver address ("host:53"); empty uses the
	// system default.
	DNSServer string
}

// NewEnv builds an Env with a bounded HTTP client.
func NewEnv(r *runner.Runner, procs *procmgr.Manager) *Env {
	return &Env{
		Runner: r,
		Procs:  procs,
		HTTP: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Pipeline returns all stages in canonical order.
func Pipeline(env *Env) []Stage {
	return []Stage{
		NewDNS(env),
		NewCertificate(env),
		NewWhois(env),
		NewLatency(env),
		NewHTTP(env),
		NewPorts(env),
		NewSubdomains(env),
		NewWebDiscovery(env),
		NewVulnerability(env),
		NewTLSAudit(env),
		NewFingerprint(env),
		NewScreenshot(env),
		NewOSINT(env),
		NewASN(env),
		NewDNSDumpster(env),
	}
}

// execGuard wraps a stage body so unexpected panics become error results
// instead of taking down the scan.
func execGuard(name string, body func() *Result) (res *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[stage:%s] Recovered panic: %v", name, rec)
			res = &Result{
				Status: StatusError,
				Errors: map[string]string{"panic": toString(rec)},
			}
		}
	}()
	return body()
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if e, ok := v.(error); ok {
		return e.Error()
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// finalize derives the stage status from the tool map when no explicit
// failure was recorded: all unavailable → unavailable, any ok with data → ok,
// no data anywhere → empty, errors without data → error.
func finalize(individual map[string]*runner.ToolResult, aggregated map[string]interface{}, errs map[string]string, hasData bool) *Result {
	status := StatusEmpty
	if hasData {
		status = StatusOK
	} else if len(individual) > 0 {
		allUnavailable := true
		anyError := false
		for _, tr := range individual {
			if tr.Status != StatusUnavailable {
				allUnavailable = false
			}
			if tr.Status == StatusError {
				anyError = true
			}
		}
		if allUnavailable {
			status = StatusUnavailable
		} else if anyError {
			status = StatusError
		}
	} else if len(errs) > 0 {
		status = StatusError
	}

	return &Result{
		Status:     status,
		Aggregated: aggregated,
		Individual: individual,
		Errors:     errs,
	}
}

// orderedKeys returns a tool map's keys sorted, so aggregation walks tools in
// a deterministic order ("first-seen wins" is reproducible).
func orderedKeys(m map[string]*runner.ToolResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortedUnique lowercases nothing; it sorts and dedups in place-order.
func sortedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// sortedUniqueFold dedups case-insensitively, preserving first-seen casing.
func sortedUniqueFold(in []string) []string {
	seen := make(map[string]string, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; !ok {
			seen[key] = s
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out
}
