package stages

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// Vulnerability probes the target with template scanners (nuclei, nikto).
// Findings are deduped by name and counted per severity. The engine never
// exploits anything; it only records what the scanners report.
type Vulnerability struct {
	env *Env
}

func NewVulnerability(env *Env) *Vulnerability { return &Vulnerability{env: env} }

func (s *Vulnerability) Name() string { return "vulnerability" }

// severityRank orders finding severities for stable output.
var severityRank = map[string]int{
	"critical": 0, "high": 1, "medium": 2, "low": 3, "info": 4, "unknown": 5,
}

func (s *Vulnerability) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)

		ran := false
		if s.env.Runner.IsAvailable("nuclei") {
			ran = true
			res := s.env.Runner.Run(ctx, "nuclei",
				[]string{"-u", tgt.URL(), "-jsonl", "-silent", "-severity", "low,medium,high,critical"},
				runner.Options{Timeout: opts.Timeout})
			individual["nuclei"] = classifyNuclei(res)
		}

		if s.env.Runner.IsAvailable("nikto") {
			ran = true
			res := s.env.Runner.Run(ctx, "nikto",
				[]string{"-h", tgt.URL(), "-Format", "json", "-o", "-", "-nointeractive"},
				runner.Options{Timeout: opts.Timeout})
			individual["nikto"] = classifyNikto(res)
		}

		if !ran {
			individual["nuclei"] = &runner.ToolResult{Status: runner.StatusUnavailable, Code: runner.CodeNotFound}
			individual["nikto"] = &runner.ToolResult{Status: runner.StatusUnavailable, Code: runner.CodeNotFound}
		}

		agg := AggregateVulnerability(individual)
		return finalize(individual, agg, errs, agg["total"].(int) > 0)
	})
}

// classifyNuclei parses the JSONL stream, one finding per line.
func classifyNuclei(res *runner.Result) *runner.ToolResult {
	tr := runner.Classify(res, true)
	if tr.Status != runner.StatusOK {
		return tr
	}
	data, _ := tr.Data.(map[string]interface{})
	raw, _ := data["raw"].(string)

	var findings []interface{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		name := ""
		severity := "unknown"
		if info, ok := entry["info"].(map[string]interface{}); ok {
			name, _ = info["name"].(string)
			if sev, ok := info["severity"].(string); ok {
				severity = strings.ToLower(sev)
			}
		}
		if name == "" {
			name, _ = entry["template-id"].(string)
		}
		if name == "" {
			continue
		}
		findings = append(findings, map[string]interface{}{
			"name":     name,
			"severity": severity,
		})
	}
	if len(findings) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{"findings": findings}}
}

// classifyNikto reads nikto's JSON report shape ({"vulnerabilities": [...]}).
func classifyNikto(res *runner.Result) *runner.ToolResult {
	tr := runner.Classify(res, false)
	if tr.Status != runner.StatusOK {
		return tr
	}
	data, ok := tr.Data.(map[string]interface{})
	if !ok {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}
	raw, ok := data["vulnerabilities"].([]interface{})
	if !ok || len(raw) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}

	var findings []interface{}
	for _, rv := range raw {
		entry, ok := rv.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := entry["msg"].(string)
		if name == "" {
			name, _ = entry["id"].(string)
		}
		if name == "" {
			continue
		}
		findings = append(findings, map[string]interface{}{
			"name":     name,
			"severity": "unknown",
		})
	}
	if len(findings) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{"findings": findings}}
}

// AggregateVulnerability dedups findings by name (case-insensitive, keeping
// the most severe classification) and counts per severity.
func AggregateVulnerability(individual map[string]*runner.ToolResult) map[string]interface{} {
	byName := map[string]map[string]interface{}{}

	for _, tool := range orderedKeys(individual) {
		tr := individual[tool]
		if tr.Status != runner.StatusOK {
			continue
		}
		data, ok := tr.Data.(map[string]interface{})
		if !ok {
			continue
		}
		raw, ok := data["findings"].([]interface{})
		if !ok {
			continue
		}
		for _, rf := range raw {
			entry, ok := rf.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := entry["name"].(string)
			if name == "" {
				continue
			}
			severity, _ := entry["severity"].(string)
			if _, ok := severityRank[severity]; !ok {
				severity = "unknown"
			}
			key := strings.ToLower(name)
			if prev, exists := byName[key]; exists {
				if severityRank[severity] < severityRank[prev["severity"].(string)] {
					prev["severity"] = severity
				}
				continue
			}
			byName[key] = map[string]interface{}{"name": name, "severity": severity}
		}
	}

	keys := make([]string, 0, len(byName))
	for k := range byName {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := byName[keys[i]], byName[keys[j]]
		ra, rb := severityRank[a["severity"].(string)], severityRank[b["severity"].(string)]
		if ra != rb {
			return ra < rb
		}
		return keys[i] < keys[j]
	})

	findings := make([]map[string]interface{}, 0, len(keys))
	counts := map[string]int{}
	for _, k := range keys {
		findings = append(findings, byName[k])
		counts[byName[k]["severity"].(string)]++
	}

	bySeverity := map[string]interface{}{}
	for sev, n := range counts {
		bySeverity[sev] = n
	}

	return map[string]interface{}{
		"findings":   findings,
		"total":      len(findings),
		"bySeverity": bySeverity,
	}
}
