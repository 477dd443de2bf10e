package stages

import (
	"testing"

	"github.com/osiriscare/recon/internal/runner"
)

func findingsResult(findings ...map[string]interface{}) *runner.ToolResult {
	raw := make([]interface{}, 0, len(findings))
	for _, f := range findings {
		raw = append(raw, f)
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{"findings": raw}}
}

func TestAggregateVulnerabilityDedupsKeepingMostSevere(t *testing.T) {
	individual := map[string]*runner.ToolResult{
		"nuclei": findingsResult(
			map[string]interface{}{"name": "Exposed Git Directory", "severity": "medium"},
			map[string]interface{}{"name": "Weak Cipher", "severity": "low"},
		),
		"nikto": findingsResult(
			map[string]interface{}{"name": "exposed git directory", "severity": "high"},
		),
	}

	agg := AggregateVulnerability(individual)
	if agg["total"] != 2 {
		t.Fatalf("total = %v", agg["total"])
	}

	findings := agg["findings"].([]map[string]interface{})
	// Sorted most severe first.
	if findings[0]["name"] != "Exposed Git Directory" || findings[0]["severity"] != "high" {
		t.Errorf("first = %v", findings[0])
	}
	if findings[1]["severity"] != "low" {
		t.Errorf("second = %v", findings[1])
	}

	bySev := agg["bySeverity"].(map[string]interface{})
	if bySev["high"] != 1 || bySev["low"] != 1 {
		t.Errorf("bySeverity = %v", bySev)
	}
}

func TestAggregateVulnerabilityUnknownSeverity(t *testing.T) {
	individual := map[string]*runner.ToolResult{
		"nikto": findingsResult(
			map[string]interface{}{"name": "Odd Header", "severity": "bizarre"},
		),
	}
	agg := AggregateVulnerability(individual)
	findings := agg["findings"].([]map[string]interface{})
	if findings[0]["severity"] != "unknown" {
		t.Errorf("severity = %v", findings[0]["severity"])
	}
}

func TestAggregateVulnerabilityEmpty(t *testing.T) {
	agg := AggregateVulnerability(map[string]*runner.ToolResult{
		"nuclei": {Status: runner.StatusEmpty},
	})
	if agg["total"] != 0 {
		t.Errorf("total = %v", agg["total"])
	}
	if len(agg["findings"].([]map[string]interface{})) != 0 {
		t.Error("findings not empty")
	}
}

func TestClassifyNuclei(t *testing.T) {
	raw := `{"template-id":"git-config","info":{"name":"Git Config Exposure","severity":"Medium"}}
not json noise
{"template-id":"tech-detect","info":{"severity":"info"}}
`
	tr := classifyNuclei(&runner.Result{OK: true, Stdout: raw})
	if tr.Status != runner.StatusOK {
		t.Fatalf("status = %s", tr.Status)
	}
	findings := tr.Data.(map[string]interface{})["findings"].([]interface{})
	if len(findings) != 2 {
		t.Fatalf("findings = %v", findings)
	}
	first := findings[0].(map[string]interface{})
	if first["name"] != "Git Config Exposure" || first["severity"] != "medium" {
		t.Errorf("first = %v", first)
	}
	// Name falls back to template-id.
	second := findings[1].(map[string]interface{})
	if second["name"] != "tech-detect" {
		t.Errorf("second = %v", second)
	}
}

func TestClassifyNucleiNoFindings(t *testing.T) {
	tr := classifyNuclei(&runner.Result{OK: true, Stdout: "scan complete, nothing found\n"})
	if tr.Status != runner.StatusEmpty {
		t.Errorf("status = %s", tr.Status)
	}
}

func TestClassifyNikto(t *testing.T) {
	raw := `{"host":"example.com","vulnerabilities":[{"id":"999","msg":"Server leaks inodes via ETags"},{"id":"000123"}]}`
	tr := classifyNikto(&runner.Result{OK: true, Stdout: raw})
	if tr.Status != runner.StatusOK {
		t.Fatalf("status = %s", tr.Status)
	}
	findings := tr.Data.(map[string]interface{})["findings"].([]interface{})
	if len(findings) != 2 {
		t.Fatalf("findings = %v", findings)
	}
	if findings[0].(map[string]interface{})["name"] != "Server leaks inodes via ETags" {
		t.Errorf("first = %v", findings[0])
	}
	if findings[1].(map[string]interface{})["name"] != "000123" {
		t.Errorf("second = %v", findings[1])
	}
}
