package engine

import (
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/osiriscare/recon/internal/fingerprint"
	"github.com/osiriscare/recon/internal/report"
)

// GenerateJSONReport renders the report as indented JSON.
func (e *Engine) GenerateJSONReport(rep *report.Report) ([]byte, error) {
	return json.MarshalIndent(rep, "", "  ")
}

// GenerateMarkdownReport renders a human-readable summary.
func (e *Engine) GenerateMarkdownReport(rep *report.Report) string {
	summary := fingerprint.BuildSummary(rep.Fingerprint)
	var b strings.Builder

	fmt.Fprintf(&b, "# Recon Report: %s\n\n", rep.Target.Host)
	fmt.Fprintf(&b, "- **Scan ID:** %s\n", rep.ID)
	fmt.Fprintf(&b, "- **Timestamp:** %s\n", rep.Timestamp)
	fmt.Fprintf(&b, "- **Duration:** %d ms\n", rep.Duration)
	fmt.Fprintf(&b, "- **Status:** %s\n\n", rep.Status)

	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Primary IP | %s |\n", orDash(summary["primaryIp"]))
	fmt.Fprintf(&b, "| Server | %s |\n", orDash(summary["server"]))
	fmt.Fprintf(&b, "| CDN | %s |\n", orDash(summary["cdn"]))
	fmt.Fprintf(&b, "| Open ports | %v |\n", summary["openPortCount"])
	fmt.Fprintf(&b, "| Subdomains | %v |\n", summary["subdomainCount"])
	fmt.Fprintf(&b, "| Latency (ms) | %s |\n\n", orDash(summary["latencyMs"]))

	fmt.Fprintf(&b, "## Stages\n\n")
	fmt.Fprintf(&b, "| Stage | Status |\n|---|---|\n")
	for _, name := range rep.Results.Keys() {
		res := rep.Results.Get(name)
		fmt.Fprintf(&b, "| %s | %s |\n", name, res.Status)
	}
	b.WriteString("\n")

	if techs, ok := summary["technologies"].([]string); ok && len(techs) > 0 {
		fmt.Fprintf(&b, "## Technologies\n\n")
		for _, t := range techs {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		b.WriteString("\n")
	}

	if len(rep.Warnings) > 0 {
		fmt.Fprintf(&b, "## Warnings\n\n")
		for _, w := range rep.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}

	return b.String()
}

var htmlReportTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Recon Report: {{.Host}}</title></head>
<body>
<h1>Recon Report: {{.Host}}</h1>
<ul>
<li>Scan ID: {{.ID}}</li>
<li>Timestamp: {{.Timestamp}}</li>
<li>Duration: {{.Duration}} ms</li>
<li>Status: {{.Status}}</li>
</ul>
<h2>Stages</h2>
<table border="1" cellpadding="4">
<tr><th>Stage</th><th>Status</th></tr>
{{range .Stages}}<tr><td>{{.Name}}</td><td>{{.Status}}</td></tr>
{{end}}</table>
</body>
</html>
`))

// GenerateHTMLReport renders a minimal standalone HTML page.
func (e *Engine) GenerateHTMLReport(rep *report.Report) (string, error) {
	type stageRow struct{ Name, Status string }
	data := struct {
		Host, ID, Timestamp, Status string
		Duration                    int64
		Stages                      []stageRow
	}{
		Host:      rep.Target.Host,
		ID:        rep.ID,
		Timestamp: rep.Timestamp,
		Status:    rep.Status,
		Duration:  rep.Duration,
	}
	for _, name := range rep.Results.Keys() {
		data.Stages = append(data.Stages, stageRow{Name: name, Status: rep.Results.Get(name).Status})
	}

	var b strings.Builder
	if err := htmlReportTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render html report: %w", err)
	}
	return b.String(), nil
}

func orDash(v interface{}) string {
	if v == nil {
		return "-"
	}
	if s, ok := v.(string); ok && s == "" {
		return "-"
	}
	return fmt.Sprintf("%v", v)
}
