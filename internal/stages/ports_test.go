package stages

import (
	"testing"

	"github.com/osiriscare/recon/internal/runner"
)

func TestAggregatePortsUnionsFirstSeenWins(t *testing.T) {
	individual := map[string]*runner.ToolResult{
		"connect": {Status: runner.StatusOK, Data: map[string]interface{}{
			"ports": []interface{}{
				map[string]interface{}{"port": "443", "state": "open", "service": "https"},
				map[string]interface{}{"port": "80", "state": "open", "service": "http"},
			},
		}},
		"nmap": {Status: runner.StatusOK, Data: map[string]interface{}{
			"ports": []interface{}{
				map[string]interface{}{"port": "80", "state": "open", "service": "http-from-nmap"},
				map[string]interface{}{"port": "8080", "state": "open", "service": "http-proxy"},
			},
		}},
	}

	agg := AggregatePorts(individual)
	open := agg["openPorts"].([]map[string]interface{})
	if len(open) != 3 {
		t.Fatalf("got %d ports", len(open))
	}
	// Numeric order.
	if open[0]["port"] != "80" || open[1]["port"] != "443" || open[2]["port"] != "8080" {
		t.Errorf("order = %v %v %v", open[0]["port"], open[1]["port"], open[2]["port"])
	}
	// "connect" sorts before "nmap", so its service metadata wins for port 80.
	if open[0]["service"] != "http" {
		t.Errorf("service = %v", open[0]["service"])
	}
}

func TestAggregatePortsSkipsFailedTools(t *testing.T) {
	individual := map[string]*runner.ToolResult{
		"connect": {Status: runner.StatusEmpty},
		"nmap":    {Status: runner.StatusError, Error: "boom"},
	}
	agg := AggregatePorts(individual)
	if len(agg["openPorts"].([]map[string]interface{})) != 0 {
		t.Errorf("agg = %v", agg)
	}
}

func TestClassifyNmapGrepable(t *testing.T) {
	raw := `# Nmap 7.94 scan initiated
Host: 93.184.216.34 (example.com)	Status: Up
Host: 93.184.216.34 (example.com)	Ports: 80/open/tcp//http///, 443/open/tcp//https///, 22/closed/tcp//ssh///
# Nmap done
`
	tr := classifyNmapGrepable(&runner.Result{OK: true, Stdout: raw})
	if tr.Status != runner.StatusOK {
		t.Fatalf("status = %s", tr.Status)
	}
	data := tr.Data.(map[string]interface{})
	entries := data["ports"].([]interface{})
	if len(entries) != 2 {
		t.Fatalf("entries = %v", entries)
	}
	first := entries[0].(map[string]interface{})
	if first["port"] != "80" || first["service"] != "http" {
		t.Errorf("first = %v", first)
	}
}

func TestClassifyNmapGrepableNoPorts(t *testing.T) {
	tr := classifyNmapGrepable(&runner.Result{OK: true, Stdout: "Host: x Status: Up\n"})
	if tr.Status != runner.StatusEmpty {
		t.Errorf("status = %s", tr.Status)
	}
}

func TestExtractBanner(t *testing.T) {
	cases := map[string]string{
		"ssh: handshake failed: remote: SSH-2.0-OpenSSH_9.6 something": "SSH-2.0-OpenSSH_9.6",
		"no banner here": "",
	}
	for in, want := range cases {
		if got := extractBanner(in); got != want {
			t.Errorf("extractBanner(%q) = %q, want %q", in, got, want)
		}
	}
}
