package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osiriscare/recon/internal/report"
	"github.com/osiriscare/recon/internal/stages"
)

func okResult(agg map[string]interface{}) *stages.Result {
	return &stages.Result{Status: stages.StatusOK, Aggregated: agg}
}

func TestBuildEmptyKeepsAllKeys(t *testing.T) {
	fp := Build(nil)

	infra := fp["infrastructure"].(map[string]interface{})
	ips := infra["ips"].(map[string]interface{})
	assert.Equal(t, []string{}, ips["ipv4"])
	assert.Nil(t, infra["certificate"])

	surface := fp["attackSurface"].(map[string]interface{})
	subs := surface["subdomains"].(map[string]interface{})
	assert.Equal(t, 0, subs["total"])

	security := fp["security"].(map[string]interface{})
	assert.Nil(t, security["tls"])
	headers := security["headers"].(map[string]interface{})
	require.Contains(t, headers, "hsts")
	require.Contains(t, headers, "csp")
}

func TestBuildSortsAndDedups(t *testing.T) {
	results := report.NewResults()
	results.Set("dns", okResult(map[string]interface{}{
		"records": map[string]interface{}{
			"A":  []interface{}{"9.9.9.9", "1.1.1.1", "9.9.9.9"},
			"MX": []interface{}{"10 Mail.example.com", "20 backup.example.com"},
		},
	}))
	results.Set("subdomains", okResult(map[string]interface{}{
		"subdomains": []interface{}{"b.example.com", "a.example.com", "b.example.com"},
		"sources":    map[string]interface{}{"subfinder": 2.0},
	}))

	fp := Build(results)
	infra := fp["infrastructure"].(map[string]interface{})
	ips := infra["ips"].(map[string]interface{})
	assert.Equal(t, []string{"1.1.1.1", "9.9.9.9"}, ips["ipv4"])
	assert.Equal(t, []string{"backup.example.com", "mail.example.com"}, infra["mailServers"])

	subs := fp["attackSurface"].(map[string]interface{})["subdomains"].(map[string]interface{})
	assert.Equal(t, 2, subs["total"])
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, subs["list"])
	assert.Equal(t, []string{"subfinder"}, subs["sources"])
}

func TestBuildIgnoresNonOKStages(t *testing.T) {
	results := report.NewResults()
	results.Set("dns", &stages.Result{
		Status:     stages.StatusError,
		Aggregated: map[string]interface{}{"records": map[string]interface{}{"A": []interface{}{"1.1.1.1"}}},
	})
	results.Set("ports", &stages.Result{Status: stages.StatusSkipped})

	fp := Build(results)
	ips := fp["infrastructure"].(map[string]interface{})["ips"].(map[string]interface{})
	assert.Equal(t, []string{}, ips["ipv4"])
	assert.Equal(t, []interface{}{}, fp["attackSurface"].(map[string]interface{})["openPorts"])
}

func TestBuildOrdersPortsNumerically(t *testing.T) {
	results := report.NewResults()
	results.Set("ports", okResult(map[string]interface{}{
		"openPorts": []interface{}{
			map[string]interface{}{"port": "443", "service": "https"},
			map[string]interface{}{"port": "22", "service": "ssh"},
			map[string]interface{}{"port": "8080", "service": "http-proxy"},
		},
	}))

	fp := Build(results)
	assert.Equal(t, []string{"22", "443", "8080"}, PortNumbers(fp))
}

func TestBuildSummary(t *testing.T) {
	results := report.NewResults()
	results.Set("dns", okResult(map[string]interface{}{
		"records": map[string]interface{}{"A": []interface{}{"5.5.5.5", "1.2.3.4"}},
	}))
	results.Set("latency", okResult(map[string]interface{}{
		"ping": map[string]interface{}{"avg": 12.5},
	}))
	results.Set("ports", okResult(map[string]interface{}{
		"openPorts": []interface{}{
			map[string]interface{}{"port": "80"},
			map[string]interface{}{"port": "443"},
		},
	}))
	results.Set("fingerprint", okResult(map[string]interface{}{
		"server":   "cloudflare",
		"detected": []interface{}{"WordPress", "PHP"},
	}))

	summary := BuildSummary(Build(results))
	// Primary IP is the first sorted IPv4 address.
	assert.Equal(t, "1.2.3.4", summary["primaryIp"])
	assert.Equal(t, 12.5, summary["latencyMs"])
	assert.Equal(t, 2, summary["openPortCount"])
	assert.Equal(t, "cloudflare", summary["cdn"])
	assert.Equal(t, "cloudflare", summary["server"])
	assert.ElementsMatch(t, []string{"PHP", "WordPress"}, summary["technologies"])
}

func TestBuildSummaryNilFingerprint(t *testing.T) {
	summary := BuildSummary(nil)
	assert.Nil(t, summary["primaryIp"])
	assert.Equal(t, 0, summary["openPortCount"])
	assert.Nil(t, summary["cdn"])
}

func TestBuildDeterministic(t *testing.T) {
	results := report.NewResults()
	results.Set("dns", okResult(map[string]interface{}{
		"records": map[string]interface{}{"A": []interface{}{"2.2.2.2", "1.1.1.1"}},
	}))
	a := Build(results)
	b := Build(results)
	assert.Equal(t, a, b)
}
