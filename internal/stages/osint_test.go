package stages

import (
	"reflect"
	"testing"

	"github.com/osiriscare/recon/internal/runner"
)

func TestClassifyHarvesterFiltersDomain(t *testing.T) {
	raw := `[*] Emails found:
Admin@Example.com
ceo@example.com
noise@otherdomain.org
[*] URLs found:
https://example.com/careers
https://linkedin.com/company/example
`
	tr := classifyHarvester(&runner.Result{OK: true, Stdout: raw}, "example.com")
	if tr.Status != runner.StatusOK {
		t.Fatalf("status = %s", tr.Status)
	}
	data := tr.Data.(map[string]interface{})
	emails := data["emails"].([]string)
	if len(emails) != 2 {
		t.Errorf("emails = %v", emails)
	}
	for _, e := range emails {
		if e != "admin@example.com" && e != "ceo@example.com" {
			t.Errorf("unexpected email %q", e)
		}
	}
	if len(data["urls"].([]string)) != 2 {
		t.Errorf("urls = %v", data["urls"])
	}
}

func TestAggregateOSINTSplitsProfiles(t *testing.T) {
	individual := map[string]*runner.ToolResult{
		"theHarvester": {Status: runner.StatusOK, Data: map[string]interface{}{
			"emails": []string{"CEO@example.com", "ceo@example.com"},
			"urls": []string{
				"https://linkedin.com/company/example",
				"https://github.com/example",
				"https://example.com/about",
				"https://example.com/about",
			},
		}},
	}

	agg := AggregateOSINT(individual)

	emails := agg["emails"].([]string)
	if !reflect.DeepEqual(emails, []string{"ceo@example.com"}) {
		t.Errorf("emails = %v", emails)
	}

	profiles := agg["profiles"].([]map[string]interface{})
	if len(profiles) != 2 {
		t.Fatalf("profiles = %v", profiles)
	}
	if profiles[0]["network"] != "github" || profiles[1]["network"] != "linkedin" {
		t.Errorf("networks = %v, %v", profiles[0]["network"], profiles[1]["network"])
	}

	urls := agg["urls"].([]string)
	if !reflect.DeepEqual(urls, []string{"https://example.com/about"}) {
		t.Errorf("urls = %v", urls)
	}
}

func TestAggregateOSINTEmpty(t *testing.T) {
	agg := AggregateOSINT(map[string]*runner.ToolResult{
		"theHarvester": {Status: runner.StatusUnavailable},
	})
	if len(agg["emails"].([]string)) != 0 || len(agg["urls"].([]string)) != 0 {
		t.Errorf("agg = %v", agg)
	}
	if len(agg["profiles"].([]map[string]interface{})) != 0 {
		t.Error("profiles not empty")
	}
}
