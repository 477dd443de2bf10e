package stages

import (
	"reflect"
	"testing"

	"github.com/osiriscare/recon/internal/runner"
)

func TestSplitCymru(t *testing.T) {
	got := splitCymru("15169 | 8.8.8.0/24 | US | arin | 2000-03-30")
	want := []string{"15169", "8.8.8.0/24", "US", "arin", "2000-03-30"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v", got)
	}
}

func TestAggregateASNMergesByNumber(t *testing.T) {
	individual := map[string]*runner.ToolResult{
		"cymru": {Status: runner.StatusOK, Data: map[string]interface{}{
			"asns": []interface{}{
				map[string]interface{}{
					"asn": "15169", "network": "8.8.8.0/24",
					"organization": "GOOGLE, US", "source": "cymru",
				},
				map[string]interface{}{
					"asn": "15169", "network": "8.8.4.0/24",
					"organization": "", "source": "cymru",
				},
				map[string]interface{}{
					"asn": "13335", "network": "1.1.1.0/24",
					"organization": "CLOUDFLARENET, US", "source": "cymru",
				},
			},
		}},
	}

	agg := AggregateASN(individual)
	asns := agg["asns"].([]map[string]interface{})
	if len(asns) != 2 {
		t.Fatalf("asns = %v", asns)
	}

	// Numeric order: 13335 before 15169.
	if asns[0]["asn"] != "13335" {
		t.Errorf("first = %v", asns[0]["asn"])
	}

	google := asns[1]
	networks := google["networks"].([]string)
	if !reflect.DeepEqual(networks, []string{"8.8.4.0/24", "8.8.8.0/24"}) {
		t.Errorf("networks = %v", networks)
	}
	if google["organization"] != "GOOGLE, US" {
		t.Errorf("organization = %v", google["organization"])
	}
	if !reflect.DeepEqual(google["sources"].([]string), []string{"cymru"}) {
		t.Errorf("sources = %v", google["sources"])
	}
}

func TestAggregateASNEmpty(t *testing.T) {
	agg := AggregateASN(map[string]*runner.ToolResult{
		"cymru": {Status: runner.StatusEmpty},
	})
	if len(agg["asns"].([]map[string]interface{})) != 0 {
		t.Errorf("agg = %v", agg)
	}
}
