package report

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/osiriscare/recon/internal/stages"
)

func TestNewIDSortsChronologically(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	id1 := NewID(t1)
	id2 := NewID(t2)

	if !strings.HasPrefix(id1, "20260301T100000.000-") {
		t.Fatalf("id = %q", id1)
	}
	if id1 >= id2 {
		t.Errorf("ids not chronological: %q >= %q", id1, id2)
	}
	if len(strings.SplitN(id1, "-", 2)[1]) != 8 {
		t.Errorf("suffix length wrong in %q", id1)
	}
}

func TestSlug(t *testing.T) {
	got := Slug("2026-03-01T10:00:00.123Z")
	if strings.ContainsAny(got, ":.") {
		t.Errorf("slug still has reserved chars: %q", got)
	}
	if got != "2026-03-01T10-00-00-123Z" {
		t.Errorf("slug = %q", got)
	}
}

func TestResultsPreserveInsertionOrder(t *testing.T) {
	r := NewResults()
	for _, name := range []string{"dns", "certificate", "whois"} {
		r.Set(name, &stages.Result{Status: stages.StatusOK})
	}
	// Replacing keeps the original position.
	r.Set("certificate", &stages.Result{Status: stages.StatusEmpty})

	want := []string{"dns", "certificate", "whois"}
	got := r.Keys()
	if len(got) != len(want) {
		t.Fatalf("keys = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys = %v, want %v", got, want)
		}
	}
	if r.Get("certificate").Status != stages.StatusEmpty {
		t.Error("replacement did not take")
	}
}

func TestResultsMarshalOrder(t *testing.T) {
	r := NewResults()
	r.Set("zeta", &stages.Result{Status: stages.StatusOK})
	r.Set("alpha", &stages.Result{Status: stages.StatusOK})

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"zeta"`) {
		t.Fatalf("marshal output: %s", data)
	}
	if strings.Index(string(data), `"zeta"`) > strings.Index(string(data), `"alpha"`) {
		t.Errorf("insertion order lost: %s", data)
	}
}

func TestResultsUnmarshalLiftsStatus(t *testing.T) {
	doc := `{
		"dns": {"status": "ok", "records": {"A": ["1.2.3.4"]}, "_individual": {}, "errors": {}},
		"ports": {"status": "empty"}
	}`
	var r Results
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		t.Fatal(err)
	}

	keys := r.Keys()
	if len(keys) != 2 || keys[0] != "dns" || keys[1] != "ports" {
		t.Fatalf("keys = %v", keys)
	}

	dns := r.Get("dns")
	if dns.Status != "ok" {
		t.Errorf("status = %q", dns.Status)
	}
	if _, ok := dns.Aggregated["status"]; ok {
		t.Error("status left in aggregate")
	}
	if _, ok := dns.Aggregated["_individual"]; ok {
		t.Error("_individual left in aggregate")
	}
	if _, ok := dns.Aggregated["records"]; !ok {
		t.Error("aggregate payload lost")
	}
}

func TestReportRoundTrip(t *testing.T) {
	r := NewResults()
	r.Set("dns", &stages.Result{
		Status:     stages.StatusOK,
		Aggregated: map[string]interface{}{"records": map[string]interface{}{"A": []interface{}{"1.2.3.4"}}},
	})

	rep := &Report{
		ID:        NewID(time.Now()),
		Timestamp: "2026-03-01T10:00:00Z",
		Duration:  1234,
		Status:    StatusCompleted,
		Results:   r,
	}

	data, err := json.Marshal(rep)
	if err != nil {
		t.Fatal(err)
	}
	var back Report
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.ID != rep.ID || back.Duration != 1234 {
		t.Errorf("round trip lost fields: %+v", back)
	}
	if back.Results.Get("dns") == nil || back.Results.Get("dns").Status != "ok" {
		t.Errorf("results lost: %+v", back.Results)
	}
}
