package stages

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/osiriscare/recon/internal/runner"
)

func TestAggregateSubdomainsUnionsAndCounts(t *testing.T) {
	individual := map[string]*runner.ToolResult{
		"crtsh": {Status: runner.StatusOK, Data: map[string]interface{}{
			"subdomains": []string{"www.example.com", "API.example.com", "example.com"},
		}},
		"subfinder": {Status: runner.StatusOK, Data: map[string]interface{}{
			"subdomains": []string{"www.example.com", "mail.example.com"},
		}},
	}

	agg := AggregateSubdomains(individual, "example.com")
	subs := agg["subdomains"].([]string)
	want := []string{"api.example.com", "mail.example.com", "www.example.com"}
	if !reflect.DeepEqual(subs, want) {
		t.Errorf("subdomains = %v", subs)
	}
	if agg["count"] != 3 {
		t.Errorf("count = %v", agg["count"])
	}

	sources := agg["sources"].(map[string]interface{})
	if sources["crtsh"] != 2 || sources["subfinder"] != 2 {
		t.Errorf("sources = %v", sources)
	}
}

func TestAggregateSubdomainsExcludesApex(t *testing.T) {
	individual := map[string]*runner.ToolResult{
		"crtsh": {Status: runner.StatusOK, Data: map[string]interface{}{
			"subdomains": []string{"example.com", "EXAMPLE.COM"},
		}},
	}
	agg := AggregateSubdomains(individual, "example.com")
	if agg["count"] != 0 {
		t.Errorf("count = %v", agg["count"])
	}
	if len(agg["sources"].(map[string]interface{})) != 0 {
		t.Errorf("sources = %v", agg["sources"])
	}
}

func TestClassifyLineList(t *testing.T) {
	tr := classifyLineList(&runner.Result{OK: true, Stdout: "a.example.com\n\n  b.example.com  \n"}, "subdomains")
	if tr.Status != runner.StatusOK {
		t.Fatalf("status = %s", tr.Status)
	}
	list := tr.Data.(map[string]interface{})["subdomains"].([]string)
	if !reflect.DeepEqual(list, []string{"a.example.com", "b.example.com"}) {
		t.Errorf("list = %v", list)
	}
}

func TestQueryCrtsh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("output") != "json" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(`[
			{"name_value": "www.example.com\n*.staging.example.com"},
			{"name_value": "WWW.EXAMPLE.COM"},
			{"name_value": "unrelated.org"}
		]`))
	}))
	defer srv.Close()

	env := NewEnv(nil, nil)
	env.CrtshBaseURL = srv.URL
	s := NewSubdomains(env)

	names, err := s.queryCrtsh(context.Background(), "example.com")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"staging.example.com", "www.example.com"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestQueryCrtshHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	env := NewEnv(nil, nil)
	env.CrtshBaseURL = srv.URL
	s := NewSubdomains(env)

	if _, err := s.queryCrtsh(context.Background(), "example.com"); err == nil {
		t.Fatal("expected error")
	}
}
