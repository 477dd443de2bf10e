package stages

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/osiriscare/recon/internal/runner"
)

func TestFinalizeStatusDerivation(t *testing.T) {
	cases := []struct {
		name       string
		individual map[string]*runner.ToolResult
		hasData    bool
		want       string
	}{
		{"data wins", map[string]*runner.ToolResult{"a": {Status: StatusError}}, true, StatusOK},
		{"all unavailable", map[string]*runner.ToolResult{
			"a": {Status: StatusUnavailable}, "b": {Status: StatusUnavailable},
		}, false, StatusUnavailable},
		{"error without data", map[string]*runner.ToolResult{
			"a": {Status: StatusError}, "b": {Status: StatusUnavailable},
		}, false, StatusError},
		{"empty tools", map[string]*runner.ToolResult{
			"a": {Status: StatusEmpty},
		}, false, StatusEmpty},
		{"no tools no errors", map[string]*runner.ToolResult{}, false, StatusEmpty},
	}

	for _, c := range cases {
		got := finalize(c.individual, map[string]interface{}{}, map[string]string{}, c.hasData)
		if got.Status != c.want {
			t.Errorf("%s: status = %s, want %s", c.name, got.Status, c.want)
		}
	}
}

func TestFinalizeErrorsOnlyIsError(t *testing.T) {
	got := finalize(map[string]*runner.ToolResult{}, nil, map[string]string{"x": "boom"}, false)
	if got.Status != StatusError {
		t.Errorf("status = %s", got.Status)
	}
}

func TestExecGuardContainsPanic(t *testing.T) {
	res := execGuard("test", func() *Result {
		panic("stage blew up")
	})
	if res.Status != StatusError {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Errors["panic"] != "stage blew up" {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestResultMarshalSpreadsAggregate(t *testing.T) {
	res := &Result{
		Status:     StatusOK,
		Aggregated: map[string]interface{}{"count": 2},
		Individual: map[string]*runner.ToolResult{"native": {Status: StatusOK}},
	}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out["status"] != "ok" || out["count"] != 2.0 {
		t.Errorf("root = %v", out)
	}
	if _, ok := out["_individual"]; !ok {
		t.Error("_individual missing")
	}
	if _, ok := out["_aggregated"]; !ok {
		t.Error("_aggregated missing")
	}
}

func TestSortedUnique(t *testing.T) {
	got := sortedUnique([]string{"b", "", "a", "b", "A"})
	want := []string{"A", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSortedUniqueFoldKeepsFirstCasing(t *testing.T) {
	got := sortedUniqueFold([]string{"WordPress", "wordpress", "PHP", "nginx"})
	want := []string{"nginx", "PHP", "WordPress"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPipelineMatchesOrder(t *testing.T) {
	pipeline := Pipeline(NewEnv(nil, nil))
	if len(pipeline) != len(Order) {
		t.Fatalf("pipeline has %d stages, order names %d", len(pipeline), len(Order))
	}
	for i, stage := range pipeline {
		if stage.Name() != Order[i] {
			t.Errorf("stage %d = %s, want %s", i, stage.Name(), Order[i])
		}
	}
}
