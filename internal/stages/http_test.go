package stages

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

func TestHTTPStageProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			http.Redirect(w, r, "/home", http.StatusFound)
		case "/home":
			w.Header().Set("Server", "nginx/1.24.0")
			w.Header().Set("Strict-Transport-Security", "max-age=31536000")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("hello"))
		}
	}))
	defer srv.Close()

	tgt, err := target.Normalize(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	s := NewHTTP(NewEnv(nil, nil))
	res := s.Execute(context.Background(), tgt, Options{})

	if res.Status != StatusOK {
		t.Fatalf("status = %s, errors = %v", res.Status, res.Errors)
	}
	if res.Get("statusCode") != 200 {
		t.Errorf("statusCode = %v", res.Get("statusCode"))
	}

	redirects := toStringSlice(res.Get("redirects"))
	if len(redirects) != 1 {
		t.Errorf("redirects = %v", redirects)
	}

	headers := res.Get("headers").(map[string]string)
	if headers["server"] != "nginx/1.24.0" {
		t.Errorf("headers = %v", headers)
	}

	sec := res.Get("securityHeaders").(map[string]interface{})
	if sec["hsts"] != "max-age=31536000" {
		t.Errorf("hsts = %v", sec["hsts"])
	}
	if sec["csp"] != nil {
		t.Errorf("csp = %v", sec["csp"])
	}
}

func TestHTTPStageUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // guarantee a refused connection

	tgt, err := target.Normalize(url)
	if err != nil {
		t.Fatal(err)
	}

	s := NewHTTP(NewEnv(nil, nil))
	res := s.Execute(context.Background(), tgt, Options{})
	if res.Status != StatusError {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Errors["request"] == "" {
		t.Error("missing request error")
	}
	// Aggregate keys still present on failure.
	if _, ok := res.Aggregated["securityHeaders"]; !ok {
		t.Error("securityHeaders missing")
	}
}

func TestAggregateHTTPLowercasesHeaders(t *testing.T) {
	individual := map[string]*runner.ToolResult{
		"native": {Status: runner.StatusOK, Data: map[string]interface{}{
			"statusCode": 200,
			"headers": map[string]interface{}{
				"Content-Security-Policy": "default-src 'self'",
				"X-Frame-Options":         "DENY",
			},
		}},
	}
	agg := AggregateHTTP(individual)
	sec := agg["securityHeaders"].(map[string]interface{})
	if sec["csp"] != "default-src 'self'" || sec["xFrameOptions"] != "DENY" {
		t.Errorf("securityHeaders = %v", sec)
	}
	headers := agg["headers"].(map[string]string)
	if _, ok := headers["content-security-policy"]; !ok {
		t.Errorf("headers = %v", headers)
	}
}
