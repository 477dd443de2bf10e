package stages

import (
	"context"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

func TestCertificateStageAgainstTLSServer(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	tgt := target.Target{Host: u.Hostname(), Port: port, Protocol: "https"}

	s := NewCertificate(NewEnv(nil, nil))
	res := s.Execute(context.Background(), tgt, Options{Timeout: 5 * time.Second})

	if res.Status != StatusOK {
		t.Fatalf("status = %s, errors = %v", res.Status, res.Errors)
	}
	fp, _ := res.Get("fingerprint").(string)
	if len(fp) != 64 {
		t.Errorf("fingerprint = %q", fp)
	}
	if res.Get("validTo") == nil || res.Get("issuer") == nil {
		t.Errorf("aggregate = %v", res.Aggregated)
	}
}

func TestCertificateStageHandshakeFailure(t *testing.T) {
	// Plain HTTP server: the TLS handshake must fail.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	tgt := target.Target{Host: u.Hostname(), Port: port, Protocol: "https"}

	s := NewCertificate(NewEnv(nil, nil))
	res := s.Execute(context.Background(), tgt, Options{Timeout: 3 * time.Second})

	if res.Status != StatusError {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Errors["handshake"] == "" {
		t.Error("missing handshake error")
	}
	// Aggregate shape survives the failure.
	if _, ok := res.Aggregated["sans"]; !ok {
		t.Error("sans missing")
	}
}

func TestCertDataShape(t *testing.T) {
	cert := &x509.Certificate{
		Raw:      []byte("fake der bytes"),
		DNSNames: []string{"example.com", "www.example.com"},
	}
	data := certData(cert)
	if len(data["fingerprint"].(string)) != 64 {
		t.Errorf("fingerprint = %v", data["fingerprint"])
	}
	if !reflect.DeepEqual(data["sans"], []string{"example.com", "www.example.com"}) {
		t.Errorf("sans = %v", data["sans"])
	}
}

func TestAggregateCertificateUnionsSANs(t *testing.T) {
	individual := map[string]*runner.ToolResult{
		"native": {Status: runner.StatusOK, Data: map[string]interface{}{
			"issuer":      "CN=R3",
			"fingerprint": "abc",
			"sans":        []string{"example.com", "www.example.com"},
		}},
		"sslscan": {Status: runner.StatusOK, Data: map[string]interface{}{
			"issuer": "should-not-win",
			"sans":   []string{"api.example.com", "example.com"},
		}},
	}
	agg := AggregateCertificate(individual)
	if agg["issuer"] != "CN=R3" {
		t.Errorf("issuer = %v", agg["issuer"])
	}
	sans := agg["sans"].([]string)
	want := []string{"api.example.com", "example.com", "www.example.com"}
	if !reflect.DeepEqual(sans, want) {
		t.Errorf("sans = %v", sans)
	}
}
