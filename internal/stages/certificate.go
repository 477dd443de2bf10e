package stages

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"net"
	"strconv"
	"time"

	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// Certificate grabs the target's TLS leaf certificate with a native
// handshake. The aggregate is a single issuer/subject/validity/fingerprint
// record plus the SAN list.
type Certificate struct {
	env *Env
}

func NewCertificate(env *Env) *Certificate { return &Certificate{env: env} }

func (s *Certificate) Name() string { return "certificate" }

func (s *Certificate) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)

		port := tgt.Port
		if port == 0 || tgt.Protocol == "http" {
			port = 443
		}

		cert, err := fetchLeaf(ctx, tgt.Host, port, opts.Timeout)
		if err != nil {
			errs["handshake"] = err.Error()
			individual["native"] = &runner.ToolResult{Status: runner.StatusError, Error: err.Error()}
			return finalize(individual, emptyCertAggregate(), errs, false)
		}

		individual["native"] = &runner.ToolResult{Status: runner.StatusOK, Data: certData(cert)}
		agg := AggregateCertificate(individual)
		return finalize(individual, agg, errs, true)
	})
}

func fetchLeaf(ctx context.Context, host string, port int, timeout time.Duration) (*x509.Certificate, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(host, strconv.Itoa(port)), &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, // inspection, not trust: expired and self-signed certs are findings
	})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, net.ErrClosed
	}
	_ = ctx
	return certs[0], nil
}

func certData(cert *x509.Certificate) map[string]interface{} {
	sum := sha256.Sum256(cert.Raw)
	return map[string]interface{}{
		"issuer":      cert.Issuer.String(),
		"subject":     cert.Subject.String(),
		"validFrom":   cert.NotBefore.UTC().Format(time.RFC3339),
		"validTo":     cert.NotAfter.UTC().Format(time.RFC3339),
		"fingerprint": hex.EncodeToString(sum[:]),
		"sans":        append([]string{}, cert.DNSNames...),
	}
}

func emptyCertAggregate() map[string]interface{} {
	return map[string]interface{}{
		"issuer":      nil,
		"subject":     nil,
		"validFrom":   nil,
		"validTo":     nil,
		"fingerprint": nil,
		"sans":        []string{},
	}
}

// AggregateCertificate keeps the first tool's certificate fields and unions
// SANs across tools.
func AggregateCertificate(individual map[string]*runner.ToolResult) map[string]interface{} {
	agg := emptyCertAggregate()
	var sans []string

	for _, name := range orderedKeys(individual) {
		tr := individual[name]
		if tr.Status != runner.StatusOK {
			continue
		}
		data, ok := tr.Data.(map[string]interface{})
		if !ok {
			continue
		}
		for _, field := range []string{"issuer", "subject", "validFrom", "validTo", "fingerprint"} {
			if agg[field] == nil && data[field] != nil {
				agg[field] = data[field]
			}
		}
		if raw, ok := data["sans"]; ok {
			sans = append(sans, toStringSlice(raw)...)
		}
	}

	agg["sans"] = sortedUnique(sans)
	return agg
}
