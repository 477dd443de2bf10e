package stages

import (
	"context"
	"crypto/tls"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// TLSAudit inspects the target's TLS posture: which protocol versions the
// server accepts, which cipher suites it negotiates, known protocol
// weaknesses, and a coarse letter grade. The native prober handshakes once
// per protocol version; sslscan contributes depth when installed.
type TLSAudit struct {
	env *Env
}

func NewTLSAudit(env *Env) *TLSAudit { return &TLSAudit{env: env} }

func (s *TLSAudit) Name() string { return "tlsAudit" }

// protocolVersions the native prober attempts, oldest first.
var protocolVersions = []struct {
	name string
	id   uint16
}{
	{"TLSv1.0", tls.VersionTLS10},
	{"TLSv1.1", tls.VersionTLS11},
	{"TLSv1.2", tls.VersionTLS12},
	{"TLSv1.3", tls.VersionTLS13},
}

func (s *TLSAudit) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)

		port := tgt.Port
		if port == 0 || tgt.Protocol == "http" {
			port = 443
		}
		addr := net.JoinHostPort(tgt.Host, strconv.Itoa(port))

		individual["native"] = s.nativeProbe(ctx, tgt.Host, addr)

		if s.env.Runner.IsAvailable("sslscan") {
			res := s.env.Runner.Run(ctx, "sslscan",
				[]string{"--no-colour", addr},
				runner.Options{Timeout: opts.Timeout})
			individual["sslscan"] = classifySslscan(res)
		}

		agg := AggregateTLSAudit(individual)
		return finalize(individual, agg, errs, len(agg["protocols"].([]string)) > 0)
	})
}

// nativeProbe handshakes once per protocol version and records the cipher
// the server picked for each.
func (s *TLSAudit) nativeProbe(ctx context.Context, host, addr string) *runner.ToolResult {
	var protocols, ciphers []string

	for _, pv := range protocolVersions {
		select {
		case <-ctx.Done():
			return &runner.ToolResult{Status: runner.StatusError, Error: ctx.Err().Error()}
		default:
		}

		dialer := &net.Dialer{Timeout: 5 * time.Second}
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
			ServerName:         host,
			MinVersion:         pv.id,
			MaxVersion:         pv.id,
			InsecureSkipVerify: true, // posture inspection, not trust
		})
		if err != nil {
			continue
		}
		state := conn.ConnectionState()
		conn.Close()

		protocols = append(protocols, pv.name)
		if name := tls.CipherSuiteName(state.CipherSuite); name != "" {
			ciphers = append(ciphers, name)
		}
	}

	if len(protocols) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{
		"protocols": protocols,
		"ciphers":   ciphers,
	}}
}

// classifySslscan lifts accepted protocols and ciphers out of sslscan's text
// output ("Accepted  TLSv1.2  256 bits  ECDHE-RSA-AES256-GCM-SHA384").
func classifySslscan(res *runner.Result) *runner.ToolResult {
	tr := runner.Classify(res, true)
	if tr.Status != runner.StatusOK {
		return tr
	}
	data, _ := tr.Data.(map[string]interface{})
	raw, _ := data["raw"].(string)

	var protocols, ciphers []string
	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "Accepted", "Preferred":
			protocols = append(protocols, fields[1])
			if len(fields) >= 4 {
				ciphers = append(ciphers, fields[len(fields)-1])
			}
		}
	}
	if len(protocols) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{
		"protocols": protocols,
		"ciphers":   ciphers,
	}}
}

// CipherStrength classifies a cipher suite name: 256-bit or ChaCha20 is
// strong, 128-bit is medium, RC4/DES/NULL is weak.
func CipherStrength(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "rc4"), strings.Contains(lower, "des"), strings.Contains(lower, "null"):
		return "weak"
	case strings.Contains(lower, "256"), strings.Contains(lower, "chacha20"):
		return "strong"
	case strings.Contains(lower, "128"):
		return "medium"
	}
	return "medium"
}

// protocolWeaknesses maps legacy protocol versions to their named findings.
var protocolWeaknesses = map[string]string{
	"SSLv2":   "SSLv2 enabled (DROWN)",
	"SSLv3":   "SSLv3 enabled (POODLE)",
	"TLSv1.0": "TLSv1.0 enabled (deprecated)",
	"TLSv1.1": "TLSv1.1 enabled (deprecated)",
}

// AggregateTLSAudit dedups protocols and ciphers by name, derives per-cipher
// strength, collects protocol weaknesses as named vulnerabilities, and grades
// the overall posture.
func AggregateTLSAudit(individual map[string]*runner.ToolResult) map[string]interface{} {
	var protocols, cipherNames []string

	for _, tool := range orderedKeys(individual) {
		tr := individual[tool]
		if tr.Status != runner.StatusOK {
			continue
		}
		data, ok := tr.Data.(map[string]interface{})
		if !ok {
			continue
		}
		protocols = append(protocols, toStringSlice(data["protocols"])...)
		cipherNames = append(cipherNames, toStringSlice(data["ciphers"])...)
	}

	protocols = sortedUnique(protocols)
	cipherNames = sortedUnique(cipherNames)

	ciphers := make([]map[string]interface{}, 0, len(cipherNames))
	weakCiphers := 0
	for _, name := range cipherNames {
		strength := CipherStrength(name)
		if strength == "weak" {
			weakCiphers++
		}
		ciphers = append(ciphers, map[string]interface{}{
			"name":     name,
			"strength": strength,
		})
	}

	var vulns []string
	for _, p := range protocols {
		if v, ok := protocolWeaknesses[p]; ok {
			vulns = append(vulns, v)
		}
	}
	if weakCiphers > 0 {
		vulns = append(vulns, "weak cipher suites accepted")
	}
	sort.Strings(vulns)
	if vulns == nil {
		vulns = []string{}
	}

	return map[string]interface{}{
		"protocols":       protocols,
		"ciphers":         ciphers,
		"vulnerabilities": vulns,
		"grade":           tlsGrade(protocols, weakCiphers),
	}
}

// tlsGrade assigns a coarse letter grade from the protocol floor and weak
// cipher presence.
func tlsGrade(protocols []string, weakCiphers int) interface{} {
	if len(protocols) == 0 {
		return nil
	}
	has := func(p string) bool {
		for _, v := range protocols {
			if v == p {
				return true
			}
		}
		return false
	}
	switch {
	case has("SSLv2") || has("SSLv3"):
		return "F"
	case weakCiphers > 0:
		return "D"
	case has("TLSv1.0"):
		return "C"
	case has("TLSv1.1"):
		return "B"
	case has("TLSv1.3") && !has("TLSv1.2"):
		return "A+"
	default:
		return "A"
	}
}
