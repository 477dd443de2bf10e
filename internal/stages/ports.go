package stages

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/osiriscare/recon/internal/config"
	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// Ports unions open-port findings from a native TCP connect sweep and any
// external scanners. The union is keyed by port number; the first scanner to
// report a port wins for its service metadata. When port 22 is open an SSH
// probe records the banner and host key fingerprint (it never authenticates).
type Ports struct {
	env *Env
}

func NewPorts(env *Env) *Ports { return &Ports{env: env} }

func (s *Ports) Name() string { return "ports" }

// topPorts is the connect-scan port list, ordered by prevalence. The
// "topPorts" stage option takes a prefix of this list.
var topPorts = []int{
	80, 443, 22, 21, 25, 53, 110, 143, 3389, 445, 139, 135, 993, 995, 8080,
	8443, 587, 3306, 5432, 1433, 1521, 23, 111, 2049, 5900, 6379, 27017,
	9200, 9300, 11211, 8000, 8888, 5000, 9090, 161, 389, 636, 88, 464, 123,
	69, 514, 873, 1080, 3128, 8081, 9000, 10000, 32768, 49152,
}

var wellKnownServices = map[int]string{
	21: "ftp", 22: "ssh", 23: "telnet", 25: "smtp", 53: "domain",
	80: "http", 88: "kerberos", 110: "pop3", 111: "rpcbind", 135: "msrpc",
	139: "netbios-ssn", 143: "imap", 161: "snmp", 389: "ldap", 443: "https",
	445: "microsoft-ds", 587: "submission", 636: "ldaps", 993: "imaps",
	995: "pop3s", 1433: "ms-sql-s", 1521: "oracle", 2049: "nfs",
	3128: "squid-http", 3306: "mysql", 3389: "ms-wbt-server",
	5000: "upnp", 5432: "postgresql", 5900: "vnc", 6379: "redis",
	8000: "http-alt", 8080: "http-proxy", 8443: "https-alt",
	9200: "elasticsearch", 11211: "memcache", 27017: "mongod",
}

func (s *Ports) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)

		limit := config.Int(opts.Config, "topPorts", 100)
		concurrency := config.Int(opts.Config, "concurrency", 10)

		individual["connect"] = s.connectScan(ctx, tgt.Host, limit, concurrency)

		if s.env.Runner.IsAvailable("nmap") {
			res := s.env.Runner.Run(ctx, "nmap",
				[]string{"-Pn", "--top-ports", strconv.Itoa(limit), "-oG", "-", tgt.Host},
				runner.Options{Timeout: opts.Timeout})
			individual["nmap"] = classifyNmapGrepable(res)
		}

		agg := AggregatePorts(individual)
		open := agg["openPorts"].([]map[string]interface{})

		if config.Bool(opts.Config, "sshProbe", true) {
			for _, p := range open {
				if p["port"] == "22" {
					if probe := s.sshProbe(tgt.Host); probe != nil {
						individual["ssh-probe"] = &runner.ToolResult{Status: runner.StatusOK, Data: probe}
						p["ssh"] = probe
					}
					break
				}
			}
		}

		return finalize(individual, agg, errs, len(open) > 0)
	})
}

// connectScan dials the top N ports with bounded concurrency. Same dial
// pattern as a reachability check: a successful connect means open, anything
// else is treated as closed or filtered.
func (s *Ports) connectScan(ctx context.Context, host string, limit, concurrency int) *runner.ToolResult {
	if limit > len(topPorts) {
		limit = len(topPorts)
	}
	if limit < 1 {
		limit = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}

	ports := topPorts[:limit]
	sem := make(chan struct{}, concurrency)
	var mu sync.Mutex
	var open []int
	var wg sync.WaitGroup

	for _, port := range ports {
		select {
		case <-ctx.Done():
			wg.Wait()
			return &runner.ToolResult{Status: runner.StatusError, Error: ctx.Err().Error()}
		default:
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(port int) {
			defer wg.Done()
			defer func() { <-sem }()
			conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 3*time.Second)
			if err == nil {
				conn.Close()
				mu.Lock()
				open = append(open, port)
				mu.Unlock()
			}
		}(port)
	}
	wg.Wait()

	if len(open) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}
	sort.Ints(open)

	entries := make([]interface{}, 0, len(open))
	for _, port := range open {
		entries = append(entries, map[string]interface{}{
			"port":    strconv.Itoa(port),
			"state":   "open",
			"service": wellKnownServices[port],
		})
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{"ports": entries}}
}

// classifyNmapGrepable lifts "Ports:" lines out of nmap's grepable output.
// Deep nmap parsing lives with the per-tool parser collaborators; this keeps
// only port/state/service.
func classifyNmapGrepable(res *runner.Result) *runner.ToolResult {
	tr := runner.Classify(res, true)
	if tr.Status != runner.StatusOK {
		return tr
	}
	data, _ := tr.Data.(map[string]interface{})
	raw, _ := data["raw"].(string)

	var entries []interface{}
	for _, line := range strings.Split(raw, "\n") {
		idx := strings.Index(line, "Ports: ")
		if idx < 0 {
			continue
		}
		for _, field := range strings.Split(line[idx+len("Ports: "):], ",") {
			parts := strings.Split(strings.TrimSpace(field), "/")
			if len(parts) < 5 || parts[1] != "open" {
				continue
			}
			entries = append(entries, map[string]interface{}{
				"port":    parts[0],
				"state":   parts[1],
				"service": parts[4],
			})
		}
	}
	if len(entries) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{"ports": entries}}
}

// sshProbe performs an unauthenticated handshake to capture the server
// banner and host key fingerprint.
func (s *Ports) sshProbe(host string) map[string]interface{} {
	var banner, fingerprint, keyType string

	cfg := &ssh.ClientConfig{
		User: "recon",
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			fingerprint = ssh.FingerprintSHA256(key)
			keyType = key.Type()
			return nil
		},
		Auth:    []ssh.AuthMethod{},
		Timeout: 5 * time.Second,
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, "22"), 5*time.Second)
	if err != nil {
		return nil
	}
	defer conn.Close()

	sshConn, _, _, err := ssh.NewClientConn(conn, host+":22", cfg)
	if err == nil {
		banner = string(sshConn.ServerVersion())
		sshConn.Close()
	}
	// Auth is expected to fail (no methods offered); the handshake still
	// yields the host key before that point.
	if fingerprint == "" && banner == "" {
		if err != nil {
			banner = extractBanner(err.Error())
		}
		if banner == "" {
			return nil
		}
	}

	out := map[string]interface{}{}
	if banner != "" {
		out["banner"] = banner
	}
	if fingerprint != "" {
		out["hostKeyFingerprint"] = fingerprint
		out["hostKeyType"] = keyType
	}
	return out
}

func extractBanner(msg string) string {
	idx := strings.Index(msg, "SSH-")
	if idx < 0 {
		return ""
	}
	rest := msg[idx:]
	if end := strings.IndexAny(rest, " ,"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// AggregatePorts unions ports across scanners, keyed by port number.
// First-seen (in sorted tool order) wins for service metadata.
func AggregatePorts(individual map[string]*runner.ToolResult) map[string]interface{} {
	byPort := map[string]map[string]interface{}{}
	var order []string

	for _, name := range orderedKeys(individual) {
		tr := individual[name]
		if tr.Status != runner.StatusOK {
			continue
		}
		data, ok := tr.Data.(map[string]interface{})
		if !ok {
			continue
		}
		rawPorts, ok := data["ports"].([]interface{})
		if !ok {
			continue
		}
		for _, rp := range rawPorts {
			entry, ok := rp.(map[string]interface{})
			if !ok {
				continue
			}
			portStr := fmt.Sprintf("%v", entry["port"])
			if portStr == "" || portStr == "<nil>" {
				continue
			}
			if _, exists := byPort[portStr]; exists {
				continue
			}
			cp := map[string]interface{}{
				"port":    portStr,
				"state":   entry["state"],
				"service": entry["service"],
			}
			byPort[portStr] = cp
			order = append(order, portStr)
		}
	}

	sort.Slice(order, func(i, j int) bool {
		a, _ := strconv.Atoi(order[i])
		b, _ := strconv.Atoi(order[j])
		return a < b
	})

	open := make([]map[string]interface{}, 0, len(order))
	for _, p := range order {
		open = append(open, byPort[p])
	}

	return map[string]interface{}{"openPorts": open}
}
