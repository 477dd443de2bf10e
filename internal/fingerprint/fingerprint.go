// Package fingerprint condenses heterogeneous stage results into the
// canonical fingerprint used for diffing and host summaries. Every list in
// the output is sorted and deduplicated, and every key is always present
// (null or empty, never absent) so diffs stay stable across runs.
package fingerprint

import (
	"sort"
	"strings"

	"github.com/osiriscare/recon/internal/report"
)

// Build derives a fingerprint from the stage result map. Only stages whose
// status is "ok" contribute.
func Build(results *report.Results) map[string]interface{} {
	fp := map[string]interface{}{
		"infrastructure": map[string]interface{}{
			"ips": map[string]interface{}{
				"ipv4": []string{},
				"ipv6": []string{},
			},
			"nameservers": []string{},
			"mailServers": []string{},
			"txtRecords":  []string{},
			"certificate": nil,
			"latency": map[string]interface{}{
				"ping":       nil,
				"traceroute": nil,
			},
		},
		"attackSurface": map[string]interface{}{
			"openPorts": []interface{}{},
			"subdomains": map[string]interface{}{
				"total":   0,
				"list":    []string{},
				"sources": []string{},
			},
			"discoveredPaths": map[string]interface{}{
				"total": 0,
				"list":  []string{},
			},
		},
		"technologies": map[string]interface{}{
			"server":     nil,
			"poweredBy":  nil,
			"detected":   []string{},
			"cms":        nil,
			"frameworks": []string{},
			"osint": map[string]interface{}{
				"emails":   []string{},
				"profiles": []interface{}{},
				"urls":     []string{},
			},
		},
		"security": map[string]interface{}{
			"tls": nil,
			"vulnerabilities": map[string]interface{}{
				"total":      0,
				"bySeverity": map[string]interface{}{},
			},
			"headers": map[string]interface{}{
				"hsts":                nil,
				"csp":                 nil,
				"xFrameOptions":       nil,
				"xContentTypeOptions": nil,
				"xXssProtection":      nil,
				"referrerPolicy":      nil,
			},
		},
	}
	if results == nil {
		return fp
	}

	infra := fp["infrastructure"].(map[string]interface{})
	surface := fp["attackSurface"].(map[string]interface{})
	tech := fp["technologies"].(map[string]interface{})
	security := fp["security"].(map[string]interface{})

	if agg := okAggregate(results, "dns"); agg != nil {
		records := asMap(agg["records"])
		ips := infra["ips"].(map[string]interface{})
		ips["ipv4"] = sortedStrings(records["A"])
		ips["ipv6"] = sortedStrings(records["AAAA"])
		infra["nameservers"] = sortedStrings(records["NS"])
		infra["mailServers"] = mailHosts(records["MX"])
		infra["txtRecords"] = sortedStrings(records["TXT"])
	}

	if agg := okAggregate(results, "certificate"); agg != nil {
		infra["certificate"] = map[string]interface{}{
			"issuer":      agg["issuer"],
			"subject":     agg["subject"],
			"validFrom":   agg["validFrom"],
			"validTo":     agg["validTo"],
			"fingerprint": agg["fingerprint"],
			"sans":        sortedStrings(agg["sans"]),
		}
	}

	if agg := okAggregate(results, "latency"); agg != nil {
		latency := infra["latency"].(map[string]interface{})
		latency["ping"] = agg["ping"]
		latency["traceroute"] = agg["traceroute"]
	}

	if agg := okAggregate(results, "ports"); agg != nil {
		surface["openPorts"] = sortedPorts(agg["openPorts"])
	}

	if agg := okAggregate(results, "subdomains"); agg != nil {
		list := sortedStrings(agg["subdomains"])
		sources := asMap(agg["sources"])
		names := make([]string, 0, len(sources))
		for name := range sources {
			names = append(names, name)
		}
		sort.Strings(names)
		surface["subdomains"] = map[string]interface{}{
			"total":   len(list),
			"list":    list,
			"sources": names,
		}
	}

	if agg := okAggregate(results, "webDiscovery"); agg != nil {
		list := sortedStrings(agg["paths"])
		surface["discoveredPaths"] = map[string]interface{}{
			"total": len(list),
			"list":  list,
		}
	}

	if agg := okAggregate(results, "fingerprint"); agg != nil {
		tech["server"] = agg["server"]
		tech["poweredBy"] = agg["poweredBy"]
		tech["cms"] = agg["cms"]
		tech["detected"] = sortedStringsFold(agg["detected"])
		tech["frameworks"] = sortedStringsFold(agg["frameworks"])
	}

	if agg := okAggregate(results, "osint"); agg != nil {
		osint := tech["osint"].(map[string]interface{})
		osint["emails"] = sortedStrings(agg["emails"])
		osint["urls"] = sortedStrings(agg["urls"])
		if profiles, ok := agg["profiles"]; ok && profiles != nil {
			osint["profiles"] = profiles
		}
	}

	if agg := okAggregate(results, "tlsAudit"); agg != nil {
		security["tls"] = map[string]interface{}{
			"grade":           agg["grade"],
			"protocols":       sortedStrings(agg["protocols"]),
			"ciphers":         agg["ciphers"],
			"vulnerabilities": sortedStrings(agg["vulnerabilities"]),
		}
	}

	if agg := okAggregate(results, "vulnerability"); agg != nil {
		vulns := security["vulnerabilities"].(map[string]interface{})
		vulns["total"] = asInt(agg["total"])
		if bySev := asMap(agg["bySeverity"]); bySev != nil {
			vulns["bySeverity"] = bySev
		}
	}

	if agg := okAggregate(results, "http"); agg != nil {
		if sec := asMap(agg["securityHeaders"]); sec != nil {
			headers := security["headers"].(map[string]interface{})
			for field := range headers {
				if v, ok := sec[field]; ok {
					headers[field] = v
				}
			}
		}
	}

	return fp
}

// cdnProviders recognized in server headers and detected technologies.
var cdnProviders = []string{"cloudflare", "fastly", "akamai", "cloudfront", "sucuri", "incapsula"}

// BuildSummary derives the queryable host-summary counters from a
// fingerprint.
func BuildSummary(fp map[string]interface{}) map[string]interface{} {
	summary := map[string]interface{}{
		"primaryIp":      nil,
		"ipAddresses":    []string{},
		"cdn":            nil,
		"server":         nil,
		"latencyMs":      nil,
		"subdomainCount": 0,
		"openPortCount":  0,
		"technologies":   []string{},
	}
	if fp == nil {
		return summary
	}

	infra := asMap(fp["infrastructure"])
	surface := asMap(fp["attackSurface"])
	tech := asMap(fp["technologies"])

	ips := asMap(infra["ips"])
	ipv4 := toStrings(ips["ipv4"])
	ipv6 := toStrings(ips["ipv6"])
	all := append(append([]string{}, ipv4...), ipv6...)
	summary["ipAddresses"] = all
	if len(ipv4) > 0 {
		summary["primaryIp"] = ipv4[0]
	} else if len(ipv6) > 0 {
		summary["primaryIp"] = ipv6[0]
	}

	if latency := asMap(infra["latency"]); latency != nil {
		if ping := asMap(latency["ping"]); ping != nil {
			if avg, ok := ping["avg"]; ok && avg != nil {
				summary["latencyMs"] = avg
			}
		}
	}

	if subs := asMap(surface["subdomains"]); subs != nil {
		summary["subdomainCount"] = asInt(subs["total"])
	}
	if ports, ok := surface["openPorts"].([]interface{}); ok {
		summary["openPortCount"] = len(ports)
	}

	server, _ := tech["server"].(string)
	if server != "" {
		summary["server"] = server
	}
	detected := toStrings(tech["detected"])
	summary["technologies"] = detected

	for _, candidate := range append([]string{server}, detected...) {
		lower := strings.ToLower(candidate)
		for _, cdn := range cdnProviders {
			if strings.Contains(lower, cdn) {
				summary["cdn"] = cdn
				break
			}
		}
		if summary["cdn"] != nil {
			break
		}
	}

	return summary
}

// okAggregate returns a stage's aggregate map when its status is ok.
func okAggregate(results *report.Results, stage string) map[string]interface{} {
	res := results.Get(stage)
	if res == nil || res.Status != "ok" {
		return nil
	}
	return res.Aggregated
}

// PortNumbers extracts the sorted port-number strings from the fingerprint's
// openPorts list.
func PortNumbers(fp map[string]interface{}) []string {
	surface := asMap(fp["attackSurface"])
	raw, _ := surface["openPorts"].([]interface{})
	out := make([]string, 0, len(raw))
	for _, rp := range raw {
		if entry := asMap(rp); entry != nil {
			if p, ok := entry["port"].(string); ok && p != "" {
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func toStrings(raw interface{}) []string {
	switch vals := raw.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func sortedStrings(raw interface{}) []string {
	in := toStrings(raw)
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func sortedStringsFold(raw interface{}) []string {
	in := toStrings(raw)
	seen := make(map[string]string, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; !ok {
			seen[key] = s
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out
}

// mailHosts strips the MX priority prefix ("10 mail.example.com") and dedups.
func mailHosts(raw interface{}) []string {
	var hosts []string
	for _, v := range toStrings(raw) {
		fields := strings.Fields(v)
		if len(fields) == 0 {
			continue
		}
		hosts = append(hosts, strings.ToLower(fields[len(fields)-1]))
	}
	return sortedStrings(hosts)
}

// sortedPorts orders openPorts entries numerically by port.
func sortedPorts(raw interface{}) []interface{} {
	var entries []interface{}
	switch v := raw.(type) {
	case []interface{}:
		entries = v
	case []map[string]interface{}:
		for _, e := range v {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return portNum(entries[i]) < portNum(entries[j])
	})
	if entries == nil {
		entries = []interface{}{}
	}
	return entries
}

func portNum(v interface{}) int {
	entry := asMap(v)
	if entry == nil {
		return 0
	}
	p, _ := entry["port"].(string)
	n := 0
	for _, c := range p {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}
