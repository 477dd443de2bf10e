package stages

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	mdns "github.com/miekg/dns"

	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// ASN maps the target's addresses to their autonomous systems using Team
// Cymru's DNS interface. Entries are deduped by AS number; network,
// organization, and the contributing sources merge across lookups.
type ASN struct {
	env *Env
}

func NewASN(env *Env) *ASN { return &ASN{env: env} }

func (s *ASN) Name() string { return "asn" }

func (s *ASN) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)

		ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", tgt.Host)
		if err != nil || len(ips) == 0 {
			if err != nil {
				errs["resolve"] = err.Error()
			}
			individual["cymru"] = &runner.ToolResult{Status: runner.StatusEmpty}
			return finalize(individual, emptyASNAggregate(), errs, false)
		}

		individual["cymru"] = s.cymruLookup(ctx, ips)

		agg := AggregateASN(individual)
		return finalize(individual, agg, errs, len(agg["asns"].([]map[string]interface{})) > 0)
	})
}

// cymruLookup queries <reversed-ip>.origin.asn.cymru.com TXT per address and
// AS<n>.asn.cymru.com for the organization name.
func (s *ASN) cymruLookup(ctx context.Context, ips []net.IP) *runner.ToolResult {
	client := &mdns.Client{Timeout: 5 * time.Second}
	server := s.resolverAddr()

	var entries []interface{}
	seenOrg := map[string]string{}

	for _, ip := range ips {
		v4 := ip.To4()
		if v4 == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return &runner.ToolResult{Status: runner.StatusError, Error: ctx.Err().Error()}
		default:
		}

		reversed := strconv.Itoa(int(v4[3])) + "." + strconv.Itoa(int(v4[2])) + "." +
			strconv.Itoa(int(v4[1])) + "." + strconv.Itoa(int(v4[0]))
		txt := s.queryTXT(ctx, client, server, reversed+".origin.asn.cymru.com.")
		if txt == "" {
			continue
		}

		// "15169 | 8.8.8.0/24 | US | arin | 2000-03-30"
		fields := splitCymru(txt)
		if len(fields) < 2 {
			continue
		}
		asNumber := strings.Fields(fields[0])[0]
		network := fields[1]

		org, ok := seenOrg[asNumber]
		if !ok {
			if orgTxt := s.queryTXT(ctx, client, server, "AS"+asNumber+".asn.cymru.com."); orgTxt != "" {
				orgFields := splitCymru(orgTxt)
				if len(orgFields) >= 5 {
					org = orgFields[4]
				}
			}
			seenOrg[asNumber] = org
		}

		entries = append(entries, map[string]interface{}{
			"asn":          asNumber,
			"network":      network,
			"organization": org,
			"source":       "cymru",
			"ip":           v4.String(),
		})
	}

	if len(entries) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{"asns": entries}}
}

func (s *ASN) resolverAddr() string {
	if s.env.DNSServer != "" {
		return s.env.DNSServer
	}
	if cfg, err := mdns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cfg.Servers) > 0 {
		return net.JoinHostPort(cfg.Servers[0], cfg.Port)
	}
	return "8.8.8.8:53"
}

func (s *ASN) queryTXT(ctx context.Context, client *mdns.Client, server, name string) string {
	msg := new(mdns.Msg)
	msg.SetQuestion(name, mdns.TypeTXT)
	msg.RecursionDesired = true

	reply, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil || reply == nil {
		return ""
	}
	for _, rr := range reply.Answer {
		if txt, ok := rr.(*mdns.TXT); ok && len(txt.Txt) > 0 {
			return strings.Join(txt.Txt, "")
		}
	}
	return ""
}

func splitCymru(txt string) []string {
	parts := strings.Split(txt, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func emptyASNAggregate() map[string]interface{} {
	return map[string]interface{}{"asns": []map[string]interface{}{}}
}

// AggregateASN dedups by AS number, merging networks, organization, and
// sources across tools.
func AggregateASN(individual map[string]*runner.ToolResult) map[string]interface{} {
	type asnEntry struct {
		networks []string
		org      string
		sources  []string
	}
	byASN := map[string]*asnEntry{}

	for _, tool := range orderedKeys(individual) {
		tr := individual[tool]
		if tr.Status != runner.StatusOK {
			continue
		}
		data, ok := tr.Data.(map[string]interface{})
		if !ok {
			continue
		}
		raw, ok := data["asns"].([]interface{})
		if !ok {
			continue
		}
		for _, re := range raw {
			entry, ok := re.(map[string]interface{})
			if !ok {
				continue
			}
			asn, _ := entry["asn"].(string)
			if asn == "" {
				continue
			}
			e, exists := byASN[asn]
			if !exists {
				e = &asnEntry{}
				byASN[asn] = e
			}
			if net, _ := entry["network"].(string); net != "" {
				e.networks = append(e.networks, net)
			}
			if org, _ := entry["organization"].(string); org != "" && e.org == "" {
				e.org = org
			}
			if src, _ := entry["source"].(string); src != "" {
				e.sources = append(e.sources, src)
			}
		}
	}

	numbers := make([]string, 0, len(byASN))
	for asn := range byASN {
		numbers = append(numbers, asn)
	}
	sort.Slice(numbers, func(i, j int) bool {
		a, _ := strconv.Atoi(numbers[i])
		b, _ := strconv.Atoi(numbers[j])
		return a < b
	})

	asns := make([]map[string]interface{}, 0, len(numbers))
	for _, asn := range numbers {
		e := byASN[asn]
		var org interface{}
		if e.org != "" {
			org = e.org
		}
		asns = append(asns, map[string]interface{}{
			"asn":          asn,
			"networks":     sortedUnique(e.networks),
			"organization": org,
			"sources":      sortedUnique(e.sources),
		})
	}

	return map[string]interface{}{"asns": asns}
}
