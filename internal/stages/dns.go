package stages

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"

	"github.com/osiriscare/recon/internal/config"
	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// DNS resolves the target's record sets natively via miekg/dns and merges in
// any external enumeration tools. Record arrays are merged by type and
// deduped by value; reverse lookups are keyed by IP.
type DNS struct {
	env *Env
}

func NewDNS(env *Env) *DNS { return &DNS{env: env} }

func (s *DNS) Name() string { return "dns" }

func (s *DNS) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)

		native := s.nativeLookup(ctx, tgt.Host, config.Bool(opts.Config, "reverseLookup", true))
		individual["native"] = native

		if s.env.Runner.IsAvailable("dnsrecon") {
			individual["dnsrecon"] = s.env.Runner.RunTool(ctx, "dnsrecon", "", "-d", tgt.Host,
				runner.ToolOptions{Options: runner.Options{Timeout: opts.Timeout}, RawArgs: []string{"-j", "/dev/stdout"}})
		}

		agg := AggregateDNS(individual)
		hasData := len(agg["records"].(map[string]interface{})) > 0
		return finalize(individual, agg, errs, hasData)
	})
}

// nativeLookup queries A, AAAA, NS, MX, TXT, CNAME, SOA and reverse PTRs.
func (s *DNS) nativeLookup(ctx context.Context, host string, reverse bool) *runner.ToolResult {
	records := map[string][]string{}
	qtypes := map[string]uint16{
		"A":     mdns.TypeA,
		"AAAA":  mdns.TypeAAAA,
		"NS":    mdns.TypeNS,
		"MX":    mdns.TypeMX,
		"TXT":   mdns.TypeTXT,
		"CNAME": mdns.TypeCNAME,
		"SOA":   mdns.TypeSOA,
	}

	server := s.resolver()
	client := &mdns.Client{Timeout: 5 * time.Second}

	for name, qt := range qtypes {
		select {
		case <-ctx.Done():
			return &runner.ToolResult{Status: runner.StatusError, Error: ctx.Err().Error()}
		default:
		}
		msg := new(mdns.Msg)
		msg.SetQuestion(mdns.Fqdn(host), qt)
		msg.RecursionDesired = true

		reply, _, err := client.ExchangeContext(ctx, msg, server)
		if err != nil || reply == nil {
			continue
		}
		for _, rr := range reply.Answer {
			if v := rrValue(rr); v != "" {
				records[name] = append(records[name], v)
			}
		}
	}

	reverseMap := map[string][]string{}
	if reverse {
		for _, ip := range records["A"] {
			names, err := net.LookupAddr(ip)
			if err != nil {
				continue
			}
			for i, n := range names {
				names[i] = strings.TrimSuffix(n, ".")
			}
			reverseMap[ip] = sortedUnique(names)
		}
	}

	if len(records) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}

	data := map[string]interface{}{"records": records}
	if len(reverseMap) > 0 {
		data["reverse"] = reverseMap
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: data}
}

func (s *DNS) resolver() string {
	if s.env.DNSServer != "" {
		return s.env.DNSServer
	}
	if cfg, err := mdns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cfg.Servers) > 0 {
		return net.JoinHostPort(cfg.Servers[0], cfg.Port)
	}
	return "8.8.8.8:53"
}

func rrValue(rr mdns.RR) string {
	switch v := rr.(type) {
	case *mdns.A:
		return v.A.String()
	case *mdns.AAAA:
		return v.AAAA.String()
	case *mdns.NS:
		return strings.TrimSuffix(v.Ns, ".")
	case *mdns.MX:
		return fmt.Sprintf("%d %s", v.Preference, strings.TrimSuffix(v.Mx, "."))
	case *mdns.TXT:
		return strings.Join(v.Txt, "")
	case *mdns.CNAME:
		return strings.TrimSuffix(v.Target, ".")
	case *mdns.SOA:
		return strings.TrimSuffix(v.Ns, ".")
	case *mdns.PTR:
		return strings.TrimSuffix(v.Ptr, ".")
	}
	return ""
}

// AggregateDNS merges per-tool record maps by type, dedups values, and unions
// reverse lookups keyed by IP.
func AggregateDNS(individual map[string]*runner.ToolResult) map[string]interface{} {
	merged := map[string][]string{}
	reverse := map[string][]string{}

	for _, tr := range individual {
		if tr.Status != runner.StatusOK {
			continue
		}
		data, ok := tr.Data.(map[string]interface{})
		if !ok {
			continue
		}
		if recs, ok := data["records"].(map[string][]string); ok {
			for typ, vals := range recs {
				merged[typ] = append(merged[typ], vals...)
			}
		} else if recs, ok := data["records"].(map[string]interface{}); ok {
			for typ, raw := range recs {
				for _, v := range toStringSlice(raw) {
					merged[typ] = append(merged[typ], v)
				}
			}
		}
		if rev, ok := data["reverse"].(map[string][]string); ok {
			for ip, names := range rev {
				reverse[ip] = append(reverse[ip], names...)
			}
		} else if rev, ok := data["reverse"].(map[string]interface{}); ok {
			for ip, raw := range rev {
				reverse[ip] = append(reverse[ip], toStringSlice(raw)...)
			}
		}
	}

	records := map[string]interface{}{}
	for typ, vals := range merged {
		records[typ] = sortedUnique(vals)
	}
	reverseOut := map[string]interface{}{}
	for ip, names := range reverse {
		reverseOut[ip] = sortedUnique(names)
	}

	return map[string]interface{}{
		"records": records,
		"reverse": reverseOut,
	}
}

func toStringSlice(raw interface{}) []string {
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
