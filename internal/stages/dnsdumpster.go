package stages

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/osiriscare/recon/internal/config"
	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// DNSDumpster maps the target's DNS footprint. The primary path issues direct
// DNS queries; the HTML scrape of the dnsdumpster.com map is retained only as
// an opt-in fallback behind the "scrape" flag, since the markup drifts.
type DNSDumpster struct {
	env *Env
}

func NewDNSDumpster(env *Env) *DNSDumpster { return &DNSDumpster{env: env} }

func (s *DNSDumpster) Name() string { return "dnsdumpster" }

const defaultDNSDumpsterURL = "https://dnsdumpster.com"

func (s *DNSDumpster) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)

		if config.Bool(opts.Config, "scrape", false) {
			tr, err := s.scrape(ctx, tgt.Host)
			if err != nil {
				errs["scrape"] = err.Error()
				individual["scrape"] = &runner.ToolResult{Status: runner.StatusError, Error: err.Error()}
			} else {
				individual["scrape"] = tr
			}
		}

		// Direct queries run when scraping is off or produced nothing.
		if tr, ok := individual["scrape"]; !ok || tr.Status != runner.StatusOK {
			dns := NewDNS(s.env)
			individual["dns-fallback"] = dns.nativeLookup(ctx, tgt.Host, false)
		}

		agg := AggregateDNSDumpster(individual, tgt.Host)
		return finalize(individual, agg, errs, len(agg["hosts"].([]string)) > 0)
	})
}

// hostnameRe pulls candidate hostnames out of scraped markup.
var hostnameRe = regexp.MustCompile(`[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+`)

// scrape fetches the public map page and extracts hostnames under the target
// domain. Heuristic by design: the page has no stable API.
func (s *DNSDumpster) scrape(ctx context.Context, domain string) (*runner.ToolResult, error) {
	base := s.env.DNSDumpsterBaseURL
	if base == "" {
		base = defaultDNSDumpsterURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/?q="+domain, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "recon-engine/1.0")

	resp, err := s.env.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var hosts []string
	for _, m := range hostnameRe.FindAllString(strings.ToLower(string(body)), -1) {
		if m == domain || strings.HasSuffix(m, "."+domain) {
			hosts = append(hosts, m)
		}
	}
	if len(hosts) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}, nil
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{
		"hosts": sortedUnique(hosts),
	}}, nil
}

// AggregateDNSDumpster unions hostnames from the scrape with the direct-query
// record values and records which path produced data.
func AggregateDNSDumpster(individual map[string]*runner.ToolResult, apex string) map[string]interface{} {
	var hosts []string
	var sources []string

	if tr, ok := individual["scrape"]; ok && tr.Status == runner.StatusOK {
		if data, ok := tr.Data.(map[string]interface{}); ok {
			hosts = append(hosts, toStringSlice(data["hosts"])...)
			sources = append(sources, "scrape")
		}
	}
	if tr, ok := individual["dns-fallback"]; ok && tr.Status == runner.StatusOK {
		if data, ok := tr.Data.(map[string]interface{}); ok {
			if recs, ok := data["records"].(map[string][]string); ok {
				for typ, vals := range recs {
					for _, v := range vals {
						switch typ {
						case "NS", "CNAME":
							hosts = append(hosts, strings.ToLower(v))
						case "MX":
							fields := strings.Fields(v)
							hosts = append(hosts, strings.ToLower(fields[len(fields)-1]))
						}
					}
				}
				if len(recs) > 0 {
					sources = append(sources, "dns")
				}
			}
		}
	}

	return map[string]interface{}{
		"hosts":   sortedUnique(hosts),
		"sources": sortedUnique(sources),
		"domain":  apex,
	}
}
