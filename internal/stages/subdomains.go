package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/osiriscare/recon/internal/config"
	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// Subdomains enumerates hostnames under the target domain. Certificate
// transparency (crt.sh) is queried natively; subfinder and amass contribute
// when installed. The aggregate is the case-folded union with per-source
// counts.
type Subdomains struct {
	env *Env
}

func NewSubdomains(env *Env) *Subdomains { return &Subdomains{env: env} }

func (s *Subdomains) Name() string { return "subdomains" }

const defaultCrtshURL = "https://crt.sh"

func (s *Subdomains) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)

		if config.Bool(opts.Config, "crtsh", true) {
			names, err := s.queryCrtsh(ctx, tgt.Host)
			switch {
			case err != nil:
				errs["crtsh"] = err.Error()
				individual["crtsh"] = &runner.ToolResult{Status: runner.StatusError, Error: err.Error()}
			case len(names) == 0:
				individual["crtsh"] = &runner.ToolResult{Status: runner.StatusEmpty}
			default:
				individual["crtsh"] = &runner.ToolResult{
					Status: runner.StatusOK,
					Data:   map[string]interface{}{"subdomains": names},
				}
			}
		}

		if s.env.Runner.IsAvailable("subfinder") {
			res := s.env.Runner.Run(ctx, "subfinder",
				[]string{"-d", tgt.Host, "-silent"},
				runner.Options{Timeout: opts.Timeout})
			individual["subfinder"] = classifyLineList(res, "subdomains")
		}

		if config.Bool(opts.Config, "amass", false) && s.env.Runner.IsAvailable("amass") {
			res := s.env.Runner.Run(ctx, "amass",
				[]string{"enum", "-passive", "-d", tgt.Host},
				runner.Options{Timeout: opts.Timeout})
			individual["amass"] = classifyLineList(res, "subdomains")
		}

		agg := AggregateSubdomains(individual, tgt.Host)
		return finalize(individual, agg, errs, agg["count"].(int) > 0)
	})
}

// crtshEntry is the slice of the crt.sh JSON response we read.
type crtshEntry struct {
	NameValue string `json:"name_value"`
}

func (s *Subdomains) queryCrtsh(ctx context.Context, domain string) ([]string, error) {
	base := s.env.CrtshBaseURL
	if base == "" {
		base = defaultCrtshURL
	}
	endpoint := fmt.Sprintf("%s/?q=%s&output=json", base, url.QueryEscape("%."+domain))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "recon-engine/1.0")

	resp, err := s.env.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crt.sh returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	var entries []crtshEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode crt.sh response: %w", err)
	}

	var names []string
	for _, e := range entries {
		// name_value packs multiple names newline-separated.
		for _, name := range strings.Split(e.NameValue, "\n") {
			name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "*.")))
			if name == "" || (!strings.HasSuffix(name, "."+domain) && name != domain) {
				continue
			}
			names = append(names, name)
		}
	}
	return sortedUnique(names), nil
}

// classifyLineList turns a line-per-entry tool output into a ToolResult whose
// data holds the named list.
func classifyLineList(res *runner.Result, field string) *runner.ToolResult {
	tr := runner.Classify(res, true)
	if tr.Status != runner.StatusOK {
		return tr
	}
	data, _ := tr.Data.(map[string]interface{})
	raw, _ := data["raw"].(string)

	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{field: lines}}
}

// AggregateSubdomains unions subdomain lists case-insensitively and records
// how many each source contributed. The apex domain itself is excluded.
func AggregateSubdomains(individual map[string]*runner.ToolResult, apex string) map[string]interface{} {
	sources := map[string]interface{}{}
	var all []string

	for _, name := range orderedKeys(individual) {
		tr := individual[name]
		if tr.Status != runner.StatusOK {
			continue
		}
		data, ok := tr.Data.(map[string]interface{})
		if !ok {
			continue
		}
		list := toStringSlice(data["subdomains"])
		var kept []string
		for _, sub := range list {
			sub = strings.ToLower(strings.TrimSpace(sub))
			if sub == "" || sub == strings.ToLower(apex) {
				continue
			}
			kept = append(kept, sub)
		}
		if len(kept) > 0 {
			sources[name] = len(sortedUnique(kept))
			all = append(all, kept...)
		}
	}

	subs := sortedUnique(all)
	return map[string]interface{}{
		"subdomains": subs,
		"count":      len(subs),
		"sources":    sources,
	}
}
