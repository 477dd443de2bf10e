package stages

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// OSINT gathers published traces of the target organization: email addresses,
// social profiles, and interesting URLs. Everything comes from public sources
// via theHarvester when installed; emails are deduped lowercase, profiles by
// URL, URLs exact.
type OSINT struct {
	env *Env
}

func NewOSINT(env *Env) *OSINT { return &OSINT{env: env} }

func (s *OSINT) Name() string { return "osint" }

func (s *OSINT) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)

		if s.env.Runner.IsAvailable("theHarvester") {
			res := s.env.Runner.Run(ctx, "theHarvester",
				[]string{"-d", tgt.Host, "-b", "all", "-f", "/dev/stdout"},
				runner.Options{Timeout: opts.Timeout})
			individual["theHarvester"] = classifyHarvester(res, tgt.Host)
		} else {
			individual["theHarvester"] = &runner.ToolResult{Status: runner.StatusUnavailable, Code: runner.CodeNotFound}
		}

		agg := AggregateOSINT(individual)
		hasData := len(agg["emails"].([]string)) > 0 || len(agg["urls"].([]string)) > 0 ||
			len(agg["profiles"].([]map[string]interface{})) > 0
		return finalize(individual, agg, errs, hasData)
	})
}

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	urlRe   = regexp.MustCompile(`https?://[^\s"'<>\)]+`)
)

// profileHosts identify social-profile URLs.
var profileHosts = map[string]string{
	"linkedin.com":  "linkedin",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"github.com":    "github",
	"facebook.com":  "facebook",
	"instagram.com": "instagram",
}

// classifyHarvester scrapes emails and URLs out of theHarvester's output,
// keeping only emails under the target domain.
func classifyHarvester(res *runner.Result, domain string) *runner.ToolResult {
	tr := runner.Classify(res, true)
	if tr.Status != runner.StatusOK {
		return tr
	}
	data, _ := tr.Data.(map[string]interface{})
	raw, _ := data["raw"].(string)

	var emails, urls []string
	for _, m := range emailRe.FindAllString(raw, -1) {
		m = strings.ToLower(m)
		if strings.HasSuffix(m, "@"+domain) {
			emails = append(emails, m)
		}
	}
	urls = append(urls, urlRe.FindAllString(raw, -1)...)

	if len(emails) == 0 && len(urls) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{
		"emails": emails,
		"urls":   urls,
	}}
}

// AggregateOSINT dedups emails lowercase, splits profile URLs out of the URL
// list (deduped by URL), and keeps the rest exact.
func AggregateOSINT(individual map[string]*runner.ToolResult) map[string]interface{} {
	var emails, rawURLs []string

	for _, tool := range orderedKeys(individual) {
		tr := individual[tool]
		if tr.Status != runner.StatusOK {
			continue
		}
		data, ok := tr.Data.(map[string]interface{})
		if !ok {
			continue
		}
		for _, e := range toStringSlice(data["emails"]) {
			emails = append(emails, strings.ToLower(e))
		}
		rawURLs = append(rawURLs, toStringSlice(data["urls"])...)
	}

	profileByURL := map[string]string{}
	var urls []string
	for _, u := range sortedUnique(rawURLs) {
		network := ""
		for host, name := range profileHosts {
			if strings.Contains(strings.ToLower(u), host+"/") {
				network = name
				break
			}
		}
		if network != "" {
			profileByURL[u] = network
		} else {
			urls = append(urls, u)
		}
	}

	profileURLs := make([]string, 0, len(profileByURL))
	for u := range profileByURL {
		profileURLs = append(profileURLs, u)
	}
	sort.Strings(profileURLs)
	profiles := make([]map[string]interface{}, 0, len(profileURLs))
	for _, u := range profileURLs {
		profiles = append(profiles, map[string]interface{}{
			"url":     u,
			"network": profileByURL[u],
		})
	}

	if urls == nil {
		urls = []string{}
	}
	return map[string]interface{}{
		"emails":   sortedUnique(emails),
		"profiles": profiles,
		"urls":     urls,
	}
}
