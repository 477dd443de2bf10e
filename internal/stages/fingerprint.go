package stages

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// Fingerprint identifies the technologies behind the target: server and
// powered-by headers, CMS hints, frameworks, and whatever whatweb reports.
// Technology names are deduped case-insensitively, first-seen casing kept.
type Fingerprint struct {
	env *Env
}

func NewFingerprint(env *Env) *Fingerprint { return &Fingerprint{env: env} }

func (s *Fingerprint) Name() string { return "fingerprint" }

// cmsSignatures maps body/header substrings to CMS names.
var cmsSignatures = []struct {
	needle string
	cms    string
}{
	{"wp-content", "WordPress"},
	{"wp-includes", "WordPress"},
	{"/sites/default/files", "Drupal"},
	{"joomla", "Joomla"},
	{"ghost.org", "Ghost"},
	{"shopify", "Shopify"},
	{"typo3", "TYPO3"},
}

// frameworkHeaders maps header values to framework names.
var frameworkHeaders = []struct {
	header string
	needle string
	tech   string
}{
	{"x-powered-by", "php", "PHP"},
	{"x-powered-by", "express", "Express"},
	{"x-powered-by", "asp.net", "ASP.NET"},
	{"x-powered-by", "next.js", "Next.js"},
	{"x-aspnet-version", "", "ASP.NET"},
	{"x-drupal-cache", "", "Drupal"},
	{"x-generator", "", ""}, // value carries the name
}

func (s *Fingerprint) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)

		native, err := s.nativeDetect(ctx, tgt.URL())
		if err != nil {
			errs["request"] = err.Error()
			individual["native"] = &runner.ToolResult{Status: runner.StatusError, Error: err.Error()}
		} else {
			individual["native"] = native
		}

		if s.env.Runner.IsAvailable("whatweb") {
			res := s.env.Runner.Run(ctx, "whatweb",
				[]string{"--quiet", "--log-brief=-", tgt.URL()},
				runner.Options{Timeout: opts.Timeout})
			individual["whatweb"] = classifyWhatweb(res)
		}

		agg := AggregateFingerprint(individual)
		hasData := agg["server"] != nil || len(agg["detected"].([]string)) > 0
		return finalize(individual, agg, errs, hasData)
	})
}

// nativeDetect reads headers and a bounded body slice for signatures.
func (s *Fingerprint) nativeDetect(ctx context.Context, url string) (*runner.ToolResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "recon-engine/1.0")

	resp, err := s.env.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
	bodyLower := strings.ToLower(string(body))

	headers := map[string]string{}
	for name, vals := range resp.Header {
		if len(vals) > 0 {
			headers[strings.ToLower(name)] = vals[0]
		}
	}

	data := map[string]interface{}{
		"server":    nil,
		"poweredBy": nil,
		"cms":       nil,
	}
	var detected, frameworks []string

	if v := headers["server"]; v != "" {
		data["server"] = v
		detected = append(detected, serverProduct(v))
	}
	if v := headers["x-powered-by"]; v != "" {
		data["poweredBy"] = v
	}

	for _, fh := range frameworkHeaders {
		v, ok := headers[fh.header]
		if !ok {
			continue
		}
		if fh.needle != "" && !strings.Contains(strings.ToLower(v), fh.needle) {
			continue
		}
		tech := fh.tech
		if tech == "" {
			tech = strings.Fields(v)[0]
		}
		frameworks = append(frameworks, tech)
		detected = append(detected, tech)
	}

	for _, sig := range cmsSignatures {
		if strings.Contains(bodyLower, sig.needle) {
			data["cms"] = sig.cms
			detected = append(detected, sig.cms)
			break
		}
	}

	data["detected"] = detected
	data["frameworks"] = frameworks

	if data["server"] == nil && len(detected) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}, nil
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: data}, nil
}

// serverProduct strips the version from a Server header ("nginx/1.24.0" →
// "nginx").
func serverProduct(v string) string {
	if idx := strings.IndexAny(v, "/ "); idx > 0 {
		return v[:idx]
	}
	return v
}

var whatwebEntryRe = regexp.MustCompile(`([A-Za-z0-9._-]+)(?:\[[^\]]*\])?`)

// classifyWhatweb parses the brief log format: "url [status] Plugin[ver], ...".
func classifyWhatweb(res *runner.Result) *runner.ToolResult {
	tr := runner.Classify(res, true)
	if tr.Status != runner.StatusOK {
		return tr
	}
	data, _ := tr.Data.(map[string]interface{})
	raw, _ := data["raw"].(string)

	var detected []string
	for _, line := range strings.Split(raw, "\n") {
		idx := strings.Index(line, "] ")
		if idx < 0 {
			continue
		}
		for _, part := range strings.Split(line[idx+2:], ",") {
			part = strings.TrimSpace(part)
			m := whatwebEntryRe.FindStringSubmatch(part)
			if m == nil {
				continue
			}
			switch strings.ToLower(m[1]) {
			case "country", "ip", "title", "uncommonheaders", "html5":
				continue
			}
			detected = append(detected, m[1])
		}
	}
	if len(detected) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{"detected": detected}}
}

// AggregateFingerprint dedups technology names case-insensitively and keeps
// the first tool's scalar fields.
func AggregateFingerprint(individual map[string]*runner.ToolResult) map[string]interface{} {
	agg := map[string]interface{}{
		"server":    nil,
		"poweredBy": nil,
		"cms":       nil,
	}
	var detected, frameworks []string

	for _, tool := range orderedKeys(individual) {
		tr := individual[tool]
		if tr.Status != runner.StatusOK {
			continue
		}
		data, ok := tr.Data.(map[string]interface{})
		if !ok {
			continue
		}
		for _, field := range []string{"server", "poweredBy", "cms"} {
			if agg[field] == nil && data[field] != nil {
				agg[field] = data[field]
			}
		}
		detected = append(detected, toStringSlice(data["detected"])...)
		frameworks = append(frameworks, toStringSlice(data["frameworks"])...)
	}

	agg["detected"] = sortedUniqueFold(detected)
	agg["frameworks"] = sortedUniqueFold(frameworks)
	return agg
}
