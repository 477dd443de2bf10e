package stages

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// HTTPStage probes the target's web endpoint: status, lowercased header map,
// redirect chain, and the security-header convenience fields downstream
// consumers key on.
type HTTPStage struct {
	env *Env
}

func NewHTTP(env *Env) *HTTPStage { return &HTTPStage{env: env} }

func (s *HTTPStage) Name() string { return "http" }

// securityHeaders are surfaced as convenience fields.
var securityHeaders = map[string]string{
	"strict-transport-security": "hsts",
	"content-security-policy":   "csp",
	"x-frame-options":           "xFrameOptions",
	"x-content-type-options":    "xContentTypeOptions",
	"x-xss-protection":          "xXssProtection",
	"referrer-policy":           "referrerPolicy",
}

func (s *HTTPStage) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)

		data, err := s.probe(ctx, tgt.URL())
		if err != nil {
			errs["request"] = err.Error()
			individual["native"] = &runner.ToolResult{Status: runner.StatusError, Error: err.Error()}
			return finalize(individual, emptyHTTPAggregate(), errs, false)
		}
		individual["native"] = &runner.ToolResult{Status: runner.StatusOK, Data: data}

		agg := AggregateHTTP(individual)
		return finalize(individual, agg, errs, true)
	})
}

func (s *HTTPStage) probe(ctx context.Context, url string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "recon-engine/1.0")

	var redirects []string
	client := *s.env.HTTP
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		redirects = append(redirects, req.URL.String())
		if len(via) >= 5 {
			return http.ErrUseLastResponse
		}
		return nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	// Drain a bounded amount so the connection can be reused.
	io.CopyN(io.Discard, resp.Body, 64<<10)

	headers := make(map[string]string, len(resp.Header))
	for name, vals := range resp.Header {
		if len(vals) > 0 {
			headers[strings.ToLower(name)] = vals[0]
		}
	}

	return map[string]interface{}{
		"statusCode": resp.StatusCode,
		"headers":    headers,
		"redirects":  redirects,
		"finalUrl":   resp.Request.URL.String(),
	}, nil
}

func emptyHTTPAggregate() map[string]interface{} {
	sec := map[string]interface{}{}
	for _, field := range securityHeaders {
		sec[field] = nil
	}
	return map[string]interface{}{
		"statusCode":      nil,
		"headers":         map[string]string{},
		"redirects":       []string{},
		"finalUrl":        nil,
		"securityHeaders": sec,
	}
}

// AggregateHTTP lowercases the header map and lifts security headers into
// convenience fields.
func AggregateHTTP(individual map[string]*runner.ToolResult) map[string]interface{} {
	agg := emptyHTTPAggregate()

	for _, name := range orderedKeys(individual) {
		tr := individual[name]
		if tr.Status != runner.StatusOK {
			continue
		}
		data, ok := tr.Data.(map[string]interface{})
		if !ok {
			continue
		}

		if agg["statusCode"] == nil {
			agg["statusCode"] = data["statusCode"]
			agg["finalUrl"] = data["finalUrl"]
			if r, ok := data["redirects"]; ok {
				agg["redirects"] = toStringSlice(r)
			}
		}

		headers := map[string]string{}
		switch h := data["headers"].(type) {
		case map[string]string:
			for k, v := range h {
				headers[strings.ToLower(k)] = v
			}
		case map[string]interface{}:
			for k, v := range h {
				if sv, ok := v.(string); ok {
					headers[strings.ToLower(k)] = sv
				}
			}
		}
		merged := agg["headers"].(map[string]string)
		for k, v := range headers {
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}

		sec := agg["securityHeaders"].(map[string]interface{})
		for header, field := range securityHeaders {
			if v, ok := merged[header]; ok && sec[field] == nil {
				sec[field] = v
			}
		}
	}

	return agg
}
