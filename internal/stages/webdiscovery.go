package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/osiriscare/recon/internal/config"
	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// WebDiscovery brute-forces paths on the target's web server with ffuf or
// gobuster. Discovered paths are normalized to a leading slash and split into
// directories (trailing slash or directory-like status) and files.
type WebDiscovery struct {
	env *Env
}

func NewWebDiscovery(env *Env) *WebDiscovery { return &WebDiscovery{env: env} }

func (s *WebDiscovery) Name() string { return "webDiscovery" }

func (s *WebDiscovery) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)

		wordlist := config.String(opts.Config, "wordlist", "/usr/share/wordlists/dirb/common.txt")
		baseURL := tgt.URL()

		ran := false
		if s.env.Runner.IsAvailable("ffuf") {
			ran = true
			res := s.env.Runner.Run(ctx, "ffuf",
				[]string{"-u", baseURL + "/FUZZ", "-w", wordlist, "-mc", "200,204,301,302,307,401,403", "-of", "json", "-o", "-", "-s"},
				runner.Options{Timeout: opts.Timeout})
			individual["ffuf"] = classifyFfuf(res)
		} else if s.env.Runner.IsAvailable("gobuster") {
			ran = true
			res := s.env.Runner.Run(ctx, "gobuster",
				[]string{"dir", "-u", baseURL, "-w", wordlist, "-q", "--no-color"},
				runner.Options{Timeout: opts.Timeout})
			individual["gobuster"] = classifyGobuster(res)
		}

		if !ran {
			individual["ffuf"] = &runner.ToolResult{Status: runner.StatusUnavailable, Code: runner.CodeNotFound}
			individual["gobuster"] = &runner.ToolResult{Status: runner.StatusUnavailable, Code: runner.CodeNotFound}
		}

		agg := AggregateWebDiscovery(individual)
		return finalize(individual, agg, errs, len(agg["paths"].([]string)) > 0)
	})
}

func classifyFfuf(res *runner.Result) *runner.ToolResult {
	tr := runner.Classify(res, false)
	if tr.Status != runner.StatusOK {
		return tr
	}
	data, ok := tr.Data.(map[string]interface{})
	if !ok {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}
	results, ok := data["results"].([]interface{})
	if !ok || len(results) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}

	var entries []interface{}
	for _, r := range results {
		m, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		path, _ := m["input"].(map[string]interface{})
		word := ""
		if path != nil {
			word, _ = path["FUZZ"].(string)
		}
		if word == "" {
			if u, ok := m["url"].(string); ok {
				if idx := strings.LastIndex(u, "/"); idx >= 0 {
					word = u[idx+1:]
				}
			}
		}
		if word == "" {
			continue
		}
		entries = append(entries, map[string]interface{}{
			"path":   "/" + strings.TrimPrefix(word, "/"),
			"status": asStatus(m["status"]),
		})
	}
	if len(entries) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{"paths": entries}}
}

// classifyGobuster parses the quiet text format: "/path (Status: 301) [...]".
func classifyGobuster(res *runner.Result) *runner.ToolResult {
	tr := runner.Classify(res, true)
	if tr.Status != runner.StatusOK {
		return tr
	}
	data, _ := tr.Data.(map[string]interface{})
	raw, _ := data["raw"].(string)

	var entries []interface{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "/") {
			continue
		}
		fields := strings.Fields(line)
		entry := map[string]interface{}{"path": fields[0], "status": nil}
		if idx := strings.Index(line, "(Status: "); idx >= 0 {
			rest := line[idx+len("(Status: "):]
			if end := strings.Index(rest, ")"); end > 0 {
				entry["status"] = asStatus(rest[:end])
			}
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return &runner.ToolResult{Status: runner.StatusEmpty}
	}
	return &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{"paths": entries}}
}

func asStatus(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		var n int
		if _, err := fmt.Sscanf(t, "%d", &n); err == nil {
			return n
		}
	}
	return nil
}

// AggregateWebDiscovery unions discovered paths, splitting directories
// (trailing slash or a redirect status) from files.
func AggregateWebDiscovery(individual map[string]*runner.ToolResult) map[string]interface{} {
	seen := map[string]map[string]interface{}{}
	var paths []string

	for _, name := range orderedKeys(individual) {
		tr := individual[name]
		if tr.Status != runner.StatusOK {
			continue
		}
		data, ok := tr.Data.(map[string]interface{})
		if !ok {
			continue
		}
		rawPaths, ok := data["paths"].([]interface{})
		if !ok {
			continue
		}
		for _, rp := range rawPaths {
			entry, ok := rp.(map[string]interface{})
			if !ok {
				continue
			}
			path, _ := entry["path"].(string)
			if path == "" {
				continue
			}
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			if _, exists := seen[path]; exists {
				continue
			}
			seen[path] = entry
			paths = append(paths, path)
		}
	}

	paths = sortedUnique(paths)
	var dirs, files []string
	for _, p := range paths {
		entry := seen[p]
		status, _ := entry["status"].(int)
		if strings.HasSuffix(p, "/") || status == 301 || status == 302 || status == 307 {
			dirs = append(dirs, p)
		} else {
			files = append(files, p)
		}
	}
	if dirs == nil {
		dirs = []string{}
	}
	if files == nil {
		files = []string{}
	}

	return map[string]interface{}{
		"paths":       paths,
		"directories": dirs,
		"files":       files,
		"count":       len(paths),
	}
}
