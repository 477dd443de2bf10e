package engine

import (
	"github.com/osiriscare/recon/internal/events"
)

// ToolInfo describes one external tool the pipeline can use.
type ToolInfo struct {
	Available   bool   `json:"available"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
	Install     string `json:"install"`
}

// knownTools the pipeline drives. None are strictly required: every stage
// has a native path or degrades to "unavailable" per tool.
var knownTools = []struct {
	name        string
	required    bool
	description string
	install     string
}{
	{"ping", false, "latency measurement", "usually preinstalled (iputils)"},
	{"traceroute", false, "network path tracing", "apt install traceroute"},
	{"whois", false, "domain registration lookups", "apt install whois"},
	{"dnsrecon", false, "DNS enumeration", "pip install dnsrecon"},
	{"nmap", false, "port scanning", "apt install nmap"},
	{"subfinder", false, "passive subdomain enumeration", "go install github.com/projectdiscovery/subfinder/v2/cmd/subfinder@latest"},
	{"amass", false, "deep subdomain enumeration", "go install github.com/owasp-amass/amass/v4/...@master"},
	{"ffuf", false, "web path fuzzing", "go install github.com/ffuf/ffuf/v2@latest"},
	{"gobuster", false, "web path brute forcing", "go install github.com/OJ/gobuster/v3@latest"},
	{"nuclei", false, "template-based vulnerability probes", "go install github.com/projectdiscovery/nuclei/v3/cmd/nuclei@latest"},
	{"nikto", false, "web server checks", "apt install nikto"},
	{"sslscan", false, "TLS protocol and cipher enumeration", "apt install sslscan"},
	{"whatweb", false, "technology fingerprinting", "apt install whatweb"},
	{"theHarvester", false, "OSINT collection", "pip install theHarvester"},
	{"chromium", false, "headless screenshots", "apt install chromium"},
}

// ToolStatus probes every known tool once (results are cached by the runner)
// and returns the availability map.
func (e *Engine) ToolStatus() map[string]ToolInfo {
	out := make(map[string]ToolInfo, len(knownTools))
	for _, t := range knownTools {
		out[t.name] = ToolInfo{
			Available:   e.runner.IsAvailable(t.name),
			Required:    t.required,
			Description: t.description,
			Install:     t.install,
		}
	}
	return out
}

// checkDependencies emits dependency-missing per absent tool and a final
// dependencies-checked summary.
func (e *Engine) checkDependencies() {
	status := e.ToolStatus()
	missing := 0
	for name, info := range status {
		if info.Available {
			continue
		}
		missing++
		e.bus.Emit(events.DependencyMissing, map[string]interface{}{
			"tool":        name,
			"description": info.Description,
			"install":     info.Install,
		})
	}
	e.bus.Emit(events.DependenciesChecked, map[string]interface{}{
		"total":   len(status),
		"missing": missing,
	})
}
