package config

// Features is the nested tree of flags and values describing which stages and
// which tools within each stage run. Stage keys map to either `false`
// (disabled) or a nested map of tool flags and tuning values.
type Features map[string]interface{}

// Presets recognized by Resolve.
const (
	PresetPassive    = "passive"
	PresetStealth    = "stealth"
	PresetAggressive = "aggressive"
)

// IsPreset reports whether name is a recognized behavior preset.
func IsPreset(name string) bool {
	switch name {
	case PresetPassive, PresetStealth, PresetAggressive:
		return true
	}
	return false
}

// DefaultFeatures returns the baseline feature tree. Every stage is enabled
// with moderate settings; presets and user config override from here.
func DefaultFeatures() Features {
	return Features{
		"dns":          map[string]interface{}{"reverseLookup": true},
		"certificate":  true,
		"whois":        true,
		"latency":      map[string]interface{}{"count": 4},
		"http":         true,
		"ports":        map[string]interface{}{"topPorts": 100, "sshProbe": true},
		"subdomains":   map[string]interface{}{"sources": []interface{}{"crtsh", "subfinder", "amass"}},
		"webDiscovery": map[string]interface{}{"wordlist": "common", "extensions": []interface{}{}},
		"vulnerability": true,
		"tlsAudit":     true,
		"fingerprint":  true,
		"screenshot":   true,
		"osint":        true,
		"asn":          true,
		"dnsdumpster":  map[string]interface{}{"scrape": false},
		"timeout": map[string]interface{}{
			"default": 30000,
		},
		"rateLimit": map[string]interface{}{
			"enabled":            false,
			"delayBetweenStages": 0,
		},
	}
}

// presets maps behavior names to their feature overrides. passive keeps to
// public sources and native lookups; stealth throttles everything; aggressive
// opens up depth and concurrency.
var presets = map[string]Features{
	PresetPassive: {
		"ports":         false,
		"webDiscovery":  false,
		"vulnerability": false,
		"screenshot":    false,
		"latency":       false,
		"subdomains":    map[string]interface{}{"sources": []interface{}{"crtsh"}},
		"dnsdumpster":   map[string]interface{}{"scrape": false},
	},
	PresetStealth: {
		"ports": map[string]interface{}{"topPorts": 25, "concurrency": 1, "sshProbe": false},
		"webDiscovery": map[string]interface{}{
			"wordlist":    "small",
			"concurrency": 1,
		},
		"timeout": map[string]interface{}{"default": 60000},
		"rateLimit": map[string]interface{}{
			"enabled":            true,
			"delayBetweenStages": 2000,
		},
	},
	PresetAggressive: {
		"ports": map[string]interface{}{"topPorts": 1000, "concurrency": 50, "sshProbe": true},
		"webDiscovery": map[string]interface{}{
			"wordlist":    "big",
			"extensions":  []interface{}{"php", "asp", "aspx", "js", "html"},
			"concurrency": 20,
		},
		"subdomains":  map[string]interface{}{"bruteforce": true},
		"dnsdumpster": map[string]interface{}{"scrape": true},
		"timeout":     map[string]interface{}{"default": 45000},
	},
}

// Preset returns a copy of the named preset's overrides, or nil.
func Preset(name string) Features {
	p, ok := presets[name]
	if !ok {
		return nil
	}
	return deepCopy(p)
}

// Resolve computes the effective feature tree:
// defaults ⊕ preset(behavior) ⊕ user ⊕ overrides, later wins, nested maps
// deep-merged. Scalar-over-map and map-over-scalar replace wholesale.
func Resolve(behavior string, user, overrides Features) Features {
	out := deepCopy(DefaultFeatures())
	if p := Preset(behavior); p != nil {
		out = Merge(out, p)
	}
	if user != nil {
		out = Merge(out, deepCopy(user))
	}
	if overrides != nil {
		out = Merge(out, deepCopy(overrides))
	}
	return out
}

// Merge deep-merges b into a and returns a. Nested maps merge key-by-key;
// anything else in b replaces the value in a.
func Merge(a, b Features) Features {
	if a == nil {
		a = Features{}
	}
	for k, bv := range b {
		if bm, ok := toMap(bv); ok {
			if am, ok := toMap(a[k]); ok {
				a[k] = map[string]interface{}(Merge(am, bm))
				continue
			}
		}
		a[k] = bv
	}
	return a
}

// StageEnabled reports whether a stage should run. Anything other than an
// explicit false enables the stage.
func (f Features) StageEnabled(stage string) bool {
	v, ok := f[stage]
	if !ok {
		return true
	}
	b, isBool := v.(bool)
	return !isBool || b
}

// Stage returns the nested options map for a stage, or an empty map.
func (f Features) Stage(stage string) map[string]interface{} {
	if m, ok := toMap(f[stage]); ok {
		return m
	}
	return map[string]interface{}{}
}

// StageTimeoutMs returns config.timeout[stage] falling back to
// config.timeout.default, and finally 30000.
func (f Features) StageTimeoutMs(stage string) int {
	timeouts, _ := toMap(f["timeout"])
	if v, ok := asInt(timeouts[stage]); ok && v > 0 {
		return v
	}
	if v, ok := asInt(timeouts["default"]); ok && v > 0 {
		return v
	}
	return 30000
}

// RateLimit returns the effective inter-stage delay settings.
func (f Features) RateLimit() (enabled bool, delayMs int) {
	rl, _ := toMap(f["rateLimit"])
	if b, ok := rl["enabled"].(bool); ok {
		enabled = b
	}
	delayMs, _ = asInt(rl["delayBetweenStages"])
	return enabled, delayMs
}

// Int reads an integer option from a stage map with a default.
func Int(opts map[string]interface{}, key string, def int) int {
	if v, ok := asInt(opts[key]); ok {
		return v
	}
	return def
}

// Bool reads a boolean option from a stage map with a default.
func Bool(opts map[string]interface{}, key string, def bool) bool {
	if v, ok := opts[key].(bool); ok {
		return v
	}
	return def
}

// String reads a string option from a stage map with a default.
func String(opts map[string]interface{}, key, def string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Strings reads a string-list option from a stage map.
func Strings(opts map[string]interface{}, key string) []string {
	raw, ok := opts[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Features:
		return m, true
	}
	return nil, false
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func deepCopy(f Features) Features {
	out := make(Features, len(f))
	for k, v := range f {
		if m, ok := toMap(v); ok {
			out[k] = map[string]interface{}(deepCopy(m))
			continue
		}
		if list, ok := v.([]interface{}); ok {
			cp := make([]interface{}, len(list))
			copy(cp, list)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}
