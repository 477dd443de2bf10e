// Package diffs detects changes between two fingerprints of a host and
// classifies their severity. Output is deterministic: the same two inputs
// always produce byte-identical diffs.
package diffs

import (
	"sort"

	"github.com/osiriscare/recon/internal/fingerprint"
)

// Severities, least to most severe.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severityRank = map[string]int{
	SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3,
}

// Categories in canonical order. Every diff carries all of them; unchanged
// categories are nil.
var Categories = []string{
	"ipv4", "ipv6", "nameservers", "mailServers", "subdomains", "paths",
	"technologies", "openPorts", "certificate", "tlsGrade", "vulnerabilities",
}

// infrastructureCategories and the other groupings drive the summary flags.
var (
	infrastructureCategories = map[string]bool{
		"ipv4": true, "ipv6": true, "nameservers": true, "mailServers": true, "certificate": true,
	}
	attackSurfaceCategories = map[string]bool{
		"subdomains": true, "paths": true, "openPorts": true, "technologies": true,
	}
	securityCategories = map[string]bool{
		"tlsGrade": true, "vulnerabilities": true,
	}
)

// Summary aggregates a diff's findings.
type Summary struct {
	TotalChanges             int    `json:"totalChanges"`
	Severity                 string `json:"severity"`
	HasInfrastructureChanges bool   `json:"hasInfrastructureChanges"`
	HasAttackSurfaceChanges  bool   `json:"hasAttackSurfaceChanges"`
	HasSecurityChanges       bool   `json:"hasSecurityChanges"`
}

// Diff is the structured change set between two fingerprints.
type Diff struct {
	Timestamp    string                 `json:"timestamp"`
	PreviousScan string                 `json:"previousScan"`
	CurrentScan  string                 `json:"currentScan"`
	Changes      map[string]interface{} `json:"changes"`
	Summary      Summary                `json:"summary"`
}

// Compare diffs two fingerprints. Returns nil when either fingerprint is
// missing entirely. The caller fills Timestamp and the scan identifiers.
func Compare(prev, curr map[string]interface{}) *Diff {
	if prev == nil || curr == nil {
		return nil
	}

	changes := make(map[string]interface{}, len(Categories))
	for _, c := range Categories {
		changes[c] = nil
	}

	d := &Diff{Changes: changes, Summary: Summary{Severity: SeverityLow}}

	prevInfra := asMap(prev["infrastructure"])
	currInfra := asMap(curr["infrastructure"])
	prevSurface := asMap(prev["attackSurface"])
	currSurface := asMap(curr["attackSurface"])

	// Address sets. A changed primary IP is high severity on its own.
	prevV4 := toStrings(asMap(prevInfra["ips"])["ipv4"])
	currV4 := toStrings(asMap(currInfra["ips"])["ipv4"])
	if cs := setChange(prevV4, currV4); cs != nil {
		changes["ipv4"] = cs
		d.note("ipv4", cs)
		if first(prevV4) != first(currV4) {
			d.raise(SeverityHigh)
		}
	}
	if cs := setChange(toStrings(asMap(prevInfra["ips"])["ipv6"]), toStrings(asMap(currInfra["ips"])["ipv6"])); cs != nil {
		changes["ipv6"] = cs
		d.note("ipv6", cs)
	}
	if cs := setChange(toStrings(prevInfra["nameservers"]), toStrings(currInfra["nameservers"])); cs != nil {
		changes["nameservers"] = cs
		d.note("nameservers", cs)
	}
	if cs := setChange(toStrings(prevInfra["mailServers"]), toStrings(currInfra["mailServers"])); cs != nil {
		changes["mailServers"] = cs
		d.note("mailServers", cs)
	}

	// Subdomains: a burst of new names is medium.
	prevSubs := toStrings(asMap(prevSurface["subdomains"])["list"])
	currSubs := toStrings(asMap(currSurface["subdomains"])["list"])
	if cs := setChange(prevSubs, currSubs); cs != nil {
		changes["subdomains"] = cs
		d.note("subdomains", cs)
		if len(cs.Added) > 10 {
			d.raise(SeverityMedium)
		}
	}

	if cs := setChange(toStrings(asMap(prevSurface["discoveredPaths"])["list"]), toStrings(asMap(currSurface["discoveredPaths"])["list"])); cs != nil {
		changes["paths"] = cs
		d.note("paths", cs)
	}

	// Technologies: anything newly detected is medium.
	prevTech := toStrings(asMap(prev["technologies"])["detected"])
	currTech := toStrings(asMap(curr["technologies"])["detected"])
	if cs := setChange(prevTech, currTech); cs != nil {
		changes["technologies"] = cs
		d.note("technologies", cs)
		if len(cs.Added) > 0 {
			d.raise(SeverityMedium)
		}
	}

	// Open ports: any new port is high.
	if cs := setChange(fingerprint.PortNumbers(prev), fingerprint.PortNumbers(curr)); cs != nil {
		changes["openPorts"] = cs
		d.note("openPorts", cs)
		if len(cs.Added) > 0 {
			d.raise(SeverityHigh)
		}
	}

	// Certificate: a changed fingerprint is a rotation (medium), with SAN
	// add/remove detail.
	prevCert := asMap(prevInfra["certificate"])
	currCert := asMap(currInfra["certificate"])
	if certChange := certDiff(prevCert, currCert); certChange != nil {
		changes["certificate"] = certChange
		d.Summary.TotalChanges++
		d.markGroup("certificate")
		if rotated, _ := certChange["rotated"].(bool); rotated {
			d.raise(SeverityMedium)
		}
	}

	// TLS grade.
	prevGrade := gradeOf(prev)
	currGrade := gradeOf(curr)
	if prevGrade != currGrade {
		changes["tlsGrade"] = map[string]interface{}{"old": orNil(prevGrade), "new": orNil(currGrade)}
		d.Summary.TotalChanges++
		d.markGroup("tlsGrade")
	}

	// Vulnerability counts: an increase is critical.
	prevVulns := vulnTotal(prev)
	currVulns := vulnTotal(curr)
	if prevVulns != currVulns {
		changes["vulnerabilities"] = map[string]interface{}{"old": prevVulns, "new": currVulns}
		d.Summary.TotalChanges++
		d.markGroup("vulnerabilities")
		if currVulns > prevVulns {
			d.raise(SeverityCritical)
		}
	}

	if d.Summary.TotalChanges == 0 {
		d.Summary.Severity = SeverityLow
	}
	return d
}

// ChangeSet records a set-valued field's delta.
type ChangeSet struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// setChange computes added/removed between two string sets, nil when equal.
func setChange(prev, curr []string) *ChangeSet {
	prevSet := toSet(prev)
	currSet := toSet(curr)

	var added, removed []string
	for v := range currSet {
		if _, ok := prevSet[v]; !ok {
			added = append(added, v)
		}
	}
	for v := range prevSet {
		if _, ok := currSet[v]; !ok {
			removed = append(removed, v)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	sort.Strings(added)
	sort.Strings(removed)
	if added == nil {
		added = []string{}
	}
	if removed == nil {
		removed = []string{}
	}
	return &ChangeSet{Added: added, Removed: removed}
}

// certDiff reports a certificate rotation and the SAN delta. Either side
// missing while the other is present also counts as a change.
func certDiff(prev, curr map[string]interface{}) map[string]interface{} {
	if prev == nil && curr == nil {
		return nil
	}
	prevFP, _ := prev["fingerprint"].(string)
	currFP, _ := curr["fingerprint"].(string)
	if prevFP == currFP && (prev == nil) == (curr == nil) {
		return nil
	}

	out := map[string]interface{}{
		"rotated": prevFP != "" && currFP != "" && prevFP != currFP,
		"old":     certSummary(prev),
		"new":     certSummary(curr),
	}
	if sans := setChange(toStrings(prev["sans"]), toStrings(curr["sans"])); sans != nil {
		out["sans"] = sans
	}
	return out
}

func certSummary(cert map[string]interface{}) interface{} {
	if cert == nil {
		return nil
	}
	return map[string]interface{}{
		"issuer":      cert["issuer"],
		"subject":     cert["subject"],
		"validTo":     cert["validTo"],
		"fingerprint": cert["fingerprint"],
	}
}

// note counts a set change and classifies it: additions in infrastructure
// sets are medium, pure removals stay low.
func (d *Diff) note(category string, cs *ChangeSet) {
	d.Summary.TotalChanges += len(cs.Added) + len(cs.Removed)
	d.markGroup(category)
	if len(cs.Added) > 0 && infrastructureCategories[category] {
		d.raise(SeverityMedium)
	}
}

func (d *Diff) markGroup(category string) {
	switch {
	case infrastructureCategories[category]:
		d.Summary.HasInfrastructureChanges = true
	case attackSurfaceCategories[category]:
		d.Summary.HasAttackSurfaceChanges = true
	case securityCategories[category]:
		d.Summary.HasSecurityChanges = true
	}
}

// raise lifts the summary severity, never lowers it.
func (d *Diff) raise(severity string) {
	if severityRank[severity] > severityRank[d.Summary.Severity] {
		d.Summary.Severity = severity
	}
}

func gradeOf(fp map[string]interface{}) string {
	tls := asMap(asMap(fp["security"])["tls"])
	grade, _ := tls["grade"].(string)
	return grade
}

func vulnTotal(fp map[string]interface{}) int {
	vulns := asMap(asMap(fp["security"])["vulnerabilities"])
	switch n := vulns["total"].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func first(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

func orNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func toStrings(raw interface{}) []string {
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

func toSet(list []string) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, v := range list {
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}
