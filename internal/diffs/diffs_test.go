package diffs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osiriscare/recon/internal/fingerprint"
	"github.com/osiriscare/recon/internal/report"
	"github.com/osiriscare/recon/internal/stages"
)

// buildFP assembles a real fingerprint through the fingerprint package so
// diff inputs have the exact shape production code produces.
func buildFP(aggs map[string]map[string]interface{}) map[string]interface{} {
	results := report.NewResults()
	for stage, agg := range aggs {
		results.Set(stage, &stages.Result{Status: stages.StatusOK, Aggregated: agg})
	}
	return fingerprint.Build(results)
}

func baseAggs() map[string]map[string]interface{} {
	return map[string]map[string]interface{}{
		"dns": {
			"records": map[string]interface{}{
				"A":  []interface{}{"1.2.3.4"},
				"NS": []interface{}{"ns1.example.com"},
			},
		},
		"ports": {
			"openPorts": []interface{}{
				map[string]interface{}{"port": "80", "service": "http"},
				map[string]interface{}{"port": "443", "service": "https"},
			},
		},
		"subdomains": {
			"subdomains": []interface{}{"www.example.com"},
			"sources":    map[string]interface{}{"subfinder": 1.0},
		},
		"certificate": {
			"issuer":      "R3",
			"subject":     "example.com",
			"validTo":     "2026-06-01T00:00:00Z",
			"fingerprint": "aa:bb:cc",
			"sans":        []interface{}{"example.com", "www.example.com"},
		},
		"vulnerability": {
			"total":      1.0,
			"bySeverity": map[string]interface{}{"medium": 1.0},
		},
		"tlsAudit": {
			"grade":     "A",
			"protocols": []interface{}{"TLSv1.2", "TLSv1.3"},
		},
	}
}

func TestCompareNilFingerprint(t *testing.T) {
	fp := buildFP(baseAggs())
	assert.Nil(t, Compare(nil, fp))
	assert.Nil(t, Compare(fp, nil))
	assert.Nil(t, Compare(nil, nil))
}

func TestCompareIdenticalIsEmpty(t *testing.T) {
	prev := buildFP(baseAggs())
	curr := buildFP(baseAggs())

	d := Compare(prev, curr)
	require.NotNil(t, d)
	assert.Equal(t, 0, d.Summary.TotalChanges)
	assert.Equal(t, SeverityLow, d.Summary.Severity)
	assert.False(t, d.Summary.HasInfrastructureChanges)
	assert.False(t, d.Summary.HasAttackSurfaceChanges)
	assert.False(t, d.Summary.HasSecurityChanges)

	// Every category is present, all nil.
	require.Len(t, d.Changes, len(Categories))
	for _, c := range Categories {
		v, ok := d.Changes[c]
		require.True(t, ok, c)
		assert.Nil(t, v, c)
	}
}

func TestCompareNewPortIsHigh(t *testing.T) {
	prev := buildFP(baseAggs())
	aggs := baseAggs()
	aggs["ports"]["openPorts"] = append(aggs["ports"]["openPorts"].([]interface{}),
		map[string]interface{}{"port": "3306", "service": "mysql"})
	curr := buildFP(aggs)

	d := Compare(prev, curr)
	require.NotNil(t, d)
	assert.Equal(t, SeverityHigh, d.Summary.Severity)
	assert.True(t, d.Summary.HasAttackSurfaceChanges)

	cs := d.Changes["openPorts"].(*ChangeSet)
	assert.Equal(t, []string{"3306"}, cs.Added)
	assert.Empty(t, cs.Removed)
}

func TestComparePortRemovalStaysLow(t *testing.T) {
	prev := buildFP(baseAggs())
	aggs := baseAggs()
	aggs["ports"]["openPorts"] = []interface{}{
		map[string]interface{}{"port": "443", "service": "https"},
	}
	curr := buildFP(aggs)

	d := Compare(prev, curr)
	require.NotNil(t, d)
	assert.Equal(t, SeverityLow, d.Summary.Severity)
	cs := d.Changes["openPorts"].(*ChangeSet)
	assert.Equal(t, []string{"80"}, cs.Removed)
}

func TestComparePrimaryIPChangeIsHigh(t *testing.T) {
	prev := buildFP(baseAggs())
	aggs := baseAggs()
	aggs["dns"]["records"].(map[string]interface{})["A"] = []interface{}{"9.8.7.6"}
	curr := buildFP(aggs)

	d := Compare(prev, curr)
	require.NotNil(t, d)
	assert.Equal(t, SeverityHigh, d.Summary.Severity)
	assert.True(t, d.Summary.HasInfrastructureChanges)
}

func TestCompareVulnIncreaseIsCritical(t *testing.T) {
	prev := buildFP(baseAggs())
	aggs := baseAggs()
	aggs["vulnerability"]["total"] = 4.0
	curr := buildFP(aggs)

	d := Compare(prev, curr)
	require.NotNil(t, d)
	assert.Equal(t, SeverityCritical, d.Summary.Severity)
	assert.True(t, d.Summary.HasSecurityChanges)
	change := d.Changes["vulnerabilities"].(map[string]interface{})
	assert.Equal(t, 1, change["old"])
	assert.Equal(t, 4, change["new"])
}

func TestCompareVulnDecreaseNotCritical(t *testing.T) {
	aggs := baseAggs()
	aggs["vulnerability"]["total"] = 4.0
	prev := buildFP(aggs)
	curr := buildFP(baseAggs())

	d := Compare(prev, curr)
	require.NotNil(t, d)
	assert.NotNil(t, d.Changes["vulnerabilities"])
	assert.Equal(t, SeverityLow, d.Summary.Severity)
}

func TestCompareCertRotationIsMedium(t *testing.T) {
	prev := buildFP(baseAggs())
	aggs := baseAggs()
	aggs["certificate"]["fingerprint"] = "dd:ee:ff"
	curr := buildFP(aggs)

	d := Compare(prev, curr)
	require.NotNil(t, d)
	assert.Equal(t, SeverityMedium, d.Summary.Severity)

	change := d.Changes["certificate"].(map[string]interface{})
	assert.Equal(t, true, change["rotated"])
}

func TestCompareSubdomainBurstIsMedium(t *testing.T) {
	prev := buildFP(baseAggs())
	aggs := baseAggs()
	subs := []interface{}{"www.example.com"}
	for i := 0; i < 11; i++ {
		subs = append(subs, fmt.Sprintf("svc%02d.example.com", i))
	}
	aggs["subdomains"]["subdomains"] = subs
	curr := buildFP(aggs)

	d := Compare(prev, curr)
	require.NotNil(t, d)
	assert.Equal(t, SeverityMedium, d.Summary.Severity)
	cs := d.Changes["subdomains"].(*ChangeSet)
	assert.Len(t, cs.Added, 11)
}

func TestCompareSeverityIsMonotonicMax(t *testing.T) {
	prev := buildFP(baseAggs())
	aggs := baseAggs()
	// Critical (vuln increase) plus medium (cert rotation): critical wins.
	aggs["vulnerability"]["total"] = 9.0
	aggs["certificate"]["fingerprint"] = "dd:ee:ff"
	curr := buildFP(aggs)

	d := Compare(prev, curr)
	require.NotNil(t, d)
	assert.Equal(t, SeverityCritical, d.Summary.Severity)
}

func TestCompareTLSGradeChange(t *testing.T) {
	prev := buildFP(baseAggs())
	aggs := baseAggs()
	aggs["tlsAudit"]["grade"] = "C"
	curr := buildFP(aggs)

	d := Compare(prev, curr)
	require.NotNil(t, d)
	change := d.Changes["tlsGrade"].(map[string]interface{})
	assert.Equal(t, "A", change["old"])
	assert.Equal(t, "C", change["new"])
	assert.True(t, d.Summary.HasSecurityChanges)
}

func TestCompareDeterministic(t *testing.T) {
	prev := buildFP(baseAggs())
	aggs := baseAggs()
	aggs["ports"]["openPorts"] = append(aggs["ports"]["openPorts"].([]interface{}),
		map[string]interface{}{"port": "21", "service": "ftp"},
		map[string]interface{}{"port": "25", "service": "smtp"})
	curr := buildFP(aggs)

	d1 := Compare(prev, curr)
	d2 := Compare(prev, curr)
	assert.Equal(t, d1, d2)
	cs := d1.Changes["openPorts"].(*ChangeSet)
	assert.Equal(t, []string{"21", "25"}, cs.Added)
}
