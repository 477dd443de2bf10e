package stages

import (
	"context"
	"strings"
	"time"

	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// Whois drives the system whois client and parses the registration record:
// registrar, registrant, ISO-normalized dates, nameservers, status, dnssec,
// plus the derived expiration outlook.
type Whois struct {
	env *Env
}

func NewWhois(env *Env) *Whois { return &Whois{env: env} }

func (s *Whois) Name() string { return "whois" }

// Expiration classifications.
const (
	ExpirationExpired      = "expired"
	ExpirationExpiringSoon = "expiring-soon"
	ExpirationOK           = "ok"
)

func (s *Whois) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)

		if !s.env.Runner.IsAvailable("whois") {
			individual["whois"] = &runner.ToolResult{Status: runner.StatusUnavailable, Code: runner.CodeNotFound}
			return finalize(individual, emptyWhoisAggregate(), errs, false)
		}

		res := s.env.Runner.Run(ctx, "whois", []string{tgt.Host}, runner.Options{Timeout: opts.Timeout})
		tr := runner.Classify(res, true)
		individual["whois"] = tr

		if tr.Status != runner.StatusOK {
			return finalize(individual, emptyWhoisAggregate(), errs, false)
		}

		raw := ""
		if data, ok := tr.Data.(map[string]interface{}); ok {
			raw, _ = data["raw"].(string)
		}
		agg := ParseWhois(raw, time.Now().UTC())
		return finalize(individual, agg, errs, agg["registrar"] != nil || len(agg["nameservers"].([]string)) > 0)
	})
}

func emptyWhoisAggregate() map[string]interface{} {
	return map[string]interface{}{
		"registrar":           nil,
		"registrant":          nil,
		"createdAt":           nil,
		"updatedAt":           nil,
		"expiresAt":           nil,
		"nameservers":         []string{},
		"status":              []string{},
		"dnssec":              nil,
		"daysUntilExpiration": nil,
		"expirationStatus":    nil,
	}
}

// whoisDateLayouts are the formats registries actually emit.
var whoisDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
	"02.01.2006",
}

// ParseWhois extracts structured fields from a raw whois response. now is
// injected for deterministic expiration math.
func ParseWhois(raw string, now time.Time) map[string]interface{} {
	agg := emptyWhoisAggregate()
	var nameservers, statuses []string

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 1 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		val := strings.TrimSpace(line[idx+1:])
		if val == "" {
			continue
		}

		switch {
		case key == "registrar" || key == "registrar name" || key == "sponsoring registrar":
			if agg["registrar"] == nil {
				agg["registrar"] = val
			}
		case key == "registrant" || key == "registrant name" || key == "registrant organization":
			if agg["registrant"] == nil {
				agg["registrant"] = val
			}
		case key == "creation date" || key == "created" || key == "registered on" || key == "created on":
			if agg["createdAt"] == nil {
				agg["createdAt"] = isoDate(val)
			}
		case key == "updated date" || key == "last updated" || key == "last-update" || key == "modified":
			if agg["updatedAt"] == nil {
				agg["updatedAt"] = isoDate(val)
			}
		case key == "registry expiry date" || key == "expiry date" || key == "expiration date" ||
			key == "expires" || key == "paid-till" || key == "expire":
			if agg["expiresAt"] == nil {
				agg["expiresAt"] = isoDate(val)
			}
		case key == "name server" || key == "nserver" || key == "nameserver":
			// Some registries append the IP after the hostname.
			ns := strings.ToLower(strings.Fields(val)[0])
			nameservers = append(nameservers, strings.TrimSuffix(ns, "."))
		case key == "domain status" || key == "status":
			// Strip the ICANN URL suffix.
			statuses = append(statuses, strings.Fields(val)[0])
		case key == "dnssec":
			if agg["dnssec"] == nil {
				agg["dnssec"] = strings.ToLower(val)
			}
		}
	}

	agg["nameservers"] = sortedUnique(nameservers)
	agg["status"] = sortedUnique(statuses)

	if expires, ok := agg["expiresAt"].(string); ok && expires != "" {
		if t, err := time.Parse(time.RFC3339, expires); err == nil {
			days := int(t.Sub(now).Hours() / 24)
			agg["daysUntilExpiration"] = days
			switch {
			case days < 0:
				agg["expirationStatus"] = ExpirationExpired
			case days <= 30:
				agg["expirationStatus"] = ExpirationExpiringSoon
			default:
				agg["expirationStatus"] = ExpirationOK
			}
		}
	}

	return agg
}

// isoDate normalizes a registry date string to RFC 3339 UTC, or returns nil
// if no known layout matches.
func isoDate(val string) interface{} {
	val = strings.TrimSpace(val)
	for _, layout := range whoisDateLayouts {
		if t, err := time.Parse(layout, val); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return nil
}
