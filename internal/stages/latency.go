package stages

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/osiriscare/recon/internal/config"
	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// Latency measures round-trip characteristics with the system ping (packet
// counts, loss, min/avg/max/stddev) and optionally a traceroute hop list.
type Latency struct {
	env *Env
}

func NewLatency(env *Env) *Latency { return &Latency{env: env} }

func (s *Latency) Name() string { return "latency" }

func (s *Latency) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)
		count := config.Int(opts.Config, "count", 4)

		if s.env.Runner.IsAvailable("ping") {
			res := s.env.Runner.Run(ctx, "ping",
				[]string{"-c", strconv.Itoa(count), "-W", "3", tgt.Host},
				runner.Options{Timeout: opts.Timeout})
			individual["ping"] = classifyPing(res)
		} else {
			individual["ping"] = &runner.ToolResult{Status: runner.StatusUnavailable, Code: runner.CodeNotFound}
		}

		if config.Bool(opts.Config, "traceroute", false) && s.env.Runner.IsAvailable("traceroute") {
			res := s.env.Runner.Run(ctx, "traceroute", []string{"-m", "15", tgt.Host},
				runner.Options{Timeout: opts.Timeout})
			individual["traceroute"] = runner.Classify(res, true)
		}

		agg := AggregateLatency(individual)
		_, hasPing := agg["ping"].(map[string]interface{})
		return finalize(individual, agg, errs, hasPing)
	})
}

func classifyPing(res *runner.Result) *runner.ToolResult {
	// ping exits nonzero on full loss but still prints statistics; treat any
	// parseable output as data.
	if res.Err != nil && res.Err.Code == runner.CodeNotFound {
		return &runner.ToolResult{Status: runner.StatusUnavailable, Code: res.Err.Code}
	}
	if parsed := ParsePing(res.Stdout); parsed != nil {
		return &runner.ToolResult{Status: runner.StatusOK, Data: parsed}
	}
	if res.Err != nil {
		return &runner.ToolResult{Status: runner.StatusError, Error: res.Err.Message, Code: res.Err.Code}
	}
	return &runner.ToolResult{Status: runner.StatusEmpty}
}

var (
	pingPacketsRe = regexp.MustCompile(`(\d+) packets transmitted, (\d+) (?:packets )?received.*?([\d.]+)% packet loss`)
	pingRTTRe     = regexp.MustCompile(`(?:rtt|round-trip) min/avg/max/(?:mdev|stddev) = ([\d.]+)/([\d.]+)/([\d.]+)/([\d.]+)`)
)

// ParsePing extracts packet counts, loss percentage, and round-trip stats
// from ping output. Returns nil when nothing parseable is present.
func ParsePing(out string) map[string]interface{} {
	pk := pingPacketsRe.FindStringSubmatch(out)
	if pk == nil {
		return nil
	}
	sent, _ := strconv.Atoi(pk[1])
	received, _ := strconv.Atoi(pk[2])
	loss, _ := strconv.ParseFloat(pk[3], 64)

	data := map[string]interface{}{
		"packetsSent":     sent,
		"packetsReceived": received,
		"packetLoss":      loss,
		"min":             nil,
		"avg":             nil,
		"max":             nil,
		"stddev":          nil,
	}

	if rtt := pingRTTRe.FindStringSubmatch(out); rtt != nil {
		min, _ := strconv.ParseFloat(rtt[1], 64)
		avg, _ := strconv.ParseFloat(rtt[2], 64)
		max, _ := strconv.ParseFloat(rtt[3], 64)
		stddev, _ := strconv.ParseFloat(rtt[4], 64)
		data["min"] = min
		data["avg"] = avg
		data["max"] = max
		data["stddev"] = stddev
	}
	return data
}

// AggregateLatency carries the ping stats and a trimmed traceroute transcript.
func AggregateLatency(individual map[string]*runner.ToolResult) map[string]interface{} {
	agg := map[string]interface{}{
		"ping":       nil,
		"traceroute": nil,
	}
	if tr, ok := individual["ping"]; ok && tr.Status == runner.StatusOK {
		agg["ping"] = tr.Data
	}
	if tr, ok := individual["traceroute"]; ok && tr.Status == runner.StatusOK {
		if data, ok := tr.Data.(map[string]interface{}); ok {
			if raw, ok := data["raw"].(string); ok {
				agg["traceroute"] = strings.TrimSpace(raw)
			}
		}
	}
	return agg
}
