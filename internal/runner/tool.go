package runner

import (
	"context"
	"encoding/json"
	"strings"
)

// Tool result statuses shared by all stages.
const (
	StatusOK          = "ok"
	StatusEmpty       = "empty"
	StatusSkipped     = "skipped"
	StatusUnavailable = "unavailable"
	StatusError       = "error"
)

// ToolResult is the uniform envelope for one tool's contribution to a stage.
type ToolResult struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
	Code   string      `json:"code,omitempty"`
}

// ToolOptions tune a RunTool invocation.
type ToolOptions struct {
	Options
	// RawArgs replaces the default "-o json" suffix when set.
	RawArgs []string
	// NoJSON skips the "-o json" suffix and JSON parsing.
	NoJSON bool
}

// RunTool invokes a tool as `<tool> <resource> <verb> <target>`, appends
// `-o json` by default, and classifies the outcome:
//
//	spawn not-found        → unavailable
//	nonzero exit / timeout → error
//	empty / [] / {} / null → empty
//	otherwise              → ok (data parsed as JSON, or {raw: stdout})
func (r *Runner) RunTool(ctx context.Context, tool, resource, verb, target string, opts ToolOptions) *ToolResult {
	args := make([]string, 0, 6)
	if resource != "" {
		args = append(args, resource)
	}
	if verb != "" {
		args = append(args, verb)
	}
	if target != "" {
		args = append(args, target)
	}
	if len(opts.RawArgs) > 0 {
		args = append(args, opts.RawArgs...)
	} else if !opts.NoJSON {
		args = append(args, "-o", "json")
	}

	res := r.Run(ctx, tool, args, opts.Options)
	return Classify(res, opts.NoJSON)
}

// Classify converts a raw Result into the tool-status envelope.
func Classify(res *Result, noJSON bool) *ToolResult {
	if res.Err != nil {
		switch res.Err.Code {
		case CodeNotFound:
			return &ToolResult{Status: StatusUnavailable, Error: res.Err.Message, Code: res.Err.Code}
		default:
			return &ToolResult{Status: StatusError, Error: res.Err.Message, Code: res.Err.Code}
		}
	}

	stdout := strings.TrimSpace(res.Stdout)
	if isEmptyOutput(stdout) {
		return &ToolResult{Status: StatusEmpty}
	}

	if noJSON {
		return &ToolResult{Status: StatusOK, Data: map[string]interface{}{"raw": stdout}}
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(stdout), &parsed); err != nil {
		// Parse failures downgrade to raw output, never fail the tool.
		return &ToolResult{Status: StatusOK, Data: map[string]interface{}{"raw": stdout}}
	}
	if parsedEmpty(parsed) {
		return &ToolResult{Status: StatusEmpty}
	}
	return &ToolResult{Status: StatusOK, Data: parsed}
}

func isEmptyOutput(stdout string) bool {
	switch stdout {
	case "", "[]", "{}", "null":
		return true
	}
	return false
}

func parsedEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}
