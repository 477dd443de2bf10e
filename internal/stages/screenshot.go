package stages

import (
	"context"
	"os"
	"path/filepath"

	"github.com/osiriscare/recon/internal/procmgr"
	"github.com/osiriscare/recon/internal/runner"
	"github.com/osiriscare/recon/internal/target"
)

// Screenshot captures the target's landing page with a headless browser. The
// browser profile lives in a scratch directory registered with the process
// manager, so a crashed or hung browser never leaks its profile.
type Screenshot struct {
	env *Env
}

func NewScreenshot(env *Env) *Screenshot { return &Screenshot{env: env} }

func (s *Screenshot) Name() string { return "screenshot" }

// browserBinaries in preference order.
var browserBinaries = []string{"chromium", "chromium-browser", "google-chrome", "chrome"}

func (s *Screenshot) Execute(ctx context.Context, tgt target.Target, opts Options) *Result {
	return execGuard(s.Name(), func() *Result {
		individual := make(map[string]*runner.ToolResult)
		errs := make(map[string]string)

		browser := ""
		for _, bin := range browserBinaries {
			if s.env.Runner.IsAvailable(bin) {
				browser = bin
				break
			}
		}
		if browser == "" {
			individual["browser"] = &runner.ToolResult{Status: runner.StatusUnavailable, Code: runner.CodeNotFound}
			return finalize(individual, emptyScreenshotAggregate(), errs, false)
		}

		scratch, err := os.MkdirTemp("", procmgr.TempPrefix)
		if err != nil {
			errs["tempdir"] = err.Error()
			individual["browser"] = &runner.ToolResult{Status: runner.StatusError, Error: err.Error()}
			return finalize(individual, emptyScreenshotAggregate(), errs, false)
		}
		s.env.Procs.TrackTempDir(scratch)

		outFile := filepath.Join(scratch, "screenshot.png")
		res := s.env.Runner.Run(ctx, browser,
			[]string{
				"--headless", "--disable-gpu", "--no-sandbox",
				"--user-data-dir=" + scratch,
				"--screenshot=" + outFile,
				"--window-size=1280,800",
				tgt.URL(),
			},
			runner.Options{Timeout: opts.Timeout, TempDir: scratch})

		if res.Err != nil {
			individual["browser"] = runner.Classify(res, true)
			return finalize(individual, emptyScreenshotAggregate(), errs, false)
		}

		data, err := os.ReadFile(outFile)
		if err != nil || len(data) == 0 {
			individual["browser"] = &runner.ToolResult{Status: runner.StatusEmpty}
			return finalize(individual, emptyScreenshotAggregate(), errs, false)
		}

		individual["browser"] = &runner.ToolResult{Status: runner.StatusOK, Data: map[string]interface{}{
			"tool":  browser,
			"path":  outFile,
			"bytes": len(data),
		}}
		agg := map[string]interface{}{
			"captured": true,
			"path":     outFile,
			"bytes":    len(data),
		}
		return finalize(individual, agg, errs, true)
	})
}

func emptyScreenshotAggregate() map[string]interface{} {
	return map[string]interface{}{
		"captured": false,
		"path":     nil,
		"bytes":    0,
	}
}
