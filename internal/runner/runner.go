// Package runner invokes external CLI tools with bounded output, deadlines,
// and process tracking. Every call resolves exactly once with a structured
// Result; tools are never allowed to block the engine or flood memory.
package runner

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os/exec"
	"sync"
	"syscall"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/osiriscare/recon/internal/procmgr"
)

// Error codes carried on Result.Err.
const (
	CodeTimeout   = "TIMEOUT"
	CodeMaxBuffer = "MAXBUFFER"
	CodeNotFound  = "ENOENT"
	CodeExit      = "EXITCODE"
	CodeSpawn     = "ESPAWN"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxBuffer = 1 << 20 // 1 MiB per stream
	killDelay        = 5 * time.Second
)

// RunError describes why a run failed.
type RunError struct {
	Code    string
	Message string
}

func (e *RunError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Result is the outcome of one external command.
type Result struct {
	OK       bool
	Stdout   string
	Stderr   string
	ExitCode int
	Err      *RunError
}

// Options tune a single run.
type Options struct {
	Timeout   time.Duration // default 30s
	MaxBuffer int           // default 1 MiB per stream
	Untracked bool          // skip process-manager tracking (availability probes)
	Dir       string
	TempDir   string // scratch dir owned by the child, registered with the manager
}

// Runner executes external tools.
type Runner struct {
	mgr   *procmgr.Manager
	avail *gocache.Cache

	mu      sync.Mutex
	missing map[string]bool // tools already reported missing this run
}

// New creates a runner backed by the given process manager.
func New(mgr *procmgr.Manager) *Runner {
	return &Runner{
		mgr:     mgr,
		avail:   gocache.New(gocache.NoExpiration, 0),
		missing: make(map[string]bool),
	}
}

// Run executes command with args. No shell interpolation; stdin is closed;
// stdout/stderr are captured into bounded buffers. Exactly one of timeout,
// buffer overflow, spawn failure, or exit decides the result.
func (r *Runner) Run(ctx context.Context, command string, args []string, opts Options) *Result {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxBuffer := opts.MaxBuffer
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = opts.Dir
	cmd.Stdin = nil

	// Graceful termination first, forceful kill after a bounded wait.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killDelay

	var overflow overflowFlag
	stdout := newBoundedBuffer(maxBuffer, &overflow, cancel)
	stderr := newBoundedBuffer(maxBuffer, &overflow, cancel)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		code := CodeSpawn
		if errors.Is(err, exec.ErrNotFound) {
			code = CodeNotFound
		}
		return &Result{
			OK:       false,
			ExitCode: -1,
			Err:      &RunError{Code: code, Message: err.Error()},
		}
	}

	var tracked *procmgr.TrackedProcess
	if !opts.Untracked {
		tracked = r.mgr.Track(cmd, procmgr.TrackOptions{Name: command, TempDir: opts.TempDir})
	}

	waitErr := cmd.Wait()
	if tracked != nil {
		r.mgr.Untrack(tracked)
	}

	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	// Resolution precedence: buffer overflow > timeout > exit status.
	switch {
	case overflow.tripped():
		res.ExitCode = -1
		res.Err = &RunError{Code: CodeMaxBuffer, Message: "output exceeded buffer limit"}
	case runCtx.Err() == context.DeadlineExceeded:
		res.ExitCode = -1
		res.Err = &RunError{Code: CodeTimeout, Message: "command timed out after " + timeout.String()}
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			res.Err = &RunError{Code: CodeExit, Message: waitErr.Error()}
		} else {
			res.ExitCode = -1
			res.Err = &RunError{Code: CodeSpawn, Message: waitErr.Error()}
		}
	default:
		res.ExitCode = 0
		res.OK = true
	}

	return res
}

// IsAvailable probes for a tool on PATH. Results are cached for the life of
// the runner. Probes are never tracked by the process manager.
func (r *Runner) IsAvailable(command string) bool {
	if v, ok := r.avail.Get(command); ok {
		return v.(bool)
	}
	_, err := exec.LookPath(command)
	available := err == nil
	r.avail.Set(command, available, gocache.NoExpiration)
	if !available {
		r.mu.Lock()
		first := !r.missing[command]
		r.missing[command] = true
		r.mu.Unlock()
		if first {
			log.Printf("[runner] Tool not found on PATH: %s", command)
		}
	}
	return available
}

// ClearCache drops all cached availability results.
func (r *Runner) ClearCache() {
	r.avail.Flush()
	r.mu.Lock()
	r.missing = make(map[string]bool)
	r.mu.Unlock()
}

// overflowFlag records the first buffer overflow.
type overflowFlag struct {
	mu      sync.Mutex
	crossed bool
}

func (f *overflowFlag) trip() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.crossed {
		return false
	}
	f.crossed = true
	return true
}

func (f *overflowFlag) tripped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.crossed
}

// boundedBuffer captures up to limit bytes, then trips the shared overflow
// flag and cancels the command. Writes past the limit are truncated, never
// errored, so the pipe keeps draining until the child dies.
type boundedBuffer struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	limit    int
	overflow *overflowFlag
	cancel   context.CancelFunc
}

func newBoundedBuffer(limit int, overflow *overflowFlag, cancel context.CancelFunc) *boundedBuffer {
	return &boundedBuffer{limit: limit, overflow: overflow, cancel: cancel}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	room := b.limit - b.buf.Len()
	if room > 0 {
		if len(p) <= room {
			b.buf.Write(p)
		} else {
			b.buf.Write(p[:room])
		}
	}
	exceeded := len(p) > room
	b.mu.Unlock()

	if exceeded && b.overflow.trip() {
		b.cancel()
	}
	// Report full length so the OS pipe drains.
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
