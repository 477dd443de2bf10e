// Package procmgr owns every child process handle the command runner creates
// and guarantees none outlive the engine. It tracks scratch directories
// created for external tools and removes them on cleanup, and sweeps orphaned
// tool processes left behind by crashed scans.
package procmgr

import (
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	gracefulWait = 5 * time.Second
	pollEvery    = 100 * time.Millisecond

	// TempPrefix marks scratch directories created for external tools.
	// The orphan sweep only touches entries under os.TempDir() with this prefix.
	TempPrefix = "recon-scratch-"
)

// toolSignatures are substrings of command lines that identify residual tool
// processes from a prior run (headless browser profiles point into our
// scratch dirs).
var toolSignatures = []string{
	TempPrefix,
	"--user-data-dir=" + filepath.Join(os.TempDir(), TempPrefix),
}

// TrackedProcess is one live child owned by the manager.
type TrackedProcess struct {
	Cmd       *exec.Cmd
	PID       int
	Name      string
	StartedAt time.Time
	TempDirs  []string
}

// TrackOptions describe a child being registered.
type TrackOptions struct {
	Name    string
	TempDir string
}

// Manager tracks child processes and scratch directories.
type Manager struct {
	mu       sync.Mutex
	procs    map[int]*TrackedProcess
	tempDirs map[string]struct{}

	signalOnce sync.Once
	exit       func(code int) // overridable for tests
}

// New creates an empty manager.
func New() *Manager {
	return &Manager{
		procs:    make(map[int]*TrackedProcess),
		tempDirs: make(map[string]struct{}),
		exit:     os.Exit,
	}
}

// Track registers a started command. The runner must call Untrack when the
// child's Wait returns.
func (m *Manager) Track(cmd *exec.Cmd, opts TrackOptions) *TrackedProcess {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	tp := &TrackedProcess{
		Cmd:       cmd,
		PID:       cmd.Process.Pid,
		Name:      opts.Name,
		StartedAt: time.Now(),
	}
	if opts.TempDir != "" {
		tp.TempDirs = append(tp.TempDirs, opts.TempDir)
	}

	m.mu.Lock()
	m.procs[tp.PID] = tp
	if opts.TempDir != "" {
		m.tempDirs[opts.TempDir] = struct{}{}
	}
	m.mu.Unlock()
	return tp
}

// Untrack removes a process after it has exited.
func (m *Manager) Untrack(tp *TrackedProcess) {
	if tp == nil {
		return
	}
	m.mu.Lock()
	delete(m.procs, tp.PID)
	m.mu.Unlock()
}

// TrackTempDir registers a scratch directory for removal on cleanup.
func (m *Manager) TrackTempDir(path string) {
	if path == "" {
		return
	}
	m.mu.Lock()
	m.tempDirs[path] = struct{}{}
	m.mu.Unlock()
}

// Processes returns a snapshot of tracked processes.
func (m *Manager) Processes() []*TrackedProcess {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TrackedProcess, 0, len(m.procs))
	for _, tp := range m.procs {
		out = append(out, tp)
	}
	return out
}

// Count returns the number of tracked processes.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.procs)
}

// TempDirCount returns the number of registered scratch directories.
func (m *Manager) TempDirCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tempDirs)
}

// RegisterSignalHandlers installs shutdown handlers exactly once. Each signal
// triggers Cleanup(false) and exits with 128+signo, matching shell
// convention.
func (m *Manager) RegisterSignalHandlers() {
	m.signalOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		go func() {
			sig := <-ch
			log.Printf("[procmgr] Shutdown signal %v, cleaning up %d processes", sig, m.Count())
			if err := m.Cleanup(false); err != nil {
				log.Printf("[procmgr] Cleanup on signal: %v", err)
			}
			code := 1
			if s, ok := sig.(syscall.Signal); ok {
				code = 128 + int(s)
			}
			m.exit(code)
		}()
	})
}

// Cleanup terminates all tracked children, removes scratch directories, and
// sweeps orphans. Errors are collected but never stop the remaining steps.
// force skips the graceful signal and kills immediately.
func (m *Manager) Cleanup(force bool) error {
	var errs *multierror.Error

	m.mu.Lock()
	procs := make([]*TrackedProcess, 0, len(m.procs))
	for _, tp := range m.procs {
		procs = append(procs, tp)
	}
	dirs := make([]string, 0, len(m.tempDirs))
	for d := range m.tempDirs {
		dirs = append(dirs, d)
	}
	m.mu.Unlock()

	// 1. Terminate tracked children.
	for _, tp := range procs {
		if err := m.terminate(tp, force); err != nil {
			log.Printf("[procmgr] Terminate %s (pid %d): %v", tp.Name, tp.PID, err)
			errs = multierror.Append(errs, err)
		}
	}

	// 2. Remove scratch directories. Missing dirs are fine.
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("[procmgr] Remove temp dir %s: %v", dir, err)
			errs = multierror.Append(errs, err)
		}
	}

	// 3. Orphan sweep: kill residual tool processes and stale scratch dirs
	// from prior runs.
	if err := m.sweepOrphans(); err != nil {
		errs = multierror.Append(errs, err)
	}

	// 4. Clear internal sets.
	m.mu.Lock()
	m.procs = make(map[int]*TrackedProcess)
	m.tempDirs = make(map[string]struct{})
	m.mu.Unlock()

	return errs.ErrorOrNil()
}

// terminate sends SIGTERM, polls for exit up to gracefulWait, then SIGKILLs.
func (m *Manager) terminate(tp *TrackedProcess, force bool) error {
	proc := tp.Cmd.Process
	if proc == nil {
		return nil
	}
	if !alive(proc.Pid) {
		return nil
	}

	if !force {
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			// Already gone.
			return nil
		}
		deadline := time.Now().Add(gracefulWait)
		for time.Now().Before(deadline) {
			if !alive(proc.Pid) {
				return nil
			}
			time.Sleep(pollEvery)
		}
		log.Printf("[procmgr] Process %s (pid %d) ignored SIGTERM, killing", tp.Name, tp.PID)
	}

	if err := proc.Kill(); err != nil && alive(proc.Pid) {
		return err
	}
	return nil
}

// alive probes process existence with signal 0, which never delivers a signal.
func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// sweepOrphans enumerates residual processes whose command lines match known
// tool signatures and kills them, then removes stale scratch directories
// under the system temp root.
func (m *Manager) sweepOrphans() error {
	var errs *multierror.Error

	procs, err := process.Processes()
	if err != nil {
		log.Printf("[procmgr] Orphan sweep: list processes: %v", err)
		errs = multierror.Append(errs, err)
	} else {
		self := os.Getpid()
		for _, p := range procs {
			if int(p.Pid) == self {
				continue
			}
			cmdline, err := p.Cmdline()
			if err != nil || cmdline == "" {
				continue
			}
			for _, sig := range toolSignatures {
				if strings.Contains(cmdline, sig) {
					log.Printf("[procmgr] Killing orphan pid %d (%s)", p.Pid, truncate(cmdline, 120))
					if err := p.Kill(); err != nil {
						errs = multierror.Append(errs, err)
					}
					break
				}
			}
		}
	}

	entries, err := os.ReadDir(os.TempDir())
	if err != nil {
		errs = multierror.Append(errs, err)
		return errs.ErrorOrNil()
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), TempPrefix) {
			continue
		}
		path := filepath.Join(os.TempDir(), e.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("[procmgr] Orphan sweep: remove %s: %v", path, err)
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
