// Package supervisor owns the lifecycle of local MCP server processes:
// spawning, liveness tracking, graceful and forced termination, and bulk
// cleanup. It also hands out the stdin/stdout protocol streams that the
// mcp package's pipe transport reads and writes.
//
// The process table is guarded by a single mutex; all mutation funnels
// through it. A process that dies outside an explicit Stop is detected
// lazily, on the next Health, IsRunning, or CleanupDeadProcesses call —
// there is no background watcher, and nothing survives a controller
// restart.
package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ErrCommandNotFound means the command did not resolve to an executable;
// no process was created.
var ErrCommandNotFound = errors.New("command not found or not executable")

// ErrNotRunning means the server id has no live process registered.
var ErrNotRunning = errors.New("server process not running")

// ExitError reports a process that exited during the stabilization
// window. Code is -1 when the exit code could not be determined.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exited during startup (exit code %d)", e.Code)
}

// Timing for the post-spawn stabilization window and the two-phase stop.
// Fields on the Supervisor so tests can shrink them.
const (
	defaultStabilizationPoll    = 100 * time.Millisecond
	defaultStabilizationMinimum = 1 * time.Second
	defaultStabilizationCeiling = 3 * time.Second
	defaultGracefulStopTimeout  = 10 * time.Second
	defaultForcedStopTimeout    = 5 * time.Second
)

// handle is one supervised process. Created on a successful spawn,
// removed on stop, cleanup, or shutdown. The reaper goroutine closes
// done once the process has been waited on.
type handle struct {
	id      int64
	name    string
	command string
	args    []string
	workDir string

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	lines   chan string
	logFile string // launch diagnostics
	errFile string // stderr redirect

	closing     chan struct{} // closed when the handle is being torn down
	abandonOnce sync.Once

	done     chan struct{}
	exitCode int // valid once done is closed
}

// abandon releases the stdout feeder during teardown: a blocked send is
// unblocked via closing, and closing the pipe's read end forces a blocked
// read to return even if some descendant still holds the write end.
func (h *handle) abandon() {
	h.abandonOnce.Do(func() {
		close(h.closing)
		h.stdout.Close()
	})
}

// exited reports whether the process has been reaped.
func (h *handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Supervisor manages local MCP server processes keyed by server id.
// At most one handle exists per id.
type Supervisor struct {
	logsDir string
	logger  *slog.Logger

	stabilizationPoll    time.Duration
	stabilizationMinimum time.Duration
	stabilizationCeiling time.Duration
	gracefulStopTimeout  time.Duration
	forcedStopTimeout    time.Duration

	mu    sync.Mutex
	procs map[int64]*handle
}

// New creates a supervisor that writes per-server logs under logsDir.
func New(logsDir string, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		logsDir:              logsDir,
		logger:               logger,
		stabilizationPoll:    defaultStabilizationPoll,
		stabilizationMinimum: defaultStabilizationMinimum,
		stabilizationCeiling: defaultStabilizationCeiling,
		gracefulStopTimeout:  defaultGracefulStopTimeout,
		forcedStopTimeout:    defaultForcedStopTimeout,
		procs:                make(map[int64]*handle),
	}
}

// ValidateCommand reports whether command resolves to an executable file,
// via search-path lookup or as a path with execute permission. Purely a
// filesystem check; no process is created.
func ValidateCommand(command string) bool {
	if command == "" {
		return false
	}
	if strings.ContainsRune(command, os.PathSeparator) {
		info, err := os.Stat(command)
		return err == nil && info.Mode().IsRegular() && info.Mode()&0o111 != 0
	}
	_, err := exec.LookPath(command)
	return err == nil
}

// Start spawns a local server process and waits for it to stabilize.
//
// The command is validated first; a validation failure returns
// [ErrCommandNotFound] without touching the OS process table. On spawn,
// stdin and stdout become supervisor-owned pipes for protocol traffic,
// and stderr is redirected (truncating) to logs/<name>-<id>-error.log.
//
// The stabilization wait polls liveness every 100ms up to a 3-second
// ceiling, succeeding early once the process has stayed alive for at
// least 1 second. Many agent runtimes fail fast on misconfiguration;
// the bounded wait surfaces that synchronously, as an [*ExitError]
// carrying the observed exit code.
func (s *Supervisor) Start(id int64, name, command string, args []string, workingDir string) error {
	if !ValidateCommand(command) {
		s.logger.Error("command not found or not executable", "server_id", id, "command", command)
		return fmt.Errorf("start server %d: %w: %s", id, ErrCommandNotFound, command)
	}

	if err := os.MkdirAll(s.logsDir, 0o755); err != nil {
		return fmt.Errorf("start server %d: create logs dir: %w", id, err)
	}

	logFile := filepath.Join(s.logsDir, fmt.Sprintf("%s-%d.log", name, id))
	errFile := filepath.Join(s.logsDir, fmt.Sprintf("%s-%d-error.log", name, id))

	// Both log files are truncated on each start.
	if f, err := os.Create(logFile); err == nil {
		f.Close()
	}

	stderr, err := os.Create(errFile)
	if err != nil {
		return fmt.Errorf("start server %d: open stderr log: %w", id, err)
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = workingDir
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		stderr.Close()
		return fmt.Errorf("start server %d: create stdin pipe: %w", id, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		stderr.Close()
		return fmt.Errorf("start server %d: create stdout pipe: %w", id, err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stderr.Close()
		s.appendDiagnostic(logFile, fmt.Sprintf("spawn failed: %v", err))
		s.logger.Error("failed to spawn server process",
			"server_id", id, "name", name, "command", command, "error", err)
		return fmt.Errorf("start server %d: spawn %s: %w", id, command, err)
	}

	h := &handle{
		id:      id,
		name:    name,
		command: command,
		args:    args,
		workDir: workingDir,
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		lines:   make(chan string, 16),
		logFile: logFile,
		errFile: errFile,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	// One goroutine owns the whole stdout-then-Wait sequence: lines are
	// read without a length cap (protocol responses can be arbitrarily
	// large), the channel is closed on EOF so a blocked reader learns the
	// stream died, and only then is the process reaped. Wait must not run
	// while the stdout pipe is still being read. A send blocked on a full
	// channel is released by abandon() during teardown.
	go func() {
		r := bufio.NewReader(stdout)
		for {
			line, err := r.ReadString('\n')
			if line = strings.TrimRight(line, "\r\n"); line != "" {
				select {
				case h.lines <- line:
				case <-h.closing:
					s.logger.Warn("discarding stdout line during teardown", "server_id", id)
				}
			}
			if err != nil {
				if err != io.EOF && !errors.Is(err, os.ErrClosed) {
					s.logger.Warn("stdout read failed", "server_id", id, "name", name, "error", err)
				}
				break
			}
		}
		close(h.lines)
		waitErr := cmd.Wait()
		h.exitCode = exitCode(waitErr, cmd)
		stderr.Close()
		close(h.done)
	}()

	s.mu.Lock()
	if old, ok := s.procs[id]; ok && !old.exited() {
		s.logger.Warn("replacing live handle for server id; caller did not serialize starts",
			"server_id", id, "old_pid", old.cmd.Process.Pid)
	}
	s.procs[id] = h
	s.mu.Unlock()

	s.appendDiagnostic(logFile, fmt.Sprintf("started pid %d: %s %s", cmd.Process.Pid, command, strings.Join(args, " ")))
	s.logger.Info("server process started",
		"server_id", id, "name", name, "pid", cmd.Process.Pid)

	if err := s.stabilize(h); err != nil {
		s.appendDiagnostic(logFile, err.Error())
		s.logger.Error("server process crashed during startup",
			"server_id", id, "name", name, "error", err)
		s.remove(id)
		stdin.Close()
		return fmt.Errorf("start server %d: %w", id, err)
	}

	s.logger.Info("server process stable", "server_id", id, "name", name)
	return nil
}

// stabilize blocks until the process has proven stable or exited early.
func (s *Supervisor) stabilize(h *handle) error {
	var elapsed time.Duration
	for elapsed < s.stabilizationCeiling {
		select {
		case <-h.done:
			return &ExitError{Code: h.exitCode}
		case <-time.After(s.stabilizationPoll):
			elapsed += s.stabilizationPoll
		}
		if elapsed >= s.stabilizationMinimum {
			break
		}
	}

	// Final liveness check after the window.
	if h.exited() {
		return &ExitError{Code: h.exitCode}
	}
	return nil
}

// Stop terminates a server process: a graceful termination signal with a
// 10-second wait, then a forced kill with a 5-second wait. Stopping an
// unknown or already-exited id is a successful no-op. Failure is reported
// only if the process survives the forced kill; the handle then stays
// registered for a later retry.
func (s *Supervisor) Stop(id int64) error {
	s.mu.Lock()
	h, ok := s.procs[id]
	s.mu.Unlock()

	if !ok {
		s.logger.Info("server already stopped", "server_id", id)
		return nil
	}

	// Nobody reads protocol lines past this point; unblock the stdout
	// feeder so the process can be reaped even with a full channel.
	h.abandon()

	if !h.exited() {
		s.logger.Info("stopping server process", "server_id", id, "name", h.name, "pid", h.cmd.Process.Pid)

		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.logger.Warn("failed to signal server process", "server_id", id, "error", err)
		}

		select {
		case <-h.done:
			s.logger.Info("server process terminated gracefully", "server_id", id, "name", h.name)
		case <-time.After(s.gracefulStopTimeout):
			s.logger.Warn("server process did not terminate gracefully, killing",
				"server_id", id, "name", h.name)
			_ = h.cmd.Process.Kill()

			select {
			case <-h.done:
				s.logger.Info("server process killed", "server_id", id, "name", h.name)
			case <-time.After(s.forcedStopTimeout):
				s.logger.Error("server process survived forced kill", "server_id", id, "name", h.name)
				return fmt.Errorf("stop server %d: process %d survived forced kill", id, h.cmd.Process.Pid)
			}
		}
	}

	h.stdin.Close()
	s.remove(id)
	s.logger.Info("server stopped", "server_id", id, "name", h.name)
	return nil
}

// IsRunning reports whether the server id has a live process. Never
// mutates state.
func (s *Supervisor) IsRunning(id int64) bool {
	s.mu.Lock()
	h, ok := s.procs[id]
	s.mu.Unlock()

	return ok && !h.exited()
}

// Stream returns the protocol streams of a running server: a writer to
// its stdin and the channel of its stdout lines. The mcp pipe transport
// resolves these on every call.
func (s *Supervisor) Stream(id int64) (io.Writer, <-chan string, error) {
	s.mu.Lock()
	h, ok := s.procs[id]
	s.mu.Unlock()

	if !ok || h.exited() {
		return nil, nil, ErrNotRunning
	}
	return h.stdin, h.lines, nil
}

// CleanupDeadProcesses deregisters every handle whose process has exited
// and returns how many were removed. Call before trusting the live table.
func (s *Supervisor) CleanupDeadProcesses() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, h := range s.procs {
		if h.exited() {
			s.logger.Warn("cleaning up dead server process",
				"server_id", id, "name", h.name, "exit_code", h.exitCode)
			h.abandon()
			h.stdin.Close()
			delete(s.procs, id)
			removed++
		}
	}
	return removed
}

// ShutdownAll stops every registered server. Best-effort: individual
// stop failures are logged, not propagated.
func (s *Supervisor) ShutdownAll() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	s.logger.Info("shutting down all server processes", "count", len(ids))
	for _, id := range ids {
		if err := s.Stop(id); err != nil {
			s.logger.Error("failed to stop server during shutdown", "server_id", id, "error", err)
		}
	}
}

// remove deregisters a handle.
func (s *Supervisor) remove(id int64) {
	s.mu.Lock()
	delete(s.procs, id)
	s.mu.Unlock()
}

// appendDiagnostic records a launch diagnostic line with a timestamp.
// Failures here are ignored; diagnostics must never break a start path.
func (s *Supervisor) appendDiagnostic(path, msg string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %s\n", time.Now().UTC().Format(time.RFC3339), msg)
}

// exitCode extracts the exit code after Wait has returned.
func exitCode(waitErr error, cmd *exec.Cmd) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
