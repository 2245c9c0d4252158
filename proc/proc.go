// Package proc runs the managed server process and streams its output
// line-by-line through callbacks. Stderr is merged into stdout so the
// console sees one ordered feed, and the exit code is reported exactly
// once when the process ends.
package proc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Callbacks receive the process's output and exit. OnLine is invoked
// once per output line in order; OnExit is invoked exactly once, after
// the final line.
type Callbacks struct {
	OnLine func(line string)
	OnExit func(code int)
}

// Runner supervises one process at a time.
type Runner struct {
	log *zap.SugaredLogger

	mut     sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started time.Time
	running bool

	lastExitCode *int
}

func NewRunner(log *zap.SugaredLogger) *Runner {
	return &Runner{log: log.Named("proc")}
}

// Start launches command with args in dir and begins streaming output.
// It returns an error if a process is already running. Spawn failures
// after this returns are reported through the callbacks: an error line
// followed by OnExit(-1), matching how a crashed process surfaces.
func (r *Runner) Start(dir, command string, args []string, env []string, cb Callbacks) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	if r.running {
		return fmt.Errorf("process already running")
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		if cb.OnLine != nil {
			cb.OnLine(fmt.Sprintf("[manager] Failed to start: %s", err))
		}
		if cb.OnExit != nil {
			cb.OnExit(-1)
		}
		return fmt.Errorf("starting %s: %w", command, err)
	}

	r.cmd = cmd
	r.stdin = stdin
	r.started = time.Now()
	r.running = true
	r.log.Infow("process started", "Command", command, "PID", cmd.Process.Pid)

	go r.pump(stdout, cb)
	return nil
}

// pump reads output to completion, then waits for exit and reports it.
func (r *Runner) pump(stdout io.Reader, cb Callbacks) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if cb.OnLine != nil {
			cb.OnLine(scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		r.log.Debugf("output scan error: %s", err)
	}

	err := r.cmd.Wait()
	code := r.cmd.ProcessState.ExitCode()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			r.log.Debugf("unexpected wait error: %s", err)
			code = -1
		}
	}

	r.mut.Lock()
	r.running = false
	r.lastExitCode = &code
	r.stdin.Close()
	r.mut.Unlock()

	r.log.Infow("process exited", "Code", code)
	if cb.OnExit != nil {
		cb.OnExit(code)
	}
}

// Running reports whether the supervised process is currently alive.
func (r *Runner) Running() bool {
	r.mut.Lock()
	defer r.mut.Unlock()
	return r.running
}

// PID returns the process ID, or 0 when nothing is running.
func (r *Runner) PID() int {
	r.mut.Lock()
	defer r.mut.Unlock()
	if !r.running || r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

// Uptime returns how long the current process has been running, or
// zero when nothing is running.
func (r *Runner) Uptime() time.Duration {
	r.mut.Lock()
	defer r.mut.Unlock()
	if !r.running {
		return 0
	}
	return time.Since(r.started)
}

// LastExitCode returns the most recent exit code, if any process has
// exited since the runner was created.
func (r *Runner) LastExitCode() (int, bool) {
	r.mut.Lock()
	defer r.mut.Unlock()
	if r.lastExitCode == nil {
		return 0, false
	}
	return *r.lastExitCode, true
}

// SendInput writes text to the process's stdin. The caller is expected
// to include any line terminator it wants; nothing is appended here.
// Sending to a process that has exited returns an error, which callers
// treat as an expected condition rather than a failure.
func (r *Runner) SendInput(text string) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	if !r.running {
		return fmt.Errorf("process is not running")
	}
	if _, err := io.WriteString(r.stdin, text); err != nil {
		return fmt.Errorf("writing to stdin: %w", err)
	}
	return nil
}

// Signal sends sig to the running process.
func (r *Runner) Signal(sig os.Signal) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	if !r.running {
		return fmt.Errorf("process is not running")
	}
	if err := r.cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("signaling process: %w", err)
	}
	return nil
}

// Stop asks the process to exit via its own stop command, then kills it
// if it is still alive after the grace period. It returns immediately;
// exit is reported through the OnExit callback as usual.
func (r *Runner) Stop(stopCommand string, grace time.Duration) {
	r.mut.Lock()
	if !r.running {
		r.mut.Unlock()
		return
	}
	cmd := r.cmd
	stdin := r.stdin
	r.mut.Unlock()

	if stopCommand != "" {
		if !strings.HasSuffix(stopCommand, "\n") {
			stopCommand += "\n"
		}
		if _, err := io.WriteString(stdin, stopCommand); err != nil {
			r.log.Debugf("stop command write failed: %s", err)
		}
	}

	go func() {
		deadline := time.After(grace)
		tick := time.NewTicker(100 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-deadline:
				r.log.Infow("grace period elapsed, killing process")
				_ = cmd.Process.Kill()
				return
			case <-tick.C:
				if !r.Running() {
					return
				}
			}
		}
	}()
}
