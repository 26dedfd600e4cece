package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"fhirstack/internal/config"
	"fhirstack/pkg/logging"
)

// ProcessRuntime launches process-backed services with exec.Cmd. Each
// service runs in its own process group so that stop signals reach any
// children it spawned.
type ProcessRuntime struct{}

// NewProcessRuntime creates a process backend.
func NewProcessRuntime() *ProcessRuntime {
	return &ProcessRuntime{}
}

type processHandle struct {
	pid    int
	exited chan struct{}
	exit   ExitEvent
}

// Launch starts the service's command, wires its output into the log and
// begins waiting for its exit in the background.
func (r *ProcessRuntime) Launch(ctx context.Context, spec config.ServiceDefinition, stackName string) (Handle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("service %s has no command", spec.Name)
	}

	label := spec.Name
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	// Secrets resolve here and go straight into the child environment;
	// they must not appear in any log line.
	for k, v := range config.ResolveEnv(spec.Env) {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdoutPipe, pipeErr := cmd.StdoutPipe()
	if pipeErr != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", label, pipeErr)
	}
	stderrPipe, pipeErr := cmd.StderrPipe()
	if pipeErr != nil {
		stdoutPipe.Close()
		return nil, fmt.Errorf("stderr pipe for %s: %w", label, pipeErr)
	}

	if err := cmd.Start(); err != nil {
		stdoutPipe.Close()
		stderrPipe.Close()
		return nil, fmt.Errorf("failed to start %s (%s): %w", label, spec.Command[0], err)
	}

	h := &processHandle{
		pid:    cmd.Process.Pid,
		exited: make(chan struct{}),
	}
	logging.Debug("ProcessRuntime", "Started %s (PID: %d)", label, h.pid)

	go func() {
		scanner := bufio.NewScanner(stdoutPipe)
		for scanner.Scan() {
			logging.Info(label+"-stdout", "%s", scanner.Text())
		}
	}()
	go func() {
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			logging.Info(label+"-stderr", "%s", scanner.Text())
		}
	}()

	go func() {
		defer stdoutPipe.Close()
		defer stderrPipe.Close()

		err := cmd.Wait()
		event := ExitEvent{}
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				event.ExitCode = exitErr.ExitCode()
			} else {
				event.ExitCode = -1
			}
			event.Err = err
		}
		h.exit = event
		close(h.exited)
	}()

	return h, nil
}

func (h *processHandle) ID() string {
	return strconv.Itoa(h.pid)
}

func (h *processHandle) Exited() <-chan struct{} {
	return h.exited
}

func (h *processHandle) ExitState() ExitEvent {
	return h.exit
}

// Stop signals the process group with SIGTERM and escalates to SIGKILL if
// the process has not exited when the grace period runs out.
func (h *processHandle) Stop(ctx context.Context, grace time.Duration) error {
	// cmd.ProcessState is written by the exit watcher's Wait and must not be
	// read here; the closed channel is the only safe exit signal.
	select {
	case <-h.exited:
		return nil
	default:
	}

	if err := syscall.Kill(-h.pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil // Already gone
		}
		return fmt.Errorf("failed to signal process group %d: %w", h.pid, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		logging.Warn("ProcessRuntime", "PID %d did not exit within %s, killing", h.pid, grace)
		if err := syscall.Kill(-h.pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("failed to kill process group %d: %w", h.pid, err)
		}
		<-h.exited
		return nil
	}
}
