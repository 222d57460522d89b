package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ============================================================================
// Process Executor
// ============================================================================
// The executor is the only component that spawns OS processes for command
// dispatch. Each Execute call performs at most one invocation, bounded by the
// descriptor timeout: the child runs in its own process group, and on
// deadline the whole group gets SIGTERM with a SIGKILL escalation after a
// grace period, so no orphan keeps running behind a "timeout" reply.
//
// Privilege elevation is not implemented here. Privileged descriptors are
// wrapped by the injected Elevator, which is assumed to run non-interactively
// under a pre-authorized path (sudoers) or fail immediately.
// ============================================================================

// Elevator wraps an argv so it runs with elevated rights.
type Elevator interface {
	Wrap(argv []string) []string
}

// SudoElevator prefixes the non-interactive sudo invocation. With no cached
// authorization and no pre-authorized rule, sudo -n fails instead of
// prompting.
type SudoElevator struct {
	Path string
}

func (s SudoElevator) Wrap(argv []string) []string {
	return append([]string{s.Path, "-n"}, argv...)
}

// NoElevator runs privileged descriptors as-is. Used when the daemon itself
// already runs with sufficient rights, and by tests.
type NoElevator struct{}

func (NoElevator) Wrap(argv []string) []string { return argv }

// ProcessExecutor runs registry actions as external processes.
type ProcessExecutor struct {
	elevator Elevator
	grace    time.Duration
	logger   *slog.Logger
}

func NewProcessExecutor(elevator Elevator, grace time.Duration, logger *slog.Logger) *ProcessExecutor {
	if grace <= 0 {
		grace = time.Duration(defaultKillGraceMS) * time.Millisecond
	}
	return &ProcessExecutor{elevator: elevator, grace: grace, logger: logger}
}

// Execute runs the descriptor with the request parameters substituted into
// its argument template. Parameter validation happens before any process is
// spawned; a missing or non-scalar parameter yields invalid_parameters
// synchronously. Execute never retries.
func (e *ProcessExecutor) Execute(ctx context.Context, desc ActionDescriptor, req CommandRequest) CommandResult {
	argv, err := buildArgv(desc, req.Parameters)
	if err != nil {
		return newResult(req, OutcomeInvalidParameters, err.Error())
	}
	if desc.Privileged {
		argv = e.elevator.Wrap(argv)
	}

	cctx, cancel := context.WithTimeout(ctx, desc.Timeout)
	defer cancel()

	cmd := exec.Command(argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Own process group, so a timeout can take down the child and anything
	// it forked in one signal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	e.logger.Debug("spawning action", "command_id", desc.CommandID, "argv", argv)

	if err := cmd.Start(); err != nil {
		res := newResult(req, OutcomeFailure, fmt.Sprintf("start %s: %v", argv[0], err))
		res.exitCode = -1
		return res
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case werr := <-done:
		return e.classify(req, desc, werr, &stderr)
	case <-cctx.Done():
	}

	// Deadline elapsed or the daemon is going down: terminate the group,
	// escalate after the grace period, and reap before replying so the
	// "terminated" claim in the result is actually true.
	pid := cmd.Process.Pid
	_ = unix.Kill(-pid, unix.SIGTERM)
	select {
	case <-done:
	case <-time.After(e.grace):
		_ = unix.Kill(-pid, unix.SIGKILL)
		<-done
	}

	var detail string
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("action deadline exceeded", "command_id", desc.CommandID, "timeout", desc.Timeout)
		detail = fmt.Sprintf("terminated after %s deadline", desc.Timeout)
	} else {
		e.logger.Warn("action canceled before completion", "command_id", desc.CommandID)
		detail = "terminated before completion (canceled)"
	}
	res := newResult(req, OutcomeTimeout, detail)
	res.exitCode = -1
	return res
}

func (e *ProcessExecutor) classify(req CommandRequest, desc ActionDescriptor, werr error, stderr *bytes.Buffer) CommandResult {
	if werr == nil {
		e.logger.Debug("action succeeded", "command_id", desc.CommandID)
		return newResult(req, OutcomeSuccess, "")
	}

	var exitErr *exec.ExitError
	if errors.As(werr, &exitErr) {
		res := newResult(req, OutcomeFailure, truncateDetail(stderr.Bytes()))
		res.exitCode = exitErr.ExitCode()
		e.logger.Debug("action failed", "command_id", desc.CommandID, "exit_code", res.exitCode)
		return res
	}

	res := newResult(req, OutcomeFailure, werr.Error())
	res.exitCode = -1
	return res
}

// truncateDetail bounds captured stderr so a chatty tool cannot inflate
// replies without limit.
func truncateDetail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > maxStderrDetail {
		b = b[:maxStderrDetail]
	}
	return string(b)
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// buildArgv expands the descriptor argument template into a concrete argv.
// Every {name} token must resolve from the request parameters or the
// descriptor defaults; anything else is an invalid-parameters error.
func buildArgv(desc ActionDescriptor, params map[string]any) ([]string, error) {
	argv := make([]string, 0, len(desc.Args)+1)
	argv = append(argv, desc.Path)
	for _, tmpl := range desc.Args {
		arg, err := expandArg(tmpl, desc, params)
		if err != nil {
			return nil, err
		}
		argv = append(argv, arg)
	}
	return argv, nil
}

func expandArg(tmpl string, desc ActionDescriptor, params map[string]any) (string, error) {
	var expandErr error
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(token string) string {
		name := token[1 : len(token)-1]
		if v, ok := params[name]; ok {
			s, err := scalarString(v)
			if err != nil {
				expandErr = fmt.Errorf("parameter %q: %v", name, err)
				return ""
			}
			return s
		}
		if def, ok := desc.Defaults[name]; ok && def != "" {
			return def
		}
		expandErr = fmt.Errorf("missing required parameter %q", name)
		return ""
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

// scalarString renders a JSON-decoded parameter value as a single argv word.
// Only scalars are accepted; structured values never reach a command line.
func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", errors.New("empty value")
		}
		return t, nil
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10), nil
		}
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
