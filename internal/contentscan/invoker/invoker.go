package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Exit codes reported when the command did not produce one itself.
const (
	ExitTimeout  = 124
	ExitNotFound = 127
)

const pathPlaceholder = "{}"

// waitDelay bounds how long Run waits for output pipes to close once the
// command has been killed.
const waitDelay = time.Second

var (
	ErrEmptyCommand  = errors.New("scan command is empty")
	ErrQuotedCommand = errors.New("scan command must not contain quotes")
	ErrTimeout       = errors.New("scan command timed out")
	ErrNotRunnable   = errors.New("scan command could not be executed")
	ErrTerminated    = errors.New("scan command was terminated by a signal")
)

// Result is the outcome of one scan command run.
type Result struct {
	Clean    bool
	Info     string
	ExitCode int
	Duration time.Duration
}

// Runner executes the configured scan command against a file.
type Runner struct {
	Command []string
	Timeout time.Duration
}

// NewRunner parses a command template. "{}" is replaced with the file path;
// without a placeholder the path is appended as the last argument.
// Arguments are split on whitespace and no shell quoting is applied, so a
// template containing quote characters is rejected. Commands needing shell
// syntax belong in a wrapper script.
func NewRunner(template string, timeout time.Duration) (*Runner, error) {
	if strings.ContainsAny(template, "'\"`") {
		return nil, ErrQuotedCommand
	}
	fields := strings.Fields(template)
	if len(fields) == 0 {
		return nil, ErrEmptyCommand
	}
	return &Runner{Command: fields, Timeout: timeout}, nil
}

func (r *Runner) args(filePath string) []string {
	args := make([]string, 0, len(r.Command))
	replaced := false
	for _, arg := range r.Command[1:] {
		if strings.Contains(arg, pathPlaceholder) {
			arg = strings.ReplaceAll(arg, pathPlaceholder, filePath)
			replaced = true
		}
		args = append(args, arg)
	}
	if !replaced {
		args = append(args, filePath)
	}
	return args
}

// Run scans filePath. A non-zero exit status is a verdict, not an error;
// errors are reserved for commands that could not run or did not finish.
// On timeout the whole process group is killed.
func (r *Runner) Run(ctx context.Context, filePath string) (Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, r.Command[0], r.args(filePath)...)
	configureProcess(cmd)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Duration: time.Since(start)}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			res.ExitCode = ExitTimeout
			return res, fmt.Errorf("%w after %s", ErrTimeout, r.Timeout)
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			res.ExitCode = ExitNotFound
			return res, fmt.Errorf("%w: %v", ErrNotRunnable, err)
		}
		res.ExitCode = exitErr.ExitCode()
		if !exitErr.Exited() {
			// Killed or crashed: the scanner never reached a verdict.
			return res, fmt.Errorf("%w: %v", ErrTerminated, err)
		}
	}

	res.Clean = res.ExitCode == 0
	res.Info = strings.TrimSpace(stdout.String())
	if res.Info == "" {
		res.Info = strings.TrimSpace(stderr.String())
	}
	if res.Info == "" {
		if res.Clean {
			res.Info = "File is clean"
		} else {
			res.Info = "File is not clean"
		}
	}
	return res, nil
}
