// Package transport drives fetch and push through a git subprocess. The CLI
// is the only transport implementation that handles every credential helper,
// proxy, and protocol quirk users already have configured, so the layer
// shells out and parses the CLI's output instead of speaking the wire
// protocol itself.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// Output is the collected result of one git invocation. Sideband and
// progress lines are stripped from Stderr before it is returned.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes git subcommands against one repository.
type Runner interface {
	Run(ctx context.Context, callbacks *Callbacks, args ...string) (*Output, error)
}

// SubprocessRunner runs the configured git executable with the repository's
// git directory. Locale-dependent output is disabled so the parsers see
// stable English messages.
type SubprocessRunner struct {
	executable string
	gitDir     string
	logger     *slog.Logger
}

func NewSubprocessRunner(executable, gitDir string) *SubprocessRunner {
	return &SubprocessRunner{
		executable: executable,
		gitDir:     gitDir,
		logger:     slog.Default().With("component", "git-subprocess"),
	}
}

func (r *SubprocessRunner) Run(ctx context.Context, callbacks *Callbacks, args ...string) (*Output, error) {
	baseArgs := []string{
		// The fsmonitor daemon interferes with subprocess operations and
		// nothing here needs it.
		"-c", "core.fsmonitor=false",
		// Fetching repos with submodules fails when the user has
		// submodule.recurse enabled globally.
		"-c", "submodule.recurse=false",
		"--git-dir", r.gitDir,
	}
	cmd := exec.CommandContext(ctx, r.executable, append(baseArgs, args...)...)
	// LC_ALL precedes LC_* and LANG.
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	cmd.Stdin = nil

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	r.logger.Debug("spawning git", "args", args)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn git %q: %w", r.executable, err)
	}

	type stdoutResult struct {
		data []byte
		err  error
	}
	stdoutCh := make(chan stdoutResult, 1)
	go func() {
		data, err := io.ReadAll(stdoutPipe)
		stdoutCh <- stdoutResult{data, err}
	}()

	stderr, stderrErr := readAllWithProgress(stderrPipe, callbacks)
	stdout := <-stdoutCh

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("wait for git: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}
	if stderrErr != nil {
		return nil, fmt.Errorf("read git stderr: %w", stderrErr)
	}
	if stdout.err != nil {
		return nil, fmt.Errorf("read git stdout: %w", stdout.err)
	}

	return &Output{Stdout: stdout.data, Stderr: stderr, ExitCode: exitCode}, nil
}
