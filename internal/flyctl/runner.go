/*
Copyright 2025 PreviewOps, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package flyctl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Command describes a single external invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Stdin io.Reader
}

// Runner executes external commands. It exists so that tests can substitute
// a fake and record invocations instead of spawning processes.
type Runner interface {
	// Run executes the command, streaming stderr to the parent process
	// and returning captured stdout.
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// CommandError is returned when a command exits non-zero. It carries the
// tail of stderr so callers can classify failures such as "app not found".
type CommandError struct {
	Cmd      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed: %v", e.Cmd, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs commands via os/exec.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates a runner that logs each invocation to logger.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, command Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, command.Name, command.Args...)
	cmd.Dir = command.Dir
	cmd.Stdin = command.Stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	// Stderr is both surfaced in the workflow log and kept for
	// classification of failures.
	cmd.Stderr = io.MultiWriter(os.Stderr, &stderr)

	debugString := buildCommandDebugString(cmd)
	r.logger.Debug("running command", "command", debugString)

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		return stdout.Bytes(), &CommandError{
			Cmd:      debugString,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}

	return stdout.Bytes(), nil
}

// buildCommandDebugString builds a textual version of cmd for debug logging.
// This should never be directly executed.
func buildCommandDebugString(cmd *exec.Cmd) string {
	return strings.Join(append(append([]string{}, cmd.Env...), cmd.String()), " ")
}
