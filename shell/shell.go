// Package shell runs command lines through the system shell.
package shell

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"knockbot/logger"
)

// Executor runs one command line and reports its exit status and
// combined stdout/stderr. A non-nil error means the command could not be
// run at all; a non-zero exit is reported through status.
type Executor interface {
	Run(ctx context.Context, command string) (status int, output string, err error)
}

// Sh executes commands with "sh -c".
type Sh struct {
	// Path of the shell binary; "sh" when empty.
	Path string
}

var _ Executor = Sh{}

func (s Sh) Run(ctx context.Context, command string) (int, string, error) {
	path := s.Path
	if path == "" {
		path = "sh"
	}

	log := logger.WithComponent("shell")
	log.WithField("command", command).Debug("executing")

	out, err := exec.CommandContext(ctx, path, "-c", command).CombinedOutput()
	output := strings.TrimSuffix(string(out), "\n")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.WithField("status", exitErr.ExitCode()).Debugf("output: %s", output)
			return exitErr.ExitCode(), output, nil
		}
		return -1, output, err
	}

	log.WithField("status", 0).Debugf("output: %s", output)
	return 0, output, nil
}
