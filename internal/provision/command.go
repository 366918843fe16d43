package provision

import (
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// CommandRunner executes system commands on behalf of a step.
type CommandRunner interface {
	// Run returns the combined output and exit code. A non-nil error means
	// the command could not be started or was interrupted.
	Run(ctx context.Context, name string, args ...string) (output string, exitCode int, err error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return string(out), exitErr.ExitCode(), nil
	}
	if ctx.Err() != nil {
		return string(out), -1, ctx.Err()
	}
	return string(out), -1, errors.Wrapf(err, "running %s", name)
}

// DryRunner runs nothing and reports every command as successful.
type DryRunner struct{}

func (DryRunner) Run(_ context.Context, name string, args ...string) (string, int, error) {
	return "dry run: " + commandLine(name, args), 0, nil
}

// run executes a command, reports it and turns a non-zero exit into an error.
func run(ctx context.Context, env *Env, name string, args ...string) error {
	line := commandLine(name, args)
	out, code, err := env.Runner.Run(ctx, name, args...)
	env.Report.Command(line, strings.TrimSpace(out), code)
	if err != nil {
		return errors.Wrapf(err, "command %q", line)
	}
	if code != 0 {
		return errors.Errorf("command %q exited with status %d", line, code)
	}
	return nil
}

func commandLine(name string, args []string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}
