package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/saveenergy/netgauge/internal/logging"
)

// Launcher starts a command without waiting for it to finish.
type Launcher interface {
	Launch(ctx context.Context, inv Invocation) error
}

// ShellLauncher runs command lines through the platform shell as detached
// background processes. When the invocation asks for redirection, the
// child's stdout is written to the artifact file.
type ShellLauncher struct {
	logger *logging.Logger
}

func NewShellLauncher(logger *logging.Logger) *ShellLauncher {
	if logger == nil {
		logger = logging.NewLogger("launcher")
	}
	return &ShellLauncher{logger: logger}
}

func (l *ShellLauncher) Launch(_ context.Context, inv Invocation) error {
	command := strings.TrimSpace(inv.Command())
	if command == "" {
		return errors.New("empty command line")
	}

	// The child outlives any probe deadline; it is never tied to ctx.
	cmd := shellCommand(command)
	detach(cmd)

	var stdout *os.File
	if inv.RedirectOutput {
		f, err := os.Create(filepath.Clean(inv.ArtifactPath))
		if err != nil {
			return fmt.Errorf("create output %q: %w", inv.ArtifactPath, err)
		}
		stdout = f
		cmd.Stdout = f
	}

	l.logger.Debug("Starting command",
		logging.F("probe", inv.Probe),
		logging.F("command", command),
		logging.F("redirect", inv.RedirectOutput))

	err := cmd.Start()
	// The child holds its own descriptor; ours is only needed until Start.
	if stdout != nil {
		stdout.Close()
	}
	if err != nil {
		return fmt.Errorf("start %q: %w", command, err)
	}

	pid := cmd.Process.Pid
	l.logger.Debug("Command started", logging.F("probe", inv.Probe), logging.F("pid", pid))

	go func() {
		err := cmd.Wait()
		fields := []logging.Field{
			logging.F("probe", inv.Probe),
			logging.F("pid", pid),
			logging.F("exit_code", cmd.ProcessState.ExitCode()),
		}
		if err != nil {
			fields = append(fields, logging.F("error", err))
		}
		l.logger.Debug("Command exited", fields...)
	}()

	return nil
}
