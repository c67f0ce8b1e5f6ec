package launch

import (
	"bytes"
	"camster/internal/config"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
)

// CLILauncher executes the rendered token sequence with a container
// runtime binary such as docker or podman.
type CLILauncher struct {
	logger *log.Logger
}

// NewCLILauncher creates a launcher that shells out to spec.Runtime.
func NewCLILauncher(logger *log.Logger) *CLILauncher {
	if logger == nil {
		logger = log.New(os.Stdout, "[launch] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &CLILauncher{logger: logger}
}

// Launch runs "<runtime> run --detach ..." and returns the container ID
// printed by the runtime.
func (cl *CLILauncher) Launch(ctx context.Context, spec *Spec) (*Result, error) {
	if spec.Runtime == "" {
		return nil, fmt.Errorf("no runtime binary configured")
	}

	runtimePath, err := exec.LookPath(spec.Runtime)
	if err != nil {
		return nil, fmt.Errorf("find runtime %q: %w", spec.Runtime, err)
	}

	if spec.Replace {
		cl.removeExisting(ctx, runtimePath, spec.Name)
	}

	cl.logger.Printf("exec: %s", strings.Join(spec.Command(), " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, runtimePath, spec.Args()...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return nil, fmt.Errorf("%s exited with code %d: %s", spec.Runtime, exitErr.ExitCode(), msg)
		}
		return nil, fmt.Errorf("run %s: %w", spec.Runtime, err)
	}

	id := firstLine(stdout.String())
	if id == "" {
		return nil, fmt.Errorf("%s reported no container ID", spec.Runtime)
	}

	cl.logger.Printf("started container %s (%s) with %d device(s)", spec.Name, shortID(id), len(spec.Devices))
	return &Result{ID: id, Engine: config.EngineCLI}, nil
}

// removeExisting force-removes a container with the given name. A missing
// container is the normal case, so failures are only logged.
func (cl *CLILauncher) removeExisting(ctx context.Context, runtimePath, name string) {
	cmd := exec.CommandContext(ctx, runtimePath, "rm", "--force", name)
	cmd.SysProcAttr = sysProcAttr()
	if out, err := cmd.CombinedOutput(); err != nil {
		cl.logger.Printf("no existing container %s removed: %s", name, strings.TrimSpace(string(out)))
	}
}

// firstLine returns the first non-empty line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
