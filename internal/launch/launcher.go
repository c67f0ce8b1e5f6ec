package launch

import (
	"camster/internal/config"
	"context"
	"fmt"
	"log"

	"github.com/docker/docker/client"
)

// Result identifies the started container.
type Result struct {
	ID     string
	Engine config.Engine
}

// Launcher starts the container described by a Spec.
// A returned error means the surveillance service did not start.
type Launcher interface {
	Launch(ctx context.Context, spec *Spec) (*Result, error)
}

// NewLauncher returns the launcher for the given engine.
func NewLauncher(engine config.Engine, logger *log.Logger) (Launcher, error) {
	switch engine {
	case config.EngineDockerAPI:
		dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("create docker client: %w", err)
		}
		return NewDockerLauncher(dockerClient, logger), nil
	case config.EngineCLI:
		return NewCLILauncher(logger), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", engine)
	}
}

// shortID returns the first 12 characters of a container ID.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
