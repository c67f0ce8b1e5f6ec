package launch

import (
	"camster/internal/config"
	"context"
	"fmt"
	"io"
	"log"
	"os"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// containerAPI is the subset of the Docker client used by DockerLauncher.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// DockerLauncher starts the container through the Docker Engine API.
type DockerLauncher struct {
	client containerAPI
	logger *log.Logger
}

// NewDockerLauncher creates a Docker-based launcher.
func NewDockerLauncher(dockerClient containerAPI, logger *log.Logger) *DockerLauncher {
	if logger == nil {
		logger = log.New(os.Stdout, "[launch] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &DockerLauncher{
		client: dockerClient,
		logger: logger,
	}
}

// Launch creates and starts the container. With spec.Replace set, an
// existing container with the same name is removed first.
func (dl *DockerLauncher) Launch(ctx context.Context, spec *Spec) (*Result, error) {
	containerConfig, hostConfig, err := translate(spec)
	if err != nil {
		return nil, err
	}

	if spec.Pull {
		if err := dl.pull(ctx, spec.Image); err != nil {
			return nil, err
		}
	}

	if spec.Replace {
		err := dl.client.ContainerRemove(ctx, spec.Name, container.RemoveOptions{Force: true})
		switch {
		case err == nil:
			dl.logger.Printf("removed existing container %s", spec.Name)
		case cerrdefs.IsNotFound(err):
		default:
			return nil, fmt.Errorf("remove existing container %s: %w", spec.Name, err)
		}
	}

	resp, err := dl.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("image %s not found: %w", spec.Image, err)
		}
		return nil, fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	for _, w := range resp.Warnings {
		dl.logger.Printf("warning: %s", w)
	}

	if err := dl.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Leave nothing half-started behind
		if rmErr := dl.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			dl.logger.Printf("warning: cleanup of %s failed: %v", shortID(resp.ID), rmErr)
		}
		return nil, fmt.Errorf("start container %s: %w", spec.Name, err)
	}

	dl.logger.Printf("started container %s (%s) with %d device(s)", spec.Name, shortID(resp.ID), len(spec.Devices))
	return &Result{ID: resp.ID, Engine: config.EngineDockerAPI}, nil
}

func (dl *DockerLauncher) pull(ctx context.Context, ref string) error {
	dl.logger.Printf("pulling %s", ref)
	rc, err := dl.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close()

	// The pull only completes once the progress stream is drained
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	return nil
}

// translate maps a Spec onto Docker API container and host configs.
func translate(spec *Spec) (*container.Config, *container.HostConfig, error) {
	exposed, bindings, err := nat.ParsePortSpecs(spec.Ports)
	if err != nil {
		return nil, nil, fmt.Errorf("parse port mappings: %w", err)
	}

	devices := make([]container.DeviceMapping, 0, len(spec.Devices))
	for _, d := range spec.Devices {
		devices = append(devices, container.DeviceMapping{
			PathOnHost:        d,
			PathInContainer:   d,
			CgroupPermissions: "rwm",
		})
	}

	containerConfig := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: exposed,
	}

	hostConfig := &container.HostConfig{
		Binds:        spec.Binds,
		PortBindings: bindings,
		GroupAdd:     spec.Groups,
		AutoRemove:   spec.Remove,
		Resources: container.Resources{
			Devices: devices,
		},
	}

	return containerConfig, hostConfig, nil
}
