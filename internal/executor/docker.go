package executor

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// DefaultImage is used when DockerConfig.Image is empty.
const DefaultImage = "thyrlian/android-sdk:latest"

// dockerAPI is the subset of the Docker client used by DockerExecutor.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, container string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, container string, options container.StartOptions) error
	ContainerWait(ctx context.Context, container string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, container, signal string) error
	ContainerRemove(ctx context.Context, container string, options container.RemoveOptions) error
}

// DockerConfig holds configuration for creating a DockerExecutor.
type DockerConfig struct {
	Image string
	// Mounts are host directories bound at the same path inside the
	// container, so artifact paths stay valid on both sides.
	Mounts []string
	Logger *log.Logger
}

// DockerExecutor runs each command in an ephemeral container created from an
// image that carries the Android SDK build tools and a JDK. It is used on
// hosts where keytool, jarsigner or aapt are not installed.
type DockerExecutor struct {
	client dockerAPI
	image  string
	mounts []string
	logger *log.Logger
}

// NewDockerExecutor creates a Docker-based executor.
func NewDockerExecutor(dockerClient *client.Client, cfg DockerConfig) *DockerExecutor {
	return newDockerExecutor(dockerClient, cfg)
}

func newDockerExecutor(api dockerAPI, cfg DockerConfig) *DockerExecutor {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[docker-exec] ", log.LstdFlags|log.Lmsgprefix)
	}
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	return &DockerExecutor{
		client: api,
		image:  cfg.Image,
		mounts: cfg.Mounts,
		logger: cfg.Logger,
	}
}

// NewDockerClient returns a client configured from the environment.
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

// Run executes the command in a fresh container and removes it afterwards.
func (de *DockerExecutor) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("empty command")
	}
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	de.logger.Printf("docker exec (%s): %s", de.image, cmd)

	binds := make([]string, 0, len(de.mounts))
	for _, m := range de.mounts {
		binds = append(binds, m+":"+m)
	}

	containerConfig := &container.Config{
		Image:      de.image,
		Cmd:        append([]string{cmd.Name}, cmd.Args...),
		WorkingDir: cmd.Dir,
		Env:        cmd.Env,
	}
	hostConfig := &container.HostConfig{Binds: binds}

	start := time.Now()
	resp, err := de.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create tool container for %s: %w", cmd, err)
	}

	defer func() {
		if err := de.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			de.logger.Printf("warning: remove container %s: %v", resp.ID, err)
		}
	}()

	attachResp, err := de.client.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("attach tool container: %w", err)
	}
	defer attachResp.Close()

	if err := de.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start tool container: %w", err)
	}

	lw := &lineWriter{onLine: cmd.OnLine}
	streamDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(lw, lw, attachResp.Reader)
		if err == io.EOF {
			err = nil
		}
		streamDone <- err
	}()

	statusCh, errCh := de.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("wait tool container: %w", err)
		}
	case status := <-statusCh:
		if err := <-streamDone; err != nil {
			de.logger.Printf("stream error: %v", err)
		}
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		if err := de.client.ContainerKill(context.Background(), resp.ID, "SIGKILL"); err != nil {
			de.logger.Printf("warning: kill container %s: %v", resp.ID, err)
		}
		return &Result{Output: lw.String(), ExitCode: -1, Duration: time.Since(start)},
			fmt.Errorf("run %s: %w", cmd, ctx.Err())
	}
	lw.flush()

	result := &Result{
		Output:   lw.String(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}
	if exitCode != 0 {
		return result, &ExitError{
			Command:  cmd.String(),
			ExitCode: exitCode,
			Output:   result.Output,
		}
	}
	return result, nil
}
