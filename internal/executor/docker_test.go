package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"reflect"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeDocker struct {
	stdout   string
	stderr   string
	exitCode int64

	created *container.Config
	host    *container.HostConfig
	removed bool
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.created = cfg
	f.host = host
	return container.CreateResponse{ID: "tool-1"}, nil
}

func (f *fakeDocker) ContainerAttach(context.Context, string, container.AttachOptions) (types.HijackedResponse, error) {
	var buf bytes.Buffer
	if f.stdout != "" {
		stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	conn, _ := net.Pipe()
	return types.HijackedResponse{Conn: conn, Reader: bufio.NewReader(&buf)}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	return statusCh, make(chan error)
}

func (f *fakeDocker) ContainerKill(context.Context, string, string) error {
	return nil
}

func (f *fakeDocker) ContainerRemove(context.Context, string, container.RemoveOptions) error {
	f.removed = true
	return nil
}

func TestDockerExecutorRun(t *testing.T) {
	api := &fakeDocker{stdout: "Package: io.selendroid\n", stderr: "warning: unsigned\n"}
	de := newDockerExecutor(api, DockerConfig{
		Image:  "android-sdk:test",
		Mounts: []string{"/tmp/droidium"},
		Logger: quietLogger(),
	})

	var lines []string
	res, err := de.Run(context.Background(), Command{
		Name:   "aapt",
		Args:   []string{"dump", "badging", "/tmp/droidium/app.apk"},
		Dir:    "/tmp/droidium",
		OnLine: func(l string) { lines = append(lines, l) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if api.created.Image != "android-sdk:test" {
		t.Errorf("image = %q", api.created.Image)
	}
	wantCmd := []string{"aapt", "dump", "badging", "/tmp/droidium/app.apk"}
	if !reflect.DeepEqual([]string(api.created.Cmd), wantCmd) {
		t.Errorf("cmd = %v, want %v", api.created.Cmd, wantCmd)
	}
	if len(api.host.Binds) != 1 || api.host.Binds[0] != "/tmp/droidium:/tmp/droidium" {
		t.Errorf("binds = %v", api.host.Binds)
	}
	if !api.removed {
		t.Error("tool container was not removed")
	}
	if len(lines) != 2 || lines[0] != "Package: io.selendroid" {
		t.Errorf("lines = %#v", lines)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
}

func TestDockerExecutorExitCode(t *testing.T) {
	api := &fakeDocker{stderr: "jarsigner: keystore was tampered with\n", exitCode: 1}
	de := newDockerExecutor(api, DockerConfig{Logger: quietLogger()})

	_, err := de.Run(context.Background(), Command{Name: "jarsigner"})

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %v", err)
	}
	if exitErr.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", exitErr.ExitCode)
	}
	if api.created.Image != DefaultImage {
		t.Errorf("image = %q, want default", api.created.Image)
	}
}
