// Package container implements C5, the container driver: a thin
// capability over the container runtime with three operations
// (image_exists, pull, run), since building an OpenWrt image means
// running the ImageBuilder inside a container rather than shelling out to
// a local binary directly. Grounded on jesseduffield-lazydocker's
// pkg/commands/docker.go (client.Client wrapped in a small command
// object, context-scoped calls, a field logger on the struct).
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	imagespec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"
)

// Mount describes one bind mount into the ImageBuilder container.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// RunResult is what Run reports back: the exit code, the combined
// stdout/stderr stream, and (for convenience) nothing about the artifact
// directory's contents — callers walk the host-side mount themselves,
// since the driver does not interpret the ImageBuilder's behavior
// itself.
type RunResult struct {
	ExitCode       int64
	CombinedOutput string
}

// Driver is the capability this package names: image_exists, pull, run.
type Driver interface {
	ImageExists(ctx context.Context, tag string) (bool, error)
	Pull(ctx context.Context, tag string) error
	Run(ctx context.Context, tag string, command []string, env []string, mounts []Mount, workdir string, timeout time.Duration) (RunResult, error)
}

// DockerDriver drives the container runtime through the Docker Engine
// API. It never keeps a container alive past Run: every container is
// created, started, waited on, and removed within a single call.
type DockerDriver struct {
	cli *client.Client
	log *logrus.Entry
}

// NewDockerDriver connects to the container runtime at socketPath
// ("" uses the client's own default, typically unix:///var/run/docker.sock).
func NewDockerDriver(socketPath string) (*DockerDriver, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if socketPath != "" {
		opts = append(opts, client.WithHost(socketPath))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("container: connect: %w", err)
	}
	return &DockerDriver{cli: cli, log: logrus.WithField("component", "container")}, nil
}

// ImageExists probes the local image cache for tag.
func (d *DockerDriver) ImageExists(ctx context.Context, tag string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, tag)
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, err
}

// Pull fetches tag if it is not already present. It is idempotent. Once
// fetched, it validates the registry's reported manifest before
// returning, so a corrupt or unrecognized image is caught here rather
// than surfacing as an opaque failure deep inside the build pipeline.
func (d *DockerDriver) Pull(ctx context.Context, tag string) error {
	exists, err := d.ImageExists(ctx, tag)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	reader, err := d.cli.ImagePull(ctx, tag, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("container: pull %s: %w", tag, err)
	}
	defer reader.Close()

	// drain the pull progress stream; we only care about the final error.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("container: pull %s: reading progress: %w", tag, err)
	}

	if err := d.validateManifest(ctx, tag); err != nil {
		return fmt.Errorf("container: pull %s: %w", tag, err)
	}
	return nil
}

// validateManifest confirms the registry's manifest descriptor for tag
// carries a well-formed digest and a media type this driver recognizes
// as an image manifest or index. Not every registry or pull-through
// mirror implements the distribution API, so an inspect failure is
// logged and treated as advisory rather than fatal; a malformed digest
// or an unrecognized media type on a descriptor that IS returned is not.
func (d *DockerDriver) validateManifest(ctx context.Context, tag string) error {
	inspect, err := d.cli.DistributionInspect(ctx, tag, "")
	if err != nil {
		d.log.WithError(err).WithField("tag", tag).Debug("distribution inspect unavailable, skipping manifest validation")
		return nil
	}

	if _, err := ValidateDigest(string(inspect.Descriptor.Digest)); err != nil {
		return err
	}

	switch inspect.Descriptor.MediaType {
	case imagespec.MediaTypeImageManifest, imagespec.MediaTypeImageIndex,
		"application/vnd.docker.distribution.manifest.v2+json",
		"application/vnd.docker.distribution.manifest.list.v2+json":
		return nil
	default:
		return fmt.Errorf("unrecognized manifest media type %q", inspect.Descriptor.MediaType)
	}
}

// Run creates, starts, waits on, and removes a single container running
// command against tag, with env applied and mounts bound as specified.
// The container is always removed on exit, successful or not.
func (d *DockerDriver) Run(ctx context.Context, tag string, command []string, env []string, mounts []Mount, workdir string, timeout time.Duration) (RunResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var binds []mount.Mount
	for _, m := range mounts {
		binds = append(binds, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.HostPath,
			Target:   m.ContainerPath,
			ReadOnly: m.ReadOnly,
		})
	}

	created, err := d.cli.ContainerCreate(runCtx, &container.Config{
		Image:      tag,
		Cmd:        command,
		Env:        env,
		WorkingDir: workdir,
		Tty:        false,
	}, &container.HostConfig{
		Mounts:     binds,
		AutoRemove: false, // removed explicitly below so Run can still read logs after it exits
	}, nil, nil, "")
	if err != nil {
		return RunResult{}, fmt.Errorf("container: create: %w", err)
	}

	defer func() {
		removeCtx, removeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer removeCancel()
		if err := d.cli.ContainerRemove(removeCtx, created.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
			d.log.WithError(err).WithField("container", created.ID).Warn("failed to remove container")
		}
	}()

	if err := d.cli.ContainerStart(runCtx, created.ID, types.ContainerStartOptions{}); err != nil {
		return RunResult{}, fmt.Errorf("container: start: %w", err)
	}

	statusCh, errCh := d.cli.ContainerWait(runCtx, created.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return RunResult{}, fmt.Errorf("container: wait: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-runCtx.Done():
		return RunResult{}, fmt.Errorf("container: %w", runCtx.Err())
	}

	logs, err := d.cli.ContainerLogs(runCtx, created.ID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return RunResult{ExitCode: exitCode}, fmt.Errorf("container: logs: %w", err)
	}
	defer logs.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, logs); err != nil {
		return RunResult{ExitCode: exitCode}, fmt.Errorf("container: reading logs: %w", err)
	}

	return RunResult{ExitCode: exitCode, CombinedOutput: buf.String()}, nil
}
