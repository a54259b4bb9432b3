// container.go runs a built svcboot image as a single foreground
// container. The container receives PORT, publishes that port on the
// host and carries the svcboot labels so it can be told apart from
// unrelated containers.
package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog/log"

	"github.com/shinji-kodama/svcboot/internal/model"
)

// RunOptions describes a container started by RunContainer.
type RunOptions struct {
	// Image is the image reference to run.
	Image string

	// Recipe is the recipe name recorded in the container labels.
	Recipe string

	// Name is the optional container name. Empty lets Docker pick one.
	Name string

	// Port is the PORT value passed into the container. The server in the
	// container binds to it.
	Port int

	// HostPort is the host port published for Port. Zero publishes on
	// the same number as Port.
	HostPort int

	// Env holds extra environment variables.
	Env map[string]string

	// AutoRemove removes the container once it exits.
	AutoRemove bool
}

// RunContainer creates and starts a container from opts and returns its
// metadata. The caller owns the container afterwards: WaitContainer
// blocks until it exits and StopContainer ends it early.
func RunContainer(ctx context.Context, cli *Client, opts RunOptions) (*model.ContainerInfo, error) {
	if err := model.ValidatePort(opts.Port); err != nil {
		return nil, model.WrapCLIError(model.ExitPortUnavailable, "invalid container port", err)
	}
	hostPort := opts.HostPort
	if hostPort == 0 {
		hostPort = opts.Port
	}
	if err := model.ValidatePort(hostPort); err != nil {
		return nil, model.WrapCLIError(model.ExitPortUnavailable, "invalid host port", err)
	}

	exposed, bindings, err := portBindings(opts.Port, hostPort)
	if err != nil {
		return nil, err
	}

	env := map[string]string{"PORT": strconv.Itoa(opts.Port)}
	for k, v := range opts.Env {
		if k == "PORT" {
			continue
		}
		env[k] = v
	}

	config := &container.Config{
		Image:        opts.Image,
		Env:          envList(env),
		ExposedPorts: exposed,
		Labels:       ContainerLabels(opts.Recipe),
	}
	hostConfig := &container.HostConfig{
		PortBindings: bindings,
		AutoRemove:   opts.AutoRemove,
	}

	created, err := cli.Inner().ContainerCreate(ctx, config, hostConfig, nil, nil, opts.Name)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create container from image %q", opts.Image),
			err,
		)
	}

	if err := cli.Inner().ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// A start failure usually means the host port is taken. Remove the
		// created container so it does not linger in "Created" state.
		_ = RemoveContainer(context.WithoutCancel(ctx), cli, created.ID, true)
		return nil, model.WrapCLIError(
			model.ExitPortUnavailable,
			fmt.Sprintf("failed to start container on host port %d", hostPort),
			err,
		)
	}

	log.Info().
		Str("container", shortID(created.ID)).
		Str("image", opts.Image).
		Int("port", opts.Port).
		Int("hostPort", hostPort).
		Msg("container started")

	return &model.ContainerInfo{
		ID:       created.ID,
		Name:     opts.Name,
		Image:    opts.Image,
		Port:     opts.Port,
		HostPort: hostPort,
	}, nil
}

// StreamLogs follows the container's output, demultiplexing stdout and
// stderr onto the given writers. It returns when the container exits or
// ctx is cancelled.
func StreamLogs(ctx context.Context, cli *Client, containerID string, stdout, stderr io.Writer) error {
	rc, err := cli.Inner().ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to attach to container logs: %w", err)
	}
	defer rc.Close()

	// Containers without a TTY multiplex both streams with an 8-byte
	// frame header; stdcopy splits them again.
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to read container logs: %w", err)
	}
	return nil
}

// WaitContainer blocks until the container stops and returns its exit
// status.
func WaitContainer(ctx context.Context, cli *Client, containerID string) (int, error) {
	statusCh, errCh := cli.Inner().ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return -1, fmt.Errorf("failed waiting for container %s: %w", shortID(containerID), err)
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("container %s: %s", shortID(containerID), status.Error.Message)
		}
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// StopContainer stops a running container. Docker sends SIGTERM and
// escalates to SIGKILL after its default timeout.
func StopContainer(ctx context.Context, cli *Client, containerID string) error {
	err := cli.Inner().ContainerStop(ctx, containerID, container.StopOptions{})
	if err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to stop container %q", shortID(containerID)),
			err,
		)
	}
	return nil
}

// RemoveContainer removes a container. With force, a running container
// is killed first.
func RemoveContainer(ctx context.Context, cli *Client, containerID string, force bool) error {
	err := cli.Inner().ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force: force,
	})
	if err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to remove container %q", shortID(containerID)),
			err,
		)
	}
	return nil
}

// portBindings publishes containerPort/tcp on hostPort across all host
// interfaces.
func portBindings(containerPort, hostPort int) (nat.PortSet, nat.PortMap, error) {
	p, err := nat.NewPort("tcp", strconv.Itoa(containerPort))
	if err != nil {
		return nil, nil, model.WrapCLIError(model.ExitPortUnavailable, "invalid port", err)
	}
	exposed := nat.PortSet{p: struct{}{}}
	bindings := nat.PortMap{
		p: []nat.PortBinding{{HostIP: model.DefaultHost, HostPort: strconv.Itoa(hostPort)}},
	}
	return exposed, bindings, nil
}

// envList renders env as sorted KEY=VALUE pairs so the container config
// is stable across runs.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// shortID returns the 12-character form Docker shows in its CLI.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
