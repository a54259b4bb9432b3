// run.go implements the "svcboot run" command.
//
// run starts a svcboot-built image with the Docker daemon, passing PORT
// into the container and publishing it on the host. In the foreground it
// follows the container output and exits with the container's status.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/svcboot/internal/docker"
	"github.com/shinji-kodama/svcboot/internal/model"
	"github.com/shinji-kodama/svcboot/internal/port"
)

// runFlags holds the flag values for the run command.
type runFlags struct {
	// port is the PORT value passed into the container. Zero uses the
	// image's default port.
	port int

	// hostPort is the published host port. Zero publishes on port.
	hostPort int

	// autoHostPort picks a free host port in the ephemeral range.
	autoHostPort bool

	name   string
	detach bool
	rm     bool
}

// NewRunCommand creates the "run" cobra command.
func NewRunCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Run a built image as a container",
		Long: `Run a svcboot-built image with the Docker daemon.

The container receives PORT (default: the image's default port) and the
port is published on the host. Without --detach the container output is
followed and svcboot exits with the container's exit status.

Examples:
  svcboot run my-service
  svcboot run my-service:1.2.0 --port 3000 --host-port 13000
  svcboot run my-service --auto-host-port --detach`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRun(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], flags)
		},
	}

	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "PORT value inside the container (default: image default port)")
	cmd.Flags().IntVar(&flags.hostPort, "host-port", 0, "Host port to publish (default: same as --port)")
	cmd.Flags().BoolVar(&flags.autoHostPort, "auto-host-port", false, "Publish on a free host port in the ephemeral range")
	cmd.Flags().StringVar(&flags.name, "name", "", "Container name")
	cmd.Flags().BoolVarP(&flags.detach, "detach", "d", false, "Start the container and return")
	cmd.Flags().BoolVar(&flags.rm, "rm", true, "Remove the container when it exits")

	return cmd
}

// resolveRunPorts picks the container and host ports for a run.
func resolveRunPorts(flags *runFlags, image *model.ImageInfo, scanner *port.Scanner) (int, int, error) {
	containerPort := flags.port
	if containerPort == 0 {
		containerPort = image.DefaultPort
	}
	if containerPort == 0 {
		containerPort = model.DefaultPort
	}

	hostPort := flags.hostPort
	if flags.autoHostPort {
		if hostPort != 0 {
			return 0, 0, model.NewCLIError(model.ExitGeneralError, "--host-port and --auto-host-port are mutually exclusive")
		}
		free, err := scanner.FindAvailablePort(port.EphemeralStart, port.EphemeralEnd)
		if err != nil {
			return 0, 0, err
		}
		hostPort = free
	}
	if hostPort == 0 {
		hostPort = containerPort
	}
	return containerPort, hostPort, nil
}

func runRun(ctx context.Context, stdout, stderr io.Writer, ref string, flags *runFlags) error {
	// Step 1: Connect to Docker.
	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		return err
	}

	// Step 2: Find the image and resolve ports.
	image, err := docker.FindImage(ctx, cli, ref)
	if err != nil {
		return err
	}

	containerPort, hostPort, err := resolveRunPorts(flags, image, port.NewScanner(""))
	if err != nil {
		return err
	}

	// Step 3: Start the container.
	info, err := docker.RunContainer(ctx, cli, docker.RunOptions{
		Image:      ref,
		Recipe:     image.Recipe,
		Name:       flags.name,
		Port:       containerPort,
		HostPort:   hostPort,
		AutoRemove: flags.rm,
	})
	if err != nil {
		return err
	}

	if flags.detach {
		if IsJSONOutput() {
			return printJSON(stdout, info)
		}
		fmt.Fprintf(stdout, "%s\nhttp://localhost:%d\n", info.ID, info.HostPort)
		return nil
	}

	// Step 4: Follow output until the container exits. Cancellation stops
	// the container; its exit status still decides ours.
	go func() {
		if err := docker.StreamLogs(ctx, cli, info.ID, stdout, stderr); err != nil {
			log.Warn().Err(err).Msg("log streaming stopped")
		}
	}()

	waitCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	go stopOnCancel(ctx, done, func() {
		log.Info().Msg("stopping container")
		if err := docker.StopContainer(waitCtx, cli, info.ID); err != nil {
			log.Warn().Err(err).Msg("failed to stop container")
		}
	})

	code, err := docker.WaitContainer(waitCtx, cli, info.ID)
	close(done)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "container wait failed", err)
	}
	if code != 0 {
		return exitStatus(code)
	}
	return nil
}

// stopOnCancel calls stop if ctx is cancelled while the container is
// still running. Closing done means it exited on its own, and then the
// cancellation that follows a normal return does nothing.
func stopOnCancel(ctx context.Context, done <-chan struct{}, stop func()) {
	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		default:
			stop()
		}
	}
}
