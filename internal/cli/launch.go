// launch.go implements the "svcboot launch" command, the
// container start command of a built image.
//
// launch resolves the port (PORT when present and non-empty, else the
// recipe default), resolves the entrypoint and runs exactly one
// foreground server bound to 0.0.0.0:<port>. An invalid or occupied port
// is fatal.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/svcboot/internal/config"
	"github.com/shinji-kodama/svcboot/internal/launch"
)

// launchFlags holds the flag values for the launch command.
type launchFlags struct {
	// workdir is the directory holding the application source.
	workdir string

	// inProcess ignores the recipe command and serves the entrypoint from
	// the in-process registry.
	inProcess bool
}

// NewLaunchCommand creates the "launch" cobra command.
func NewLaunchCommand() *cobra.Command {
	flags := &launchFlags{}

	cmd := &cobra.Command{
		Use:   "launch [entrypoint]",
		Short: "Launch the service in the foreground",
		Long: `Launch the service in the foreground on 0.0.0.0:$PORT.

PORT is used when present and non-empty; otherwise the recipe's default
port (8080) applies. The entrypoint argument ("module:attr") overrides the
recipe. When the recipe has a command, it runs as the single child
process; otherwise the entrypoint is served in-process.

Examples:
  svcboot launch
  PORT=3000 svcboot launch main:app
  svcboot launch --in-process svcboot:health`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runLaunch(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args, flags, nil)
		},
	}

	cmd.Flags().StringVarP(&flags.workdir, "workdir", "w", ".", "Directory holding the application source")
	cmd.Flags().BoolVar(&flags.inProcess, "in-process", false, "Serve the entrypoint in-process even if the recipe has a command")

	return cmd
}

// runLaunch runs the launch phase. ready, when set, is passed to the
// launcher and called once the service is up.
func runLaunch(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string, flags *launchFlags, ready func(string)) error {
	// Step 1: Resolve the recipe for the work directory.
	recipe, _, err := config.ResolveRecipe(flags.workdir, recipePath)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		recipe.Entrypoint = args[0]
	}
	if flags.inProcess {
		recipe.Command = nil
	}

	// Step 2: Read the environment once. An invalid PORT fails here.
	env, err := config.LoadEnv(nil, recipe.DefaultPort)
	if err != nil {
		return err
	}

	// Step 3: Run the server in the foreground.
	launcher := launch.New(launch.Options{
		Recipe:  recipe,
		WorkDir: flags.workdir,
		Env:     env,
		Logger:  log.Logger,
		Stdin:   stdin,
		Stdout:  stdout,
		Stderr:  stderr,
		Ready:   ready,
	})

	code, err := launcher.Run(ctx)
	if err != nil {
		return err
	}
	if code != 0 {
		return exitStatus(code)
	}
	return nil
}
