// port.go implements the "svcboot port" command.
//
// port prints the port the launch phase would bind: PORT when present
// and non-empty, else the recipe's default. With --check it also probes
// that the port is free and fails with the port-unavailable exit code
// if it is not.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/svcboot/internal/config"
	"github.com/shinji-kodama/svcboot/internal/model"
	"github.com/shinji-kodama/svcboot/internal/port"
)

// portFlags holds the flag values for the port command.
type portFlags struct {
	workdir string
	check   bool
}

// NewPortCommand creates the "port" cobra command.
func NewPortCommand() *cobra.Command {
	flags := &portFlags{}

	cmd := &cobra.Command{
		Use:   "port",
		Short: "Print the resolved listen port",
		Long: `Print the port the service would bind.

Examples:
  svcboot port
  PORT=3000 svcboot port --check --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPort(cmd.OutOrStdout(), flags, nil)
		},
	}

	cmd.Flags().StringVarP(&flags.workdir, "workdir", "w", ".", "Directory whose recipe supplies the default port")
	cmd.Flags().BoolVar(&flags.check, "check", false, "Fail if the port is already in use")

	return cmd
}

// portJSON is the JSON output of the port command.
type portJSON struct {
	Port      int    `json:"port"`
	Host      string `json:"host"`
	Source    string `json:"source"`
	Available *bool  `json:"available,omitempty"`
}

func runPort(w io.Writer, flags *portFlags, getenv config.Getenv) error {
	recipe, _, err := config.ResolveRecipe(flags.workdir, recipePath)
	if err != nil {
		return err
	}

	env, err := config.LoadEnv(getenv, recipe.DefaultPort)
	if err != nil {
		return err
	}

	out := portJSON{Port: env.Port, Host: model.DefaultHost, Source: "default"}
	if env.PortFromEnv {
		out.Source = "env"
	}

	var checkErr error
	if flags.check {
		checkErr = port.NewScanner(model.DefaultHost).Check(env.Port)
		available := checkErr == nil
		out.Available = &available
	}

	if IsJSONOutput() {
		if err := printJSON(w, out); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, out.Port)
	}
	return checkErr
}
