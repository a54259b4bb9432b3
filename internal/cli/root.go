// Package cli implements the cobra-based CLI commands for svcboot.
//
// Each subcommand (plan, build, launch, run, images, port) is defined in
// its own file within this package. This file defines the root command
// that serves as the parent for all subcommands and handles global flags,
// logging setup and the translation of errors into exit codes.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/svcboot/internal/config"
	"github.com/shinji-kodama/svcboot/internal/logging"
	"github.com/shinji-kodama/svcboot/internal/model"
)

// Global flag variables shared across all subcommands. They are bound
// to persistent flags on the root command.
var (
	// jsonOutput switches command output (and error output) to JSON.
	jsonOutput bool

	// verbose lowers the log level to debug.
	verbose bool

	// recipePath is an explicit recipe file. Empty means discovery in
	// the build context or work directory.
	recipePath string
)

// Version, Commit and Date are set at build time via ldflags and
// injected from the main package.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// exitStatus is returned by commands whose outcome is a plain process
// exit status, such as the launched server's own exit code. Execute exits
// with it without printing anything.
type exitStatus int

func (e exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

// NewRootCommand creates the root command with every subcommand
// registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "svcboot",
		Short: "Build a service runtime image and launch its server",
		Long: `svcboot builds a reproducible runtime image for a single-process network
service and launches exactly one server bound to 0.0.0.0:$PORT (8080 when
PORT is unset or empty).

Dependencies are installed from the manifest before the source tree is
copied, so rebuilding after a source-only change reuses the installed
dependency layer.`,

		// Errors are printed by Execute in text or JSON form.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogging(cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&recipePath, "recipe", "f", "", "Path to the recipe file (default: svcboot.{yaml,yml,json,toml} in the context directory)")

	rootCmd.AddCommand(NewPlanCommand())
	rootCmd.AddCommand(NewBuildCommand())
	rootCmd.AddCommand(NewLaunchCommand())
	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewImagesCommand())
	rootCmd.AddCommand(NewPortCommand())

	return rootCmd
}

// setupLogging installs the global logger. SVCBOOT_LOG_LEVEL and
// SVCBOOT_LOG_FORMAT apply; --verbose forces debug.
func setupLogging(w io.Writer) {
	level, format := config.LogSettings(nil)
	if verbose {
		level = "debug"
	}
	logging.New(w, level, logging.Format(format))
}

// Execute runs the root command and exits the process with the code
// carried by the returned error: the CLIError code, the exitStatus value
// or 1 for anything else.
func Execute(rootCmd *cobra.Command) {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	os.Exit(handleError(os.Stderr, err))
}

// handleError prints err and returns the exit code for it.
func handleError(w io.Writer, err error) int {
	var status exitStatus
	if errors.As(err, &status) {
		return int(status)
	}

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		printError(w, cliErr.Message, cliErr.Err)
		return int(cliErr.Code)
	}

	printError(w, err.Error(), nil)
	return int(model.ExitGeneralError)
}

// printError writes an error message as JSON (with --json) or as
// "Error: ..." text. Errors always go to stderr so stdout only carries
// command results.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]any{"message": message}
		if underlying != nil {
			errObj["detail"] = underlying.Error()
		}
		data, _ := json.MarshalIndent(map[string]any{"error": errObj}, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// IsJSONOutput returns whether the --json flag is set.
func IsJSONOutput() bool {
	return jsonOutput
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
