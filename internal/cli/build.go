// build.go implements the "svcboot build" command.
//
// By default the build runs locally: layers are written to a
// content-addressed store and an image record is saved when every step
// succeeded. With --docker the same step order is sent to the Docker
// daemon as a generated Dockerfile.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/svcboot/internal/build"
	"github.com/shinji-kodama/svcboot/internal/docker"
	"github.com/shinji-kodama/svcboot/internal/model"
)

// buildFlags holds the flag values for the build command.
type buildFlags struct {
	// store is the local layer store directory.
	store string

	// docker builds through the Docker daemon instead of locally.
	docker bool

	// tags are the image tags for --docker builds.
	tags []string

	// noCache disables the daemon layer cache for --docker builds.
	noCache bool
}

// NewBuildCommand creates the "build" cobra command.
func NewBuildCommand() *cobra.Command {
	flags := &buildFlags{}

	cmd := &cobra.Command{
		Use:   "build [dir]",
		Short: "Build the runtime image for a service",
		Long: `Build the runtime image for the service in dir (default ".").

Steps run in a fixed order: base image, environment defaults, working
directory, dependency manifest, dependency installation, source tree,
start command. A failing installation aborts the build and no image is
recorded.

Examples:
  svcboot build
  svcboot build ./service --store /var/cache/svcboot
  svcboot build --docker --tag my-service:1.2.0`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := contextDir(args)
			if flags.docker {
				return runDockerBuild(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), dir, flags)
			}
			return runLocalBuild(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), dir, flags)
		},
	}

	cmd.Flags().StringVar(&flags.store, "store", "", "Local layer store directory (default: $XDG_CACHE_HOME/svcboot)")
	cmd.Flags().BoolVar(&flags.docker, "docker", false, "Build with the Docker daemon")
	cmd.Flags().StringSliceVarP(&flags.tags, "tag", "t", nil, "Image tag for --docker builds (default: <name>:latest)")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "Disable the Docker layer cache for --docker builds")

	return cmd
}

// openStore opens the store at dir or at the default location.
func openStore(dir string) (*build.Store, error) {
	if dir == "" {
		def, err := build.DefaultStoreDir()
		if err != nil {
			return nil, err
		}
		dir = def
	}
	return build.OpenStore(dir)
}

func runLocalBuild(ctx context.Context, stdout, stderr io.Writer, dir string, flags *buildFlags) error {
	// Step 1: Load recipe, manifest and source tree.
	in, err := loadBuildInputs(ctx, dir)
	if err != nil {
		return err
	}

	// Step 2: Open the layer store.
	store, err := openStore(flags.store)
	if err != nil {
		return err
	}
	log.Debug().Str("store", store.Root()).Msg("layer store opened")

	// Step 3: Run the build. The local installer targets the layer
	// directory; recipes without local_install fall back to install.
	builder := build.NewBuilder(store, build.CommandInstaller{Argv: build.InstallerArgv(in.Recipe)})
	builder.Stdout = stderr
	builder.Stderr = stderr

	result, err := builder.Build(ctx, build.Request{
		Recipe:   in.Recipe,
		Manifest: in.Manifest,
		Tree:     in.Tree,
	})
	if err != nil {
		return err
	}

	// Step 4: Report.
	if IsJSONOutput() {
		return printJSON(stdout, result)
	}
	printBuildText(stdout, result)
	return nil
}

// printBuildText summarizes a local build:
//
//	Built app (3b1f0c9a2d4e)
//	  copy-manifest  cached
//	  install        cached
//	  copy-source    executed
func printBuildText(w io.Writer, result *model.BuildResult) {
	fmt.Fprintf(w, "Built %s (%s)\n", result.Image.Name, ShortKey(result.Image.ID))
	for _, kind := range result.Cached {
		fmt.Fprintf(w, "  %-14s cached\n", kind)
	}
	for _, kind := range result.Executed {
		fmt.Fprintf(w, "  %-14s executed\n", kind)
	}
}

// dockerBuildJSON is the JSON output of a --docker build.
type dockerBuildJSON struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
}

func runDockerBuild(ctx context.Context, stdout, stderr io.Writer, dir string, flags *buildFlags) error {
	// Step 1: Load recipe, manifest and source tree. The manifest is only
	// read for its digest label; the daemon copies it from the context.
	in, err := loadBuildInputs(ctx, dir)
	if err != nil {
		return err
	}

	dockerfile, err := build.RenderDockerfile(in.Recipe)
	if err != nil {
		return err
	}

	// Step 2: Connect to Docker.
	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		return err
	}

	// Step 3: Build.
	tags := flags.tags
	if len(tags) == 0 {
		tags = []string{in.Recipe.Name + ":latest"}
	}

	var progress io.Writer = stderr
	if IsJSONOutput() {
		progress = io.Discard
	}

	id, err := docker.BuildImage(ctx, cli, docker.BuildRequest{
		Tree:       in.Tree,
		Dockerfile: dockerfile,
		Tags:       tags,
		Labels:     docker.BuildLabels(in.Recipe, in.Manifest.Digest.String(), in.Tree.Digest.String(), time.Now()),
		NoCache:    flags.noCache,
		Progress:   progress,
	})
	if err != nil {
		return err
	}

	// Step 4: Report.
	if IsJSONOutput() {
		return printJSON(stdout, dockerBuildJSON{ID: id, Tags: tags})
	}
	fmt.Fprintf(stdout, "Built %s (%s)\n", tags[0], ShortKey(id))
	return nil
}
