// plan.go implements the "svcboot plan" command.
//
// plan loads the recipe, the dependency manifest and the source tree of a
// build context and prints the build steps with their cache keys, without
// executing anything. With --dockerfile it prints the Dockerfile the
// daemon build would use instead.
package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/svcboot/internal/build"
	"github.com/shinji-kodama/svcboot/internal/config"
	"github.com/shinji-kodama/svcboot/internal/manifest"
	"github.com/shinji-kodama/svcboot/internal/model"
	"github.com/shinji-kodama/svcboot/internal/source"
)

// planFlags holds the flag values for the plan command.
type planFlags struct {
	dockerfile bool
}

// NewPlanCommand creates the "plan" cobra command.
func NewPlanCommand() *cobra.Command {
	flags := &planFlags{}

	cmd := &cobra.Command{
		Use:   "plan [dir]",
		Short: "Show the build steps and their cache keys",
		Long: `Show the build steps for a build context without running them.

Each step is printed with its cache key. Steps whose key is unchanged
since the last build are served from the layer cache.

Examples:
  svcboot plan
  svcboot plan ./service --json
  svcboot plan --dockerfile > Dockerfile`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), cmd.OutOrStdout(), contextDir(args), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.dockerfile, "dockerfile", false, "Print the generated Dockerfile instead of the step list")

	return cmd
}

// contextDir returns the build context argument, defaulting to ".".
func contextDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

// buildInputs are the loaded inputs of a build.
type buildInputs struct {
	Recipe     *model.Recipe
	RecipePath string
	Manifest   *manifest.Manifest
	Tree       *source.Tree
}

// loadBuildInputs resolves the recipe for dir, then reads the dependency
// manifest and scans the source tree.
func loadBuildInputs(ctx context.Context, dir string) (*buildInputs, error) {
	recipe, path, err := config.ResolveRecipe(dir, recipePath)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("recipe", path).Str("name", recipe.Name).Msg("recipe resolved")

	m, err := manifest.Load(filepath.Join(dir, filepath.FromSlash(recipe.Manifest)))
	if err != nil {
		return nil, err
	}
	log.Debug().Int("requirements", len(m.Requirements)).Str("digest", m.Digest.String()).Msg("manifest loaded")

	tree, err := source.Scan(ctx, dir, source.ScanOptions{Ignore: recipe.Ignore, GitFiles: recipe.GitFiles})
	if err != nil {
		return nil, err
	}
	log.Debug().Int("files", len(tree.Files)).Bool("git", tree.FromGit).Str("digest", tree.Digest.String()).Msg("source tree scanned")

	return &buildInputs{Recipe: recipe, RecipePath: path, Manifest: m, Tree: tree}, nil
}

// planJSON is the JSON output of the plan command.
type planJSON struct {
	Recipe         string              `json:"recipe"`
	RecipePath     string              `json:"recipePath,omitempty"`
	ManifestDigest string              `json:"manifestDigest"`
	SourceDigest   string              `json:"sourceDigest"`
	Requirements   []model.Requirement `json:"requirements"`
	Steps          []model.BuildStep   `json:"steps"`
}

func runPlan(ctx context.Context, w io.Writer, dir string, flags *planFlags) error {
	if flags.dockerfile {
		recipe, _, err := config.ResolveRecipe(dir, recipePath)
		if err != nil {
			return err
		}
		data, err := build.RenderDockerfile(recipe)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	in, err := loadBuildInputs(ctx, dir)
	if err != nil {
		return err
	}
	steps := build.Plan(in.Recipe, in.Manifest.Digest, in.Tree.Digest)

	if IsJSONOutput() {
		reqs := in.Manifest.Requirements
		if reqs == nil {
			reqs = []model.Requirement{}
		}
		return printJSON(w, planJSON{
			Recipe:         in.Recipe.Name,
			RecipePath:     in.RecipePath,
			ManifestDigest: in.Manifest.Digest.String(),
			SourceDigest:   in.Tree.Digest.String(),
			Requirements:   reqs,
			Steps:          steps,
		})
	}

	printPlanText(w, steps)
	return nil
}

// printPlanText prints one row per step:
//
//	#  STEP           KEY           INSTRUCTION
//	0  base           3b1f0c9a2d4e  FROM python:3.12-slim
func printPlanText(w io.Writer, steps []model.BuildStep) {
	fmt.Fprintf(w, "%-3s %-14s %-13s %s\n", "#", "STEP", "KEY", "INSTRUCTION")
	for _, s := range steps {
		fmt.Fprintf(w, "%-3d %-14s %-13s %s\n", s.Index, s.Kind, ShortKey(s.CacheKey), s.Instruction)
	}
}

// ShortKey returns the first 12 hex characters of a digest string.
//
//	"sha256:3b1f0c9a2d4e5f..." → "3b1f0c9a2d4e"
func ShortKey(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		key = key[i+1:]
	}
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
