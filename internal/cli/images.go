// images.go implements the "svcboot images" command.
//
// images lists svcboot-built images: those known to the Docker daemon
// (identified by the svcboot.managed-by label) or, with --local, the
// image records of the local layer store.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/svcboot/internal/docker"
	"github.com/shinji-kodama/svcboot/internal/model"
)

// imagesFlags holds the flag values for the images command.
type imagesFlags struct {
	local bool
	store string
}

// NewImagesCommand creates the "images" cobra command.
func NewImagesCommand() *cobra.Command {
	flags := &imagesFlags{}

	cmd := &cobra.Command{
		Use:   "images",
		Short: "List built images",
		Long: `List images built by svcboot.

Examples:
  svcboot images
  svcboot images --local
  svcboot images --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.local {
				return runLocalImages(cmd.OutOrStdout(), flags)
			}
			return runDockerImages(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&flags.local, "local", false, "List the local layer store instead of the Docker daemon")
	cmd.Flags().StringVar(&flags.store, "store", "", "Local layer store directory (default: $XDG_CACHE_HOME/svcboot)")

	return cmd
}

func runLocalImages(w io.Writer, flags *imagesFlags) error {
	store, err := openStore(flags.store)
	if err != nil {
		return err
	}
	records, err := store.ListImages()
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(w, map[string][]model.ImageRecord{"images": records})
	}
	printLocalImagesText(w, records)
	return nil
}

// printLocalImagesText prints the local image records:
//
//	NAME       ID            LAYERS  ENTRYPOINT  CREATED
//	app        3b1f0c9a2d4e  3       main:app    2026-03-01T00:00:00Z
func printLocalImagesText(w io.Writer, records []model.ImageRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No images found.")
		return
	}
	fmt.Fprintf(w, "%-20s %-13s %-7s %-20s %s\n", "NAME", "ID", "LAYERS", "ENTRYPOINT", "CREATED")
	for _, r := range records {
		fmt.Fprintf(w, "%-20s %-13s %-7d %-20s %s\n",
			r.Name, ShortKey(r.ID), len(r.Layers), r.Entrypoint, r.CreatedAt.UTC().Format(time.RFC3339))
	}
}

func runDockerImages(ctx context.Context, w io.Writer) error {
	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	images, err := docker.ListManagedImages(ctx, cli)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(w, map[string][]model.ImageInfo{"images": images})
	}
	printDockerImagesText(w, images)
	return nil
}

// printDockerImagesText prints the managed daemon images:
//
//	TAGS             ID            PORT  SIZE     CREATED
//	app:latest       5e2a91c07d3b  8080  152.3MB  2026-03-01T00:00:00Z
func printDockerImagesText(w io.Writer, images []model.ImageInfo) {
	if len(images) == 0 {
		fmt.Fprintln(w, "No images found.")
		return
	}
	fmt.Fprintf(w, "%-30s %-13s %-6s %-9s %s\n", "TAGS", "ID", "PORT", "SIZE", "CREATED")
	for _, img := range images {
		fmt.Fprintf(w, "%-30s %-13s %-6d %-9s %s\n",
			FormatTags(img.Tags), ShortKey(img.ID), img.DefaultPort, FormatSize(img.Size),
			img.CreatedAt.UTC().Format(time.RFC3339))
	}
}

// FormatTags joins image tags with commas. Returns "<none>" for an
// untagged image, like the docker CLI.
func FormatTags(tags []string) string {
	if len(tags) == 0 {
		return "<none>"
	}
	return strings.Join(tags, ",")
}

// FormatSize renders a byte count with a decimal unit.
//
//	999 → "999B", 1500 → "1.5kB", 152300000 → "152.3MB"
func FormatSize(n int64) string {
	const unit = 1000
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	units := []string{"kB", "MB", "GB", "TB"}
	value := float64(n) / unit
	i := 0
	for value >= unit && i < len(units)-1 {
		value /= unit
		i++
	}
	return fmt.Sprintf("%.1f%s", value, units[i])
}
