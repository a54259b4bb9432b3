// image.go builds and lists svcboot images through the Docker Engine API.
//
// The daemon build receives the same layer ordering as the local builder:
// the rendered Dockerfile copies the dependency manifest and runs the
// installer before copying the source tree, so the daemon's own layer
// cache keeps the install layer across source-only changes.
package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/rs/zerolog/log"

	"github.com/shinji-kodama/svcboot/internal/model"
	"github.com/shinji-kodama/svcboot/internal/source"
)

// DockerfileName is the name of the generated Dockerfile inside the
// build context tarball.
const DockerfileName = "Dockerfile"

// BuildRequest is the input of BuildImage.
type BuildRequest struct {
	// Tree is the filtered source tree sent as the build context.
	Tree *source.Tree

	// Dockerfile is the rendered Dockerfile content. It replaces any
	// Dockerfile present in the source tree.
	Dockerfile []byte

	// Tags are the image references to apply (e.g., "app:latest").
	Tags []string

	// Labels are recorded on the image; see BuildLabels.
	Labels map[string]string

	// NoCache disables the daemon's layer cache.
	NoCache bool

	// Progress receives the human-readable build output. Nil discards it.
	Progress io.Writer
}

// buildAux is the payload of the final "aux" message of a build stream,
// which carries the ID of the produced image.
type buildAux struct {
	ID string `json:"ID"`
}

// BuildImage sends the source tree and Dockerfile to the daemon and waits
// for the build to finish. It returns the ID of the built image.
//
// Any error reported in the build stream (a failing RUN step, usually
// the dependency installation) is returned as a model.CLIError with
// ExitBuildFailed. The daemon does not tag an image whose build failed,
// so no partial image is left behind.
func BuildImage(ctx context.Context, cli *Client, req BuildRequest) (string, error) {
	if req.Tree == nil {
		return "", fmt.Errorf("build request has no source tree")
	}

	// Stream the tarball through a pipe so large trees are never held in
	// memory. The writer goroutine ends when the SDK stops reading.
	pr, pw := io.Pipe()
	go func() {
		err := req.Tree.WriteTar(pw, map[string][]byte{DockerfileName: req.Dockerfile})
		pw.CloseWithError(err)
	}()
	defer pr.Close()

	log.Debug().
		Strs("tags", req.Tags).
		Int("files", len(req.Tree.Files)).
		Msg("sending build context to Docker daemon")

	resp, err := cli.Inner().ImageBuild(ctx, pr, buildOptions(req))
	if err != nil {
		return "", model.WrapCLIError(
			model.ExitBuildFailed,
			"Docker image build request failed",
			err,
		)
	}
	defer resp.Body.Close()

	progress := req.Progress
	if progress == nil {
		progress = io.Discard
	}

	var imageID string
	aux := func(msg jsonmessage.JSONMessage) {
		if msg.Aux == nil {
			return
		}
		var result buildAux
		if err := json.Unmarshal(*msg.Aux, &result); err == nil && result.ID != "" {
			imageID = result.ID
		}
	}

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, progress, 0, false, aux); err != nil {
		var jsonErr *jsonmessage.JSONError
		if errors.As(err, &jsonErr) {
			return "", model.WrapCLIError(model.ExitBuildFailed, "image build failed", jsonErr)
		}
		return "", model.WrapCLIError(model.ExitBuildFailed, "failed to read build output", err)
	}

	if imageID == "" {
		return "", model.NewCLIError(model.ExitBuildFailed, "build finished without reporting an image ID")
	}

	log.Info().Str("image", imageID).Strs("tags", req.Tags).Msg("image built")
	return imageID, nil
}

// buildOptions maps a BuildRequest onto the Engine API build options.
// Intermediate containers are always removed so a failed install does
// not leave stopped containers around.
func buildOptions(req BuildRequest) build.ImageBuildOptions {
	return build.ImageBuildOptions{
		Tags:        req.Tags,
		Dockerfile:  DockerfileName,
		Labels:      req.Labels,
		NoCache:     req.NoCache,
		Remove:      true,
		ForceRemove: true,
	}
}

// ListManagedImages returns every image carrying the svcboot managed-by
// label, newest first. Images whose labels cannot be parsed are skipped
// with a warning.
func ListManagedImages(ctx context.Context, cli *Client) ([]model.ImageInfo, error) {
	return listImages(ctx, cli, filters.NewArgs(filters.Arg("label", FilterLabel())))
}

// FindImage looks up a managed image by reference ("name" or
// "name:tag"). Returns a model.CLIError with ExitImageNotFound when the
// daemon has no managed image with that reference.
func FindImage(ctx context.Context, cli *Client, ref string) (*model.ImageInfo, error) {
	images, err := listImages(ctx, cli, filters.NewArgs(
		filters.Arg("label", FilterLabel()),
		filters.Arg("reference", ref),
	))
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, model.NewCLIError(
			model.ExitImageNotFound,
			fmt.Sprintf("image %q not found (build it with \"svcboot build --docker\")", ref),
		)
	}
	return &images[0], nil
}

func listImages(ctx context.Context, cli *Client, args filters.Args) ([]model.ImageInfo, error) {
	summaries, err := cli.Inner().ImageList(ctx, image.ListOptions{Filters: args})
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			"failed to list Docker images",
			err,
		)
	}

	result := make([]model.ImageInfo, 0, len(summaries))
	for _, s := range summaries {
		info, err := summaryToInfo(s)
		if err != nil {
			log.Warn().Err(err).Str("image", s.ID).Msg("skipping image with invalid svcboot labels")
			continue
		}
		result = append(result, info)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// summaryToInfo converts an Engine API image summary to model.ImageInfo.
func summaryToInfo(s image.Summary) (model.ImageInfo, error) {
	info, err := ParseLabels(s.Labels)
	if err != nil {
		return model.ImageInfo{}, err
	}
	info.ID = s.ID
	info.Tags = s.RepoTags
	info.Size = s.Size
	return *info, nil
}
