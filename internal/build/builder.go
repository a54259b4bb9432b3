package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shinji-kodama/svcboot/internal/docker"
	"github.com/shinji-kodama/svcboot/internal/manifest"
	"github.com/shinji-kodama/svcboot/internal/model"
	"github.com/shinji-kodama/svcboot/internal/source"
)

// Request is the input of one local build.
type Request struct {
	Recipe   *model.Recipe
	Manifest *manifest.Manifest
	Tree     *source.Tree
}

// Builder executes build plans against a Store.
//
// Steps run strictly in order. A filesystem step whose layer already
// exists in the store is a cache hit and is skipped. New layers are
// written into staging directories and committed only when their step
// succeeds. If any step fails, the staging directories and the layers
// committed by this build are removed and no image record is written.
type Builder struct {
	store     *Store
	installer Installer

	// Stdout and Stderr receive installer output.
	Stdout io.Writer
	Stderr io.Writer

	// now is replaced in tests.
	now func() time.Time
}

// NewBuilder creates a Builder writing into store and installing
// dependencies with installer.
func NewBuilder(store *Store, installer Installer) *Builder {
	return &Builder{
		store:     store,
		installer: installer,
		now:       time.Now,
	}
}

// buildRun holds the state of one Build call.
type buildRun struct {
	req       Request
	logger    zerolog.Logger
	steps     map[model.StepKind]model.BuildStep
	committed []string
}

// Build runs the plan for req and returns the image record plus which
// filesystem steps were executed and which came from the cache.
func (b *Builder) Build(ctx context.Context, req Request) (*model.BuildResult, error) {
	if req.Recipe == nil || req.Manifest == nil || req.Tree == nil {
		return nil, fmt.Errorf("build request is incomplete")
	}

	plan := Plan(req.Recipe, req.Manifest.Digest, req.Tree.Digest)
	run := &buildRun{
		req: req,
		logger: log.With().
			Str("build", uuid.NewString()).
			Str("image", req.Recipe.Name).
			Logger(),
		steps: make(map[model.StepKind]model.BuildStep, len(plan)),
	}

	result := &model.BuildResult{}
	var layers []string

	for _, step := range plan {
		run.steps[step.Kind] = step

		if err := ctx.Err(); err != nil {
			b.rollback(run)
			return nil, model.WrapCLIError(model.ExitBuildFailed, "build cancelled", err)
		}

		if !step.Kind.ProducesLayer() {
			run.logger.Debug().Str("step", step.Kind.String()).Msg(step.Instruction)
			continue
		}
		layers = append(layers, step.CacheKey)

		if b.store.HasLayer(step.CacheKey) {
			run.logger.Info().
				Str("step", step.Kind.String()).
				Str("key", step.CacheKey).
				Msg("using cached layer")
			result.Cached = append(result.Cached, step.Kind)
			continue
		}

		run.logger.Info().Str("step", step.Kind.String()).Msg(step.Instruction)
		if err := b.executeStep(ctx, run, step); err != nil {
			b.rollback(run)
			return nil, err
		}
		result.Executed = append(result.Executed, step.Kind)
	}

	final := plan[len(plan)-1]
	rec := &model.ImageRecord{
		Name:       req.Recipe.Name,
		ID:         final.CacheKey,
		Layers:     layers,
		BaseImage:  req.Recipe.BaseImage,
		Env:        req.Recipe.Env,
		WorkDir:    req.Recipe.WorkDir,
		Command:    req.Recipe.Command,
		Entrypoint: req.Recipe.Entrypoint,
		CreatedAt:  b.now().UTC(),
	}
	rec.Labels = docker.BuildLabels(req.Recipe, req.Manifest.Digest.String(), req.Tree.Digest.String(), rec.CreatedAt)

	if err := b.store.WriteImage(rec); err != nil {
		b.rollback(run)
		return nil, model.WrapCLIError(model.ExitBuildFailed, "failed to record image", err)
	}

	run.logger.Info().
		Str("id", rec.ID).
		Int("executed", len(result.Executed)).
		Int("cached", len(result.Cached)).
		Msg("build complete")

	result.Image = rec
	return result, nil
}

// executeStep builds one filesystem layer into a staging directory and
// commits it.
func (b *Builder) executeStep(ctx context.Context, run *buildRun, step model.BuildStep) error {
	staging, err := b.store.Stage()
	if err != nil {
		return model.WrapCLIError(model.ExitBuildFailed, "failed to prepare layer", err)
	}

	if err := b.populate(ctx, run, step, staging); err != nil {
		_ = b.store.Discard(staging)
		return err
	}

	if err := b.store.Commit(staging, step.CacheKey); err != nil {
		_ = b.store.Discard(staging)
		return model.WrapCLIError(model.ExitBuildFailed, "failed to commit layer", err)
	}
	run.committed = append(run.committed, step.CacheKey)
	return nil
}

func (b *Builder) populate(ctx context.Context, run *buildRun, step model.BuildStep, staging string) error {
	recipe := run.req.Recipe

	switch step.Kind {
	case model.StepCopyManifest:
		dst := filepath.Join(staging, filepath.FromSlash(recipe.Manifest))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return model.WrapCLIError(model.ExitBuildFailed, "failed to copy dependency manifest", err)
		}
		if err := os.WriteFile(dst, run.req.Manifest.Bytes(), 0o644); err != nil {
			return model.WrapCLIError(model.ExitBuildFailed, "failed to copy dependency manifest", err)
		}
		return nil

	case model.StepInstall:
		manifestLayer, err := b.store.LayerPath(run.steps[model.StepCopyManifest].CacheKey)
		if err != nil {
			return model.WrapCLIError(model.ExitBuildFailed, "dependency manifest layer missing", err)
		}
		err = b.installer.Install(ctx, InstallRequest{
			Manifest: filepath.Join(manifestLayer, filepath.FromSlash(recipe.Manifest)),
			Target:   staging,
			Env:      recipe.Env,
			Stdout:   b.Stdout,
			Stderr:   b.Stderr,
		})
		if err != nil {
			return model.WrapCLIError(model.ExitBuildFailed, "dependency installation failed", err)
		}
		return nil

	case model.StepCopySource:
		if err := run.req.Tree.CopyTo(staging); err != nil {
			return model.WrapCLIError(model.ExitBuildFailed, "failed to copy source tree", err)
		}
		return nil

	default:
		return fmt.Errorf("step %s does not produce a layer", step.Kind)
	}
}

// rollback removes the layers this build committed, so a failed build
// leaves the store as it found it.
func (b *Builder) rollback(run *buildRun) {
	for i := len(run.committed) - 1; i >= 0; i-- {
		if err := b.store.RemoveLayer(run.committed[i]); err != nil {
			run.logger.Warn().Err(err).Str("key", run.committed[i]).Msg("failed to remove layer during rollback")
		}
	}
	run.committed = nil
}
