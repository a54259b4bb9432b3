package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/svcboot/internal/manifest"
	"github.com/shinji-kodama/svcboot/internal/model"
	"github.com/shinji-kodama/svcboot/internal/source"
)

// fakeInstaller records calls and writes a marker file into the target
// instead of running a real package installer.
type fakeInstaller struct {
	calls     int
	manifests []string
	dirs      [][]string
	fail      error
}

func (f *fakeInstaller) Install(_ context.Context, req InstallRequest) error {
	f.calls++
	data, err := os.ReadFile(req.Manifest)
	if err != nil {
		return err
	}
	f.manifests = append(f.manifests, string(data))

	entries, err := os.ReadDir(filepath.Dir(req.Manifest))
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	f.dirs = append(f.dirs, names)

	if f.fail != nil {
		return f.fail
	}
	return os.WriteFile(filepath.Join(req.Target, "installed.txt"), data, 0o644)
}

// buildFixture is a build context on disk plus a store and builder.
type buildFixture struct {
	dir       string
	store     *Store
	installer *fakeInstaller
	builder   *Builder
	recipe    model.Recipe
}

func newBuildFixture(t *testing.T) *buildFixture {
	t.Helper()
	dir := t.TempDir()
	writeContext(t, dir, "requirements.txt", "fastapi>=0.110\nuvicorn\n")
	writeContext(t, dir, "main.py", "app = None\n")

	store, err := OpenStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)

	installer := &fakeInstaller{}
	b := NewBuilder(store, installer)
	b.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	return &buildFixture{
		dir:       dir,
		store:     store,
		installer: installer,
		builder:   b,
		recipe:    model.DefaultRecipe(),
	}
}

func writeContext(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func (f *buildFixture) build(t *testing.T) (*model.BuildResult, error) {
	t.Helper()
	m, err := manifest.Load(filepath.Join(f.dir, f.recipe.Manifest))
	require.NoError(t, err)
	tree, err := source.Scan(context.Background(), f.dir, source.ScanOptions{})
	require.NoError(t, err)
	return f.builder.Build(context.Background(), Request{Recipe: &f.recipe, Manifest: m, Tree: tree})
}

// TestBuild_FirstBuild runs every filesystem step and writes the record.
func TestBuild_FirstBuild(t *testing.T) {
	f := newBuildFixture(t)

	result, err := f.build(t)
	require.NoError(t, err)

	assert.Equal(t, []model.StepKind{model.StepCopyManifest, model.StepInstall, model.StepCopySource}, result.Executed)
	assert.Empty(t, result.Cached)
	assert.Equal(t, 1, f.installer.calls)
	assert.Equal(t, "fastapi>=0.110\nuvicorn\n", f.installer.manifests[0],
		"installer must read the manifest from the copy-manifest layer")
	assert.Equal(t, []string{"requirements.txt"}, f.installer.dirs[0],
		"the installer sees the manifest alone, not the source tree")

	rec, err := f.store.LoadImage("app")
	require.NoError(t, err)
	assert.Equal(t, result.Image.ID, rec.ID)
	assert.Len(t, rec.Layers, 3)
	assert.Equal(t, "/app", rec.WorkDir)
	assert.Equal(t, "main:app", rec.Entrypoint)
	assert.Equal(t, "svcboot", rec.Labels["svcboot.managed-by"])

	sourceLayer, err := f.store.LayerPath(rec.Layers[2])
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(sourceLayer, "main.py"))

	installLayer, err := f.store.LayerPath(rec.Layers[1])
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(installLayer, "installed.txt"))

	staged, err := f.store.StagingDirs()
	require.NoError(t, err)
	assert.Empty(t, staged)
}

// TestBuild_SourceChangeReusesInstall is the cache property: same
// manifest, changed source, no second installer run.
func TestBuild_SourceChangeReusesInstall(t *testing.T) {
	f := newBuildFixture(t)

	first, err := f.build(t)
	require.NoError(t, err)

	writeContext(t, f.dir, "main.py", "app = 'v2'\n")
	second, err := f.build(t)
	require.NoError(t, err)

	assert.Equal(t, 1, f.installer.calls, "install step must not be re-executed")
	assert.Equal(t, []model.StepKind{model.StepCopyManifest, model.StepInstall}, second.Cached)
	assert.Equal(t, []model.StepKind{model.StepCopySource}, second.Executed)
	assert.Equal(t, first.Image.Layers[1], second.Image.Layers[1], "install layer must be shared")
	assert.NotEqual(t, first.Image.ID, second.Image.ID)
}

// TestBuild_ManifestChangeReinstalls checks the opposite case.
func TestBuild_ManifestChangeReinstalls(t *testing.T) {
	f := newBuildFixture(t)

	_, err := f.build(t)
	require.NoError(t, err)

	writeContext(t, f.dir, "requirements.txt", "fastapi>=0.110\nuvicorn\nhttpx\n")
	second, err := f.build(t)
	require.NoError(t, err)

	assert.Equal(t, 2, f.installer.calls)
	assert.Empty(t, second.Cached)
}

// TestBuild_LocalInstallChangeReinstalls keys the install layer by the
// installer command the local builder runs.
func TestBuild_LocalInstallChangeReinstalls(t *testing.T) {
	f := newBuildFixture(t)

	first, err := f.build(t)
	require.NoError(t, err)

	f.recipe.LocalInstall = []string{"pip", "install", "--no-deps", "--target", "{target}", "-r", "{manifest}"}
	second, err := f.build(t)
	require.NoError(t, err)

	assert.Equal(t, 2, f.installer.calls)
	assert.Equal(t, []model.StepKind{model.StepCopyManifest}, second.Cached)
	assert.Equal(t, []model.StepKind{model.StepInstall, model.StepCopySource}, second.Executed)
	assert.Equal(t, first.Image.Layers[0], second.Image.Layers[0])
	assert.NotEqual(t, first.Image.Layers[1], second.Image.Layers[1])
}

// TestBuild_Unchanged rebuilds entirely from cache.
func TestBuild_Unchanged(t *testing.T) {
	f := newBuildFixture(t)

	first, err := f.build(t)
	require.NoError(t, err)
	second, err := f.build(t)
	require.NoError(t, err)

	assert.Equal(t, 1, f.installer.calls)
	assert.Empty(t, second.Executed)
	assert.Len(t, second.Cached, 3)
	assert.Equal(t, first.Image.ID, second.Image.ID)
}

// TestBuild_InstallFailure aborts the build without leaving an image
// record, staged directories or layers from the failed build.
func TestBuild_InstallFailure(t *testing.T) {
	f := newBuildFixture(t)
	f.installer.fail = errors.New("exit status 1")

	_, err := f.build(t)
	require.Error(t, err)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitBuildFailed, cliErr.Code)
	assert.Contains(t, err.Error(), "dependency installation failed")

	_, err = f.store.LoadImage("app")
	var notFound *model.CLIError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, model.ExitImageNotFound, notFound.Code)

	images, err := f.store.ListImages()
	require.NoError(t, err)
	assert.Empty(t, images)

	staged, err := f.store.StagingDirs()
	require.NoError(t, err)
	assert.Empty(t, staged)

	for _, step := range Plan(&f.recipe, mustManifestDigest(t, f), mustSourceDigest(t, f)) {
		if step.Kind.ProducesLayer() {
			assert.False(t, f.store.HasLayer(step.CacheKey), "layer %s must be rolled back", step.Kind)
		}
	}
}

// TestBuild_FailureKeepsPreviousImage checks that a failed rebuild does
// not replace or damage the last good image.
func TestBuild_FailureKeepsPreviousImage(t *testing.T) {
	f := newBuildFixture(t)

	first, err := f.build(t)
	require.NoError(t, err)

	writeContext(t, f.dir, "requirements.txt", "broken==\n")
	f.installer.fail = errors.New("no matching distribution")
	_, err = f.build(t)
	require.Error(t, err)

	rec, err := f.store.LoadImage("app")
	require.NoError(t, err)
	assert.Equal(t, first.Image.ID, rec.ID)
	for _, key := range rec.Layers {
		assert.True(t, f.store.HasLayer(key), "layers of the previous image must survive")
	}
}

func TestBuild_Cancelled(t *testing.T) {
	f := newBuildFixture(t)
	m, err := manifest.Load(filepath.Join(f.dir, "requirements.txt"))
	require.NoError(t, err)
	tree, err := source.Scan(context.Background(), f.dir, source.ScanOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.builder.Build(ctx, Request{Recipe: &f.recipe, Manifest: m, Tree: tree})
	require.Error(t, err)
	assert.Equal(t, 0, f.installer.calls)
}

func TestBuild_IncompleteRequest(t *testing.T) {
	f := newBuildFixture(t)
	_, err := f.builder.Build(context.Background(), Request{Recipe: &f.recipe})
	assert.Error(t, err)
}

func mustManifestDigest(t *testing.T, f *buildFixture) digest.Digest {
	t.Helper()
	m, err := manifest.Load(filepath.Join(f.dir, f.recipe.Manifest))
	require.NoError(t, err)
	return m.Digest
}

func mustSourceDigest(t *testing.T, f *buildFixture) digest.Digest {
	t.Helper()
	tree, err := source.Scan(context.Background(), f.dir, source.ScanOptions{})
	require.NoError(t, err)
	return tree.Digest
}
