package build

import (
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/svcboot/internal/model"
)

var (
	manifestA = digest.FromString("fastapi\nuvicorn\n")
	manifestB = digest.FromString("fastapi\nuvicorn\nhttpx\n")
	sourceA   = digest.FromString("main.py v1")
	sourceB   = digest.FromString("main.py v2")
)

func keysByKind(steps []model.BuildStep) map[model.StepKind]string {
	keys := make(map[model.StepKind]string, len(steps))
	for _, s := range steps {
		keys[s.Kind] = s.CacheKey
	}
	return keys
}

// TestPlan_Order checks that the plan follows the fixed step order and
// that every key is a valid digest.
func TestPlan_Order(t *testing.T) {
	recipe := model.DefaultRecipe()
	steps := Plan(&recipe, manifestA, sourceA)

	require.Len(t, steps, len(model.StepKinds()))
	for i, step := range steps {
		assert.Equal(t, i, step.Index)
		assert.Equal(t, model.StepKinds()[i], step.Kind)
		_, err := digest.Parse(step.CacheKey)
		assert.NoError(t, err, "cache key of %s must be a digest", step.Kind)
	}

	assert.Equal(t, "FROM python:3.12-slim", steps[0].Instruction)
	assert.Equal(t, manifestA.String(), steps[3].InputDigest)
	assert.Equal(t, manifestA.String(), steps[4].InputDigest)
	assert.Equal(t, sourceA.String(), steps[5].InputDigest)
	assert.Empty(t, steps[6].InputDigest)
}

// TestPlan_SourceChangeKeepsInstallKey is the property the layer
// ordering exists for: a new source tree leaves the install key alone.
func TestPlan_SourceChangeKeepsInstallKey(t *testing.T) {
	recipe := model.DefaultRecipe()
	before := keysByKind(Plan(&recipe, manifestA, sourceA))
	after := keysByKind(Plan(&recipe, manifestA, sourceB))

	for _, kind := range []model.StepKind{model.StepBase, model.StepEnv, model.StepWorkdir, model.StepCopyManifest, model.StepInstall} {
		assert.Equal(t, before[kind], after[kind], "%s key must not depend on the source", kind)
	}
	assert.NotEqual(t, before[model.StepCopySource], after[model.StepCopySource])
	assert.NotEqual(t, before[model.StepCommand], after[model.StepCommand])
}

// TestPlan_ManifestChangeInvalidatesInstall checks that a changed manifest
// re-runs the install and everything after it.
func TestPlan_ManifestChangeInvalidatesInstall(t *testing.T) {
	recipe := model.DefaultRecipe()
	before := keysByKind(Plan(&recipe, manifestA, sourceA))
	after := keysByKind(Plan(&recipe, manifestB, sourceA))

	assert.Equal(t, before[model.StepWorkdir], after[model.StepWorkdir])
	assert.NotEqual(t, before[model.StepCopyManifest], after[model.StepCopyManifest])
	assert.NotEqual(t, before[model.StepInstall], after[model.StepInstall])
	assert.NotEqual(t, before[model.StepCopySource], after[model.StepCopySource])
}

// TestPlan_BaseChangeInvalidatesAll checks the key chaining.
func TestPlan_BaseChangeInvalidatesAll(t *testing.T) {
	recipe := model.DefaultRecipe()
	before := keysByKind(Plan(&recipe, manifestA, sourceA))
	recipe.BaseImage = "python:3.13-slim"
	after := keysByKind(Plan(&recipe, manifestA, sourceA))

	for _, kind := range model.StepKinds() {
		assert.NotEqual(t, before[kind], after[kind], kind.String())
	}
}

func TestPlan_Deterministic(t *testing.T) {
	recipe := model.DefaultRecipe()
	recipe.Env["A"] = "1"
	recipe.Env["Z"] = "2"
	assert.Equal(t, Plan(&recipe, manifestA, sourceA), Plan(&recipe, manifestA, sourceA))
}

func TestInstruction_Env(t *testing.T) {
	recipe := model.DefaultRecipe()
	assert.Equal(t, `ENV PYTHONDONTWRITEBYTECODE="1" PYTHONUNBUFFERED="1"`, Instruction(&recipe, model.StepEnv))

	recipe.Env = nil
	assert.Equal(t, "ENV", Instruction(&recipe, model.StepEnv))
}

func TestInstruction_Install(t *testing.T) {
	recipe := model.DefaultRecipe()
	assert.Equal(t, "RUN pip install --no-cache-dir -r requirements.txt", Instruction(&recipe, model.StepInstall))
}

// TestInstruction_Command checks the shell-form CMD resolves PORT at
// container start with the recipe default as fallback.
func TestInstruction_Command(t *testing.T) {
	recipe := model.DefaultRecipe()
	assert.Equal(t,
		"CMD exec uvicorn main:app --host 0.0.0.0 --port ${PORT:-8080}",
		Instruction(&recipe, model.StepCommand))

	recipe.DefaultPort = 9000
	recipe.Command = []string{"gunicorn", "-k", "uvicorn.workers.UvicornWorker", "--bind", "{host}:{port}", "{entrypoint}"}
	assert.Equal(t,
		"CMD exec gunicorn -k uvicorn.workers.UvicornWorker --bind 0.0.0.0:${PORT:-9000} main:app",
		Instruction(&recipe, model.StepCommand))
}

func TestInstruction_CommandInProcess(t *testing.T) {
	recipe := model.DefaultRecipe()
	recipe.Command = nil
	assert.Equal(t, `CMD ["svcboot", "launch", "main:app"]`, Instruction(&recipe, model.StepCommand))
}

func TestShellQuote(t *testing.T) {
	tests := map[string]string{
		"uvicorn":        "uvicorn",
		"--port":         "--port",
		"{port}":         "{port}",
		"":               "''",
		"hello world":    "'hello world'",
		"it's":           `'it'\''s'`,
		"$HOME":          "'$HOME'",
		"a;rm -rf /":     "'a;rm -rf /'",
		"key=value,x@y%": "key=value,x@y%",
	}
	for in, want := range tests {
		assert.Equal(t, want, shellQuote(in), in)
	}
}

func TestCacheKey_FieldSeparation(t *testing.T) {
	a := cacheKey("", model.StepEnv, "ab", "c")
	b := cacheKey("", model.StepEnv, "a", "bc")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "sha256:"))
}

func TestPlan_LocalInstallChangesInstallKey(t *testing.T) {
	recipe := model.DefaultRecipe()
	before := keysByKind(Plan(&recipe, manifestA, sourceA))

	recipe.LocalInstall = []string{"uv", "pip", "install", "--target", "{target}", "-r", "{manifest}"}
	after := keysByKind(Plan(&recipe, manifestA, sourceA))

	assert.Equal(t, before[model.StepCopyManifest], after[model.StepCopyManifest])
	assert.NotEqual(t, before[model.StepInstall], after[model.StepInstall])
	assert.NotEqual(t, before[model.StepCopySource], after[model.StepCopySource])
}

func TestInstallerArgv(t *testing.T) {
	recipe := model.DefaultRecipe()
	assert.Equal(t, recipe.LocalInstall, InstallerArgv(&recipe))

	recipe.LocalInstall = nil
	assert.Equal(t, recipe.Install, InstallerArgv(&recipe))
}
