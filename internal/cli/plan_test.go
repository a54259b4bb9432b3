package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/svcboot/internal/config"
	"github.com/shinji-kodama/svcboot/internal/model"
)

// newServiceDir creates a minimal build context.
func newServiceDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if files == nil {
		files = map[string]string{}
	}
	if _, ok := files["requirements.txt"]; !ok {
		files["requirements.txt"] = "fastapi>=0.110\nuvicorn[standard]\n"
	}
	if _, ok := files["main.py"]; !ok {
		files["main.py"] = "app = None\n"
	}
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func TestPlanCommand_Text(t *testing.T) {
	dir := newServiceDir(t, nil)

	stdout, _, code := executeCommand(t, "plan", dir)
	require.Equal(t, 0, code)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 8, "header plus one line per step")
	assert.Contains(t, lines[0], "INSTRUCTION")
	assert.Contains(t, lines[1], "FROM python:3.12-slim")
	assert.Contains(t, lines[5], "RUN pip install")
	assert.Contains(t, lines[6], "COPY . .")
}

func TestPlanCommand_JSON(t *testing.T) {
	dir := newServiceDir(t, nil)

	stdout, _, code := executeCommand(t, "plan", dir, "--json")
	require.Equal(t, 0, code)

	var out planJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, config.DeriveName(abs), out.Recipe)
	require.Len(t, out.Steps, 7)
	assert.Equal(t, model.StepInstall, out.Steps[4].Kind)
	assert.Equal(t, out.ManifestDigest, out.Steps[4].InputDigest)
	require.Len(t, out.Requirements, 2)
	assert.Equal(t, "fastapi", out.Requirements[0].Name)
}

// TestPlanCommand_SourceChange checks end to end that editing the source
// keeps the install key.
func TestPlanCommand_SourceChange(t *testing.T) {
	dir := newServiceDir(t, nil)

	first, _, code := executeCommand(t, "plan", dir, "--json")
	require.Equal(t, 0, code)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("app = 2\n"), 0o644))
	second, _, code := executeCommand(t, "plan", dir, "--json")
	require.Equal(t, 0, code)

	var a, b planJSON
	require.NoError(t, json.Unmarshal([]byte(first), &a))
	require.NoError(t, json.Unmarshal([]byte(second), &b))
	assert.Equal(t, a.Steps[4].CacheKey, b.Steps[4].CacheKey)
	assert.NotEqual(t, a.Steps[5].CacheKey, b.Steps[5].CacheKey)
}

func TestPlanCommand_Dockerfile(t *testing.T) {
	dir := newServiceDir(t, map[string]string{
		"svcboot.yaml": "name: orders\ndefault_port: 9000\n",
	})

	stdout, _, code := executeCommand(t, "plan", dir, "--dockerfile")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, `recipe "orders"`)
	assert.Contains(t, stdout, "EXPOSE 9000")
	assert.Contains(t, stdout, "${PORT:-9000}")
}

func TestPlanCommand_DockerfileWithoutCommand(t *testing.T) {
	dir := newServiceDir(t, map[string]string{"svcboot.yaml": "command: []\n"})

	stdout, stderr, code := executeCommand(t, "plan", dir, "--dockerfile")
	assert.Equal(t, int(model.ExitBuildFailed), code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "no command")
}

func TestPlanCommand_MissingManifest(t *testing.T) {
	dir := t.TempDir()

	_, stderr, code := executeCommand(t, "plan", dir)
	assert.Equal(t, int(model.ExitRecipeNotFound), code)
	assert.Contains(t, stderr, "dependency manifest not found")
}

func TestPlanCommand_ExplicitRecipe(t *testing.T) {
	dir := newServiceDir(t, nil)
	recipeFile := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(recipeFile, []byte("name = \"custom\"\n"), 0o644))

	stdout, _, code := executeCommand(t, "plan", dir, "--json", "--recipe", recipeFile)
	require.Equal(t, 0, code)

	var out planJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "custom", out.Recipe)
	assert.Equal(t, recipeFile, out.RecipePath)
}
