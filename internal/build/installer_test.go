package build

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCommandInstaller runs a shell command standing in for the package
// installer and checks the placeholder expansion.
func TestCommandInstaller(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "requirements.txt")
	require.NoError(t, os.WriteFile(manifestPath, []byte("fastapi\n"), 0o644))
	target := t.TempDir()

	var stdout bytes.Buffer
	inst := CommandInstaller{Argv: []string{"sh", "-c", `cp "$1" "$2/copied.txt" && echo "$GREETING"`, "sh", "{manifest}", "{target}"}}
	err := inst.Install(context.Background(), InstallRequest{
		Manifest: manifestPath,
		Target:   target,
		Env:      map[string]string{"GREETING": "hello"},
		Stdout:   &stdout,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(target, "copied.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fastapi\n", string(data))
	assert.Equal(t, "hello\n", stdout.String())
}

func TestCommandInstaller_RunsInManifestDir(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "requirements.txt")
	require.NoError(t, os.WriteFile(manifestPath, []byte("fastapi\n"), 0o644))

	var stdout bytes.Buffer
	inst := CommandInstaller{Argv: []string{"sh", "-c", "pwd -P"}}
	require.NoError(t, inst.Install(context.Background(), InstallRequest{Manifest: manifestPath, Stdout: &stdout}))

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, want+"\n", stdout.String())
}

func TestCommandInstaller_Failure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	inst := CommandInstaller{Argv: []string{"sh", "-c", "exit 3"}}
	err := inst.Install(context.Background(), InstallRequest{Manifest: filepath.Join(t.TempDir(), "r.txt")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestCommandInstaller_Empty(t *testing.T) {
	err := CommandInstaller{}.Install(context.Background(), InstallRequest{})
	assert.Error(t, err)
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"PATH=/bin", "A=old"}, map[string]string{"B": "2", "A": "new"})
	assert.Equal(t, []string{"PATH=/bin", "A=old", "A=new", "B=2"}, got)
}
