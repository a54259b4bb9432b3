package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/svcboot/internal/model"
)

// executeCommand runs the root command with args and returns what it
// wrote plus the exit code Execute would have used.
func executeCommand(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer

	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	code := 0
	if err := root.Execute(); err != nil {
		code = handleError(&stderr, err)
	}
	t.Cleanup(func() {
		jsonOutput = false
		verbose = false
		recipePath = ""
	})
	return stdout.String(), stderr.String(), code
}

func TestHandleError(t *testing.T) {
	t.Run("CLIError carries its code", func(t *testing.T) {
		var buf bytes.Buffer
		code := handleError(&buf, model.WrapCLIError(model.ExitBuildFailed, "dependency installation failed", errors.New("exit status 1")))
		assert.Equal(t, int(model.ExitBuildFailed), code)
		assert.Equal(t, "Error: dependency installation failed: exit status 1\n", buf.String())
	})

	t.Run("wrapped CLIError is found", func(t *testing.T) {
		var buf bytes.Buffer
		err := errors.Join(errors.New("context"), model.NewCLIError(model.ExitPortUnavailable, "port 8080 is already in use"))
		assert.Equal(t, int(model.ExitPortUnavailable), handleError(&buf, err))
	})

	t.Run("exit status is silent", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Equal(t, 3, handleError(&buf, exitStatus(3)))
		assert.Empty(t, buf.String())
	})

	t.Run("generic error", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Equal(t, 1, handleError(&buf, errors.New("boom")))
		assert.Equal(t, "Error: boom\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		jsonOutput = true
		defer func() { jsonOutput = false }()

		var buf bytes.Buffer
		handleError(&buf, model.WrapCLIError(model.ExitImageNotFound, "image not found", errors.New("detail")))
		assert.JSONEq(t, `{"error":{"message":"image not found","detail":"detail"}}`, buf.String())
	})
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"plan", "build", "launch", "run", "images", "port"} {
		assert.Contains(t, names, want)
	}

	for _, flag := range []string{"json", "verbose", "recipe"} {
		require.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestShortKey(t *testing.T) {
	assert.Equal(t, "3b1f0c9a2d4e", ShortKey("sha256:3b1f0c9a2d4e5f60718293a4b5c6d7e8f"))
	assert.Equal(t, "abc", ShortKey("sha256:abc"))
	assert.Equal(t, "0123456789ab", ShortKey("0123456789abcdef"))
}
