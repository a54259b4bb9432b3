package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func excluded(t *testing.T, m *Matcher, rel string) bool {
	t.Helper()
	ok, err := m.Excluded(rel)
	require.NoError(t, err)
	return ok
}

func TestMatcher_Excluded(t *testing.T) {
	m, err := NewMatcher([]string{
		"# comment",
		"",
		".git",
		"*.pyc",
		"tests/",
		"/build",
		"**/__pycache__",
		"docs/*.md",
		"!docs/README.md",
		"secret?.env",
		"[Tt]est*.py",
		`notes\[1\].txt`,
	})
	require.NoError(t, err)

	tests := []struct {
		path     string
		excluded bool
	}{
		{".git/config", true},
		{"main.py", false},
		{"main.pyc", true},
		{"pkg/mod.pyc", false}, // "*" does not cross directories
		{"tests/test_main.py", true},
		{"tests", true},
		{"build/out.bin", true},
		{"src/build/out.bin", false},
		{"__pycache__/x.cpython.pyc", true},
		{"app/__pycache__/x", true},
		{"docs/guide.md", true},
		{"docs/README.md", false},
		{"docs/api/index.md", false},
		{"secret1.env", true},
		{"secret10.env", false},
		{"test_a.py", true},
		{"Test_b.py", true},
		{"best_c.py", false},
		{"notes[1].txt", true},
		{"notes1.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.excluded, excluded(t, m, tt.path))
		})
	}
}

// TestMatcher_DoubleStarPrefix checks "**/" also matches at the root.
func TestMatcher_DoubleStarPrefix(t *testing.T) {
	m, err := NewMatcher([]string{"**/*.log"})
	require.NoError(t, err)
	assert.True(t, excluded(t, m, "app.log"))
	assert.True(t, excluded(t, m, "var/log/app.log"))
	assert.False(t, excluded(t, m, "app.txt"))
}

// TestMatcher_ReincludeUnderExcludedDir re-includes one file below an
// excluded directory.
func TestMatcher_ReincludeUnderExcludedDir(t *testing.T) {
	m, err := NewMatcher([]string{"assets", "!assets/logo.svg"})
	require.NoError(t, err)
	assert.True(t, excluded(t, m, "assets/big.bin"))
	assert.False(t, excluded(t, m, "assets/logo.svg"))
}

func TestNewMatcher_BadPattern(t *testing.T) {
	_, err := NewMatcher([]string{"[z-a"})
	assert.Error(t, err)
}

func TestLoadMatcher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DockerIgnoreFile), []byte("*.db\n.env\n"), 0o644))

	m, err := LoadMatcher(dir, []string{"venv/"})
	require.NoError(t, err)

	assert.True(t, excluded(t, m, "notes.db"))
	assert.True(t, excluded(t, m, ".env"))
	assert.True(t, excluded(t, m, "venv/bin/python"))
	assert.False(t, excluded(t, m, "main.py"))
}

// TestLoadMatcher_NoDockerIgnore keeps everything, .git included, the
// way `COPY . .` does without a .dockerignore.
func TestLoadMatcher_NoDockerIgnore(t *testing.T) {
	m, err := LoadMatcher(t.TempDir(), nil)
	require.NoError(t, err)
	assert.False(t, excluded(t, m, ".git/HEAD"))
	assert.False(t, excluded(t, m, "main.py"))
}
