package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/shinji-kodama/svcboot/internal/model"
)

// InstallRequest describes one dependency installation.
type InstallRequest struct {
	// Manifest is the absolute path of the dependency manifest.
	Manifest string

	// Target is the directory the dependencies must be installed into.
	Target string

	// Env holds the recipe environment added to the installer process.
	Env map[string]string

	// Stdout and Stderr receive the installer output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Installer installs the dependencies declared by a manifest. svcboot
// never resolves dependencies itself; an Installer delegates to one
// external tool invocation.
type Installer interface {
	Install(ctx context.Context, req InstallRequest) error
}

// CommandInstaller runs an external installer command. {manifest} and
// {target} in Argv are replaced with the request paths.
type CommandInstaller struct {
	Argv []string
}

// Install runs the installer in the manifest's directory. The builder
// passes the copy-manifest layer, which holds the manifest alone, so
// relative "-r" and "-c" includes do not resolve there, the same as in a
// Docker build that copies only the manifest before installing. A
// non-zero exit is an error; the builder treats it as fatal.
func (c CommandInstaller) Install(ctx context.Context, req InstallRequest) error {
	if len(c.Argv) == 0 {
		return fmt.Errorf("installer command is empty")
	}

	argv := model.ExpandPlaceholders(c.Argv, map[string]string{
		model.PlaceholderManifest: req.Manifest,
		model.PlaceholderTarget:   req.Target,
	})

	log.Debug().Strs("argv", argv).Str("target", req.Target).Msg("running dependency installer")

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = filepath.Dir(req.Manifest)
	cmd.Env = mergeEnv(os.Environ(), req.Env)
	cmd.Stdout = orDiscard(req.Stdout)
	cmd.Stderr = orDiscard(req.Stderr)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("installer %q failed: %w", argv[0], err)
	}
	return nil
}

// mergeEnv appends env to base in sorted key order. exec uses the last
// value of a duplicated key, so env overrides base.
func mergeEnv(base []string, env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := append([]string{}, base...)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
