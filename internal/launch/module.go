package launch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shinji-kodama/svcboot/internal/model"
)

// packageInit is the file that makes a directory importable as a module
// in the default Python runtime.
const packageInit = "__init__"

// ResolveModule finds the file that defines the entrypoint's module under
// workDir. For every extension it tries "<module path><ext>" and then
// "<module path>/__init__<ext>". It returns the first match.
//
// A missing module is reported immediately as a model.CLIError with
// ExitEntrypointNotFound, before any port is bound.
func ResolveModule(workDir string, ep model.Entrypoint, exts []string) (string, error) {
	base := filepath.Join(workDir, filepath.FromSlash(ep.ModulePath()))

	var tried []string
	for _, ext := range exts {
		for _, candidate := range []string{
			base + ext,
			filepath.Join(base, packageInit+ext),
		} {
			info, err := os.Stat(candidate)
			if err == nil && info.Mode().IsRegular() {
				return candidate, nil
			}
			tried = append(tried, candidate)
		}
	}

	return "", model.NewCLIError(model.ExitEntrypointNotFound,
		fmt.Sprintf("entrypoint %q not found: no module file among %v", ep.String(), tried))
}
