package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/svcboot/internal/model"
)

// RecipeFileNames lists the recipe file names searched in the build
// context root, in priority order.
var RecipeFileNames = []string{
	"svcboot.yaml",
	"svcboot.yml",
	"svcboot.json",
	"svcboot.toml",
}

// FindRecipe returns the path of the first recipe file present in dir.
// It returns an empty path (and no error) when dir has no recipe file;
// callers then fall back to model.DefaultRecipe.
func FindRecipe(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", model.WrapCLIError(model.ExitRecipeNotFound,
			fmt.Sprintf("build context %q not accessible", dir), err)
	}
	if !info.IsDir() {
		return "", model.NewCLIError(model.ExitRecipeNotFound,
			fmt.Sprintf("build context %q is not a directory", dir))
	}

	for _, name := range RecipeFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// LoadRecipe reads the recipe at path and overlays it on the defaults.
// The decoder is chosen by file extension: .yaml/.yml, .json/.jsonc, .toml.
func LoadRecipe(path string) (*model.Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.WrapCLIError(model.ExitRecipeNotFound,
				fmt.Sprintf("recipe not found: %s", path), err)
		}
		return nil, fmt.Errorf("failed to read recipe: %w", err)
	}

	var file model.Recipe
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse recipe %s: %w", path, err)
		}
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&file); err != nil {
			return nil, fmt.Errorf("failed to parse recipe %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse recipe %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("failed to parse recipe %s: unknown keys %v", path, undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported recipe format %q (valid: .yaml, .yml, .json, .jsonc, .toml)", ext)
	}

	recipe := model.DefaultRecipe()
	mergeRecipe(&recipe, &file)
	if file.Name == "" {
		dir, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			dir = filepath.Dir(path)
		}
		recipe.Name = DeriveName(dir)
	}

	if err := recipe.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recipe %s: %w", path, err)
	}
	return &recipe, nil
}

// ResolveRecipe finds and loads the recipe for a build context. An
// explicit path wins over discovery; without either, the defaults are
// used with a name derived from the directory.
func ResolveRecipe(contextDir, explicitPath string) (*model.Recipe, string, error) {
	path := explicitPath
	if path == "" {
		found, err := FindRecipe(contextDir)
		if err != nil {
			return nil, "", err
		}
		path = found
	}

	if path == "" {
		recipe := model.DefaultRecipe()
		abs, err := filepath.Abs(contextDir)
		if err == nil {
			recipe.Name = DeriveName(abs)
		}
		return &recipe, "", nil
	}

	recipe, err := LoadRecipe(path)
	if err != nil {
		return nil, "", err
	}
	return recipe, path, nil
}

// mergeRecipe copies every non-zero field of src onto dst. Env entries
// are merged key by key so a recipe can add variables without repeating
// the defaults.
func mergeRecipe(dst, src *model.Recipe) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.BaseImage != "" {
		dst.BaseImage = src.BaseImage
	}
	if src.WorkDir != "" {
		dst.WorkDir = src.WorkDir
	}
	for k, v := range src.Env {
		if dst.Env == nil {
			dst.Env = make(map[string]string)
		}
		dst.Env[k] = v
	}
	if src.Manifest != "" {
		dst.Manifest = src.Manifest
	}
	if len(src.Install) > 0 {
		dst.Install = src.Install
	}
	if len(src.LocalInstall) > 0 {
		dst.LocalInstall = src.LocalInstall
	}
	if src.Entrypoint != "" {
		dst.Entrypoint = src.Entrypoint
	}
	if src.Command != nil {
		// An explicit empty list switches the launcher to in-process mode.
		dst.Command = src.Command
	}
	if src.DefaultPort != 0 {
		dst.DefaultPort = src.DefaultPort
	}
	if len(src.ModuleExts) > 0 {
		dst.ModuleExts = src.ModuleExts
	}
	if len(src.Ignore) > 0 {
		dst.Ignore = src.Ignore
	}
	if src.GitFiles {
		dst.GitFiles = true
	}
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// DeriveName turns a directory path into a valid image name
// ("/src/My Service" → "my-service"). It returns "app" when nothing
// usable remains.
func DeriveName(dir string) string {
	base := strings.ToLower(filepath.Base(dir))
	name := invalidNameChars.ReplaceAllString(base, "-")
	name = strings.Trim(name, "._-")
	if model.ValidateImageName(name) != nil {
		return "app"
	}
	return name
}
