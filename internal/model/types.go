package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultPort is the port bound when PORT is absent or empty.
	DefaultPort = 8080

	// DefaultHost binds the listener to all interfaces.
	DefaultHost = "0.0.0.0"

	// MinPort and MaxPort bound the valid TCP port range.
	MinPort = 1
	MaxPort = 65535
)

// StepKind identifies one stage of the image build. The stages always
// run in the order returned by StepKinds.
type StepKind string

const (
	// StepBase selects the base runtime image.
	StepBase StepKind = "base"

	// StepEnv sets process-wide environment defaults
	// (bytecode cache off, unbuffered output).
	StepEnv StepKind = "env"

	// StepWorkdir sets the working directory inside the image.
	StepWorkdir StepKind = "workdir"

	// StepCopyManifest copies only the dependency manifest. Keeping it
	// separate from the source copy is what lets the install layer
	// survive source-only changes.
	StepCopyManifest StepKind = "copy-manifest"

	// StepInstall runs the external package installer on the manifest.
	StepInstall StepKind = "install"

	// StepCopySource copies the full source tree.
	StepCopySource StepKind = "copy-source"

	// StepCommand records the process to run on container start.
	StepCommand StepKind = "command"
)

// StepKinds returns the build stages in execution order.
func StepKinds() []StepKind {
	return []StepKind{
		StepBase,
		StepEnv,
		StepWorkdir,
		StepCopyManifest,
		StepInstall,
		StepCopySource,
		StepCommand,
	}
}

// String returns the string representation of StepKind.
func (k StepKind) String() string {
	return string(k)
}

// ProducesLayer reports whether the step writes files into the image.
// The other steps only change image metadata.
func (k StepKind) ProducesLayer() bool {
	switch k {
	case StepCopyManifest, StepInstall, StepCopySource:
		return true
	default:
		return false
	}
}

// BuildStep is one planned stage of an image build.
//
// CacheKey chains the parent key with this step's kind, instruction and
// input digest, so a step's key changes only when something it depends
// on (directly or through an earlier step) changes.
type BuildStep struct {
	// Index is the 0-based position of the step in the plan.
	Index int `json:"index"`

	// Kind is the build stage.
	Kind StepKind `json:"kind"`

	// Instruction is the human-readable (Dockerfile-like) instruction.
	Instruction string `json:"instruction"`

	// InputDigest is the content digest of the files the step consumes.
	// Empty for metadata-only steps.
	InputDigest string `json:"inputDigest,omitempty"`

	// CacheKey identifies the step result in the layer store.
	CacheKey string `json:"cacheKey"`
}

// Recipe is the declarative build and launch descriptor for a service.
// It is the Go-side equivalent of a Dockerfile for a single-process
// service image.
type Recipe struct {
	// Name is the image name used for local image records and Docker tags.
	Name string `json:"name" yaml:"name" toml:"name"`

	// BaseImage is the runtime image the build starts from.
	BaseImage string `json:"base_image" yaml:"base_image" toml:"base_image"`

	// WorkDir is the working directory inside the image.
	WorkDir string `json:"workdir" yaml:"workdir" toml:"workdir"`

	// Env holds process-wide environment defaults baked into the image.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`

	// Manifest is the dependency manifest path, relative to the build context.
	Manifest string `json:"manifest" yaml:"manifest" toml:"manifest"`

	// Install is the installer argv executed inside the image.
	Install []string `json:"install" yaml:"install" toml:"install"`

	// LocalInstall is the installer argv executed by the local builder.
	// {target} expands to the layer directory being populated.
	LocalInstall []string `json:"local_install,omitempty" yaml:"local_install,omitempty" toml:"local_install,omitempty"`

	// Entrypoint is the application reference in "module:attr" form.
	Entrypoint string `json:"entrypoint" yaml:"entrypoint" toml:"entrypoint"`

	// Command is the server argv started on container launch. When empty
	// the launcher serves the entrypoint in-process.
	Command []string `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`

	// DefaultPort is used when PORT is absent or empty.
	DefaultPort int `json:"default_port" yaml:"default_port" toml:"default_port"`

	// ModuleExts lists file extensions tried when checking that the
	// entrypoint module exists in the source tree.
	ModuleExts []string `json:"module_exts,omitempty" yaml:"module_exts,omitempty" toml:"module_exts,omitempty"`

	// Ignore lists extra source patterns excluded from the source copy.
	Ignore []string `json:"ignore,omitempty" yaml:"ignore,omitempty" toml:"ignore,omitempty"`

	// GitFiles takes the source file list from git, so .gitignore applies
	// on top of .dockerignore. Off by default.
	GitFiles bool `json:"git_files,omitempty" yaml:"git_files,omitempty" toml:"git_files,omitempty"`
}

// DefaultRecipe returns the recipe used when no recipe file exists: a
// slim Python runtime serving main:app through an ASGI server.
func DefaultRecipe() Recipe {
	return Recipe{
		Name:      "app",
		BaseImage: "python:3.12-slim",
		WorkDir:   "/app",
		Env: map[string]string{
			"PYTHONDONTWRITEBYTECODE": "1",
			"PYTHONUNBUFFERED":        "1",
		},
		Manifest:     "requirements.txt",
		Install:      []string{"pip", "install", "--no-cache-dir", "-r", "{manifest}"},
		LocalInstall: []string{"pip", "install", "--no-cache-dir", "--target", "{target}", "-r", "{manifest}"},
		Entrypoint:   "main:app",
		Command:      []string{"uvicorn", "{entrypoint}", "--host", "{host}", "--port", "{port}"},
		DefaultPort:  DefaultPort,
		ModuleExts:   []string{".py"},
	}
}

// nameRegex matches Docker-compatible repository names (lowercase,
// digits, separators) without a tag.
var nameRegex = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*(?:/[a-z0-9]+(?:[._-][a-z0-9]+)*)*$`)

// ValidateImageName checks that name can be used as an image name.
func ValidateImageName(name string) error {
	if name == "" {
		return fmt.Errorf("image name must not be empty")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("invalid image name %q: must be lowercase alphanumerics separated by '.', '_', '-' or '/'", name)
	}
	return nil
}

// Validate checks the recipe fields required by both build and launch.
func (r *Recipe) Validate() error {
	if err := ValidateImageName(r.Name); err != nil {
		return err
	}
	if r.BaseImage == "" {
		return fmt.Errorf("recipe: base_image must not be empty")
	}
	if !strings.HasPrefix(r.WorkDir, "/") {
		return fmt.Errorf("recipe: workdir %q must be an absolute path", r.WorkDir)
	}
	if r.Manifest == "" {
		return fmt.Errorf("recipe: manifest must not be empty")
	}
	if len(r.Install) == 0 {
		return fmt.Errorf("recipe: install command must not be empty")
	}
	if err := ValidatePort(r.DefaultPort); err != nil {
		return fmt.Errorf("recipe: default_port: %w", err)
	}
	if _, err := ParseEntrypoint(r.Entrypoint); err != nil {
		return fmt.Errorf("recipe: %w", err)
	}
	return nil
}

// ValidatePort checks that port is inside 1-65535.
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("port %d out of range (%d-%d)", port, MinPort, MaxPort)
	}
	return nil
}

// Entrypoint is a parsed "module:attr" application reference.
type Entrypoint struct {
	// Module is the dotted module path (e.g., "main" or "app.server").
	Module string `json:"module"`

	// Attr is the attribute holding the application (e.g., "app").
	Attr string `json:"attr"`
}

// identRegex matches one identifier segment of a module path or attribute.
var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseEntrypoint parses a "module:attr" reference. Both parts must be
// non-empty; the module may be dotted.
func ParseEntrypoint(ref string) (Entrypoint, error) {
	module, attr, ok := strings.Cut(ref, ":")
	if !ok || module == "" || attr == "" {
		return Entrypoint{}, fmt.Errorf("invalid entrypoint %q: expected \"module:attr\"", ref)
	}
	for _, seg := range strings.Split(module, ".") {
		if !identRegex.MatchString(seg) {
			return Entrypoint{}, fmt.Errorf("invalid entrypoint %q: bad module segment %q", ref, seg)
		}
	}
	if !identRegex.MatchString(attr) {
		return Entrypoint{}, fmt.Errorf("invalid entrypoint %q: bad attribute %q", ref, attr)
	}
	return Entrypoint{Module: module, Attr: attr}, nil
}

// String returns the "module:attr" form.
func (e Entrypoint) String() string {
	return e.Module + ":" + e.Attr
}

// ModulePath returns the slash-separated relative path of the module
// without extension ("app.server" → "app/server").
func (e Entrypoint) ModulePath() string {
	return strings.ReplaceAll(e.Module, ".", "/")
}

// Requirement is one declared entry of a dependency manifest.
type Requirement struct {
	// Name is the package name, or the full line for option lines.
	Name string `json:"name"`

	// Spec is the version specifier that followed the name (e.g., ">=0.110").
	Spec string `json:"spec,omitempty"`

	// Option is true for installer option lines such as "-r base.txt".
	Option bool `json:"option,omitempty"`

	// Line is the 1-based line number in the manifest file.
	Line int `json:"line"`
}

// String renders the requirement as it appears in a manifest.
func (r Requirement) String() string {
	return r.Name + r.Spec
}

// ImageRecord describes an image produced by the local builder. It is
// written only after every build step succeeded.
type ImageRecord struct {
	// Name is the image name from the recipe.
	Name string `json:"name"`

	// ID is the digest of the final step's cache key.
	ID string `json:"id"`

	// Layers lists the cache keys of the filesystem layers, bottom first.
	Layers []string `json:"layers"`

	// BaseImage is the runtime image the build started from.
	BaseImage string `json:"baseImage"`

	// Env is the baked-in environment.
	Env map[string]string `json:"env,omitempty"`

	// WorkDir is the working directory.
	WorkDir string `json:"workdir"`

	// Command is the launch argv recorded by the command step.
	Command []string `json:"command,omitempty"`

	// Entrypoint is the application reference.
	Entrypoint string `json:"entrypoint"`

	// Labels carry build metadata (digests, recipe name).
	Labels map[string]string `json:"labels,omitempty"`

	// CreatedAt is the time the build finished.
	CreatedAt time.Time `json:"createdAt"`
}

// BuildResult summarizes one build for CLI output.
type BuildResult struct {
	Image    *ImageRecord `json:"image"`
	Executed []StepKind   `json:"executed"`
	Cached   []StepKind   `json:"cached"`
}

// ImageInfo describes a svcboot-managed image known to the Docker daemon.
// It is reconstructed from image labels; see docker.ParseLabels.
type ImageInfo struct {
	// ID is the Docker image ID.
	ID string `json:"id"`

	// Tags are the repository tags of the image.
	Tags []string `json:"tags,omitempty"`

	// Recipe is the recipe name the image was built from.
	Recipe string `json:"recipe"`

	// Entrypoint is the application reference baked into the image.
	Entrypoint string `json:"entrypoint,omitempty"`

	// DefaultPort is the port served when PORT is not set.
	DefaultPort int `json:"defaultPort,omitempty"`

	// ManifestDigest and SourceDigest identify the build inputs.
	ManifestDigest string `json:"manifestDigest,omitempty"`
	SourceDigest   string `json:"sourceDigest,omitempty"`

	// Size is the image size in bytes.
	Size int64 `json:"size"`

	// CreatedAt is the build time recorded in the labels.
	CreatedAt time.Time `json:"createdAt"`
}

// ContainerInfo describes a container started by `svcboot run`.
type ContainerInfo struct {
	// ID is the Docker container ID.
	ID string `json:"id"`

	// Name is the container name without the leading "/".
	Name string `json:"name"`

	// Image is the image reference the container runs.
	Image string `json:"image"`

	// Port is the PORT value injected into the container.
	Port int `json:"port"`

	// HostPort is the published host port.
	HostPort int `json:"hostPort"`
}

// ExitCode defines the process exit codes of svcboot commands.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitRecipeNotFound indicates the recipe or dependency manifest is missing
	// or unreadable.
	ExitRecipeNotFound ExitCode = 2

	// ExitDockerNotRunning indicates the Docker daemon is not accessible.
	ExitDockerNotRunning ExitCode = 3

	// ExitPortUnavailable indicates the resolved port is invalid or
	// already bound.
	ExitPortUnavailable ExitCode = 4

	// ExitBuildFailed indicates a build step, usually dependency
	// installation, failed.
	ExitBuildFailed ExitCode = 5

	// ExitEntrypointNotFound indicates the application entrypoint is
	// missing from the source tree or the registry.
	ExitEntrypointNotFound ExitCode = 6

	// ExitImageNotFound indicates the requested image does not exist.
	ExitImageNotFound ExitCode = 7
)

// CLIError is an error that carries the exit code the CLI should return.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error returns the message, followed by the underlying error if present.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}

// Placeholder names recognised in recipe argv templates.
const (
	PlaceholderManifest   = "manifest"
	PlaceholderTarget     = "target"
	PlaceholderEntrypoint = "entrypoint"
	PlaceholderHost       = "host"
	PlaceholderPort       = "port"
)

// ExpandPlaceholders replaces "{name}" occurrences in every argument with
// vars[name]. Unknown placeholders are left untouched so a literal brace
// in an argument survives.
func ExpandPlaceholders(argv []string, vars map[string]string) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		for name, value := range vars {
			arg = strings.ReplaceAll(arg, "{"+name+"}", value)
		}
		out[i] = arg
	}
	return out
}
