package build

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/shinji-kodama/svcboot/internal/model"
)

// dockerfileTemplate lays the instructions out in build order. The
// manifest copy and the install run sit above `COPY . .` so the daemon's
// layer cache keeps installed dependencies across source-only changes.
var dockerfileTemplate = template.Must(template.New("Dockerfile").Parse(
	`# Generated by svcboot from recipe {{ printf "%q" .Name }}.
{{ .Base }}
{{ if .Env }}{{ .Env }}
{{ end }}{{ .Workdir }}

{{ .CopyManifest }}
{{ .Install }}

{{ .CopySource }}

EXPOSE {{ .Port }}
{{ .Command }}
`))

// dockerfileData feeds dockerfileTemplate.
type dockerfileData struct {
	Name         string
	Base         string
	Env          string
	Workdir      string
	CopyManifest string
	Install      string
	CopySource   string
	Port         int
	Command      string
}

// RenderDockerfile renders the Dockerfile equivalent of recipe. The
// instructions are the same strings Plan uses for its cache keys.
//
// The image runs the recipe command on start, so a recipe without one
// (in-process mode) cannot be rendered: the base image has no svcboot
// binary to fall back on. It returns a model.CLIError with ExitBuildFailed.
func RenderDockerfile(recipe *model.Recipe) ([]byte, error) {
	if err := recipe.Validate(); err != nil {
		return nil, err
	}
	if len(recipe.Command) == 0 {
		return nil, model.NewCLIError(model.ExitBuildFailed,
			fmt.Sprintf("recipe %q has no command; a Docker image needs a server command to start", recipe.Name))
	}

	data := dockerfileData{
		Name:         recipe.Name,
		Base:         Instruction(recipe, model.StepBase),
		Workdir:      Instruction(recipe, model.StepWorkdir),
		CopyManifest: Instruction(recipe, model.StepCopyManifest),
		Install:      Instruction(recipe, model.StepInstall),
		CopySource:   Instruction(recipe, model.StepCopySource),
		Port:         recipe.DefaultPort,
		Command:      Instruction(recipe, model.StepCommand),
	}
	if len(recipe.Env) > 0 {
		data.Env = Instruction(recipe, model.StepEnv)
	}

	var buf bytes.Buffer
	if err := dockerfileTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render Dockerfile: %w", err)
	}
	return buf.Bytes(), nil
}
