package build

import (
	"sort"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/shinji-kodama/svcboot/internal/model"
)

// Plan returns the ordered build steps for recipe. manifestDigest is the
// input of the copy-manifest and install steps; sourceDigest is the
// input of copy-source.
//
// Only copy-source and the steps after it depend on sourceDigest, so a
// source-only change never invalidates the install layer. The install key
// also covers InstallerArgv, so changing the local installer reinstalls.
func Plan(recipe *model.Recipe, manifestDigest, sourceDigest digest.Digest) []model.BuildStep {
	steps := make([]model.BuildStep, 0, len(model.StepKinds()))

	parent := ""
	for i, kind := range model.StepKinds() {
		instruction := Instruction(recipe, kind)

		var input string
		switch kind {
		case model.StepCopyManifest, model.StepInstall:
			input = manifestDigest.String()
		case model.StepCopySource:
			input = sourceDigest.String()
		}

		fields := []string{instruction, input}
		if kind == model.StepInstall {
			// The local builder runs the installer argv, not the RUN line,
			// so the install layer is keyed by both.
			fields = append(fields, quoteArgv(InstallerArgv(recipe)))
		}

		key := cacheKey(parent, kind, fields...)
		steps = append(steps, model.BuildStep{
			Index:       i,
			Kind:        kind,
			Instruction: instruction,
			InputDigest: input,
			CacheKey:    key,
		})
		parent = key
	}

	return steps
}

// cacheKey chains a step to its parent. The fields are newline separated
// and none of them can contain a newline, so distinct tuples never hash
// the same input.
func cacheKey(parent string, kind model.StepKind, fields ...string) string {
	parts := append([]string{parent, kind.String()}, fields...)
	return digest.FromString(strings.Join(parts, "\n")).String()
}

// InstallerArgv returns the installer command the local builder runs:
// the recipe's local_install, or install when that is empty.
func InstallerArgv(recipe *model.Recipe) []string {
	if len(recipe.LocalInstall) > 0 {
		return recipe.LocalInstall
	}
	return recipe.Install
}

// quoteArgv renders argv as Go-quoted words, which never contain a raw
// newline.
func quoteArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = strconv.Quote(arg)
	}
	return strings.Join(quoted, " ")
}

// Instruction renders the Dockerfile instruction for one step.
func Instruction(recipe *model.Recipe, kind model.StepKind) string {
	switch kind {
	case model.StepBase:
		return "FROM " + recipe.BaseImage
	case model.StepEnv:
		return envInstruction(recipe.Env)
	case model.StepWorkdir:
		return "WORKDIR " + recipe.WorkDir
	case model.StepCopyManifest:
		return "COPY " + recipe.Manifest + " " + recipe.Manifest
	case model.StepInstall:
		argv := model.ExpandPlaceholders(recipe.Install, map[string]string{
			model.PlaceholderManifest: recipe.Manifest,
		})
		return "RUN " + shellJoin(argv)
	case model.StepCopySource:
		return "COPY . ."
	case model.StepCommand:
		return commandInstruction(recipe)
	default:
		return ""
	}
}

// envInstruction renders a single ENV line with keys sorted so the
// instruction, and therefore the cache key, does not depend on map order.
func envInstruction(env map[string]string) string {
	if len(env) == 0 {
		return "ENV"
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.Quote(env[k]))
	}
	return "ENV " + strings.Join(parts, " ")
}

// commandInstruction renders the container start command.
//
// A recipe command becomes a shell-form CMD so ${PORT:-<default>} is
// resolved when the container starts: the default applies when PORT is
// unset or empty. `exec` replaces the shell, leaving the server as the
// single foreground process that receives signals.
//
// Without a command the step records `svcboot launch`, which resolves
// PORT itself and serves the entrypoint in-process. Such a plan is only
// built locally; RenderDockerfile rejects it.
func commandInstruction(recipe *model.Recipe) string {
	if len(recipe.Command) == 0 {
		return `CMD ["svcboot", "launch", ` + strconv.Quote(recipe.Entrypoint) + `]`
	}

	portExpr := "${PORT:-" + strconv.Itoa(recipe.DefaultPort) + "}"
	quoted := make([]string, len(recipe.Command))
	for i, arg := range recipe.Command {
		quoted[i] = shellQuote(arg)
	}
	// Placeholders are expanded after quoting so the port expression
	// stays outside single quotes and is still expanded by the shell.
	line := strings.Join(quoted, " ")
	line = strings.ReplaceAll(line, "{"+model.PlaceholderPort+"}", portExpr)
	line = strings.ReplaceAll(line, "{"+model.PlaceholderHost+"}", model.DefaultHost)
	line = strings.ReplaceAll(line, "{"+model.PlaceholderEntrypoint+"}", recipe.Entrypoint)
	return "CMD exec " + line
}

// shellJoin quotes every argument that needs it and joins with spaces.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

// shellQuote returns arg unchanged when it only holds characters that
// are safe in a POSIX shell word, and single-quoted otherwise. Placeholder
// braces are treated as safe so they can be substituted afterwards.
func shellQuote(arg string) string {
	if arg == "" {
		return "''"
	}
	safe := true
	for _, r := range arg {
		if !isShellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

func isShellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./:=,+@%{}", r)
}
