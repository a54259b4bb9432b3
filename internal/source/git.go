package source

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// gitBinary is the git executable looked up on PATH.
const gitBinary = "git"

// IsGitWorkTree reports whether dir is inside a git work tree. A missing
// git binary counts as "not a work tree".
func IsGitWorkTree(ctx context.Context, dir string) bool {
	if _, err := exec.LookPath(gitBinary); err != nil {
		return false
	}
	out, err := runGit(ctx, dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "true"
}

// gitListFiles returns the tracked and untracked-but-not-ignored files
// under dir, relative to dir, using NUL separation so unusual file names
// survive intact.
func gitListFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := runGit(ctx, dir, "ls-files", "-z", "--cached", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}

	var files []string
	seen := make(map[string]bool)
	for _, name := range strings.Split(out, "\x00") {
		// ls-files --cached lists a path once per merge stage during
		// conflicts; the set keeps each path once.
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		files = append(files, name)
	}
	return files, nil
}

// runGit executes git with -C dir so the process working directory is
// never changed. Stderr is folded into the error on failure.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", dir}, args...)

	// #nosec G204: args are constructed internally, not from user input
	cmd := exec.CommandContext(ctx, gitBinary, fullArgs...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		message := fmt.Sprintf("git %s failed", strings.Join(args, " "))
		if s := strings.TrimSpace(stderr.String()); s != "" {
			message = fmt.Sprintf("%s: %s", message, s)
		}
		return "", fmt.Errorf("%s: %w", message, err)
	}
	return stdout.String(), nil
}
