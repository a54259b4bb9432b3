package source

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

// DockerIgnoreFile is read from the context root when present.
const DockerIgnoreFile = ".dockerignore"

// Matcher decides whether a path is excluded from the source copy. It
// applies the rules `docker build` applies to .dockerignore: later
// patterns override earlier ones, "!" re-includes, and a pattern matching
// a directory excludes everything below it unless re-included.
type Matcher struct {
	pm *patternmatcher.PatternMatcher
}

// NewMatcher compiles patterns written in .dockerignore syntax. Blank
// lines and "#" comments are skipped, and a leading "/" is dropped.
func NewMatcher(patterns []string) (*Matcher, error) {
	cleaned, err := ignorefile.ReadAll(strings.NewReader(strings.Join(patterns, "\n")))
	if err != nil {
		return nil, fmt.Errorf("failed to read ignore patterns: %w", err)
	}
	return compileMatcher(cleaned)
}

// LoadMatcher builds a Matcher from the context's .dockerignore (if any)
// followed by extra patterns.
func LoadMatcher(root string, extra []string) (*Matcher, error) {
	var patterns []string

	f, err := os.Open(filepath.Join(root, DockerIgnoreFile))
	switch {
	case err == nil:
		patterns, err = ignorefile.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", DockerIgnoreFile, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	more, err := ignorefile.ReadAll(strings.NewReader(strings.Join(extra, "\n")))
	if err != nil {
		return nil, fmt.Errorf("failed to read ignore patterns: %w", err)
	}
	return compileMatcher(append(patterns, more...))
}

func compileMatcher(patterns []string) (*Matcher, error) {
	pm, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("invalid ignore pattern: %w", err)
	}
	return &Matcher{pm: pm}, nil
}

// Excluded reports whether rel (slash-separated, relative to the context
// root) is excluded. Each parent directory is matched first and its
// result carried down, as the Docker CLI does while walking a context.
func (m *Matcher) Excluded(rel string) (bool, error) {
	rel = strings.Trim(path.Clean("/"+filepath.ToSlash(rel)), "/")
	if rel == "" {
		return false, nil
	}

	var (
		info     patternmatcher.MatchInfo
		excluded bool
		err      error
	)
	parts := strings.Split(rel, "/")
	for i := range parts {
		candidate := filepath.FromSlash(strings.Join(parts[:i+1], "/"))
		excluded, info, err = m.pm.MatchesUsingParentResults(candidate, info)
		if err != nil {
			return false, fmt.Errorf("failed to match %s: %w", rel, err)
		}
	}
	return excluded, nil
}
