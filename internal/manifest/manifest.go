// Package manifest reads the dependency manifest consumed by the install
// step of an image build.
//
// The manifest is a requirements-style file: one requirement per line,
// "#" starts a comment, blank lines are ignored and lines starting with
// "-" are installer options kept verbatim (e.g. "-r base.txt",
// "--extra-index-url ..."). svcboot never resolves requirements itself;
// it only needs the ordered list for reporting and the content digest
// for layer caching.
package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/shinji-kodama/svcboot/internal/model"
)

// Manifest is a parsed dependency manifest.
type Manifest struct {
	// Path is the file the manifest was read from.
	Path string

	// Requirements are the declared entries in file order.
	Requirements []model.Requirement

	// Digest is the SHA-256 digest of the raw file content. Two
	// manifests with the same digest produce the same install layer.
	Digest digest.Digest

	raw []byte
}

// Load reads and parses the manifest at path. A missing file is an
// ExitRecipeNotFound error: the build cannot start without it.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.WrapCLIError(model.ExitRecipeNotFound,
				fmt.Sprintf("dependency manifest not found: %s", path), err)
		}
		return nil, fmt.Errorf("failed to read dependency manifest: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dependency manifest %s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// Parse parses manifest content.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{
		Digest: digest.FromBytes(data),
		raw:    data,
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	var continued strings.Builder
	startLine := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		// Trailing backslash joins the next physical line.
		if strings.HasSuffix(line, "\\") {
			if continued.Len() == 0 {
				startLine = lineNo
			}
			continued.WriteString(strings.TrimSuffix(line, "\\"))
			continued.WriteString(" ")
			continue
		}
		if continued.Len() > 0 {
			continued.WriteString(line)
			line = continued.String()
			continued.Reset()
		} else {
			startLine = lineNo
		}

		req, ok, err := parseLine(line, startLine)
		if err != nil {
			return nil, err
		}
		if ok {
			m.Requirements = append(m.Requirements, req)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if continued.Len() > 0 {
		return nil, fmt.Errorf("line %d: unterminated line continuation", startLine)
	}
	return m, nil
}

// parseLine converts one logical line into a requirement. The boolean is
// false for blank and comment-only lines.
func parseLine(line string, lineNo int) (model.Requirement, bool, error) {
	if idx := strings.Index(line, "#"); idx >= 0 {
		// "#" only starts a comment at line start or after whitespace,
		// so URL fragments like "pkg @ https://x/y.whl#sha256=..." survive.
		if idx == 0 || line[idx-1] == ' ' || line[idx-1] == '\t' {
			line = line[:idx]
		}
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return model.Requirement{}, false, nil
	}

	if strings.HasPrefix(line, "-") {
		return model.Requirement{Name: line, Option: true, Line: lineNo}, true, nil
	}

	end := strings.IndexAny(line, "<>=!~;[ @")
	if end == 0 {
		return model.Requirement{}, false, fmt.Errorf("line %d: requirement %q has no package name", lineNo, line)
	}
	if end < 0 {
		return model.Requirement{Name: line, Line: lineNo}, true, nil
	}
	return model.Requirement{
		Name: line[:end],
		Spec: strings.TrimSpace(line[end:]),
		Line: lineNo,
	}, true, nil
}

// Bytes returns the raw manifest content.
func (m *Manifest) Bytes() []byte {
	return m.raw
}
