package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/opencontainers/go-digest"
)

// File is one entry of the source tree: a regular file or a symlink.
type File struct {
	// Path is slash-separated and relative to the tree root.
	Path string

	// Mode holds the permission bits.
	Mode fs.FileMode

	// Size is the file size in bytes. Zero for symlinks.
	Size int64

	// Linkname is the symlink target, empty for regular files. Links are
	// copied as links, not followed.
	Linkname string
}

// IsSymlink reports whether f is a symbolic link.
func (f File) IsSymlink() bool {
	return f.Linkname != ""
}

// Tree is the filtered set of files copied into the image.
type Tree struct {
	// Root is the absolute build context directory.
	Root string

	// Files are sorted by Path.
	Files []File

	// Digest fingerprints every file's path, mode and content.
	Digest digest.Digest

	// FromGit is true when the file list came from git.
	FromGit bool
}

// ScanOptions controls which files Scan includes.
type ScanOptions struct {
	// Ignore lists patterns applied after .dockerignore.
	Ignore []string

	// GitFiles lists files with git instead of walking the directory, so
	// .gitignore also applies. It is off by default: `COPY . .` copies
	// everything .dockerignore does not exclude.
	GitFiles bool
}

// Scan enumerates the source tree under root, applying .dockerignore and
// opts.Ignore, and computes its digest.
func Scan(ctx context.Context, root string, opts ScanOptions) (*Tree, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source root %q: %w", root, err)
	}

	matcher, err := LoadMatcher(abs, opts.Ignore)
	if err != nil {
		return nil, fmt.Errorf("failed to read ignore rules: %w", err)
	}

	tree := &Tree{Root: abs}

	var candidates []string
	if opts.GitFiles {
		if !IsGitWorkTree(ctx, abs) {
			return nil, fmt.Errorf("git_files is set but %s is not inside a git work tree", abs)
		}
		candidates, err = gitListFiles(ctx, abs)
		if err != nil {
			return nil, err
		}
		tree.FromGit = true
	} else {
		candidates, err = walkFiles(abs)
		if err != nil {
			return nil, err
		}
	}

	for _, rel := range candidates {
		skip, err := matcher.Excluded(rel)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}

		p := filepath.Join(abs, filepath.FromSlash(rel))
		info, err := os.Lstat(p)
		if err != nil {
			// git can list files deleted from the work tree but still in
			// the index; they are not part of the copy.
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}

		f := File{Path: rel, Mode: info.Mode().Perm()}
		switch {
		case info.Mode().IsRegular():
			f.Size = info.Size()
		case info.Mode()&fs.ModeSymlink != 0:
			f.Linkname, err = os.Readlink(p)
			if err != nil {
				return nil, fmt.Errorf("failed to read symlink %s: %w", rel, err)
			}
		default:
			// Sockets, devices and pipes have no place in an image.
			continue
		}
		tree.Files = append(tree.Files, f)
	}

	sort.Slice(tree.Files, func(i, j int) bool { return tree.Files[i].Path < tree.Files[j].Path })

	tree.Digest, err = tree.computeDigest()
	if err != nil {
		return nil, err
	}
	return tree, nil
}

// walkFiles lists every non-directory entry under root as slash-separated
// relative paths. Symlinked directories are listed, not descended.
func walkFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk source tree %s: %w", root, err)
	}
	return files, nil
}

// computeDigest hashes "<path>\x00<mode>\x00<sha256(content)>\n" for
// every file in order. A symlink contributes "-> <target>" in place of
// the content hash.
func (t *Tree) computeDigest() (digest.Digest, error) {
	digester := digest.Canonical.Digester()
	h := digester.Hash()
	for _, f := range t.Files {
		sum := "-> " + f.Linkname
		if !f.IsSymlink() {
			var err error
			sum, err = hashFile(t.AbsPath(f))
			if err != nil {
				return "", err
			}
		}
		if _, err := fmt.Fprintf(h, "%s\x00%o\x00%s\n", f.Path, f.Mode, sum); err != nil {
			return "", err
		}
	}
	return digester.Digest(), nil
}

func hashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// AbsPath returns the on-disk path of f.
func (t *Tree) AbsPath(f File) string {
	return filepath.Join(t.Root, filepath.FromSlash(f.Path))
}

// CopyTo copies every file of the tree into dst, creating directories as
// needed and preserving permission bits. Symlinks are recreated with the
// same target.
func (t *Tree) CopyTo(dst string) error {
	for _, f := range t.Files {
		target := filepath.Join(dst, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if f.IsSymlink() {
			if err := os.Symlink(f.Linkname, target); err != nil {
				return fmt.Errorf("failed to link %s: %w", f.Path, err)
			}
			continue
		}
		if err := copyFile(t.AbsPath(f), target, f.Mode); err != nil {
			return fmt.Errorf("failed to copy %s: %w", f.Path, err)
		}
	}
	return nil
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
