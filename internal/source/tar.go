package source

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// epoch is the fixed modification time written into context archives so
// identical trees always produce identical bytes.
var epoch = time.Unix(0, 0).UTC()

// WriteTar writes the tree as a tar stream suitable as a Docker build
// context. extra adds generated files (such as the rendered Dockerfile)
// at the archive root; they replace tree files with the same path.
func (t *Tree) WriteTar(w io.Writer, extra map[string][]byte) error {
	tw := tar.NewWriter(w)

	for _, f := range t.Files {
		if _, replaced := extra[f.Path]; replaced {
			continue
		}
		if err := t.writeFileEntry(tw, f); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data := extra[name]
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: epoch,
			Format:  tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(data); err != nil {
			return err
		}
	}

	return tw.Close()
}

func (t *Tree) writeFileEntry(tw *tar.Writer, f File) error {
	if f.IsSymlink() {
		return tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeSymlink,
			Name:     f.Path,
			Linkname: f.Linkname,
			Mode:     int64(f.Mode),
			ModTime:  epoch,
			Format:   tar.FormatPAX,
		})
	}

	in, err := os.Open(t.AbsPath(f))
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	hdr := &tar.Header{
		Name:    f.Path,
		Mode:    int64(f.Mode),
		Size:    f.Size,
		ModTime: epoch,
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := io.Copy(tw, in); err != nil {
		return fmt.Errorf("failed to archive %s: %w", f.Path, err)
	}
	return nil
}
