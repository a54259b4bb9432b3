package build

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/shinji-kodama/svcboot/internal/model"
)

// Store directory layout, relative to the store root:
//
//	layers/<algorithm>/<hex>/   committed layer contents
//	images/<name>.json          image records
//	tmp/<uuid>/                 staging directories of running builds
const (
	layersDir = "layers"
	imagesDir = "images"
	tmpDir    = "tmp"
)

// Store is a local directory of content-addressed layers and image
// records. A layer directory only ever appears under layers/ through an
// atomic rename of a fully written staging directory, so a layer that
// exists is always complete.
type Store struct {
	root string
}

// OpenStore opens the store at root, creating its directories if needed.
func OpenStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path %q: %w", root, err)
	}
	for _, dir := range []string{layersDir, imagesDir, tmpDir} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return &Store{root: abs}, nil
}

// DefaultStoreDir returns $XDG_CACHE_HOME/svcboot, falling back to the
// platform cache directory.
func DefaultStoreDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine cache directory: %w", err)
	}
	return filepath.Join(base, "svcboot"), nil
}

// Root returns the absolute store directory.
func (s *Store) Root() string {
	return s.root
}

// LayerPath returns the directory of the layer with the given cache key.
// The directory may not exist.
func (s *Store) LayerPath(key string) (string, error) {
	d, err := digest.Parse(key)
	if err != nil {
		return "", fmt.Errorf("invalid layer key %q: %w", key, err)
	}
	return filepath.Join(s.root, layersDir, d.Algorithm().String(), d.Encoded()), nil
}

// HasLayer reports whether a committed layer exists for key.
func (s *Store) HasLayer(key string) bool {
	p, err := s.LayerPath(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// Stage creates an empty staging directory for a layer being built.
func (s *Store) Stage() (string, error) {
	dir := filepath.Join(s.root, tmpDir, uuid.NewString())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return dir, nil
}

// Commit moves a staging directory into place as the layer for key.
// If another build committed the same key first, the staging copy is
// discarded and the existing layer wins; both have identical content.
func (s *Store) Commit(staging, key string) error {
	dst, err := s.LayerPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create layer directory: %w", err)
	}
	if err := os.Rename(staging, dst); err != nil {
		if s.HasLayer(key) {
			return s.Discard(staging)
		}
		return fmt.Errorf("failed to commit layer %s: %w", key, err)
	}
	return nil
}

// Discard removes a staging directory.
func (s *Store) Discard(staging string) error {
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	return nil
}

// RemoveLayer deletes the layer for key. A missing layer is not an error.
func (s *Store) RemoveLayer(key string) error {
	p, err := s.LayerPath(key)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("failed to remove layer %s: %w", key, err)
	}
	return nil
}

// StagingDirs lists the staging directories currently present. After a
// build returns, successful or not, it should have left none behind.
func (s *Store) StagingDirs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, tmpDir))
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		dirs = append(dirs, filepath.Join(s.root, tmpDir, e.Name()))
	}
	return dirs, nil
}

// imagePath maps an image name to its record file. Names may contain
// "/", which is escaped so every record lives directly in images/.
func (s *Store) imagePath(name string) string {
	return filepath.Join(s.root, imagesDir, url.PathEscape(name)+".json")
}

// WriteImage stores rec, replacing any previous record with the same
// name. The file is written to a temporary name and renamed so readers
// never observe a partial record.
func (s *Store) WriteImage(rec *model.ImageRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode image record: %w", err)
	}

	dst := s.imagePath(rec.Name)
	tmp := filepath.Join(s.root, tmpDir, uuid.NewString()+".json")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write image record: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write image record: %w", err)
	}
	return nil
}

// LoadImage reads the record for name. Returns a model.CLIError with
// ExitImageNotFound if no such image was built.
func (s *Store) LoadImage(name string) (*model.ImageRecord, error) {
	data, err := os.ReadFile(s.imagePath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.NewCLIError(model.ExitImageNotFound,
				fmt.Sprintf("image %q not found in %s", name, s.root))
		}
		return nil, fmt.Errorf("failed to read image record: %w", err)
	}

	var rec model.ImageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode image record %q: %w", name, err)
	}
	return &rec, nil
}

// ListImages returns all image records sorted by name.
func (s *Store) ListImages() ([]model.ImageRecord, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, imagesDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	records := make([]model.ImageRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		rec, err := s.LoadImage(name)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}
