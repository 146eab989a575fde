package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/datajoint/workflow-deeplabcut/internal/config"
	"github.com/datajoint/workflow-deeplabcut/internal/fsutil"
)

// ErrNotFound is returned when a path cannot be located under any root.
var ErrNotFound = errors.New("path not found under root data directories")

// FindFullPath returns the first root/rel that exists on fsys. An absolute
// rel that exists is returned unchanged.
func FindFullPath(fsys fsutil.FileSystem, roots []string, rel string) (string, error) {
	if filepath.IsAbs(rel) && fsys.Exists(rel) {
		return filepath.Clean(rel), nil
	}
	for _, root := range roots {
		if root == "" {
			continue
		}
		candidate := filepath.Join(root, rel)
		if fsys.Exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s (searched %d roots)", ErrNotFound, rel, len(roots))
}

// FindRootDirectory returns the root that lexically contains full.
func FindRootDirectory(roots []string, full string) (string, error) {
	full = filepath.Clean(full)
	for _, root := range roots {
		if root == "" {
			continue
		}
		if within(filepath.Clean(root), full) {
			return root, nil
		}
	}
	return "", fmt.Errorf("%w: no root contains %s", ErrNotFound, full)
}

// RelativeToRoot returns full relative to the root containing it.
func RelativeToRoot(roots []string, full string) (string, error) {
	root, err := FindRootDirectory(roots, full)
	if err != nil {
		return "", err
	}
	return filepath.Rel(filepath.Clean(root), filepath.Clean(full))
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Resolver binds a configuration snapshot to a filesystem so the directory
// lookups can be handed around as plain functions.
type Resolver struct {
	cfg  *config.Config
	fsys fsutil.FileSystem
}

// NewResolver returns a Resolver over cfg. A nil fsys uses the host
// filesystem.
func NewResolver(cfg *config.Config, fsys fsutil.FileSystem) *Resolver {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Resolver{cfg: cfg, fsys: fsys}
}

func (r *Resolver) RootDataDirs() []string { return RootDataDirs(r.cfg) }

func (r *Resolver) ProcessedDataDir() (string, error) { return ProcessedDataDir(r.cfg) }

// FindFullPath locates rel under the configured root data directories.
func (r *Resolver) FindFullPath(rel string) (string, error) {
	return FindFullPath(r.fsys, r.RootDataDirs(), rel)
}

// EnsureProcessedDir creates the processed output directory if needed and
// returns it.
func (r *Resolver) EnsureProcessedDir() (string, error) {
	dir, err := r.ProcessedDataDir()
	if err != nil {
		return "", err
	}
	if err := r.fsys.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create processed directory %s: %w", dir, err)
	}
	return dir, nil
}
