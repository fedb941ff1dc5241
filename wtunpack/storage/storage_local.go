package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	wterrors "github.com/flaneur2020/wtunpack/wtunpack/errors"
	"github.com/flaneur2020/wtunpack/wtunpack/logger"
)

// DirStorage serves container files found under a directory tree.
type DirStorage struct {
	root   string
	suffix string
}

// NewDirStorage lists files ending in ContainerSuffix below root.
func NewDirStorage(root string) *DirStorage {
	return &DirStorage{root: root, suffix: ContainerSuffix}
}

// WithSuffix returns a copy that lists files ending in suffix instead.
func (d *DirStorage) WithSuffix(suffix string) *DirStorage {
	return &DirStorage{root: d.root, suffix: suffix}
}

// ListContainers walks the tree and returns matches sorted by name.
func (d *DirStorage) ListContainers(ctx context.Context) ([]ContainerDescriptor, error) {
	var descs []ContainerDescriptor
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), d.suffix) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		descs = append(descs, ContainerDescriptor{Name: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, wterrors.ErrIO.WithMessage("failed to list containers").WithDetail("root", d.root).WithCause(err)
	}

	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	logger.Debug("Found %d containers under %s", len(descs), d.root)
	return descs, nil
}

// OpenContainer opens name relative to the root.
func (d *DirStorage) OpenContainer(ctx context.Context, name string) (io.ReadCloser, error) {
	if !fs.ValidPath(name) {
		return nil, wterrors.ErrIO.WithMessage("invalid container name").WithDetail("name", name)
	}
	f, err := os.Open(filepath.Join(d.root, filepath.FromSlash(name)))
	if err != nil {
		return nil, wterrors.ErrIO.WithMessage("failed to open container").WithDetail("name", name).WithCause(err)
	}
	return f, nil
}
