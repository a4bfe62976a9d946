package uploader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/openmined/photosync/internal/scanner"
	"github.com/openmined/photosync/internal/utils"
)

// DirConfig configures delivery into a local directory, typically a NAS mount.
type DirConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// DirUploader copies artifacts into a destination directory.
type DirUploader struct {
	dest string
}

var _ Uploader = (*DirUploader)(nil)

func NewDirUploader(cfg *DirConfig) (*DirUploader, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("%w: dir path is required", ErrInvalidConfig)
	}
	dest, err := utils.ResolvePath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &DirUploader{dest: dest}, nil
}

func (u *DirUploader) EnsureReady(ctx context.Context) error {
	if err := utils.EnsureDir(u.dest); err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return nil
}

func (u *DirUploader) Upload(ctx context.Context, a *scanner.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := utils.CopyFileAtomic(a.Path, filepath.Join(u.dest, a.Name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, a.Path)
		}
		return fmt.Errorf("copy %s: %w", a.Name, err)
	}
	return nil
}
