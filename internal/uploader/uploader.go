// Package uploader delivers artifacts to a remote store. The sync engine only
// sees the Uploader interface and treats every returned error the same way.
package uploader

import (
	"context"
	"fmt"

	"github.com/openmined/photosync/internal/scanner"
)

const (
	KindPhotos = "photos"
	KindS3     = "s3"
	KindDir    = "dir"
)

// Uploader delivers one artifact at a time. EnsureReady prepares whatever the
// backend needs (credentials, album, bucket) and is called once per pass.
type Uploader interface {
	EnsureReady(ctx context.Context) error
	Upload(ctx context.Context, a *scanner.Artifact) error
}

// Config selects and configures an uploader.
type Config struct {
	Kind   string        `json:"kind" mapstructure:"kind"`
	Photos *PhotosConfig `json:"photos,omitempty" mapstructure:"photos"`
	S3     *S3Config     `json:"s3,omitempty" mapstructure:"s3"`
	Dir    *DirConfig    `json:"dir,omitempty" mapstructure:"dir"`
}

// New builds the uploader named by cfg.Kind.
func New(ctx context.Context, cfg *Config) (Uploader, error) {
	if cfg == nil {
		return nil, ErrUnknownKind
	}

	switch cfg.Kind {
	case KindPhotos, "":
		if cfg.Photos == nil {
			return nil, fmt.Errorf("%w: photos config missing", ErrInvalidConfig)
		}
		return NewPhotosUploader(cfg.Photos)
	case KindS3:
		if cfg.S3 == nil {
			return nil, fmt.Errorf("%w: s3 config missing", ErrInvalidConfig)
		}
		return NewS3Uploader(ctx, cfg.S3)
	case KindDir:
		if cfg.Dir == nil {
			return nil, fmt.Errorf("%w: dir config missing", ErrInvalidConfig)
		}
		return NewDirUploader(cfg.Dir)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
