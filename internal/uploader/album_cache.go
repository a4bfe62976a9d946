package uploader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/openmined/photosync/internal/utils"
)

// AlbumCache persists the id of the album uploads go to.
//
// The cached id is trusted without revalidation: if the album is deleted
// remotely, uploads fail until the cache is cleared (photosync reset --album).
type AlbumCache struct {
	path string
}

func NewAlbumCache(path string) *AlbumCache {
	return &AlbumCache{path: path}
}

func (c *AlbumCache) Path() string {
	return c.path
}

// Load returns the cached id, or "" when there is none.
func (c *AlbumCache) Load() (string, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read album cache: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *AlbumCache) Store(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty album id", ErrNoAlbum)
	}
	return utils.WriteFileAtomic(c.path, []byte(id), 0o644)
}

// Clear drops the cached id. A missing cache is not an error.
func (c *AlbumCache) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear album cache: %w", err)
	}
	return nil
}
