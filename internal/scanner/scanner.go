// Package scanner lists the watched directory and computes the artifacts
// that still need to be delivered.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/photosync/internal/utils"
)

var (
	DefaultPrefix     = "wedding_"
	DefaultExtensions = []string{"jpg", "jpeg", "png"}
)

// Delivered is the view of the sync state the scanner needs.
type Delivered interface {
	IsDelivered(name string) bool
}

// Artifact is a captured file eligible for delivery. Its identity is Name.
type Artifact struct {
	Name      string
	Path      string
	MediaType string
	Size      int64
	ModTime   time.Time
}

func (a *Artifact) String() string {
	return a.Name
}

// EntryError records a directory entry that could not be inspected.
type EntryError struct {
	Name string
	Err  error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("scan entry %s: %v", e.Name, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// ScanResult is the outcome of one scan.
type ScanResult struct {
	// Pending is ordered by name ascending (oldest first for timestamped names).
	Pending []*Artifact
	// Delivered counts eligible artifacts already delivered.
	Delivered int
	// Ignored counts entries that are not eligible at all.
	Ignored int
	// Skipped lists eligible entries that vanished or could not be stat'ed.
	Skipped []*EntryError
	// Err is set when the directory itself could not be listed.
	Err error
}

// Config controls which files belong to this sync domain.
type Config struct {
	Dir        string
	Prefix     string
	Extensions []string
	// Exclude holds doublestar patterns matched against the file name.
	Exclude []string
}

// Scanner computes pending artifacts for a directory.
type Scanner struct {
	dir        string
	prefix     string
	extensions map[string]struct{}
	exclude    []string
}

// New validates cfg and returns a Scanner.
func New(cfg Config) (*Scanner, error) {
	if cfg.Dir == "" {
		return nil, errors.New("scanner: directory is required")
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	extSet := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			extSet["."+ext] = struct{}{}
		}
	}

	for _, pattern := range cfg.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("scanner: invalid exclude pattern %q", pattern)
		}
	}

	return &Scanner{
		dir:        cfg.Dir,
		prefix:     cfg.Prefix,
		extensions: extSet,
		exclude:    cfg.Exclude,
	}, nil
}

// Dir returns the watched directory.
func (s *Scanner) Dir() string {
	return s.dir
}

// Eligible reports whether a file name belongs to this sync domain.
func (s *Scanner) Eligible(name string) bool {
	if !strings.HasPrefix(name, s.prefix) {
		return false
	}
	if _, ok := s.extensions[strings.ToLower(filepath.Ext(name))]; !ok {
		return false
	}
	for _, pattern := range s.exclude {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return false
		}
	}
	return true
}

// Pending lists the directory and returns eligible artifacts not yet delivered.
// A missing directory yields an empty result.
func (s *Scanner) Pending(delivered Delivered) *ScanResult {
	result := &ScanResult{}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("scan: watch dir missing", "dir", s.dir)
			return result
		}
		result.Err = fmt.Errorf("list %s: %w", s.dir, err)
		return result
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !s.Eligible(name) {
			result.Ignored++
			continue
		}
		if delivered != nil && delivered.IsDelivered(name) {
			result.Delivered++
			continue
		}

		// Stat follows symlinks so a linked photo is delivered like a regular
		// one. Entries may vanish between listing and stat.
		path := filepath.Join(s.dir, name)
		info, err := os.Stat(path)
		if err != nil {
			result.Skipped = append(result.Skipped, &EntryError{Name: name, Err: err})
			continue
		}
		if !info.Mode().IsRegular() {
			result.Ignored++
			continue
		}

		result.Pending = append(result.Pending, &Artifact{
			Name:      name,
			Path:      path,
			MediaType: utils.DetectContentType(name),
			Size:      info.Size(),
			ModTime:   info.ModTime(),
		})
	}

	slices.SortFunc(result.Pending, func(a, b *Artifact) int {
		return strings.Compare(a.Name, b.Name)
	})

	for _, skipped := range result.Skipped {
		slog.Debug("scan: entry skipped", "name", skipped.Name, "error", skipped.Err)
	}

	return result
}
