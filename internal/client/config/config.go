package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/photosync/internal/probe"
	"github.com/openmined/photosync/internal/scanner"
	"github.com/openmined/photosync/internal/state"
	"github.com/openmined/photosync/internal/uploader"
	"github.com/openmined/photosync/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultDataDir     = filepath.Join(home, ".photosync")
	DefaultConfigPath  = filepath.Join(DefaultDataDir, "config.json")
	DefaultWatchDir    = filepath.Join(home, "Pictures")
	DefaultStatePath   = filepath.Join(DefaultDataDir, "sync_state.json")
	DefaultLogFilePath = filepath.Join(DefaultDataDir, "logs", "photosync.log")
	DefaultTokenFile   = filepath.Join(DefaultDataDir, uploader.DefaultTokenFile)
	DefaultAlbumCache  = filepath.Join(DefaultDataDir, uploader.DefaultAlbumCache)
	DefaultHTTPAddr    = "localhost:7939"

	DefaultPollInterval = 30 * time.Second
	DefaultUploadDelay  = 5 * time.Second
)

var ErrInvalidConfig = errors.New("invalid config")

type StateConfig struct {
	Backend string `json:"backend" mapstructure:"backend"`
	Path    string `json:"path" mapstructure:"path"`
}

type ProbeConfig struct {
	Addr    string        `json:"addr" mapstructure:"addr"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
	Token   string `json:"token,omitempty" mapstructure:"token"`
}

type LogConfig struct {
	Path       string `json:"path" mapstructure:"path"`
	Level      string `json:"level" mapstructure:"level"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
}

type Config struct {
	WatchDir     string           `json:"watch_dir" mapstructure:"watch_dir"`
	Prefix       string           `json:"prefix" mapstructure:"prefix"`
	Extensions   []string         `json:"extensions" mapstructure:"extensions"`
	Exclude      []string         `json:"exclude,omitempty" mapstructure:"exclude"`
	PollInterval time.Duration    `json:"poll_interval" mapstructure:"poll_interval"`
	UploadDelay  time.Duration    `json:"upload_delay" mapstructure:"upload_delay"`
	State        StateConfig      `json:"state" mapstructure:"state"`
	Probe        ProbeConfig      `json:"probe" mapstructure:"probe"`
	Uploader     *uploader.Config `json:"uploader" mapstructure:"uploader"`
	HTTP         HTTPConfig       `json:"http" mapstructure:"http"`
	Log          LogConfig        `json:"log" mapstructure:"log"`
	Path         string           `json:"-" mapstructure:"-"`
}

// Default returns a config with every default filled in.
func Default() *Config {
	return &Config{
		WatchDir:     DefaultWatchDir,
		Prefix:       scanner.DefaultPrefix,
		Extensions:   append([]string(nil), scanner.DefaultExtensions...),
		PollInterval: DefaultPollInterval,
		UploadDelay:  DefaultUploadDelay,
		State:        StateConfig{Backend: state.BackendJSON, Path: DefaultStatePath},
		Probe:        ProbeConfig{Addr: probe.DefaultAddr, Timeout: probe.DefaultTimeout},
		Uploader: &uploader.Config{
			Kind: uploader.KindPhotos,
			Photos: &uploader.PhotosConfig{
				TokenFile:   DefaultTokenFile,
				AlbumCache:  DefaultAlbumCache,
				AlbumTitle:  uploader.DefaultAlbumTitle,
				Description: uploader.DefaultDescription,
			},
		},
		HTTP: HTTPConfig{Enabled: true, Addr: DefaultHTTPAddr},
		Log: LogConfig{
			Path:       DefaultLogFilePath,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Path: DefaultConfigPath,
	}
}

// Validate normalizes paths, fills unset fields and rejects invalid values.
func (c *Config) Validate() error {
	var err error

	if c.WatchDir == "" {
		c.WatchDir = DefaultWatchDir
	}
	if c.WatchDir, err = utils.ResolvePath(c.WatchDir); err != nil {
		return fmt.Errorf("%w: watch dir: %w", ErrInvalidConfig, err)
	}

	if c.Prefix == "" {
		c.Prefix = scanner.DefaultPrefix
	}
	if len(c.Extensions) == 0 {
		c.Extensions = append([]string(nil), scanner.DefaultExtensions...)
	}
	if _, err := scanner.New(c.ScannerConfig()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %s", ErrInvalidConfig, c.PollInterval)
	}
	if c.UploadDelay < 0 {
		return fmt.Errorf("%w: upload delay must not be negative, got %s", ErrInvalidConfig, c.UploadDelay)
	}

	if err := c.validateState(); err != nil {
		return err
	}
	if err := c.validateProbe(); err != nil {
		return err
	}
	if err := c.validateUploader(); err != nil {
		return err
	}
	if err := c.validateHTTP(); err != nil {
		return err
	}

	if c.Log.Path != "" {
		if c.Log.Path, err = utils.ResolvePath(c.Log.Path); err != nil {
			return fmt.Errorf("%w: log path: %w", ErrInvalidConfig, err)
		}
	}

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("%w: config path: %w", ErrInvalidConfig, err)
		}
	}

	return nil
}

func (c *Config) validateState() (err error) {
	switch c.State.Backend {
	case "":
		c.State.Backend = state.BackendJSON
	case state.BackendJSON, state.BackendSQLite:
	default:
		return fmt.Errorf("%w: unknown state backend %q", ErrInvalidConfig, c.State.Backend)
	}

	if c.State.Path == "" {
		c.State.Path = DefaultStatePath
		if c.State.Backend == state.BackendSQLite {
			c.State.Path = strings.TrimSuffix(DefaultStatePath, filepath.Ext(DefaultStatePath)) + ".db"
		}
	}
	if c.State.Path, err = utils.ResolvePath(c.State.Path); err != nil {
		return fmt.Errorf("%w: state path: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validateProbe() error {
	if c.Probe.Addr == "" {
		c.Probe.Addr = probe.DefaultAddr
	}
	if _, _, err := net.SplitHostPort(c.Probe.Addr); err != nil {
		return fmt.Errorf("%w: probe addr: %w", ErrInvalidConfig, err)
	}
	if c.Probe.Timeout <= 0 {
		c.Probe.Timeout = probe.DefaultTimeout
	}
	return nil
}

func (c *Config) validateUploader() (err error) {
	if c.Uploader == nil {
		c.Uploader = Default().Uploader
	}

	switch c.Uploader.Kind {
	case "", uploader.KindPhotos:
		c.Uploader.Kind = uploader.KindPhotos
		if c.Uploader.Photos == nil {
			c.Uploader.Photos = Default().Uploader.Photos
		}
		p := c.Uploader.Photos
		if p.TokenFile == "" {
			p.TokenFile = DefaultTokenFile
		}
		if p.AlbumCache == "" {
			p.AlbumCache = DefaultAlbumCache
		}
		if p.TokenFile, err = utils.ResolvePath(p.TokenFile); err != nil {
			return fmt.Errorf("%w: token file: %w", ErrInvalidConfig, err)
		}
		if p.AlbumCache, err = utils.ResolvePath(p.AlbumCache); err != nil {
			return fmt.Errorf("%w: album cache: %w", ErrInvalidConfig, err)
		}
	case uploader.KindS3:
		if c.Uploader.S3 == nil || c.Uploader.S3.Bucket == "" {
			return fmt.Errorf("%w: s3 uploader needs a bucket", ErrInvalidConfig)
		}
	case uploader.KindDir:
		if c.Uploader.Dir == nil || c.Uploader.Dir.Path == "" {
			return fmt.Errorf("%w: dir uploader needs a path", ErrInvalidConfig)
		}
		if c.Uploader.Dir.Path, err = utils.ResolvePath(c.Uploader.Dir.Path); err != nil {
			return fmt.Errorf("%w: dir uploader path: %w", ErrInvalidConfig, err)
		}
	default:
		return fmt.Errorf("%w: unknown uploader kind %q", ErrInvalidConfig, c.Uploader.Kind)
	}
	return nil
}

func (c *Config) validateHTTP() error {
	if !c.HTTP.Enabled {
		return nil
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		return fmt.Errorf("%w: http addr: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ScannerConfig derives the scanner settings.
func (c *Config) ScannerConfig() scanner.Config {
	return scanner.Config{
		Dir:        c.WatchDir,
		Prefix:     c.Prefix,
		Extensions: c.Extensions,
		Exclude:    c.Exclude,
	}
}

// Save writes the config as JSON. Durations are written in Go duration syntax.
func (c *Config) Save(path string) error {
	if path == "" {
		path = c.Path
	}
	if path == "" {
		return fmt.Errorf("%w: no config path", ErrInvalidConfig)
	}

	data, err := c.JSON()
	if err != nil {
		return err
	}

	return utils.WriteFileAtomic(path, data, 0o600)
}

// JSON returns the config in its on-disk form.
func (c *Config) JSON() ([]byte, error) {
	return json.MarshalIndent(c.toFile(), "", "  ")
}
