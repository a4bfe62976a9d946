package config

import (
	"time"

	"github.com/openmined/photosync/internal/uploader"
)

// fileConfig is the on-disk form of Config. Durations are strings ("30s")
// so the file stays hand-editable and matches what viper decodes.
type fileConfig struct {
	WatchDir     string           `json:"watch_dir"`
	Prefix       string           `json:"prefix,omitempty"`
	Extensions   []string         `json:"extensions,omitempty"`
	Exclude      []string         `json:"exclude,omitempty"`
	PollInterval string           `json:"poll_interval,omitempty"`
	UploadDelay  string           `json:"upload_delay,omitempty"`
	State        StateConfig      `json:"state"`
	Probe        fileProbeConfig  `json:"probe"`
	Uploader     *uploader.Config `json:"uploader,omitempty"`
	HTTP         HTTPConfig       `json:"http"`
	Log          LogConfig        `json:"log"`
}

type fileProbeConfig struct {
	Addr    string `json:"addr,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

func formatDuration(d time.Duration) string {
	return d.String()
}

func (c *Config) toFile() *fileConfig {
	return &fileConfig{
		WatchDir:     c.WatchDir,
		Prefix:       c.Prefix,
		Extensions:   c.Extensions,
		Exclude:      c.Exclude,
		PollInterval: formatDuration(c.PollInterval),
		UploadDelay:  formatDuration(c.UploadDelay),
		State:        c.State,
		Probe:        fileProbeConfig{Addr: c.Probe.Addr, Timeout: formatDuration(c.Probe.Timeout)},
		Uploader:     c.Uploader,
		HTTP:         c.HTTP,
		Log:          c.Log,
	}
}
