package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/photosync/internal/client"
	"github.com/openmined/photosync/internal/client/config"
	"github.com/openmined/photosync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
)

var (
	// https://github.com/fidian/ansi
	red   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cyan  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

var rootCmd = &cobra.Command{
	Use:     "photosync",
	Short:   "Deliver camera photos to the shared album whenever the device is online",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		// all good now, show header
		cmd.SilenceUsage = true
		closeLog, err := setupLogging(cfg.Log)
		if err != nil {
			return err
		}
		defer closeLog()

		showBanner(cfg)

		c, err := client.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		return c.Start(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	addAgentFlags(rootCmd)
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "photosync config file")
}

// addAgentFlags registers the flags shared by the commands that run passes.
func addAgentFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("watch-dir", "w", config.DefaultWatchDir, "directory the camera writes photos to")
	cmd.Flags().StringP("state", "s", config.DefaultStatePath, "delivery state record")
	cmd.Flags().Duration("interval", config.DefaultPollInterval, "wait between sync passes")
	cmd.Flags().Duration("upload-delay", config.DefaultUploadDelay, "pause between consecutive uploads")
	cmd.Flags().String("prefix", "", "file name prefix of camera photos")
	cmd.Flags().String("probe-addr", "", "host:port dialed to decide connectivity")
	cmd.Flags().StringP("uploader", "u", "", "remote store: photos, s3 or dir")
}

func main() {
	// credentials on the device may live in a .env next to the agent
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	// console logging until the config tells us where the log file goes
	slog.SetDefault(slog.New(newConsoleHandler(slog.LevelInfo)))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newConsoleHandler(level slog.Level) slog.Handler {
	return tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
}

// loadConfig merges the config file, PHOTOSYNC_ environment variables and the
// command's flags on top of the defaults and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	// config path
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		v.SetConfigFile(configFilePath)
	} else {
		v.AddConfigPath(filepath.Join(home, ".photosync"))
		v.AddConfigPath(filepath.Join(home, ".config/photosync"))
		v.SetConfigName(configFileName)
	}
	v.SetConfigType("json")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if !enoent && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	// Bind flags to viper
	for key, flag := range map[string]string{
		"watch_dir":     "watch-dir",
		"state.path":    "state",
		"poll_interval": "interval",
		"upload_delay":  "upload-delay",
		"prefix":        "prefix",
		"probe.addr":    "probe-addr",
		"uploader.kind": "uploader",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			v.BindPFlag(key, f)
		}
	}

	// Set up environment variables
	v.SetEnvPrefix("PHOTOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"watch_dir", "prefix", "poll_interval", "upload_delay",
		"state.backend", "state.path", "probe.addr",
		"uploader.kind", "uploader.s3.access_key", "uploader.s3.secret_key",
		"http.enabled", "http.addr", "http.token", "log.level",
	} {
		v.BindEnv(key)
	}

	cfg := config.Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		cfg.Path = used
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func showBanner(cfg *config.Config) {
	fmt.Println(cyan.Bold(true).Render(version.ShortWithApp()))
	fmt.Printf("%s %s\n", gray.Render("watching"), cfg.WatchDir)
	fmt.Printf("%s %s every %s\n", gray.Render("delivering to"), cfg.Uploader.Kind, cfg.PollInterval)
}
