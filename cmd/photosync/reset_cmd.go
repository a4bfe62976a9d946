package main

import (
	"fmt"

	"github.com/openmined/photosync/internal/client/config"
	"github.com/openmined/photosync/internal/state"
	"github.com/openmined/photosync/internal/uploader"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newResetCmd())
}

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget delivered photos so the next pass uploads everything again",
		Long: "Move the delivery state record aside so the next pass treats every photo as pending.\n" +
			"With --album, also forget the cached album id so a new album is created.\n" +
			"Fails while an agent is running on the same state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			out := cmd.OutOrStdout()

			backup, err := state.Reset(cfg.State.Path)
			if err != nil {
				return fmt.Errorf("reset state: %w", err)
			}
			if backup == "" {
				fmt.Fprintf(out, "%s no state at %s\n", gray.Render("-"), cfg.State.Path)
			} else {
				fmt.Fprintf(out, "%s state moved to %s\n", green.Render("✓"), backup)
			}

			if album, _ := cmd.Flags().GetBool("album"); album {
				cache := uploader.NewAlbumCache(albumCachePath(cfg))
				if err := cache.Clear(); err != nil {
					return fmt.Errorf("reset album: %w", err)
				}
				fmt.Fprintf(out, "%s album cache cleared %s\n", green.Render("✓"), cache.Path())
			}
			return nil
		},
	}
	cmd.Flags().StringP("state", "s", config.DefaultStatePath, "delivery state record")
	cmd.Flags().Bool("album", false, "also forget the cached album id")
	return cmd
}

func albumCachePath(cfg *config.Config) string {
	if cfg.Uploader != nil && cfg.Uploader.Photos != nil && cfg.Uploader.Photos.AlbumCache != "" {
		return cfg.Uploader.Photos.AlbumCache
	}
	return config.DefaultAlbumCache
}
