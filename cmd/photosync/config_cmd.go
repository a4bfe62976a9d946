package main

import (
	"fmt"

	"github.com/openmined/photosync/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newConfigCmd())
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective config, or write it to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			out := cmd.OutOrStdout()

			if write, _ := cmd.Flags().GetBool("write"); write {
				if err := cfg.Save(cfg.Path); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
				fmt.Fprintf(out, "%s config written to %s\n", green.Render("✓"), cfg.Path)
				return nil
			}

			// secrets stay in the file, not on the terminal
			shown := *cfg
			shown.HTTP.Token = maskSet(cfg.HTTP.Token)
			if cfg.Uploader != nil && cfg.Uploader.S3 != nil {
				up, s3 := *cfg.Uploader, *cfg.Uploader.S3
				s3.SecretKey = maskSet(s3.SecretKey)
				up.S3 = &s3
				shown.Uploader = &up
			}

			data, err := shown.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n", data)
			return nil
		},
	}
	addAgentFlags(cmd)
	cmd.Flags().Bool("write", false, "save the effective config to the config file")
	return cmd
}

func maskSet(secret string) string {
	if secret == "" {
		return ""
	}
	return utils.MaskSecret(secret)
}
