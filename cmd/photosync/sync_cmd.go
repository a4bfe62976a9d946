package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/openmined/photosync/internal/client"
	"github.com/openmined/photosync/internal/client/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run sync passes in the foreground",
		Long:  "Run sync passes in the foreground. With --once, probe and run a single pass, then exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			once, _ := cmd.Flags().GetBool("once")
			if once {
				// a single pass has no one to serve
				cfg.HTTP.Enabled = false
			}

			closeLog, err := setupLogging(cfg.Log)
			if err != nil {
				return err
			}
			defer closeLog()

			c, err := client.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			if !once {
				return c.Start(cmd.Context())
			}

			res := c.RunOnce(cmd.Context())
			printPassResult(cmd.OutOrStdout(), res)
			if res.Err != nil {
				slog.Error("sync pass", "error", res.Err)
				return res.Err
			}
			return nil
		},
	}
	addAgentFlags(cmd)
	cmd.Flags().Bool("once", false, "run a single pass and exit")
	return cmd
}

func printPassResult(w io.Writer, res *sync.PassResult) {
	if !res.Online {
		fmt.Fprintf(w, "%s offline, nothing attempted\n", red.Render("✗"))
		return
	}

	fmt.Fprintf(w, "%s pass %s took %s\n", cyan.Render("●"), res.ID, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  pending   %d\n", res.Pending)
	fmt.Fprintf(w, "  uploaded  %s\n", green.Render(strconv.Itoa(len(res.Uploaded))))
	for _, name := range res.Uploaded {
		fmt.Fprintf(w, "    %s %s\n", green.Render("✓"), name)
	}
	if len(res.Failed) > 0 {
		fmt.Fprintf(w, "  failed    %s\n", red.Render(strconv.Itoa(len(res.Failed))))
		for _, name := range res.Failed {
			fmt.Fprintf(w, "    %s %s\n", red.Render("✗"), name)
		}
	}
	if remaining := res.Remaining(); remaining > 0 {
		fmt.Fprintf(w, "  remaining %d\n", remaining)
	}
}
