package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"
	"github.com/openmined/photosync/internal/client/config"
	"github.com/openmined/photosync/internal/client/handlers"
	"github.com/openmined/photosync/internal/scanner"
	"github.com/openmined/photosync/internal/state"
	"github.com/openmined/photosync/internal/version"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const statusTimeout = 5 * time.Second

// statusReport is what `photosync status` prints.
type statusReport struct {
	// Source is "state" when read from the record, "agent" when the running
	// agent answered over the control plane.
	Source       string     `json:"source" yaml:"source"`
	WatchDir     string     `json:"watch_dir" yaml:"watch_dir"`
	StatePath    string     `json:"state_path" yaml:"state_path"`
	Delivered    int        `json:"delivered" yaml:"delivered"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty" yaml:"last_sync_time,omitempty"`
	Online       *bool      `json:"online,omitempty" yaml:"online,omitempty"`
	EngineState  string     `json:"engine_state,omitempty" yaml:"engine_state,omitempty"`
	Pending      []string   `json:"pending" yaml:"pending"`
	Skipped      []string   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show delivered and pending photos",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			switch output {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unknown output %q, want text, json or yaml", output)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			report, err := buildStatusReport(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return writeStatusReport(cmd.OutOrStdout(), report, output)
		},
	}
	addAgentFlags(cmd)
	cmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	return cmd
}

// buildStatusReport reads the state record without modifying it. While an
// agent holds the record it asks the agent instead.
func buildStatusReport(ctx context.Context, cfg *config.Config) (*statusReport, error) {
	st, err := state.Inspect(cfg.State.Backend, cfg.State.Path)
	if errors.Is(err, state.ErrStateLocked) {
		return agentStatusReport(ctx, cfg)
	} else if errors.Is(err, state.ErrStateCorrupt) {
		return nil, fmt.Errorf("%w, the agent moves it aside on its next start", err)
	} else if err != nil {
		return nil, err
	}

	scn, err := scanner.New(cfg.ScannerConfig())
	if err != nil {
		return nil, err
	}

	scan := scn.Pending(st)
	if scan.Err != nil {
		return nil, fmt.Errorf("scan %s: %w", cfg.WatchDir, scan.Err)
	}

	report := &statusReport{
		Source:    "state",
		WatchDir:  cfg.WatchDir,
		StatePath: cfg.State.Path,
		Delivered: st.Count(),
		Pending:   make([]string, 0, len(scan.Pending)),
	}
	if !st.LastSyncTime.IsZero() {
		last := st.LastSyncTime
		report.LastSyncTime = &last
	}
	for _, a := range scan.Pending {
		report.Pending = append(report.Pending, a.Name)
	}
	for _, e := range scan.Skipped {
		report.Skipped = append(report.Skipped, e.Error())
	}
	return report, nil
}

func agentStatusReport(ctx context.Context, cfg *config.Config) (*statusReport, error) {
	if !cfg.HTTP.Enabled {
		return nil, fmt.Errorf("%w and the control plane is disabled", state.ErrStateLocked)
	}

	var status handlers.StatusResponse
	var apiErr handlers.ControlPlaneError
	resp, err := req.C().
		SetTimeout(statusTimeout).
		SetUserAgent(version.UserAgent()).
		SetBaseURL(controlPlaneURL(cfg.HTTP.Addr)).
		R().
		SetContext(ctx).
		SetBearerAuthToken(cfg.HTTP.Token).
		SetSuccessResult(&status).
		SetErrorResult(&apiErr).
		Get("/v1/status")
	if err != nil {
		return nil, fmt.Errorf("query agent: %w", err)
	}
	if resp.IsErrorState() {
		return nil, fmt.Errorf("query agent: %s: %s", resp.Status, apiErr.Error)
	}
	if status.Engine == nil {
		return nil, fmt.Errorf("query agent: empty status")
	}

	return &statusReport{
		Source:       "agent",
		WatchDir:     status.WatchDir,
		StatePath:    cfg.State.Path,
		Delivered:    status.Engine.Delivered,
		LastSyncTime: status.Engine.LastSyncTime,
		Online:       status.Engine.Online,
		EngineState:  string(status.Engine.State),
		Pending:      []string{},
	}, nil
}

// controlPlaneURL turns the listen address into one a local client can dial.
func controlPlaneURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func writeStatusReport(w io.Writer, report *statusReport, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(report)
	}

	lastSync := "never"
	if report.LastSyncTime != nil {
		lastSync = humanize.Time(*report.LastSyncTime)
	}

	fmt.Fprintf(w, "%-10s %s\n", "watch dir", report.WatchDir)
	fmt.Fprintf(w, "%-10s %s\n", "state", report.StatePath)
	fmt.Fprintf(w, "%-10s %s\n", "delivered", green.Render(humanize.Comma(int64(report.Delivered))))
	fmt.Fprintf(w, "%-10s %s\n", "last sync", lastSync)
	if report.Source == "agent" {
		online := "unknown"
		if report.Online != nil {
			online = map[bool]string{true: green.Render("online"), false: red.Render("offline")}[*report.Online]
		}
		fmt.Fprintf(w, "%-10s %s (%s)\n", "agent", report.EngineState, online)
		return nil
	}

	fmt.Fprintf(w, "%-10s %d\n", "pending", len(report.Pending))
	if len(report.Pending) > 0 {
		fmt.Fprintf(w, "  %s\n", strings.Join(report.Pending, "\n  "))
	}
	for _, s := range report.Skipped {
		fmt.Fprintf(w, "%s %s\n", red.Render("skipped"), s)
	}
	return nil
}
