package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"candybridge/internal/daemonctl"
	"candybridge/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the candy daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonctl.LaunchOptions{ConfigPath: ctx.configPath(), LogLevel: startLogLevel},
				10*time.Second,
			)
			if err != nil {
				return err
			}
			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d, gateway %s)\n", result.PID, stateLabel(result.Connection))
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Daemon already running (pid %d, gateway %s)\n", result.PID, stateLabel(result.Connection))
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override the daemon log level")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the candy daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.pidPath(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.StopAcknowledged {
				fmt.Fprintln(stdout, "Shutdown requested")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Terminated daemon process (pid %d)\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show gateway connection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				if statusJSON {
					return writeJSON(cmd, resp)
				}
				stdout := cmd.OutOrStdout()
				for _, line := range renderStatus(resp, shouldColorize(stdout)) {
					fmt.Fprintln(stdout, line)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")

	reconnectCmd := &cobra.Command{
		Use:   "reconnect",
		Short: "Drop the gateway connection and connect again",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Restart()
				if err != nil {
					return err
				}
				label, _ := connectionStatus(resp.State)
				fmt.Fprintf(cmd.OutOrStdout(), "%s (state: %s)\n", resp.Result, label)
				if !resp.Result.Succeeded {
					return errors.New(resp.Result.Error)
				}
				return nil
			})
		},
	}

	return []*cobra.Command{startCmd, stopCmd, statusCmd, reconnectCmd}
}

func renderStatus(resp *ipc.StatusResponse, colorize bool) []string {
	lines := renderSectionHeader("Gateway", colorize)
	label, kind := connectionStatus(resp.State)
	lines = append(lines, renderStatusLine("Connection", kind, label, colorize))
	lines = append(lines, renderStatusLine("Endpoint", statusInfo, resp.Endpoint, colorize))
	if !resp.ConnectedAt.IsZero() {
		lines = append(lines, renderStatusLine("Connected at", statusInfo, resp.ConnectedAt.Local().Format(time.RFC3339), colorize))
	}
	if resp.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusWarn, resp.LastError, colorize))
	}
	reconnect := "disabled"
	if resp.ReconnectSeconds > 0 {
		reconnect = fmt.Sprintf("every %s", time.Duration(resp.ReconnectSeconds*float64(time.Second)))
	}
	lines = append(lines, renderStatusLine("Reconnect", statusInfo, reconnect, colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	lines = append(lines, renderStatusLine("PID", statusInfo, fmt.Sprintf("%d", resp.PID), colorize))
	lines = append(lines, renderStatusLine("Subscribers", statusInfo, fmt.Sprintf("%d", resp.Subscribers), colorize))
	lines = append(lines, renderStatusLine("Watchers", statusInfo, fmt.Sprintf("%d", resp.Watchers), colorize))
	lines = append(lines, renderStatusLine("Journal", statusInfo, yesNo(resp.JournalEnabled), colorize))
	return lines
}
