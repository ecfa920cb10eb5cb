package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"ripforge/internal/daemonctl"
	"ripforge/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var logLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the ripforge daemon, launching it if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonctl.ResolveDaemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonctl.LaunchOptions{ConfigPath: ctx.configFlagValue(), LogLevel: logLevel},
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
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			default:
				fmt.Fprintln(stdout, result.Message)
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&logLevel, "log-level", "", "Daemon log level when launching (debug, info, warn, error)")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the ripforge daemon and terminate the process",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 10*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	pauseCmd := &cobra.Command{
		Use:   "pause",
		Short: "Stop processing jobs but keep the daemon process running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Stop(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Processing paused; queued jobs were discarded")
				return nil
			})
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume processing in a paused daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Start()
				if err != nil {
					return err
				}
				if resp.Started {
					fmt.Fprintln(cmd.OutOrStdout(), "Processing resumed")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			})
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, scheduler and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, online, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), ctx.configValue())
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, status)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			switch {
			case !online:
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusWarn, "not running", colorize))
			case status.Running:
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusOK, "running (pid "+strconv.Itoa(status.PID)+")", colorize))
			default:
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusWarn, "paused (pid "+strconv.Itoa(status.PID)+")", colorize))
			}
			fmt.Fprintln(stdout, renderStatusLine("Disc monitor", statusInfo, status.DiscMonitor, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))
			if status.HistoryPath != "" {
				fmt.Fprintln(stdout, renderStatusLine("History", statusInfo, status.HistoryPath, colorize))
			}
			fmt.Fprintln(stdout)

			if online {
				for _, line := range renderSectionHeader("Scheduler", colorize) {
					fmt.Fprintln(stdout, line)
				}
				sched := status.Scheduler
				fmt.Fprintln(stdout, renderStatusLine("Scheduler running", statusInfo, yesNo(sched.Running), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Current", statusInfo, progressLine(status.Progress), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Pending", statusInfo, strconv.Itoa(sched.Pending), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Processed", statusInfo, strconv.Itoa(sched.Processed), colorize))
				failedKind := statusOK
				if sched.Failed > 0 {
					failedKind = statusError
				}
				fmt.Fprintln(stdout, renderStatusLine("Failed", failedKind, strconv.Itoa(sched.Failed), colorize))
				if sched.LastError != "" {
					fmt.Fprintln(stdout, renderStatusLine("Last error", statusError, sched.LastError, colorize))
				}
				fmt.Fprintln(stdout)
			}

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range dependencyLines(status.Dependencies, colorize) {
				fmt.Fprintln(stdout, line)
			}
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")

	return []*cobra.Command{startCmd, stopCmd, pauseCmd, resumeCmd, statusCmd}
}
