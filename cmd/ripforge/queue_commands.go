package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ripforge/internal/api"
	"ripforge/internal/daemonctl"
	"ripforge/internal/history"
	"ripforge/internal/ipc"
	"ripforge/internal/jobs"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the job queue and history",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueHistoryCommand(ctx))
	queueCmd.AddCommand(newQueueClearHistoryCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued jobs in execution order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueList()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				printJobTable(cmd.OutOrStdout(), resp.Items, "Queue is empty")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		asJSON     bool
		kind       string
		errorsOnly bool
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("invalid --limit %d", limit)
			}
			req := ipc.HistoryRequest{Kind: strings.TrimSpace(kind), ErrorsOnly: errorsOnly, Limit: limit}
			items, err := fetchHistory(ctx, req)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.HistoryResponse{Items: items})
			}
			printHistoryTable(cmd.OutOrStdout(), items)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&kind, "kind", "", "Only show jobs of this kind (scan_and_backup, backup_title, encode)")
	cmd.Flags().BoolVar(&errorsOnly, "errors", false, "Only show failed jobs")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries (0 for all)")
	return cmd
}

// fetchHistory asks the daemon and falls back to reading the archive
// directly when the daemon is offline.
func fetchHistory(ctx *commandContext, req ipc.HistoryRequest) ([]api.HistoryEntry, error) {
	socket := ctx.socketPath()
	client, err := ipc.Dial(socket)
	if err == nil {
		defer client.Close()
		resp, err := client.History(req)
		if err != nil {
			return nil, err
		}
		return resp.Items, nil
	}
	if !daemonctl.IsDaemonUnavailable(err) {
		return nil, wrapDialError(err, socket)
	}

	cfg := ctx.configValue()
	if cfg == nil || !cfg.History.Enabled {
		return nil, wrapDialError(err, socket)
	}
	if _, statErr := os.Stat(cfg.HistoryPath()); errors.Is(statErr, os.ErrNotExist) {
		return nil, nil
	}
	store, openErr := history.Open(cfg.HistoryPath())
	if openErr != nil {
		return nil, fmt.Errorf("open history archive: %w", openErr)
	}
	defer store.Close()
	entries, listErr := store.List(context.Background(), history.Filter{
		Kind:       jobs.Kind(req.Kind),
		ErrorsOnly: req.ErrorsOnly,
		Limit:      req.Limit,
	})
	if listErr != nil {
		return nil, listErr
	}
	return api.FromHistory(entries), nil
}

func newQueueClearHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-history",
		Short: "Forget finished jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ClearHistory()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "History cleared (%d in-memory entries removed)\n", resp.Removed)
				return nil
			})
		},
	}
}

func printJobTable(out io.Writer, items []api.JobItem, empty string) {
	if len(items) == 0 {
		fmt.Fprintln(out, empty)
		return
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		progress := "-"
		if item.Max > 0 {
			progress = fmt.Sprintf("%.1f%%", item.Percent)
		}
		rows = append(rows, []string{
			shortID(item.ID),
			formatLabel(item.Kind),
			item.Name,
			formatLabel(item.Status),
			progress,
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"ID", "Kind", "Job", "Status", "Progress"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
}

func printHistoryTable(out io.Writer, items []api.HistoryEntry) {
	if len(items) == 0 {
		fmt.Fprintln(out, "No finished jobs")
		return
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		duration := item.Duration
		if duration == "" {
			duration = "-"
		}
		result := formatLabel(item.Status)
		if item.Error != "" {
			result += ": " + item.Error
		}
		rows = append(rows, []string{
			item.FinishedAt,
			formatLabel(item.Kind),
			item.Name,
			duration,
			result,
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Finished", "Kind", "Job", "Duration", "Result"},
		rows,
		nil,
	))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
