package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ripforge/internal/config"
	"ripforge/internal/ipc"
)

func newEncodeCommand(ctx *commandContext) *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "encode <file>",
		Short: "Queue a movie file for encoding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Encode(path, keep)
				if err != nil {
					return err
				}
				printEnqueueResult(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the source file after encoding when it lies outside the source tree")
	return cmd
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [drive]",
		Short: "Queue a disc scan ahead of pending encodes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var drive string
			if len(args) == 1 {
				drive = args[0]
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Scan(drive)
				if err != nil {
					return err
				}
				printEnqueueResult(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
}

func printEnqueueResult(out io.Writer, resp *ipc.EnqueueResponse) {
	if resp.Queued {
		fmt.Fprintf(out, "Queued: %s\n", resp.Job.Name)
		return
	}
	fmt.Fprintf(out, "Already queued: %s\n", resp.Job.Name)
}
