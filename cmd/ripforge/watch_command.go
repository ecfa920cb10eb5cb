package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"ripforge/internal/api"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var apiAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the running job's progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := strings.TrimSpace(apiAddr)
			if addr == "" {
				if cfg := ctx.configValue(); cfg != nil {
					addr = cfg.Paths.APIBind
				}
			}
			if addr == "" {
				return errors.New("api is disabled; set paths.api_bind or pass --api")
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return watchProgress(runCtx, progressURL(addr), newProgressRenderer(cmd.OutOrStdout()))
		},
	}
	cmd.Flags().StringVar(&apiAddr, "api", "", "Daemon HTTP API address (defaults to paths.api_bind)")
	return cmd
}

// progressURL maps a bind address to a dialable websocket URL. Wildcard
// hosts are reached over loopback.
func progressURL(bind string) string {
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		host, port = bind, ""
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	}
	u := url.URL{Scheme: "ws", Host: host, Path: "/api/progress"}
	return u.String()
}

func watchProgress(ctx context.Context, target string, r *progressRenderer) error {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", target, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	defer r.finish()
	for {
		var p api.Progress
		if err := conn.ReadJSON(&p); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read progress: %w", err)
		}
		r.apply(p)
	}
}

// progressRenderer draws one progress bar per job. Jobs without a known
// total use an indeterminate spinner.
type progressRenderer struct {
	out    io.Writer
	bar    *progressbar.ProgressBar
	jobID  string
	max    int64
	errors int
	idle   bool
}

func newProgressRenderer(out io.Writer) *progressRenderer {
	return &progressRenderer{out: out}
}

func (r *progressRenderer) apply(p api.Progress) {
	if p.JobID == "" {
		r.finish()
		r.jobID = ""
		if !r.idle {
			fmt.Fprintln(r.out, "Waiting for jobs...")
			r.idle = true
		}
		return
	}
	if p.JobID != r.jobID {
		r.finish()
		r.jobID = p.JobID
		r.errors = 0
		r.idle = false
		fmt.Fprintf(r.out, "%s\n", p.JobName)
	}

	for _, msg := range p.Errors[min(r.errors, len(p.Errors)):] {
		r.clearLine()
		fmt.Fprintf(r.out, "  error: %s\n", msg)
	}
	r.errors = len(p.Errors)

	if r.bar == nil || (p.Max > 0) != (r.max > 0) {
		r.newBar(p.Max)
	} else if p.Max > 0 && p.Max != r.max {
		r.bar.ChangeMax64(p.Max)
		r.max = p.Max
	}
	desc := p.Task
	if p.Remaining != "" {
		desc += " (" + p.Remaining + " left)"
	}
	r.bar.Describe(desc)
	if p.Max > 0 {
		_ = r.bar.Set64(min(p.Current, p.Max))
	} else {
		_ = r.bar.Add(1)
	}
}

func (r *progressRenderer) newBar(limit int64) {
	if r.bar != nil {
		_ = r.bar.Exit()
	}
	total := limit
	if total <= 0 {
		total = -1
	}
	r.max = limit
	r.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(r.out),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (r *progressRenderer) clearLine() {
	if r.bar != nil {
		_ = r.bar.Clear()
	}
}

func (r *progressRenderer) finish() {
	if r.bar == nil {
		return
	}
	_ = r.bar.Exit()
	fmt.Fprintln(r.out)
	r.bar = nil
	r.max = 0
}
