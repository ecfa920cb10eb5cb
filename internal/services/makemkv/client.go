package makemkv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"ripforge/internal/config"
	"ripforge/internal/logging"
	"ripforge/internal/media"
	"ripforge/internal/services"
)

const component = "makemkv"

// Option configures the client.
type Option func(*Client)

// WithRunner injects a custom command runner (primarily for tests).
func WithRunner(runner services.CommandRunner) Option {
	return func(c *Client) {
		if runner != nil {
			c.runner = runner
		}
	}
}

// Client wraps makemkvcon robot-mode interactions.
type Client struct {
	binary      string
	infoTimeout time.Duration
	ripTimeout  time.Duration
	runner      services.CommandRunner
	logger      *slog.Logger
}

// New constructs a MakeMKV client.
func New(cfg config.MakeMKV, logger *slog.Logger, opts ...Option) (*Client, error) {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		return nil, errors.New("makemkv binary required")
	}
	client := &Client{
		binary:      binary,
		infoTimeout: time.Duration(cfg.InfoTimeout) * time.Second,
		ripTimeout:  time.Duration(cfg.RipTimeout) * time.Second,
		runner:      &services.ExecRunner{},
		logger:      logging.NewComponentLogger(logger, component),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// StopRunning kills a makemkvcon process left over from an earlier call.
func (c *Client) StopRunning() {
	stopper, ok := c.runner.(interface{ Stop() bool })
	if ok && stopper.Stop() {
		c.logger.Info("stopped stale makemkv process")
	}
}

// ScanDiscTitles lists the titles on the disc in drive.
func (c *Client) ScanDiscTitles(ctx context.Context, drive string, r services.Reporter) ([]media.Title, error) {
	r = services.OrNop(r)
	ctx, cancel := withTimeout(ctx, c.infoTimeout)
	defer cancel()

	scan := newScanState(drive)
	msgs := &msgHandler{logger: c.logger, reporter: r}
	progress := newProgressTracker(r, false)
	args := []string{"-r", "--cache=1", "--progress=-same", "info", "dev:" + drive}

	err := c.runner.Run(ctx, c.binary, args, func(raw string) {
		line, ok := parseRobotLine(raw)
		if !ok {
			return
		}
		switch line.Kind {
		case "CINFO":
			scan.disc(line)
		case "TINFO":
			scan.title(line)
		case "SINFO":
			scan.stream(line)
		case "MSG":
			msgs.handle(line)
		case "PRGV":
			progress.handle(line)
		case "PRGT", "PRGC":
			r.SetCurrentTask(line.str(2))
		}
	})
	if fatal := msgs.err(); fatal != nil {
		return nil, services.Wrap(services.ErrExternalTool, component, "scan", "makemkv reported an error", fatal)
	}
	if err != nil {
		return nil, runError(ctx, "scan", err)
	}

	titles := scan.result()
	c.logger.Info("disc scanned",
		logging.String("drive", drive),
		logging.String("disc_name", scan.discName()),
		logging.Int("titles", len(titles)),
	)
	return titles, nil
}

// BackupTitle extracts title into title.Path. MakeMKV writes into a hidden
// staging directory next to the target and the result is renamed into
// place, so watchers only ever see the finished file.
func (c *Client) BackupTitle(ctx context.Context, title media.Title, r services.Reporter) (bool, error) {
	r = services.OrNop(r)
	if title.Path == "" || title.Source == "" {
		return false, services.Wrap(services.ErrValidation, component, "backup", "title path and source drive required", nil)
	}
	staging := filepath.Join(filepath.Dir(title.Path), fmt.Sprintf(".ripforge-t%02d", title.Index))
	if err := os.RemoveAll(staging); err != nil {
		return false, fmt.Errorf("prepare staging: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return false, fmt.Errorf("create staging: %w", err)
	}
	defer os.RemoveAll(staging)

	ctx, cancel := withTimeout(ctx, c.ripTimeout)
	defer cancel()

	msgs := &msgHandler{logger: c.logger, reporter: r}
	progress := newProgressTracker(r, true)
	var (
		phaseMu sync.Mutex
		phase   string
	)
	args := []string{
		"-r", "--decrypt", "--noscan", "--progress=-same", "--cache=1024",
		"mkv", "dev:" + title.Source, strconv.Itoa(title.Index), staging,
	}
	err := c.runner.Run(ctx, c.binary, args, func(raw string) {
		line, ok := parseRobotLine(raw)
		if !ok {
			return
		}
		switch line.Kind {
		case "MSG":
			msgs.handle(line)
		case "PRGV":
			progress.handle(line)
		case "PRGT":
			phaseMu.Lock()
			phase = line.str(2)
			phaseMu.Unlock()
			r.SetCurrentTask(line.str(2))
		case "PRGC":
			phaseMu.Lock()
			current := phase
			phaseMu.Unlock()
			if detail := line.str(2); detail != "" && current != "" {
				r.SetCurrentTask(current + ": " + detail)
			}
		}
	})
	if fatal := msgs.err(); fatal != nil {
		return false, services.Wrap(services.ErrExternalTool, component, "backup",
			fmt.Sprintf("title %d", title.Index), fatal)
	}
	if err != nil {
		return false, runError(ctx, "backup", err)
	}

	output, err := pickOutput(staging, title.Index)
	if err != nil {
		return false, fmt.Errorf("inspect rip outputs: %w", err)
	}
	if output == "" {
		return false, services.Wrap(services.ErrExternalTool, component, "backup",
			"makemkv produced no output file; check disc for read errors", nil)
	}
	if err := os.Rename(output, title.Path); err != nil {
		return false, fmt.Errorf("move rip output: %w", err)
	}
	c.logger.Info("title saved",
		logging.Int("title_index", title.Index),
		logging.String("path", title.Path),
	)
	return true, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func runError(ctx context.Context, operation string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, component, operation, "makemkvcon timed out", err)
	}
	return services.Wrap(services.ErrExternalTool, component, operation, "makemkvcon failed", err)
}

// pickOutput finds the file MakeMKV wrote for titleIndex: the conventional
// title_tNN.mkv when present, otherwise the largest .mkv in dir.
func pickOutput(dir string, titleIndex int) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	expected := fmt.Sprintf("title_t%02d.mkv", titleIndex)
	var (
		best     string
		bestSize int64 = -1
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".mkv") {
			continue
		}
		if strings.EqualFold(entry.Name(), expected) {
			return filepath.Join(dir, entry.Name()), nil
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, entry.Name())
			bestSize = info.Size()
		}
	}
	return best, nil
}
