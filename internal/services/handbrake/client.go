package handbrake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"ripforge/internal/config"
	"ripforge/internal/logging"
	"ripforge/internal/media"
	"ripforge/internal/services"
)

const component = "handbrake"

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

// Client drives HandBrakeCLI for scans and encodes.
type Client struct {
	binary     string
	presetFile string
	preset     string
	format     string
	runner     services.CommandRunner
	logger     *slog.Logger
}

// New constructs a HandBrake client from the transcode section.
func New(cfg config.Transcode, logger *slog.Logger, opts ...Option) (*Client, error) {
	binary := strings.TrimSpace(cfg.HandBrakeBinary)
	if binary == "" {
		return nil, errors.New("handbrake binary required")
	}
	format := "av_mkv"
	if cfg.Container == config.ContainerMP4 {
		format = "av_mp4"
	}
	client := &Client{
		binary:     binary,
		presetFile: strings.TrimSpace(cfg.HandBrakePresetFile),
		preset:     strings.TrimSpace(cfg.HandBrakePreset),
		format:     format,
		runner:     &services.ExecRunner{},
		logger:     logging.NewComponentLogger(logger, component),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// StopRunning kills a HandBrakeCLI process left over from an earlier call.
func (c *Client) StopRunning() {
	stopper, ok := c.runner.(interface{ Stop() bool })
	if ok && stopper.Stop() {
		c.logger.Info("stopped stale handbrake process")
	}
}

// ScanFile scans a video file and returns its main feature, or nil when
// HandBrake found no titles.
func (c *Client) ScanFile(ctx context.Context, path string, r services.Reporter) (*media.Title, error) {
	titles, err := c.scan(ctx, path, []string{"--main-feature"}, r)
	if err != nil {
		return nil, err
	}
	if len(titles) == 0 {
		return nil, nil
	}
	for i := range titles {
		if titles[i].MainFeature {
			return &titles[i], nil
		}
	}
	return &titles[0], nil
}

// ScanDisc lists every title on the disc in drive.
func (c *Client) ScanDisc(ctx context.Context, drive string, r services.Reporter) ([]media.Title, error) {
	return c.scan(ctx, drive, []string{"--no-dvdnav", "--title", "0"}, r)
}

func (c *Client) scan(ctx context.Context, input string, extra []string, r services.Reporter) ([]media.Title, error) {
	r = services.OrNop(r)
	var (
		mu     sync.Mutex
		titles []media.Title
	)
	progress := newProgressHandler(r)
	stream := newBlockStream(func(kind string, body []byte) {
		switch kind {
		case blockTitleSet:
			var set titleSet
			if err := json.Unmarshal(body, &set); err != nil {
				c.logger.Debug("undecodable title set", logging.Error(err))
				return
			}
			mu.Lock()
			titles = set.titles(input)
			mu.Unlock()
		default:
			c.handleBlock(kind, body, r, progress)
		}
	})

	args := append([]string{"-i", input, "--scan", "--json"}, extra...)
	err := c.runner.Run(ctx, c.binary, args, stream.feed)
	stream.close()
	if err != nil {
		return nil, runError(ctx, "scan", err)
	}

	mu.Lock()
	defer mu.Unlock()
	c.logger.Info("source scanned",
		logging.String("source", input),
		logging.Int("titles", len(titles)),
	)
	return titles, nil
}

// Encode transcodes req.Input into req.Output using the configured preset.
// Partial output is removed when the encode fails.
func (c *Client) Encode(ctx context.Context, req services.EncodeRequest, r services.Reporter) (bool, error) {
	r = services.OrNop(r)
	if req.Input == "" || req.Output == "" {
		return false, services.Wrap(services.ErrValidation, component, "encode", "input and output paths required", nil)
	}

	args := make([]string, 0, 16)
	if c.presetFile != "" {
		args = append(args, "--preset-import-file", c.presetFile)
	}
	if c.preset != "" {
		args = append(args, "--preset", c.preset)
	}
	args = append(args,
		"-i", req.Input,
		"-o", req.Output,
		"--format", c.format,
		"--subtitle", "scan", "--subtitle-forced",
		"--json",
	)
	if req.TitleIndex != 0 {
		args = append(args, "--title", strconv.Itoa(req.TitleIndex))
	}

	progress := newProgressHandler(r)
	stream := newBlockStream(func(kind string, body []byte) {
		c.handleBlock(kind, body, r, progress)
	})
	err := c.runner.Run(ctx, c.binary, args, stream.feed)
	stream.close()
	if err == nil {
		err = progress.doneErr()
	}
	if err != nil {
		if rmErr := os.Remove(req.Output); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			logging.WarnWithContext(c.logger, "partial output cleanup failed", "handbrake_cleanup_failed",
				logging.String("output", req.Output),
				logging.Error(rmErr),
				logging.String(logging.FieldImpact, "a partial encode remains in the output directory"),
				logging.String(logging.FieldErrorHint, "delete the file before retrying"),
			)
		}
		return false, runError(ctx, "encode", err)
	}
	c.logger.Info("encode complete",
		logging.String("input", req.Input),
		logging.String("output", req.Output),
		logging.Int("title_index", req.TitleIndex),
	)
	return true, nil
}

func (c *Client) handleBlock(kind string, body []byte, r services.Reporter, progress *progressHandler) {
	switch kind {
	case blockVersion:
		var v versionInfo
		if err := json.Unmarshal(body, &v); err != nil {
			return
		}
		r.AppendLog(strings.TrimSpace(fmt.Sprintf("Using %s %s %s", v.Name, v.VersionString, v.Arch)), services.SeverityInfo)
	case blockProgress:
		var p progressInfo
		if err := json.Unmarshal(body, &p); err != nil {
			c.logger.Debug("undecodable progress block", logging.Error(err))
			return
		}
		progress.handle(p)
	}
}

// progressHandler maps Progress blocks onto the reporter. The task only
// changes on phase transitions.
type progressHandler struct {
	reporter services.Reporter

	mu       sync.Mutex
	phase    string
	workErr  int
	finished bool
}

func newProgressHandler(r services.Reporter) *progressHandler {
	return &progressHandler{reporter: r}
}

func (p *progressHandler) handle(info progressInfo) {
	if info.WorkDone != nil {
		p.mu.Lock()
		p.finished = true
		p.workErr = info.WorkDone.Error
		p.mu.Unlock()
		return
	}
	label, phase := info.phase()
	if label == "" {
		return
	}
	p.mu.Lock()
	changed := label != p.phase
	p.phase = label
	p.mu.Unlock()

	if changed {
		p.reporter.SetCurrentTask(label)
	}
	if phase == nil {
		return
	}
	p.reporter.SetProgress(int64(phase.Progress*100), 100)
	if phase.ETASeconds > 0 {
		p.reporter.SetRemaining(media.FormatDuration(time.Duration(phase.ETASeconds) * time.Second))
	}
}

// doneErr reports a nonzero WorkDone error code.
func (p *progressHandler) doneErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished && p.workErr != 0 {
		return fmt.Errorf("handbrake finished with error code %d", p.workErr)
	}
	return nil
}

func runError(ctx context.Context, operation string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, component, operation, "HandBrakeCLI timed out", err)
	}
	return services.Wrap(services.ErrExternalTool, component, operation, "HandBrakeCLI failed", err)
}
