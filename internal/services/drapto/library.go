package drapto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	draptolib "github.com/five82/drapto"

	"ripforge/internal/logging"
	"ripforge/internal/media"
	"ripforge/internal/services"
)

const component = "drapto"

// stagingDirName holds in-progress encodes next to the final output. The
// leading dot keeps directory watchers away from it.
const stagingDirName = ".ripforge-drapto"

// encodeFunc runs one encode, writing <stem>.mkv into outputDir.
type encodeFunc func(ctx context.Context, inputPath, outputDir string, rep draptolib.Reporter) error

// Option configures the library client.
type Option func(*Library)

// withEncoder replaces the Drapto call (tests only).
func withEncoder(fn encodeFunc) Option {
	return func(l *Library) {
		if fn != nil {
			l.encode = fn
		}
	}
}

// Library implements the transcoder with the Drapto Go library in-process.
type Library struct {
	encode encodeFunc
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewLibrary constructs a Library client.
func NewLibrary(logger *slog.Logger, opts ...Option) *Library {
	l := &Library{
		encode: runDrapto,
		logger: logging.NewComponentLogger(logger, component),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func runDrapto(ctx context.Context, inputPath, outputDir string, rep draptolib.Reporter) error {
	encoder, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return err
	}
	_, err = encoder.EncodeWithReporter(ctx, inputPath, outputDir, rep)
	return err
}

// StopRunning cancels an encode still in flight from an earlier call.
func (l *Library) StopRunning() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
		l.logger.Info("cancelled stale drapto encode")
	}
}

// ScanFile returns a single title describing path. Drapto analyses the
// input itself, so no probe is run.
func (l *Library) ScanFile(_ context.Context, path string, _ services.Reporter) (*media.Title, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, component, "scan", path, err)
	}
	base := filepath.Base(path)
	return &media.Title{
		Source:      path,
		Name:        strings.TrimSuffix(base, filepath.Ext(base)),
		FileName:    base,
		SizeBytes:   info.Size(),
		MainFeature: true,
	}, nil
}

// ScanDisc is unsupported; Drapto only reads files.
func (l *Library) ScanDisc(context.Context, string, services.Reporter) ([]media.Title, error) {
	return nil, services.Wrap(services.ErrValidation, component, "scan disc", "drapto cannot read discs; use backup mode makemkv", nil)
}

// Encode transcodes req.Input to req.Output. Drapto names its output after
// the input, so the encode runs in a staging directory and the result is
// renamed into place.
func (l *Library) Encode(ctx context.Context, req services.EncodeRequest, r services.Reporter) (bool, error) {
	r = services.OrNop(r)
	if req.Disc {
		return false, services.Wrap(services.ErrValidation, component, "encode", "drapto cannot read discs", nil)
	}
	if req.Input == "" || req.Output == "" {
		return false, services.Wrap(services.ErrValidation, component, "encode", "input and output paths required", nil)
	}

	staging := filepath.Join(filepath.Dir(req.Output), stagingDirName)
	if err := os.RemoveAll(staging); err != nil {
		return false, fmt.Errorf("prepare staging: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return false, fmt.Errorf("create staging: %w", err)
	}
	defer os.RemoveAll(staging)

	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.cancel = nil
		l.mu.Unlock()
		cancel()
	}()

	if err := l.encode(ctx, req.Input, staging, newReporter(r, l.logger)); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return false, services.Wrap(services.ErrExternalTool, component, "encode", "encode cancelled", err)
		}
		return false, services.Wrap(services.ErrExternalTool, component, "encode", "drapto encode failed", err)
	}

	base := filepath.Base(req.Input)
	produced := filepath.Join(staging, strings.TrimSuffix(base, filepath.Ext(base))+".mkv")
	if _, err := os.Stat(produced); err != nil {
		return false, services.Wrap(services.ErrExternalTool, component, "encode", "drapto produced no output", err)
	}
	if err := os.Rename(produced, req.Output); err != nil {
		return false, fmt.Errorf("move encoded output: %w", err)
	}
	l.logger.Info("encode complete",
		logging.String("input", req.Input),
		logging.String("output", req.Output),
	)
	return true, nil
}
