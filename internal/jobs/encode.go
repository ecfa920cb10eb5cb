package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"ripforge/internal/logging"
	"ripforge/internal/media"
	"ripforge/internal/services"
)

// EncodeJob transcodes a video file, or a disc title read straight from a
// drive, into the output directory.
type EncodeJob struct {
	*jobCore
	factory    *Factory
	source     string
	keepSource bool

	// disc title fields; disc is false for file sources.
	disc       bool
	titleIndex int
	movie      string
	seq        int
}

func newFileEncodeJob(f *Factory, path string, keepSource bool) *EncodeJob {
	path = filepath.Clean(path)
	name := fmt.Sprintf("Encode Movie '%s'", filepath.Base(path))
	return &EncodeJob{
		jobCore:    newJobCore(KindEncode, name, path),
		factory:    f,
		source:     path,
		keepSource: keepSource,
	}
}

func newDiscEncodeJob(f *Factory, drive string, title media.Title, movie string, seq int) *EncodeJob {
	display := media.SequencedFileName(movie, seq, f.settings.Extension)
	return &EncodeJob{
		jobCore:    newJobCore(KindEncode, fmt.Sprintf("Encode Movie '%s'", display), drive),
		factory:    f,
		source:     drive,
		keepSource: true,
		disc:       true,
		titleIndex: title.Index,
		movie:      movie,
		seq:        seq,
	}
}

// Source returns the input file path, or the drive for disc titles.
func (j *EncodeJob) Source() string { return j.source }

// FromDisc reports whether the job reads a title directly off a drive.
func (j *EncodeJob) FromDisc() bool { return j.disc }

// OutputPath is where the encoded file is written.
func (j *EncodeJob) OutputPath() string {
	s := j.factory.settings
	if j.disc {
		return media.DiscTitleOutputPath(s.OutputDir, j.movie, j.seq, s.Extension)
	}
	return media.FileOutputPath(s.OutputDir, j.source, s.Extension)
}

func (j *EncodeJob) Execute(ctx context.Context, q *Queue, sink ProgressSink) (bool, error) {
	f := j.factory
	logger := f.jobLogger(ctx, j)

	req := EncodeRequest{Input: j.source, Output: j.OutputPath(), Disc: j.disc}
	if j.disc {
		req.TitleIndex = j.titleIndex
	} else {
		if err := waitForWriter(ctx, f.busy, j.source, sink); err != nil {
			return false, err
		}
		exists, err := fileExists(j.source)
		if err != nil {
			return false, fmt.Errorf("check encode input: %w", err)
		}
		if !exists {
			return false, newError(ErrInputMissing, "could not find input file %q", j.source)
		}
		title, err := f.transcoder.ScanFile(ctx, j.source, sink)
		if err != nil {
			return false, fmt.Errorf("scan %s: %w", j.source, err)
		}
		if title == nil {
			sink.AppendLog("No usable title in "+j.source, services.SeverityWarning)
			return false, nil
		}
		req.TitleIndex = title.Index
		logger.Info("input scanned",
			logging.Int("title_index", title.Index),
			logging.String("duration", media.FormatDuration(title.Duration)),
			logging.String("resolution", title.Resolution()),
		)
	}

	exists, err := fileExists(req.Output)
	if err != nil {
		return false, fmt.Errorf("check encode output: %w", err)
	}
	if exists {
		return false, newError(ErrOutputExists, "encoding may have already run, output file %q already exists", req.Output)
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return false, fmt.Errorf("create output directory: %w", err)
	}

	f.transcoder.StopRunning()
	ok, err := f.transcoder.Encode(ctx, req, sink)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", j.source, err)
	}
	if !ok {
		return false, nil
	}
	if exists, err = fileExists(req.Output); err != nil {
		return false, fmt.Errorf("check encode output: %w", err)
	}
	if !exists {
		return false, newError(ErrOutputMissing, "encoder reported success but %q is missing", req.Output)
	}
	logger.Info("encode finished", logging.String("output", req.Output))

	if j.disc {
		return true, nil
	}
	root := f.settings.SourceRoot
	if !j.keepSource || isWithin(root, j.source) {
		if err := removeSource(j.source, root); err != nil {
			logging.WarnWithContext(logger, "source cleanup failed", "source_cleanup_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "encoded source remains on disk"),
				logging.String(logging.FieldErrorHint, "remove the source file manually"),
			)
		}
	}
	return true, nil
}

// removeSource deletes path and then every directory between it and root
// that is left empty. root itself and anything outside it are never removed.
func removeSource(path, root string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove source: %w", err)
	}
	if root == "" {
		return nil
	}
	root = filepath.Clean(root)
	for dir := filepath.Dir(path); isWithin(root, dir); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return nil
		}
		if err := os.Remove(dir); err != nil {
			return fmt.Errorf("remove empty directory: %w", err)
		}
	}
	return nil
}

// isWithin reports whether path lies strictly below root.
func isWithin(root, path string) bool {
	if root == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
