package jobs

import (
	"context"
	"fmt"

	"ripforge/internal/logging"
	"ripforge/internal/media"
)

// BackupTitleJob extracts one disc title to title.Path.
type BackupTitleJob struct {
	*jobCore
	factory *Factory
	title   media.Title
}

// Title returns the title this job extracts.
func (j *BackupTitleJob) Title() media.Title { return j.title }

func (j *BackupTitleJob) Execute(ctx context.Context, q *Queue, sink ProgressSink) (bool, error) {
	f := j.factory
	logger := f.jobLogger(ctx, j)
	target := j.title.Path

	exists, err := fileExists(target)
	if err != nil {
		return false, fmt.Errorf("check backup target: %w", err)
	}
	if exists {
		return false, newError(ErrOutputExists, "backup may have already run, found %q", target)
	}

	f.ripper.StopRunning()
	ok, err := f.ripper.BackupTitle(ctx, j.title, sink)
	if err != nil {
		return false, fmt.Errorf("backup title %d: %w", j.title.Index, err)
	}
	if !ok {
		return false, nil
	}

	if exists, err = fileExists(target); err != nil {
		return false, fmt.Errorf("check backup output: %w", err)
	}
	if !exists {
		return false, newError(ErrOutputMissing, "backup of title %d reported success but %q is missing", j.title.Index, target)
	}
	logger.Info("title backed up", logging.String("path", target))

	// Files under the source root are picked up by the directory watch.
	switch {
	case f.settings.KeepFiles:
		q.Enqueue(f.EncodeFile(target, true), false)
	case !isWithin(f.settings.SourceRoot, target):
		q.Enqueue(f.EncodeFile(target, false), false)
	}
	return true, nil
}
