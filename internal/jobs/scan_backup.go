package jobs

import (
	"context"
	"fmt"
	"path/filepath"

	"ripforge/internal/logging"
	"ripforge/internal/media"
	"ripforge/internal/services"
)

// ScanAndBackupJob scans the disc in one drive, picks the titles worth
// keeping and enqueues a child job per title. In direct mode the children
// encode straight from the disc; otherwise they back the title up with the
// ripper first.
type ScanAndBackupJob struct {
	*jobCore
	factory *Factory
	drive   string
}

// Drive returns the device this job scans.
func (j *ScanAndBackupJob) Drive() string { return j.drive }

func (j *ScanAndBackupJob) Execute(ctx context.Context, q *Queue, sink ProgressSink) (bool, error) {
	f := j.factory
	logger := f.jobLogger(ctx, j)
	settings := f.settings

	sink.SetCurrentTask("Scanning " + j.drive)
	var (
		titles []media.Title
		err    error
	)
	if settings.Direct {
		f.transcoder.StopRunning()
		titles, err = f.transcoder.ScanDisc(ctx, j.drive, sink)
	} else {
		f.ripper.StopRunning()
		titles, err = f.ripper.ScanDiscTitles(ctx, j.drive, sink)
	}
	if err != nil {
		return false, fmt.Errorf("scan %s: %w", j.drive, err)
	}
	titles = media.UniqueByIndex(titles)
	if len(titles) == 0 {
		sink.AppendLog("No titles found on "+j.drive, services.SeverityWarning)
		return false, nil
	}

	selected := SelectTitles(titles, settings.BackupAll, settings.MinDuration)
	if len(selected) == 0 {
		logging.WarnWithContext(logger, "no title meets the minimum duration", "titles_filtered",
			logging.Int("titles", len(titles)),
			logging.Duration("min_duration", settings.MinDuration),
			logging.String(logging.FieldImpact, "nothing will be backed up from this disc"),
			logging.String(logging.FieldErrorHint, "lower backup.min_title_seconds"),
		)
		return true, nil
	}
	if len(selected) > 1 {
		sink.AppendLog(fmt.Sprintf("Backing up %d movies", len(selected)), services.SeverityInfo)
	}

	for n, title := range selected {
		movie := media.CleanTitle(title.Name)
		title.Source = j.drive
		var child Job
		if settings.Direct {
			child = f.EncodeDiscTitle(j.drive, title, movie, n)
		} else {
			title.FileName = media.SequencedFileName(movie, n, ".mkv")
			title.Path = filepath.Join(settings.BackupDir, movie, title.FileName)
			child = f.BackupTitle(title)
		}
		added := q.Enqueue(child, false)
		logger.Info("title selected",
			logging.Int("title_index", title.Index),
			logging.String("duration", media.FormatDuration(title.Duration)),
			logging.Bool("main_feature", title.MainFeature),
			logging.String("child", child.Name()),
			logging.Bool("enqueued", added),
		)
	}
	return true, nil
}
