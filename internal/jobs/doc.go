// Package jobs implements the backup and transcode job engine.
//
// A Queue holds the ordered active jobs plus a history of everything
// accepted since the last clear; job names are the dedup key. The Scheduler
// drains the queue on a single goroutine, running one job at a time and
// reporting progress through a ProgressSink. Three job variants exist:
// ScanAndBackupJob scans a disc and fans out one child per selected title,
// BackupTitleJob extracts a title with the RipperService, and EncodeJob
// transcodes a file or disc title with the TranscoderService and cleans up
// the source tree afterwards. Jobs are built through a Factory that carries
// the collaborators and Settings.
package jobs
