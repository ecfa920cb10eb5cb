// Package media holds the Title model shared by the ripper, the transcoder,
// and the job engine, plus the file naming rules applied to backups and
// encodes.
package media
