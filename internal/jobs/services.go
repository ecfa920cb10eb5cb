package jobs

import (
	"context"

	"ripforge/internal/media"
	"ripforge/internal/services"
)

// EncodeRequest is the transcoder input for one encode.
type EncodeRequest = services.EncodeRequest

// RipperService extracts titles from a disc.
type RipperService interface {
	ScanDiscTitles(ctx context.Context, drive string, r services.Reporter) ([]media.Title, error)
	BackupTitle(ctx context.Context, title media.Title, r services.Reporter) (bool, error)
	// StopRunning kills a tool process left over from an earlier call.
	StopRunning()
}

// TranscoderService encodes files or disc titles.
type TranscoderService interface {
	ScanFile(ctx context.Context, path string, r services.Reporter) (*media.Title, error)
	ScanDisc(ctx context.Context, drive string, r services.Reporter) ([]media.Title, error)
	// Encode writes req.Output. On failure the service removes any partial
	// output it created.
	Encode(ctx context.Context, req EncodeRequest, r services.Reporter) (bool, error)
	StopRunning()
}
