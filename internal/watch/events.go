package watch

import "context"

// MediaEvent reports a disc arriving in or leaving a drive. Label is empty
// when the medium has no readable volume label.
type MediaEvent struct {
	Device   string
	Label    string
	Inserted bool
}

// FileEventKind classifies a filesystem change.
type FileEventKind int

const (
	FileCreated FileEventKind = iota + 1
	FileRenamed
)

func (k FileEventKind) String() string {
	switch k {
	case FileCreated:
		return "created"
	case FileRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileEvent reports a change below a watched directory.
type FileEvent struct {
	Path string
	Kind FileEventKind
}

// MediaEventSource delivers media insertion and removal events. Start
// returns an error when the source cannot be used at all, in which case the
// caller may fall back to another source.
type MediaEventSource interface {
	Start(ctx context.Context, handler func(MediaEvent)) error
	Stop()
}

// DirectoryWatcher delivers file events for directories added with Add.
// Add is idempotent.
type DirectoryWatcher interface {
	Add(dir string) error
	Start(ctx context.Context, handler func(FileEvent)) error
	Close() error
}

// DriveProbe reads the volume label of the disc currently in device. An
// empty label means no usable disc.
type DriveProbe interface {
	Label(ctx context.Context, device string) (string, error)
}
