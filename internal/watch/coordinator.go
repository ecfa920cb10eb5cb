package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"ripforge/internal/jobs"
	"ripforge/internal/logging"
	"ripforge/internal/media"
)

// DiscNotifier is told about every disc that was queued for backup.
type DiscNotifier interface {
	DiscDetected(ctx context.Context, device, label string)
}

// Options wires a Coordinator.
type Options struct {
	Queue   *jobs.Queue
	Factory *jobs.Factory
	// Root is the watched source tree. Empty disables file watching.
	Root   string
	Drives []string
	Media  MediaEventSource
	// Fallback is started when Media fails to start.
	Fallback MediaEventSource
	Probe    DriveProbe
	Dirs     DirectoryWatcher
	Notifier DiscNotifier
	Logger   *slog.Logger
}

// Coordinator turns media and filesystem events into queued jobs.
type Coordinator struct {
	queue    *jobs.Queue
	factory  *jobs.Factory
	root     string
	drives   []string
	media    MediaEventSource
	fallback MediaEventSource
	probe    DriveProbe
	dirs     DirectoryWatcher
	notifier DiscNotifier
	logger   *slog.Logger

	mu          sync.Mutex
	running     bool
	activeMedia MediaEventSource
}

// NewCoordinator constructs a coordinator. Queue and Factory are required.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Queue == nil || opts.Factory == nil {
		return nil, errors.New("watch: queue and factory required")
	}
	root := strings.TrimSpace(opts.Root)
	if root != "" {
		root = filepath.Clean(root)
	}
	return &Coordinator{
		queue:    opts.Queue,
		factory:  opts.Factory,
		root:     root,
		drives:   append([]string(nil), opts.Drives...),
		media:    opts.Media,
		fallback: opts.Fallback,
		probe:    opts.Probe,
		dirs:     opts.Dirs,
		notifier: opts.Notifier,
		logger:   logging.NewComponentLogger(opts.Logger, "watch"),
	}, nil
}

// Start queues backups for discs already in a drive, walks the source tree
// once, then installs the directory and media watches. A failed Start
// releases the directory watcher and leaves the coordinator stopped.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("watch coordinator already running")
	}
	c.running = true
	c.mu.Unlock()

	c.scanDrives(ctx)

	if c.root != "" {
		dirs, err := c.walk(c.root)
		if err != nil {
			c.Stop()
			return err
		}
		if c.dirs != nil {
			for _, dir := range dirs {
				c.addWatch(dir)
			}
			if err := c.dirs.Start(ctx, func(ev FileEvent) { c.HandleFile(ctx, ev) }); err != nil {
				c.Stop()
				return err
			}
		}
	}

	c.startMedia(ctx)
	return nil
}

// Stop removes all watches. Jobs already queued are unaffected.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	active := c.activeMedia
	c.activeMedia = nil
	c.mu.Unlock()

	if active != nil {
		active.Stop()
	}
	if c.dirs != nil {
		if err := c.dirs.Close(); err != nil {
			c.logger.Debug("close directory watcher", logging.Error(err))
		}
	}
}

func (c *Coordinator) startMedia(ctx context.Context) {
	handler := func(ev MediaEvent) { c.HandleMedia(ctx, ev) }
	for _, src := range []MediaEventSource{c.media, c.fallback} {
		if src == nil {
			continue
		}
		if err := src.Start(ctx, handler); err != nil {
			logging.WarnWithContext(c.logger, "media event source unavailable", "media_source_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "falling back to the next disc monitor"),
				logging.String(logging.FieldErrorHint, "check netlink permissions or set workflow.disc_monitor = \"poll\""),
			)
			continue
		}
		c.mu.Lock()
		c.activeMedia = src
		c.mu.Unlock()
		return
	}
	if c.media != nil || c.fallback != nil {
		logging.WarnWithContext(c.logger, "no disc monitor running", "disc_monitor_unavailable",
			logging.String(logging.FieldImpact, "inserted discs must be queued manually with ripforge scan"),
		)
	}
}

// scanDrives queues a front backup for each configured drive holding a
// labeled disc.
func (c *Coordinator) scanDrives(ctx context.Context) {
	if c.probe == nil {
		return
	}
	for _, drive := range c.drives {
		label, err := c.probe.Label(ctx, drive)
		if err != nil {
			c.logger.Debug("drive probe failed", logging.String("device", drive), logging.Error(err))
			continue
		}
		if label == "" {
			continue
		}
		c.HandleMedia(ctx, MediaEvent{Device: drive, Label: label, Inserted: true})
	}
}

// HandleMedia queues a disc scan at the front of the queue for a newly
// inserted labeled disc. Removals are logged only.
func (c *Coordinator) HandleMedia(ctx context.Context, ev MediaEvent) {
	logger := c.logger.With(logging.String("device", ev.Device))
	if !ev.Inserted {
		logger.Info("disc removed", logging.String(logging.FieldEventType, "disc_removed"))
		return
	}
	if ev.Label == "" {
		logger.Debug("ignoring unlabeled medium")
		return
	}
	job := c.factory.ScanDisc(ev.Device)
	if !c.queue.Enqueue(job, true) {
		logger.Debug("disc scan already queued", logging.String("disc_label", ev.Label))
		return
	}
	logger.Info("disc queued",
		logging.String(logging.FieldEventType, "disc_queued"),
		logging.String("disc_label", ev.Label),
		logging.String(logging.FieldJobName, job.Name()),
	)
	if c.notifier != nil {
		c.notifier.DiscDetected(ctx, ev.Device, ev.Label)
	}
}

// HandleFile reacts to a change below the source root: movie files are
// queued for encoding and new directories are watched and walked.
func (c *Coordinator) HandleFile(_ context.Context, ev FileEvent) {
	path := filepath.Clean(ev.Path)
	if !c.inRoot(path) || hidden(c.root, path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		// renamed away or already gone
		return
	}
	if info.IsDir() {
		dirs, err := c.walk(path)
		if err != nil {
			c.logger.Debug("walk new directory", logging.String("path", path), logging.Error(err))
		}
		for _, dir := range dirs {
			c.addWatch(dir)
		}
		return
	}
	if media.IsMovieFile(path) {
		c.enqueueEncode(path)
	}
}

// walk queues every movie file below dir and returns the directories found,
// dir included. Hidden entries are skipped.
func (c *Coordinator) walk(dir string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			c.logger.Debug("skip unreadable path", logging.String("path", path), logging.Error(err))
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		if media.IsMovieFile(path) {
			c.enqueueEncode(path)
		}
		return nil
	})
	return dirs, err
}

// enqueueEncode queues path unless an encode for that exact file is already
// active.
func (c *Coordinator) enqueueEncode(path string) {
	_, busy := c.queue.Find(func(j jobs.Job) bool {
		ej, ok := j.(*jobs.EncodeJob)
		return ok && !ej.FromDisc() && ej.Source() == path
	})
	if busy {
		return
	}
	job := c.factory.EncodeFile(path, false)
	if c.queue.Enqueue(job, false) {
		c.logger.Info("encode queued",
			logging.String(logging.FieldEventType, "encode_queued"),
			logging.String("path", path),
		)
	}
}

func (c *Coordinator) addWatch(dir string) {
	if c.dirs == nil {
		return
	}
	if err := c.dirs.Add(dir); err != nil {
		logging.WarnWithContext(c.logger, "directory watch failed", "watch_add_failed",
			logging.String("path", dir),
			logging.Error(err),
			logging.String(logging.FieldImpact, "new files in this directory will not be encoded automatically"),
			logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_watches or check permissions"),
		)
	}
}

func (c *Coordinator) inRoot(path string) bool {
	if c.root == "" {
		return false
	}
	rel, err := filepath.Rel(c.root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// hidden reports whether any component of path below root starts with a
// dot. Tools stage partial output in such directories.
func hidden(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
