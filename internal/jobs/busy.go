package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"ripforge/internal/services"
)

// busyPollInterval is how often an encode job re-checks a file that is
// still being written.
const busyPollInterval = 100 * time.Millisecond

// BusyProbe reports whether another process is still writing a file.
type BusyProbe interface {
	Busy(path string) bool
}

// BusyProbeFunc adapts a function to BusyProbe.
type BusyProbeFunc func(path string) bool

func (f BusyProbeFunc) Busy(path string) bool { return f(path) }

// FileBusyProbe treats a file as busy while another process holds an
// exclusive flock on it, or while it was modified within Settle.
type FileBusyProbe struct {
	Settle time.Duration
}

func (p FileBusyProbe) Busy(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if p.Settle > 0 && time.Since(info.ModTime()) < p.Settle {
		return true
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()
	fd := int(file.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return errors.Is(err, unix.EWOULDBLOCK)
	}
	_ = unix.Flock(fd, unix.LOCK_UN)
	return false
}

// waitForWriter blocks while probe reports path busy.
func waitForWriter(ctx context.Context, probe BusyProbe, path string, r services.Reporter) error {
	if probe == nil || !probe.Busy(path) {
		return nil
	}
	r.SetCurrentTask(fmt.Sprintf("Waiting on '%s' to become available", filepath.Base(path)))
	ticker := time.NewTicker(busyPollInterval)
	defer ticker.Stop()
	for probe.Busy(path) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting on %s: %w", path, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
