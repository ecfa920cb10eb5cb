package watch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"ripforge/internal/logging"
)

const defaultPollInterval = 5 * time.Second

// ioctlCDROMDriveStatus is CDROM_DRIVE_STATUS from linux/cdrom.h.
const ioctlCDROMDriveStatus = 0x5326

// DriveStatus is the result of CDROM_DRIVE_STATUS.
type DriveStatus int

const (
	DriveStatusNoInfo   DriveStatus = 0
	DriveStatusNoDisc   DriveStatus = 1
	DriveStatusTrayOpen DriveStatus = 2
	DriveStatusNotReady DriveStatus = 3
	DriveStatusDiscOK   DriveStatus = 4
)

func (s DriveStatus) String() string {
	switch s {
	case DriveStatusNoInfo:
		return "no_info"
	case DriveStatusNoDisc:
		return "no_disc"
	case DriveStatusTrayOpen:
		return "tray_open"
	case DriveStatusNotReady:
		return "not_ready"
	case DriveStatusDiscOK:
		return "disc_ok"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CheckDriveStatus queries device with the CDROM_DRIVE_STATUS ioctl.
func CheckDriveStatus(device string) (DriveStatus, error) {
	fd, err := unix.Open(device, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return DriveStatusNoInfo, fmt.Errorf("open %s: %w", device, err)
	}
	defer unix.Close(fd) //nolint:errcheck
	status, err := unix.IoctlRetInt(fd, ioctlCDROMDriveStatus)
	if err != nil {
		return DriveStatusNoInfo, fmt.Errorf("ioctl CDROM_DRIVE_STATUS on %s: %w", device, err)
	}
	return DriveStatus(status), nil
}

// LsblkProbe reads disc labels with lsblk once the drive reports a disc.
type LsblkProbe struct {
	// Status defaults to CheckDriveStatus.
	Status func(device string) (DriveStatus, error)
	// Output defaults to running the command with os/exec.
	Output  func(ctx context.Context, name string, args ...string) ([]byte, error)
	Timeout time.Duration
}

// Label returns the volume label of the disc in device, or "" when the
// drive is empty, open, or still spinning up.
func (p LsblkProbe) Label(ctx context.Context, device string) (string, error) {
	device = strings.TrimSpace(device)
	if device == "" {
		return "", errors.New("no device specified")
	}
	status := p.Status
	if status == nil {
		status = CheckDriveStatus
	}
	st, err := status(device)
	if err != nil {
		return "", err
	}
	if st != DriveStatusDiscOK {
		return "", nil
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	output := p.Output
	if output == nil {
		output = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output() //nolint:gosec
		}
	}
	out, err := output(ctx, "lsblk", "-P", "-o", "LABEL,FSTYPE", device)
	if err != nil {
		return "", fmt.Errorf("run lsblk: %w", err)
	}
	label, fstype := parseLsblkLabel(string(out))
	if label == "" || fstype == "" {
		return "", nil
	}
	return label, nil
}

// parseLsblkLabel returns the first LABEL/FSTYPE pair from lsblk -P output.
// Values are quoted and may contain spaces.
func parseLsblkLabel(output string) (label, fstype string) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := parseKeyValues(strings.TrimSpace(scanner.Text()))
		if len(fields) == 0 {
			continue
		}
		return strings.TrimSpace(fields["LABEL"]), strings.TrimSpace(fields["FSTYPE"])
	}
	return "", ""
}

func parseKeyValues(line string) map[string]string {
	out := make(map[string]string)
	for line != "" {
		key, rest, ok := strings.Cut(line, "=\"")
		if !ok {
			break
		}
		value, tail, ok := strings.Cut(rest, "\"")
		if !ok {
			break
		}
		out[strings.TrimSpace(key)] = value
		line = strings.TrimSpace(tail)
	}
	return out
}

// PollSource detects insertions by probing each drive on an interval. It is
// the fallback when the netlink socket is unavailable.
type PollSource struct {
	drives   []string
	probe    DriveProbe
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	labels map[string]string
}

// NewPollSource builds a poller over drives.
func NewPollSource(drives []string, probe DriveProbe, interval time.Duration, logger *slog.Logger) *PollSource {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if probe == nil {
		probe = LsblkProbe{}
	}
	return &PollSource{
		drives:   append([]string(nil), drives...),
		probe:    probe,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "disc-poll"),
		labels:   make(map[string]string),
	}
}

// Start records the current state of every drive and then reports changes
// from a background goroutine. Discs present at Start are not reported.
func (p *PollSource) Start(ctx context.Context, handler func(MediaEvent)) error {
	if len(p.drives) == 0 {
		return errors.New("no drives configured for polling")
	}
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return errors.New("poll source already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	p.poll(runCtx, nil)
	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.poll(runCtx, handler)
			}
		}
	}()
	return nil
}

// Stop ends polling and waits for the poller to exit.
func (p *PollSource) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// poll probes every drive and reports label transitions. A nil handler
// only records state.
func (p *PollSource) poll(ctx context.Context, handler func(MediaEvent)) {
	for _, drive := range p.drives {
		label, err := p.probe.Label(ctx, drive)
		if err != nil {
			p.logger.Debug("drive probe failed", logging.String("device", drive), logging.Error(err))
			continue
		}
		p.mu.Lock()
		previous := p.labels[drive]
		p.labels[drive] = label
		p.mu.Unlock()

		if handler == nil || label == previous {
			continue
		}
		switch {
		case label != "":
			handler(MediaEvent{Device: drive, Label: label, Inserted: true})
		case previous != "":
			handler(MediaEvent{Device: drive})
		}
	}
}
