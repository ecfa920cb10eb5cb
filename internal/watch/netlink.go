package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"ripforge/internal/logging"
)

// NetlinkSource listens for udev change events on optical drives.
type NetlinkSource struct {
	drives []string
	logger *slog.Logger

	mu   sync.Mutex
	conn *netlink.UEventConn
	quit chan struct{}
	done chan struct{}
}

// NewNetlinkSource builds a source limited to drives. An empty list accepts
// every optical drive.
func NewNetlinkSource(drives []string, logger *slog.Logger) *NetlinkSource {
	return &NetlinkSource{
		drives: append([]string(nil), drives...),
		logger: logging.NewComponentLogger(logger, "netlink"),
	}
}

// Start connects to the udev netlink socket.
func (s *NetlinkSource) Start(ctx context.Context, handler func(MediaEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return errors.New("netlink source already running")
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return fmt.Errorf("connect netlink: %w", err)
	}
	s.conn = conn
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx, conn, handler, s.quit, s.done)

	s.logger.Info("netlink monitor started",
		logging.String(logging.FieldEventType, "netlink_monitor_started"),
		logging.Any("drives", s.drives),
	)
	return nil
}

// Stop closes the netlink socket and waits for the reader to exit.
func (s *NetlinkSource) Stop() {
	s.mu.Lock()
	conn, quit, done := s.conn, s.quit, s.done
	s.conn, s.quit, s.done = nil, nil, nil
	s.mu.Unlock()
	if conn == nil {
		return
	}
	close(quit)
	<-done
	_ = conn.Close()
	s.logger.Info("netlink monitor stopped", logging.String(logging.FieldEventType, "netlink_monitor_stopped"))
}

func (s *NetlinkSource) loop(ctx context.Context, conn *netlink.UEventConn, handler func(MediaEvent), quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, cdromMatcher())
	defer close(monitorQuit)

	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case uevent := <-queue:
			if ev, ok := s.translate(uevent); ok {
				handler(ev)
			}
		case err := <-errs:
			logging.WarnWithContext(s.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "disc detection may be affected"),
			)
		}
	}
}

// cdromMatcher accepts add/change events for block devices that are
// optical drives.
func cdromMatcher() netlink.Matcher {
	action := "change|add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
			"ID_CDROM":  "1",
		},
	})
	return rules
}

// translate maps a uevent onto a MediaEvent. Events for drives outside the
// configured set are dropped.
func (s *NetlinkSource) translate(uevent netlink.UEvent) (MediaEvent, bool) {
	device := deviceName(uevent)
	if device == "" {
		return MediaEvent{}, false
	}
	if len(s.drives) > 0 && !slices.Contains(s.drives, device) {
		s.logger.Debug("ignoring event for unmonitored drive", logging.String("device", device))
		return MediaEvent{}, false
	}
	ev := MediaEvent{
		Device:   device,
		Inserted: uevent.Env["ID_CDROM_MEDIA"] == "1",
	}
	if ev.Inserted {
		ev.Label = strings.TrimSpace(uevent.Env["ID_FS_LABEL"])
	}
	return ev, true
}

// deviceName reads DEVNAME, falling back to the last DEVPATH segment.
func deviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			devname = "/dev/" + devname
		}
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
