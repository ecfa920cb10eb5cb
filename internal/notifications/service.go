package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ripforge/internal/config"
)

const userAgent = "ripforge/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventDiscDetected Event = "disc_detected"
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventTest         Event = "test"
)

// Payload carries event fields keyed by name.
type Payload map[string]any

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	n := cfg.Notifications
	topic := strings.TrimSpace(n.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(n.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventDiscDetected: n.DiscDetected,
			EventJobCompleted: n.JobCompleted,
			EventJobFailed:    n.JobFailed,
			EventTest:         true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := render(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func render(event Event, payload Payload) (message, bool) {
	switch event {
	case EventDiscDetected:
		label := payload.text("label")
		if label == "" {
			label = "unlabeled disc"
		}
		return message{
			title: "Ripforge - Disc Detected",
			body:  fmt.Sprintf("📀 Disc detected: %s (%s)", label, payload.text("device")),
			tags:  []string{"ripforge", "disc", "detected"},
		}, true
	case EventJobCompleted:
		body := fmt.Sprintf("✅ Finished: %s", payload.text("job"))
		if took := payload.text("duration"); took != "" {
			body += "\nTook " + took
		}
		return message{
			title: "Ripforge - Job Complete",
			body:  body,
			tags:  []string{"ripforge", payload.text("kind"), "completed"},
		}, true
	case EventJobFailed:
		reason := payload.text("error")
		if reason == "" {
			reason = "unknown"
		}
		return message{
			title:    "Ripforge - Job Failed",
			body:     fmt.Sprintf("❌ %s failed: %s", payload.text("job"), reason),
			tags:     []string{"ripforge", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Ripforge - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"ripforge", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if tags := compact(msg.tags); len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func compact(tags []string) []string {
	out := tags[:0:0]
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
