package notifications

import (
	"context"
	"log/slog"

	"ripforge/internal/jobs"
	"ripforge/internal/logging"
	"ripforge/internal/media"
)

// Dispatcher turns daemon hooks into published events. Delivery failures
// are logged and never propagated to the caller.
type Dispatcher struct {
	service Service
	logger  *slog.Logger
}

// NewDispatcher wraps service. A nil service publishes nothing.
func NewDispatcher(service Service, logger *slog.Logger) *Dispatcher {
	if service == nil {
		service = noopService{}
	}
	return &Dispatcher{service: service, logger: logging.NewComponentLogger(logger, "notifications")}
}

// DiscDetected announces a labeled disc.
func (d *Dispatcher) DiscDetected(ctx context.Context, device, label string) {
	d.publish(ctx, EventDiscDetected, Payload{"device": device, "label": label})
}

// Record announces a retired job. It always returns nil so notification
// problems never count as archive failures.
func (d *Dispatcher) Record(ctx context.Context, job jobs.Snapshot) error {
	if job.Errored {
		d.publish(ctx, EventJobFailed, Payload{"job": job.Name, "kind": string(job.Kind), "error": job.Err})
		return nil
	}
	payload := Payload{"job": job.Name, "kind": string(job.Kind)}
	if !job.StartedAt.IsZero() && job.FinishedAt.After(job.StartedAt) {
		payload["duration"] = media.FormatDuration(job.FinishedAt.Sub(job.StartedAt))
	}
	d.publish(ctx, EventJobCompleted, payload)
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, event Event, payload Payload) {
	if err := d.service.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(d.logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			logging.String(logging.FieldImpact, "user was not notified"),
		)
	}
}
