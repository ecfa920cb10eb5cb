// Package notifications pushes job engine events to ntfy.
//
// Service.Publish renders an Event and its Payload into an ntfy message.
// NewService returns a no-op implementation when no topic is configured,
// and events switched off in config are dropped before any request is made.
//
// Dispatcher adapts a Service to the daemon's hooks: it satisfies
// watch.DiscNotifier for inserted discs and jobs.Recorder for retired jobs.
package notifications
