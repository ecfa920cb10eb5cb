// Package logging assembles structured slog loggers and formatting helpers used
// across ripforge.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so job code can tag log lines
// with job and correlation IDs. A no-op logger is provided for tests and for
// wiring code that must not fail.
package logging
