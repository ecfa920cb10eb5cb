// Package services defines shared utilities consumed by the job variants and
// the external tool integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs and correlation identifiers for
//     logging.
//   - Structured error markers plus the Wrap helper so failures from
//     different tools classify the same way.
//   - The Reporter surface that tool integrations stream progress through,
//     and a command runner that makes process execution testable.
package services
