// Package history archives retired jobs in a SQLite database so the CLI and
// HTTP API can show what ran after the in-memory queue has forgotten it.
//
// The schema is embedded and versioned. A database written by a different
// schema version is rejected with ErrSchemaMismatch rather than migrated;
// the archive is an audit trail and can be deleted safely.
package history
