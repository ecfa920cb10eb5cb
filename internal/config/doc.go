// Package config loads, normalizes, and validates ripforge configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// RIPFORGE_NTFY_TOPIC. The Config value is passed explicitly to every
// component at construction; nothing in the engine reads settings from
// global state.
package config
