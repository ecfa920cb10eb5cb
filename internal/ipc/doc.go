// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// Request and response types wrap the api DTOs so the socket and the HTTP
// API report the same shapes. Add new endpoints as a Request/Response pair
// plus a service method and a client method.
package ipc
