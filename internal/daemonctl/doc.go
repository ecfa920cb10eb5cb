// Package daemonctl launches, stops and inspects the ripforged process on
// behalf of the CLI.
package daemonctl
