// Package handbrake runs HandBrakeCLI with --json output to scan sources and
// transcode titles.
package handbrake
