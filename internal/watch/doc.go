// Package watch feeds the job queue from the outside world: optical media
// events (udev netlink, or lsblk polling as a fallback) become front-of-queue
// disc scans, and new movie files below the source tree become encodes.
package watch
