package media

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CleanTitle turns a disc title name into a filesystem friendly movie name.
// Non-ASCII runes are dropped, ':' and '\' become '-', and the " - Blu-ray"
// suffix that MakeMKV appends to some discs is removed.
func CleanTitle(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r >= 128 {
			continue
		}
		if r == ':' || r == '\\' {
			b.WriteByte('-')
			continue
		}
		b.WriteRune(r)
	}
	return strings.ReplaceAll(b.String(), " - Blu-ray", "")
}

// IsMovieFile reports whether path has a container extension the encoder
// accepts as input.
func IsMovieFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mkv", ".mp4":
		return true
	default:
		return false
	}
}

// ForceExtension replaces the extension of path with ext (".mkv" or ".mp4").
func ForceExtension(path, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// SequencedFileName builds "<movie>_t<NN><ext>" where NN is the zero padded
// position of the title in selection order.
func SequencedFileName(movie string, seq int, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s_t%02d%s", movie, seq, ext)
}

// DiscTitleOutputPath is where a title encoded straight from disc lands:
// <outDir>/<movie>/<movie>_t<NN><ext>.
func DiscTitleOutputPath(outDir, movie string, seq int, ext string) string {
	return filepath.Join(outDir, movie, SequencedFileName(movie, seq, ext))
}

// FileOutputPath mirrors the source file name into outDir with ext forced.
func FileOutputPath(outDir, source, ext string) string {
	return filepath.Join(outDir, ForceExtension(filepath.Base(source), ext))
}

// FormatDuration renders d as "1 Hour 2 Minutes 3 Seconds". Units larger
// than the duration are omitted; seconds are always present. Non-positive
// durations render as an empty string.
func FormatDuration(d time.Duration) string {
	seconds := int(d / time.Second)
	if seconds <= 0 {
		return ""
	}
	parts := make([]string, 0, 3)
	if hours := seconds / 3600; hours > 0 {
		seconds -= hours * 3600
		parts = append(parts, plural(hours, "Hour"))
	}
	if minutes := seconds / 60; minutes > 0 {
		seconds -= minutes * 60
		parts = append(parts, plural(minutes, "Minute"))
	}
	parts = append(parts, plural(seconds, "Second"))
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n > 1 {
		return fmt.Sprintf("%d %ss", n, unit)
	}
	return fmt.Sprintf("%d %s", n, unit)
}

// ParseClock converts "h:mm:ss" into a duration. Malformed input yields zero.
func ParseClock(value string) time.Duration {
	value = strings.Trim(strings.TrimSpace(value), "\"")
	segments := strings.Split(value, ":")
	if len(segments) != 3 {
		return 0
	}
	parsed := make([]int, 3)
	for i, segment := range segments {
		n, err := strconv.Atoi(segment)
		if err != nil || n < 0 {
			return 0
		}
		parsed[i] = n
	}
	h, m, s := parsed[0], parsed[1], parsed[2]
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}
