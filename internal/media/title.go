package media

import (
	"errors"
	"fmt"
	"time"
)

// Title is one candidate feature found on a disc or inside a video file.
type Title struct {
	// Source is the drive or file the title was scanned from.
	Source string `json:"source"`
	// Index is the tool's title number, unique within one scan.
	Index      int           `json:"index"`
	Name       string        `json:"name"`
	Duration   time.Duration `json:"duration"`
	Width      int           `json:"width,omitempty"`
	Height     int           `json:"height,omitempty"`
	VideoCodec string        `json:"video_codec,omitempty"`
	Chapters   int           `json:"chapters,omitempty"`
	SizeBytes  int64         `json:"size_bytes,omitempty"`
	// FileName is the name the ripper will write the title to.
	FileName string `json:"file_name,omitempty"`
	// Path is the full output path once FileName is placed in a directory.
	Path        string `json:"path,omitempty"`
	MainFeature bool   `json:"main_feature,omitempty"`
}

// Resolution renders WxH, or an empty string when unknown.
func (t Title) Resolution() string {
	if t.Width <= 0 || t.Height <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", t.Width, t.Height)
}

// Validate checks the invariants every scanned title must satisfy.
func (t Title) Validate() error {
	if t.Duration < 0 {
		return fmt.Errorf("title %d: negative duration %s", t.Index, t.Duration)
	}
	if t.Index < 0 {
		return errors.New("title index must be >= 0")
	}
	return nil
}

// UniqueByIndex drops titles whose index already appeared earlier in the
// slice and any title that fails validation. Order is preserved.
func UniqueByIndex(titles []Title) []Title {
	seen := make(map[int]struct{}, len(titles))
	out := make([]Title, 0, len(titles))
	for _, title := range titles {
		if title.Validate() != nil {
			continue
		}
		if _, dup := seen[title.Index]; dup {
			continue
		}
		seen[title.Index] = struct{}{}
		out = append(out, title)
	}
	return out
}
