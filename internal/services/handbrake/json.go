package handbrake

import (
	"path/filepath"
	"time"

	"ripforge/internal/media"
)

type versionInfo struct {
	Name          string `json:"Name"`
	VersionString string `json:"VersionString"`
	Arch          string `json:"Arch"`
}

type phaseProgress struct {
	Progress   float64 `json:"Progress"`
	ETASeconds int     `json:"ETASeconds"`
}

type progressInfo struct {
	State    string         `json:"State"`
	Working  *phaseProgress `json:"Working"`
	Scanning *phaseProgress `json:"Scanning"`
	Muxing   *phaseProgress `json:"Muxing"`
	WorkDone *struct {
		Error int `json:"Error"`
	} `json:"WorkDone"`
}

// phase returns the task label and numbers for the current state.
func (p progressInfo) phase() (string, *phaseProgress) {
	switch p.State {
	case "WORKING":
		return "Encoding", p.Working
	case "SCANNING":
		return "Scanning", p.Scanning
	case "MUXING":
		return "Muxing", p.Muxing
	}
	return "", nil
}

type titleDuration struct {
	Hours   int `json:"Hours"`
	Minutes int `json:"Minutes"`
	Seconds int `json:"Seconds"`
}

type titleInfo struct {
	Index    int           `json:"Index"`
	Name     string        `json:"Name"`
	Path     string        `json:"Path"`
	Duration titleDuration `json:"Duration"`
	Geometry struct {
		Width  int `json:"Width"`
		Height int `json:"Height"`
	} `json:"Geometry"`
	VideoCodec  string        `json:"VideoCodec"`
	ChapterList []chapterInfo `json:"ChapterList"`
}

type chapterInfo struct {
	Name string `json:"Name"`
}

type titleSet struct {
	MainFeature *int        `json:"MainFeature"`
	TitleList   []titleInfo `json:"TitleList"`
}

// titles converts the scan result. source is the drive or file that was
// scanned and is used when HandBrake omits a title path. A repeated index
// keeps its first occurrence.
func (ts titleSet) titles(source string) []media.Title {
	out := make([]media.Title, 0, len(ts.TitleList))
	seen := make(map[int]struct{}, len(ts.TitleList))
	for _, ti := range ts.TitleList {
		if _, dup := seen[ti.Index]; dup {
			continue
		}
		seen[ti.Index] = struct{}{}
		path := ti.Path
		if path == "" {
			path = source
		}
		out = append(out, media.Title{
			Source: source,
			Index:  ti.Index,
			Name:   ti.Name,
			Duration: time.Duration(ti.Duration.Hours)*time.Hour +
				time.Duration(ti.Duration.Minutes)*time.Minute +
				time.Duration(ti.Duration.Seconds)*time.Second,
			Width:       ti.Geometry.Width,
			Height:      ti.Geometry.Height,
			VideoCodec:  ti.VideoCodec,
			Chapters:    len(ti.ChapterList),
			FileName:    filepath.Base(path),
			MainFeature: ts.MainFeature != nil && *ts.MainFeature == ti.Index,
		})
	}
	return out
}
