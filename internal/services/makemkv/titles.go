package makemkv

import (
	"slices"
	"sync"

	"ripforge/internal/media"
)

// TINFO attribute IDs.
const (
	attrName       = 2
	attrChapters   = 8
	attrDuration   = 9
	attrSizeBytes  = 11
	attrResolution = 19
	attrFileName   = 27
)

// SINFO attribute IDs.
const (
	streamAttrType       = 1
	streamAttrCodecShort = 6
	streamAttrResolution = 19
)

type streamKey struct{ title, stream int }

// scanState accumulates an info run. TINFO/SINFO lines may arrive in any
// order and from either output stream.
type scanState struct {
	drive string

	mu     sync.Mutex
	name   string
	titles map[int]*media.Title
	video  map[streamKey]bool
	// first video stream per title
	primary map[int]int
}

func newScanState(drive string) *scanState {
	return &scanState{
		drive:   drive,
		titles:  make(map[int]*media.Title),
		video:   make(map[streamKey]bool),
		primary: make(map[int]int),
	}
}

// disc handles CINFO:attr,code,value; attribute 2 is the disc name.
func (s *scanState) disc(line robotLine) {
	attr, ok := line.int(0)
	if !ok || attr != attrName {
		return
	}
	s.mu.Lock()
	s.name = line.str(2)
	for _, t := range s.titles {
		if t.Name == "" {
			t.Name = s.name
		}
	}
	s.mu.Unlock()
}

func (s *scanState) discName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *scanState) titleLocked(index int) *media.Title {
	t, ok := s.titles[index]
	if !ok {
		t = &media.Title{Source: s.drive, Index: index, Name: s.name}
		s.titles[index] = t
	}
	return t
}

// title handles TINFO:title,attr,code,value.
func (s *scanState) title(line robotLine) {
	index, ok := line.int(0)
	if !ok || index < 0 {
		return
	}
	attr, ok := line.int(1)
	if !ok {
		return
	}
	value := line.str(3)

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.titleLocked(index)
	switch attr {
	case attrName:
		if value != "" {
			t.Name = value
		}
	case attrChapters:
		t.Chapters, _ = line.int(3)
	case attrDuration:
		t.Duration = media.ParseClock(value)
	case attrSizeBytes:
		t.SizeBytes, _ = line.int64(3)
	case attrResolution:
		t.Width, t.Height = parseResolution(value)
	case attrFileName:
		t.FileName = value
	}
}

// stream handles SINFO:title,stream,attr,code,value. Codec and resolution
// come from the first video stream of each title.
func (s *scanState) stream(line robotLine) {
	index, ok := line.int(0)
	if !ok || index < 0 {
		return
	}
	streamIdx, ok := line.int(1)
	if !ok {
		return
	}
	attr, ok := line.int(2)
	if !ok {
		return
	}
	value := line.str(4)
	key := streamKey{index, streamIdx}

	s.mu.Lock()
	defer s.mu.Unlock()
	if attr == streamAttrType {
		if value == "Video" {
			s.video[key] = true
			if _, seen := s.primary[index]; !seen {
				s.primary[index] = streamIdx
			}
		}
		return
	}
	if !s.video[key] || s.primary[index] != streamIdx {
		return
	}
	t := s.titleLocked(index)
	switch attr {
	case streamAttrCodecShort:
		t.VideoCodec = value
	case streamAttrResolution:
		if w, h := parseResolution(value); w > 0 {
			t.Width, t.Height = w, h
		}
	}
}

// result returns the titles ordered by index.
func (s *scanState) result() []media.Title {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]media.Title, 0, len(s.titles))
	for _, t := range s.titles {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b media.Title) int { return a.Index - b.Index })
	return out
}
