package handbrake

import (
	"regexp"
	"strings"
	"sync"
)

// Block kinds emitted by HandBrakeCLI --json.
const (
	blockVersion  = "Version"
	blockProgress = "Progress"
	blockTitleSet = "JSON Title Set"
)

var (
	blockHeader = regexp.MustCompile(`^([A-Za-z][^":]*):\s*\{`)
	// HandBrake's stderr activity log shares the line stream with the JSON
	// blocks on stdout.
	activityLine = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\]`)
)

// blockStream reassembles the labelled JSON objects HandBrakeCLI prints, e.g.
//
//	Progress: {
//	    "State": "WORKING",
//	    ...
//	}
//
// A block is emitted as soon as its braces balance. Lines arrive from two
// reader goroutines, so feed is locked.
type blockStream struct {
	emit func(kind string, body []byte)

	mu    sync.Mutex
	kind  string
	buf   strings.Builder
	depth int
	open  bool
}

func newBlockStream(emit func(kind string, body []byte)) *blockStream {
	return &blockStream{emit: emit}
}

func (s *blockStream) feed(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if activityLine.MatchString(line) {
		return
	}
	if m := blockHeader.FindStringSubmatchIndex(line); m != nil {
		s.flushLocked()
		s.kind = line[m[2]:m[3]]
		s.open = true
		s.buf.Reset()
		s.depth = 0
		// keep the opening brace and anything after it
		s.appendLocked(line[m[1]-1:])
		return
	}
	if s.open {
		s.appendLocked(line)
	}
}

// close emits a block left open when the process exited.
func (s *blockStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

func (s *blockStream) appendLocked(text string) {
	s.buf.WriteString(text)
	s.buf.WriteByte('\n')
	s.depth += braceDelta(text)
	if s.depth <= 0 {
		s.flushLocked()
	}
}

func (s *blockStream) flushLocked() {
	if !s.open {
		return
	}
	s.open = false
	body := []byte(s.buf.String())
	s.buf.Reset()
	s.emit(s.kind, body)
}

// braceDelta counts object braces outside of JSON strings.
func braceDelta(text string) int {
	delta := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			delta++
		case c == '}':
			delta--
		}
	}
	return delta
}
