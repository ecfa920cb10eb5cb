package makemkv

import (
	"strconv"
	"strings"
)

// robotLine is one parsed line of makemkvcon --robot output, e.g.
// TINFO:0,9,0,"1:58:02" becomes {Kind: "TINFO", Fields: ["0","9","0","1:58:02"]}.
type robotLine struct {
	Kind   string
	Fields []string
}

// parseRobotLine splits a robot-mode line into its prefix and comma
// separated fields. Commas inside double quotes do not split and the quotes
// are removed.
func parseRobotLine(line string) (robotLine, bool) {
	line = strings.TrimSpace(line)
	kind, payload, ok := strings.Cut(line, ":")
	if !ok || kind == "" || strings.ContainsAny(kind, " \t\"") {
		return robotLine{}, false
	}
	fields := make([]string, 0, 8)
	inQuote := false
	start := 0
	for i := 0; i < len(payload); i++ {
		switch payload[i] {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				fields = append(fields, trimField(payload[start:i]))
				start = i + 1
			}
		}
	}
	fields = append(fields, trimField(payload[start:]))
	return robotLine{Kind: kind, Fields: fields}, true
}

func trimField(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"")
}

func (l robotLine) int(i int) (int, bool) {
	if i >= len(l.Fields) {
		return 0, false
	}
	n, err := strconv.Atoi(l.Fields[i])
	return n, err == nil
}

func (l robotLine) int64(i int) (int64, bool) {
	if i >= len(l.Fields) {
		return 0, false
	}
	n, err := strconv.ParseInt(l.Fields[i], 10, 64)
	return n, err == nil
}

func (l robotLine) str(i int) string {
	if i >= len(l.Fields) {
		return ""
	}
	return l.Fields[i]
}

// parseResolution reads the leading "WxH" of values like "1920x1080 (16:9)".
func parseResolution(value string) (int, int) {
	value = strings.TrimSpace(value)
	if i := strings.IndexByte(value, ' '); i >= 0 {
		value = value[:i]
	}
	w, h, ok := strings.Cut(value, "x")
	if !ok {
		return 0, 0
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0
	}
	return width, height
}
