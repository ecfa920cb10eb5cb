package services

// EncodeRequest describes one transcode. Input is a file path, or the drive
// path when Disc is set. TitleIndex selects the title; 0 lets the tool pick
// its default (the main feature).
type EncodeRequest struct {
	Input      string
	TitleIndex int
	Output     string
	Disc       bool
}
