package probe

import "fmt"

// MediaProperties holds the stream facts that decide whether inputs can be
// concatenated without re-encoding, plus the totals the progress reporter
// and uploader need.
type MediaProperties struct {
	Width           int
	Height          int
	FrameRate       float64
	VideoCodec      string
	AudioCodec      string
	PixelFormat     string
	AudioSampleRate int
	DurationSeconds float64
	Container       string
	HasVideo        bool
	HasAudio        bool
	SizeBytes       int64
}

// ErrorKind classifies why a probe failed.
type ErrorKind int

const (
	// NotFound means the input path does not exist or is unreadable.
	NotFound ErrorKind = iota
	// NoVideoStream means ffprobe parsed the file but found no video.
	NoVideoStream
	// MalformedOutput means ffprobe produced JSON we could not use.
	MalformedOutput
	// ToolTimeout means ffprobe exceeded the configured deadline.
	ToolTimeout
	// ToolNonZeroExit means ffprobe itself failed on the input.
	ToolNonZeroExit
)

func (k ErrorKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case NoVideoStream:
		return "no video stream"
	case MalformedOutput:
		return "malformed output"
	case ToolTimeout:
		return "tool timeout"
	case ToolNonZeroExit:
		return "tool non-zero exit"
	}
	return "unknown"
}

// ProbeError wraps an ffprobe failure with its classification so callers
// can decide between fallback encoding and aborting the job.
type ProbeError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe %s: %s: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("probe %s: %s", e.Path, e.Kind)
}

func (e *ProbeError) Unwrap() error { return e.Err }
