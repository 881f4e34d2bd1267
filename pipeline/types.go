package pipeline

import (
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Status is a job's position in its lifecycle.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusFetching   Status = "fetching"
	StatusAnalyzing  Status = "analyzing"
	StatusMerging    Status = "merging"
	StatusEncoding   Status = "encoding"
	StatusVerifying  Status = "verifying"
	StatusUploading  Status = "uploading"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// validTransitions encodes the one-way flow through the pipeline.
// Terminal states have no exits.
var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusFetching, StatusFailed, StatusCancelled},
	StatusFetching:   {StatusAnalyzing, StatusFailed, StatusCancelled},
	StatusAnalyzing:  {StatusMerging, StatusEncoding, StatusVerifying, StatusFailed, StatusCancelled},
	StatusMerging:    {StatusEncoding, StatusVerifying, StatusFailed, StatusCancelled},
	StatusEncoding:   {StatusVerifying, StatusFailed, StatusCancelled},
	StatusVerifying:  {StatusUploading, StatusFailed, StatusCancelled},
	StatusUploading:  {StatusFinalizing, StatusFailed, StatusCancelled},
	StatusFinalizing: {StatusCompleted, StatusFailed, StatusCancelled},
}

func isValidTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Mode is the kind of work a job performs.
type Mode string

const (
	ModeMergeVideoVideo    Mode = "merge_video_video"
	ModeMergeVideoAudio    Mode = "merge_video_audio"
	ModeMergeVideoSubtitle Mode = "merge_video_subtitle"
	ModeEncode             Mode = "encode"
)

// SourceKind says where an input comes from.
type SourceKind string

const (
	SourceURL       SourceKind = "url"
	SourceTransport SourceKind = "transport"
	SourceLocal     SourceKind = "local"
)

// MediaKind is the stream type an input contributes to the merge.
type MediaKind string

const (
	KindVideo    MediaKind = "video"
	KindAudio    MediaKind = "audio"
	KindSubtitle MediaKind = "subtitle"
)

var audioExtensions = map[string]bool{
	".mp3": true, ".m4a": true, ".aac": true, ".flac": true,
	".wav": true, ".ogg": true, ".opus": true, ".wma": true,
}

var subtitleExtensions = map[string]bool{
	".srt": true, ".ass": true, ".ssa": true, ".vtt": true, ".sub": true,
}

// KindForRef classifies an input by its file extension. Anything not
// recognized as audio or subtitle is treated as video.
func KindForRef(ref string) MediaKind {
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		ref = ref[:i]
	}
	ext := strings.ToLower(path.Ext(ref))
	switch {
	case audioExtensions[ext]:
		return KindAudio
	case subtitleExtensions[ext]:
		return KindSubtitle
	}
	return KindVideo
}

// MediaRef identifies one input to a job.
type MediaRef struct {
	Origin SourceKind `json:"origin"`

	// URL for SourceURL, transport file reference for SourceTransport,
	// filesystem path for SourceLocal.
	Ref string `json:"ref"`

	// Kind is derived from the extension when the request is submitted.
	Kind MediaKind `json:"kind"`
}

// Destination says where the finished file goes.
type Destination string

const (
	DestTransport Destination = "transport"
	DestGofile    Destination = "gofile"
)

// Request describes a job to submit.
type Request struct {
	UserID     string
	SessionKey string
	ChatID     string
	Inputs     []MediaRef

	// Mode is inferred from the inputs when empty.
	Mode Mode

	// PostEncode re-encodes the merged result with the user's settings.
	PostEncode bool

	Dest       Destination
	OutputName string
}

// inferMode picks a mode from the input kinds: a single input means
// encode, one audio or subtitle input means the corresponding mux, and
// anything else is a video-video merge.
func inferMode(inputs []MediaRef) Mode {
	if len(inputs) == 1 {
		return ModeEncode
	}
	for _, in := range inputs {
		switch in.Kind {
		case KindAudio:
			return ModeMergeVideoAudio
		case KindSubtitle:
			return ModeMergeVideoSubtitle
		}
	}
	return ModeMergeVideoVideo
}

// Result is what a finished job produced.
type Result struct {
	Path         string `json:"path,omitempty"`
	DownloadPage string `json:"download_page,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
}

// Job is the tracked state of one submitted request.
type Job struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	SessionKey string      `json:"session_key,omitempty"`
	ChatID     string      `json:"chat_id,omitempty"`
	Inputs     []MediaRef  `json:"inputs"`
	Mode       Mode        `json:"mode"`
	PostEncode bool        `json:"post_encode,omitempty"`
	Dest       Destination `json:"dest"`
	OutputName string      `json:"output_name,omitempty"`

	Status   Status  `json:"status"`
	Stage    string  `json:"stage,omitempty"`
	Fraction float64 `json:"fraction"`
	Error    string  `json:"error,omitempty"`
	Result   Result  `json:"result"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

func (j *Job) wantsEncode() bool {
	return j.Mode == ModeEncode || j.PostEncode
}

// CancelSummary reports what a user-wide cancel swept away.
type CancelSummary struct {
	QueueCleared        int `json:"queue_cleared"`
	ProcessesTerminated int `json:"processes_terminated"`
	FilesCleaned        int `json:"files_cleaned"`
}

var (
	// ErrAlreadyRunning means the user already has a job on this session.
	ErrAlreadyRunning = errors.New("a job is already running for this session")
	// ErrTooManyJobs means the global concurrency cap is reached.
	ErrTooManyJobs = errors.New("too many concurrent jobs")
	// ErrNoInputs means the request had nothing to work on.
	ErrNoInputs = errors.New("at least two inputs are required to merge")
	// ErrBadMode means the mode does not fit the supplied inputs.
	ErrBadMode = errors.New("mode does not match the supplied inputs")
	// ErrNotFound means no job with that ID is tracked.
	ErrNotFound = errors.New("job not found")
)
