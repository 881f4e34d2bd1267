package probe

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Prober runs ffprobe against local files and turns its JSON output into
// MediaProperties.
type Prober struct {
	Bin string
}

// NewProber returns a Prober using the given ffprobe binary. An empty bin
// falls back to "ffprobe" on PATH.
func NewProber(bin string) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{Bin: bin}
}

// Probe runs a single ffprobe JSON call against path. The caller bounds the
// run time through ctx.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaProperties, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ProbeError{Kind: NotFound, Path: path, Err: err}
	}

	cmd := exec.CommandContext(ctx, p.Bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &ProbeError{Kind: ToolTimeout, Path: path, Err: ctx.Err()}
		}
		return nil, &ProbeError{Kind: ToolNonZeroExit, Path: path, Err: err}
	}

	props, err := ParseJSON(out)
	if err != nil {
		var pe *ProbeError
		if errors.As(err, &pe) {
			pe.Path = path
			return nil, pe
		}
		return nil, &ProbeError{Kind: MalformedOutput, Path: path, Err: err}
	}
	props.SizeBytes = info.Size()
	return props, nil
}

// ParseJSON converts raw ffprobe JSON output into MediaProperties.
// Exported for testing without a real ffprobe binary.
func ParseJSON(data []byte) (*MediaProperties, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ProbeError{Kind: MalformedOutput, Err: err}
	}

	mp := &MediaProperties{
		Container:       raw.Format.FormatName,
		DurationSeconds: parseFloat(raw.Format.Duration),
		SizeBytes:       parseInt64(raw.Format.Size),
	}

	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			if mp.HasVideo || s.Disposition["attached_pic"] == 1 {
				continue
			}
			mp.HasVideo = true
			mp.Width = s.Width
			mp.Height = s.Height
			mp.VideoCodec = s.CodecName
			mp.PixelFormat = s.PixFmt
			mp.FrameRate = ParseFrameRate(s.AvgFrameRate)
		case "audio":
			if mp.HasAudio {
				continue
			}
			mp.HasAudio = true
			mp.AudioCodec = s.CodecName
			mp.AudioSampleRate = parseInt(s.SampleRate)
		}
	}

	if !mp.HasVideo {
		return nil, &ProbeError{Kind: NoVideoStream}
	}
	return mp, nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

type ffprobeStream struct {
	CodecName    string         `json:"codec_name"`
	CodecType    string         `json:"codec_type"`
	PixFmt       string         `json:"pix_fmt"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	AvgFrameRate string         `json:"avg_frame_rate"`
	SampleRate   string         `json:"sample_rate"`
	Disposition  map[string]int `json:"disposition"`
}

// --- Numeric parsing helpers (ffprobe returns numbers as strings) ---

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
