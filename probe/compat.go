package probe

import (
	"math"
	"strconv"
	"strings"
)

// frameRateTolerance is how far apart two frame rates may be and still
// count as equal for lossless concatenation.
const frameRateTolerance = 0.1

// ParseFrameRate converts an ffprobe rational like "30000/1001" into a
// float rounded to two decimals. A zero denominator or unparseable value
// yields 30.0, so a single broken stream does not sink the whole merge.
func ParseFrameRate(rational string) float64 {
	num, den, ok := strings.Cut(rational, "/")
	if !ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(rational), 64)
		if err != nil {
			return 30.0
		}
		return round2(f)
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 30.0
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
	if err != nil || d == 0 {
		return 30.0
	}
	return round2(n / d)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// CompatibleForFastMerge reports whether every input shares the stream
// properties that `-c copy` concatenation requires: resolution, codecs,
// pixel format, audio sample rate, and frame rate within tolerance.
// Fewer than two inputs never qualify.
func CompatibleForFastMerge(props []*MediaProperties) bool {
	if len(props) < 2 {
		return false
	}

	first := props[0]
	for _, p := range props[1:] {
		if p.Width != first.Width || p.Height != first.Height {
			return false
		}
		if p.VideoCodec != first.VideoCodec || p.AudioCodec != first.AudioCodec {
			return false
		}
		if p.PixelFormat != first.PixelFormat {
			return false
		}
		if p.AudioSampleRate != first.AudioSampleRate {
			return false
		}
		if math.Abs(p.FrameRate-first.FrameRate) > frameRateTolerance {
			return false
		}
	}
	return true
}

// TotalDuration sums the durations of all inputs, for progress tracking
// across a multi-file merge.
func TotalDuration(props []*MediaProperties) float64 {
	var total float64
	for _, p := range props {
		total += p.DurationSeconds
	}
	return total
}
