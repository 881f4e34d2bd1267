package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TargetParams describe the uniform format every input is normalized to
// before a re-encoding merge.
type TargetParams struct {
	Width           int
	Height          int
	FPS             float64
	PixelFormat     string
	AudioSampleRate int
}

// EncodeParams describe a user-selected final encode.
type EncodeParams struct {
	VideoCodec   string
	CRF          string
	SpeedPreset  string
	Resolution   string // "W:H", empty keeps the source resolution
	AudioCodec   string
	AudioBitrate string
	ExtraArgs    []string
}

// ConcatArgs builds the lossless concat command. It requires every input
// to share stream properties; compatibility is the caller's problem.
func ConcatArgs(listPath, outputPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "info", "-y",
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-map", "0", "-c", "copy", "-f", "matroska",
		outputPath,
	}
}

// StandardizeArgs builds the normalization command for one input: scale
// with letterboxing to the target frame, constant fps, uniform pixel
// format and audio.
func StandardizeArgs(inputPath, outputPath string, target TargetParams) []string {
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%g,format=%s",
		target.Width, target.Height, target.Width, target.Height,
		target.FPS, target.PixelFormat,
	)
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-vf", vf,
		"-c:v", "libx264", "-preset", "fast", "-crf", "23",
		"-c:a", "aac", "-ar", fmt.Sprint(target.AudioSampleRate), "-ac", "2", "-b:a", "128k",
		"-map", "0:v:0", "-map", "0:a:0?", "-f", "matroska",
		outputPath,
	}
}

// MuxAudioArgs builds the command that replaces a video's audio track
// with a separate audio file, copying both streams.
func MuxAudioArgs(videoPath, audioPath, outputPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "info", "-y",
		"-i", videoPath, "-i", audioPath,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c", "copy", "-f", "matroska",
		outputPath,
	}
}

// MuxSubtitleArgs builds the command that adds a subtitle track to a
// video, copying the existing streams.
func MuxSubtitleArgs(videoPath, subtitlePath, outputPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "info", "-y",
		"-i", videoPath, "-i", subtitlePath,
		"-map", "0", "-map", "1",
		"-c", "copy", "-c:s", "srt", "-f", "matroska",
		outputPath,
	}
}

// EncodeArgs builds the final-encode command from resolved user settings.
func EncodeArgs(inputPath, outputPath string, p EncodeParams) []string {
	args := []string{"-i", inputPath, "-y"}

	if p.VideoCodec == "copy" {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args, "-c:v", p.VideoCodec, "-crf", p.CRF, "-preset", p.SpeedPreset)
		if p.Resolution != "" {
			vf := fmt.Sprintf(
				"scale=%s:force_original_aspect_ratio=decrease,pad=%s:(ow-iw)/2:(oh-ih)/2",
				p.Resolution, p.Resolution,
			)
			args = append(args, "-vf", vf)
		}
	}

	if p.AudioCodec == "copy" {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c:a", p.AudioCodec, "-b:a", p.AudioBitrate)
	}

	switch p.VideoCodec {
	case "libx264":
		args = append(args, "-profile:v", "high", "-level", "4.0")
	case "libx265":
		args = append(args, "-x265-params", "log-level=error")
	}

	args = append(args, p.ExtraArgs...)
	return append(args, outputPath)
}

// ThumbnailArgs builds the command that grabs a single frame as a JPEG.
func ThumbnailArgs(inputPath, outputPath string, atSeconds float64) []string {
	return []string{
		"-ss", fmt.Sprintf("%.2f", atSeconds),
		"-i", inputPath,
		"-vframes", "1",
		"-q:v", "2",
		"-y", outputPath,
	}
}

// WriteConcatList writes the concat demuxer input list. Single quotes in
// paths get the shell-style escape the demuxer expects.
func WriteConcatList(path string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
