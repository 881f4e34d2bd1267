package probe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Realistic ffprobe JSON for an MP4 with one h264 video stream and one
// AAC audio stream, plus cover art that must not be picked as video.
const sampleMP4 = `{
  "streams": [
    {
      "index": 0,
      "codec_name": "mjpeg",
      "codec_type": "video",
      "width": 600,
      "height": 900,
      "pix_fmt": "yuvj444p",
      "disposition": { "default": 0, "attached_pic": 1 }
    },
    {
      "index": 1,
      "codec_name": "h264",
      "codec_type": "video",
      "pix_fmt": "yuv420p",
      "width": 1280,
      "height": 720,
      "avg_frame_rate": "30000/1001",
      "disposition": { "default": 1, "attached_pic": 0 }
    },
    {
      "index": 2,
      "codec_name": "aac",
      "codec_type": "audio",
      "sample_rate": "48000",
      "disposition": { "default": 1 }
    }
  ],
  "format": {
    "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
    "duration": "123.456000",
    "size": "10485760"
  }
}`

const sampleAudioOnly = `{
  "streams": [
    {
      "index": 0,
      "codec_name": "mp3",
      "codec_type": "audio",
      "sample_rate": "44100"
    }
  ],
  "format": { "format_name": "mp3", "duration": "60.0" }
}`

func TestParseJSON(t *testing.T) {
	t.Run("extracts primary streams", func(t *testing.T) {
		mp, err := ParseJSON([]byte(sampleMP4))
		require.NoError(t, err)

		assert.Equal(t, 1280, mp.Width)
		assert.Equal(t, 720, mp.Height)
		assert.Equal(t, "h264", mp.VideoCodec)
		assert.Equal(t, "yuv420p", mp.PixelFormat)
		assert.InDelta(t, 29.97, mp.FrameRate, 0.001)
		assert.True(t, mp.HasVideo)
		assert.True(t, mp.HasAudio)
		assert.Equal(t, "aac", mp.AudioCodec)
		assert.Equal(t, 48000, mp.AudioSampleRate)
		assert.InDelta(t, 123.456, mp.DurationSeconds, 0.001)
		assert.Equal(t, int64(10485760), mp.SizeBytes)
	})

	t.Run("rejects files without a video stream", func(t *testing.T) {
		_, err := ParseJSON([]byte(sampleAudioOnly))
		var pe *ProbeError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, NoVideoStream, pe.Kind)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		_, err := ParseJSON([]byte("{not json"))
		var pe *ProbeError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, MalformedOutput, pe.Kind)
	})
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30000/1001", 29.97},
		{"25/1", 25.0},
		{"24000/1001", 23.98},
		{"30", 30.0},
		{"0/0", 30.0},
		{"garbage", 30.0},
		{"", 30.0},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ParseFrameRate(tc.in), "input %q", tc.in)
	}
}

func TestCompatibleForFastMerge(t *testing.T) {
	base := func() *MediaProperties {
		return &MediaProperties{
			Width: 1920, Height: 1080,
			FrameRate:       29.97,
			VideoCodec:      "h264",
			AudioCodec:      "aac",
			PixelFormat:     "yuv420p",
			AudioSampleRate: 48000,
		}
	}

	t.Run("identical inputs qualify", func(t *testing.T) {
		assert.True(t, CompatibleForFastMerge([]*MediaProperties{base(), base(), base()}))
	})

	t.Run("single input never qualifies", func(t *testing.T) {
		assert.False(t, CompatibleForFastMerge([]*MediaProperties{base()}))
	})

	t.Run("frame rate within tolerance qualifies", func(t *testing.T) {
		b := base()
		b.FrameRate = 30.0
		assert.True(t, CompatibleForFastMerge([]*MediaProperties{base(), b}))
	})

	t.Run("frame rate beyond tolerance fails", func(t *testing.T) {
		b := base()
		b.FrameRate = 25.0
		assert.False(t, CompatibleForFastMerge([]*MediaProperties{base(), b}))
	})

	t.Run("codec mismatch fails", func(t *testing.T) {
		b := base()
		b.VideoCodec = "hevc"
		assert.False(t, CompatibleForFastMerge([]*MediaProperties{base(), b}))
	})

	t.Run("resolution mismatch fails", func(t *testing.T) {
		b := base()
		b.Height = 720
		assert.False(t, CompatibleForFastMerge([]*MediaProperties{base(), b}))
	})
}

func TestTotalDuration(t *testing.T) {
	props := []*MediaProperties{
		{DurationSeconds: 10.5},
		{DurationSeconds: 20.25},
	}
	assert.InDelta(t, 30.75, TotalDuration(props), 0.001)
}
