package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Run("preset values pass through", func(t *testing.T) {
		r, err := Settings{Preset: Preset1080pHEVC}.Resolve()
		require.NoError(t, err)

		assert.Equal(t, "libx265", r.VideoCodec)
		assert.Equal(t, "28", r.CRF)
		assert.Equal(t, "medium", r.SpeedPreset)
		assert.Equal(t, "1920:1080", r.Resolution)
		assert.Equal(t, "aac", r.AudioCodec)
		assert.Equal(t, "192k", r.AudioBitrate)
		assert.Empty(t, r.ExtraArgs)
	})

	t.Run("zero settings fall back to 720p h264", func(t *testing.T) {
		r, err := Settings{}.Resolve()
		require.NoError(t, err)

		assert.Equal(t, "libx264", r.VideoCodec)
		assert.Equal(t, "1280:720", r.Resolution)
		assert.Equal(t, "128k", r.AudioBitrate)
	})

	t.Run("custom overrides win over the preset", func(t *testing.T) {
		r, err := Settings{
			Preset:           Preset720pH264,
			CustomCRF:        "18",
			CustomResolution: "640:360",
		}.Resolve()
		require.NoError(t, err)

		assert.Equal(t, "18", r.CRF)
		assert.Equal(t, "640:360", r.Resolution)
		assert.Equal(t, "libx264", r.VideoCodec)
	})

	t.Run("custom preset keeps source resolution", func(t *testing.T) {
		r, err := Settings{Preset: PresetCustom}.Resolve()
		require.NoError(t, err)

		assert.Empty(t, r.Resolution)
		assert.Equal(t, "libx264", r.VideoCodec)
		assert.Equal(t, "23", r.CRF)
	})

	t.Run("extra flags are split and validated", func(t *testing.T) {
		r, err := Settings{
			Preset:     Preset720pH264,
			ExtraFlags: "-movflags +faststart",
		}.Resolve()
		require.NoError(t, err)
		assert.Equal(t, []string{"-movflags", "+faststart"}, r.ExtraArgs)
	})

	t.Run("malicious extra flags are rejected", func(t *testing.T) {
		_, err := Settings{
			Preset:     Preset720pH264,
			ExtraFlags: "-vf $(reboot)",
		}.Resolve()
		assert.Error(t, err)
	})

	t.Run("unknown preset errors", func(t *testing.T) {
		_, err := Settings{Preset: "4320p_av1"}.Resolve()
		assert.Error(t, err)
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	got, err := s.Get("7")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), got)

	want := Settings{Preset: Preset1080pH264, CustomCRF: "20"}
	require.NoError(t, s.Put("7", want))

	got, err = s.Get("7")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Other users keep their defaults.
	got, err = s.Get("8")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), got)
}

func TestPresetTable(t *testing.T) {
	for _, p := range Presets() {
		spec, ok := LookupPreset(p)
		require.True(t, ok, string(p))
		assert.NotEmpty(t, spec.Name)
		assert.NotEmpty(t, spec.VideoCodec)
		assert.NotEmpty(t, spec.CRF)
		assert.NotEmpty(t, spec.AudioBitrate)
	}

	_, ok := LookupPreset("nope")
	assert.False(t, ok)
}
