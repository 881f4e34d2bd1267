package store

import (
	"github.com/pkg/errors"

	"github.com/SunilSharmaNP/ssm/ffmpeg"
)

// Settings holds a user's persisted encoding preferences. Custom fields
// are overrides; empty means "use the preset value".
type Settings struct {
	Preset Preset `json:"preset"`

	CustomVideoCodec   string `json:"custom_video_codec,omitempty"`
	CustomCRF          string `json:"custom_crf,omitempty"`
	CustomSpeedPreset  string `json:"custom_speed_preset,omitempty"`
	CustomResolution   string `json:"custom_resolution,omitempty"`
	CustomAudioCodec   string `json:"custom_audio_codec,omitempty"`
	CustomAudioBitrate string `json:"custom_audio_bitrate,omitempty"`

	// ExtraFlags is a raw flag string appended to the encode command
	// after validation.
	ExtraFlags string `json:"extra_flags,omitempty"`
}

// Resolved is the final encoder configuration after applying overrides.
type Resolved struct {
	VideoCodec   string
	CRF          string
	SpeedPreset  string
	Resolution   string
	AudioCodec   string
	AudioBitrate string
	ExtraArgs    []string
}

// DefaultSettings is what a user gets before ever touching the settings.
func DefaultSettings() Settings {
	return Settings{Preset: Preset720pH264}
}

// Resolve turns Settings into a concrete encoder configuration: preset
// first, then non-empty custom fields on top.
func (s Settings) Resolve() (Resolved, error) {
	preset := s.Preset
	if preset == "" {
		preset = Preset720pH264
	}
	spec, ok := LookupPreset(preset)
	if !ok {
		return Resolved{}, errors.Errorf("unknown preset %q", preset)
	}

	r := Resolved{
		VideoCodec:   spec.VideoCodec,
		CRF:          spec.CRF,
		SpeedPreset:  spec.SpeedPreset,
		Resolution:   spec.Resolution,
		AudioCodec:   "aac",
		AudioBitrate: spec.AudioBitrate,
	}

	if s.CustomVideoCodec != "" {
		r.VideoCodec = s.CustomVideoCodec
	}
	if s.CustomCRF != "" {
		r.CRF = s.CustomCRF
	}
	if s.CustomSpeedPreset != "" {
		r.SpeedPreset = s.CustomSpeedPreset
	}
	if s.CustomResolution != "" {
		r.Resolution = s.CustomResolution
	}
	if s.CustomAudioCodec != "" {
		r.AudioCodec = s.CustomAudioCodec
	}
	if s.CustomAudioBitrate != "" {
		r.AudioBitrate = s.CustomAudioBitrate
	}

	extra, err := ffmpeg.ValidateExtraArgs(s.ExtraFlags)
	if err != nil {
		return Resolved{}, errors.Wrap(err, "extra flags")
	}
	r.ExtraArgs = extra
	return r, nil
}

// EncodeParams converts the resolved configuration into ffmpeg builder
// input.
func (r Resolved) EncodeParams() ffmpeg.EncodeParams {
	return ffmpeg.EncodeParams{
		VideoCodec:   r.VideoCodec,
		CRF:          r.CRF,
		SpeedPreset:  r.SpeedPreset,
		Resolution:   r.Resolution,
		AudioCodec:   r.AudioCodec,
		AudioBitrate: r.AudioBitrate,
		ExtraArgs:    r.ExtraArgs,
	}
}
