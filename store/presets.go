package store

// Preset names a quality preset a user can pick for the final encode.
type Preset string

const (
	Preset1080pH264 Preset = "1080p_h264"
	Preset1080pHEVC Preset = "1080p_hevc"
	Preset720pH264  Preset = "720p_h264"
	Preset720pHEVC  Preset = "720p_hevc"
	Preset480pH264  Preset = "480p_h264"
	Preset480pHEVC  Preset = "480p_hevc"
	PresetCustom    Preset = "custom"
)

// PresetSpec is the concrete encoder configuration behind a preset.
type PresetSpec struct {
	Name         string
	Resolution   string // "W:H", empty keeps the source resolution
	VideoCodec   string
	CRF          string
	SpeedPreset  string
	AudioBitrate string
}

var presetTable = map[Preset]PresetSpec{
	Preset1080pH264: {
		Name:         "1080p H.264",
		Resolution:   "1920:1080",
		VideoCodec:   "libx264",
		CRF:          "23",
		SpeedPreset:  "medium",
		AudioBitrate: "192k",
	},
	Preset1080pHEVC: {
		Name:         "1080p HEVC/H.265",
		Resolution:   "1920:1080",
		VideoCodec:   "libx265",
		CRF:          "28",
		SpeedPreset:  "medium",
		AudioBitrate: "192k",
	},
	Preset720pH264: {
		Name:         "720p H.264",
		Resolution:   "1280:720",
		VideoCodec:   "libx264",
		CRF:          "23",
		SpeedPreset:  "medium",
		AudioBitrate: "128k",
	},
	Preset720pHEVC: {
		Name:         "720p HEVC/H.265",
		Resolution:   "1280:720",
		VideoCodec:   "libx265",
		CRF:          "28",
		SpeedPreset:  "medium",
		AudioBitrate: "128k",
	},
	Preset480pH264: {
		Name:         "480p H.264",
		Resolution:   "854:480",
		VideoCodec:   "libx264",
		CRF:          "23",
		SpeedPreset:  "medium",
		AudioBitrate: "96k",
	},
	Preset480pHEVC: {
		Name:         "480p HEVC/H.265",
		Resolution:   "854:480",
		VideoCodec:   "libx265",
		CRF:          "28",
		SpeedPreset:  "medium",
		AudioBitrate: "96k",
	},
	PresetCustom: {
		Name:         "Custom Settings",
		VideoCodec:   "libx264",
		CRF:          "23",
		SpeedPreset:  "medium",
		AudioBitrate: "128k",
	},
}

// LookupPreset returns the spec behind a preset name.
func LookupPreset(p Preset) (PresetSpec, bool) {
	spec, ok := presetTable[p]
	return spec, ok
}

// Presets lists every selectable preset.
func Presets() []Preset {
	return []Preset{
		Preset1080pH264, Preset1080pHEVC,
		Preset720pH264, Preset720pHEVC,
		Preset480pH264, Preset480pHEVC,
		PresetCustom,
	}
}
