package models

import (
	"fmt"
	"time"
)

// --- Request types (produced by the presentation layer) ---

// HwPreference controls whether a hardware encoder may or must be used.
type HwPreference string

const (
	HwAuto     HwPreference = "auto"     // hardware when available, software otherwise
	HwForced   HwPreference = "forced"   // hardware or fail
	HwDisabled HwPreference = "disabled" // always software
)

// Container is the target output container format.
type Container string

const (
	ContainerMP4  Container = "mp4"
	ContainerMKV  Container = "mkv"
	ContainerWebM Container = "webm"
)

// Extension returns the file extension for the container, without the dot.
func (c Container) Extension() string { return string(c) }

// VideoCodec is a target video codec, independent of the encoder used.
type VideoCodec string

const (
	CodecH264 VideoCodec = "h264"
	CodecHEVC VideoCodec = "hevc"
	CodecVP9  VideoCodec = "vp9"
	CodecAV1  VideoCodec = "av1"
)

// AudioCodec is the target audio codec, or passthrough.
type AudioCodec string

const (
	AudioAAC  AudioCodec = "aac"
	AudioMP3  AudioCodec = "mp3"
	AudioFLAC AudioCodec = "flac"
	AudioCopy AudioCodec = "copy"
)

// RateControl selects between constant-quality and target-bitrate encoding.
type RateControl string

const (
	RateQuality RateControl = "quality"
	RateBitrate RateControl = "bitrate"
)

// Preset is the speed/quality tradeoff ladder. Each encoder maps these to
// its own native preset values.
type Preset string

const (
	PresetUltrafast Preset = "ultrafast"
	PresetFast      Preset = "fast"
	PresetMedium    Preset = "medium"
	PresetSlow      Preset = "slow"
	PresetVeryslow  Preset = "veryslow"
)

// TranscodeRequest is the user intent for one file. Immutable once submitted.
type TranscodeRequest struct {
	SourcePath string `json:"source_path"`
	OutputDir  string `json:"output_dir"`
	// OutputSuffix is appended to the source file stem when generating the
	// output name, e.g. "_transcoded".
	OutputSuffix string `json:"output_suffix,omitempty"`

	Container  Container  `json:"container"`
	VideoCodec VideoCodec `json:"video_codec"`
	AudioCodec AudioCodec `json:"audio_codec"`

	// AudioBitrateKbps applies to lossy audio codecs. Ignored for flac/copy.
	AudioBitrateKbps int `json:"audio_bitrate_kbps,omitempty"`

	RateControl RateControl `json:"rate_control,omitempty"`
	// Quality is the CRF/CQ value for RateQuality mode.
	Quality int `json:"quality,omitempty"`
	// TargetBitrateKbps and MaxBitrateKbps apply to RateBitrate mode.
	TargetBitrateKbps int `json:"target_bitrate_kbps,omitempty"`
	MaxBitrateKbps    int `json:"max_bitrate_kbps,omitempty"`

	Preset   Preset       `json:"preset,omitempty"`
	Hardware HwPreference `json:"hardware,omitempty"`

	// CallbackURL, when set, receives a POST with the job summary once the
	// job reaches a terminal state.
	CallbackURL string `json:"callback_url,omitempty"`
}

// --- Job lifecycle types (exposed to observers) ---

// JobState is the queue-level lifecycle state of a job.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// JobSummary is a point-in-time view of one job, safe to serialize.
type JobSummary struct {
	ID         string   `json:"id"`
	SourcePath string   `json:"source_path"`
	OutputPath string   `json:"output_path"`
	State      JobState `json:"state"`

	Encoder  string `json:"encoder,omitempty"`
	Fallback bool   `json:"fallback"`

	Progress   float64 `json:"progress"` // 0-100
	FPS        float64 `json:"fps,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	ETASeconds int     `json:"eta_seconds,omitempty"`

	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// --- Host telemetry (reported on the status endpoint) ---

// HardwareStats captures real-time host load gathered by the monitor.
type HardwareStats struct {
	// CPU usage percentage (0.0 to 100.0)
	CPUUsagePercent float64 `json:"cpu_usage_percent"`

	// RAM usage percentage (0.0 to 100.0)
	RAMUsagePercent float64 `json:"ram_usage_percent"`

	// Computed flag: is the host too loaded to take more encode work?
	IsBusy bool `json:"is_busy"`
}

// --- Formatting helpers shared with consumers ---

// FormatDuration renders a duration as H:MM:SS, or MM:SS under an hour.
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// FormatSize renders a byte count with a binary unit suffix.
func FormatSize(bytes uint64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.2f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.2f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.2f KB", float64(bytes)/kb)
	}
	return fmt.Sprintf("%d B", bytes)
}
