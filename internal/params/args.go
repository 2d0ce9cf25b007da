package params

import (
	"fmt"
	"strconv"

	"transcode-engine/internal/capability"
	"transcode-engine/pkg/models"
)

// buildArgs assembles the full ffmpeg argument list. Input options precede
// -i; -progress pipe:1 sends structured telemetry to stdout every half
// second for the runner to consume. Deterministic for identical inputs.
func buildArgs(req models.TranscodeRequest, r *Resolved) []string {
	args := []string{"-hide_banner", "-nostdin"}
	args = append(args, hwInputArgs(r.Accel)...)
	args = append(args, "-i", req.SourcePath)
	args = append(args, "-c:v", r.Encoder)
	args = append(args, rateControlArgs(req, r.Encoder)...)
	args = append(args, presetArgs(req.Preset, r.Encoder)...)
	args = append(args, audioArgs(req)...)
	args = append(args,
		"-progress", "pipe:1",
		"-stats_period", "0.5",
		"-y",
		r.OutputPath,
	)
	return args
}

// hwInputArgs emits the decode-side acceleration flags. These go before -i.
func hwInputArgs(a capability.Accel) []string {
	switch a {
	case capability.AccelNVENC:
		return []string{"-hwaccel", "cuda"}
	case capability.AccelQSV:
		return []string{"-hwaccel", "qsv"}
	case capability.AccelVideoToolbox:
		return []string{"-hwaccel", "videotoolbox"}
	default:
		// AMF and VAAPI encode from system memory here; software needs
		// nothing.
		return nil
	}
}

// rateControlArgs maps the request's quality or bitrate selection to the
// encoder family's native rate-control flags.
func rateControlArgs(req models.TranscodeRequest, encoder string) []string {
	q := strconv.Itoa(req.Quality)
	target := fmt.Sprintf("%dk", req.TargetBitrateKbps)
	maxRate := fmt.Sprintf("%dk", req.MaxBitrateKbps)

	if req.RateControl == models.RateBitrate {
		switch family(encoder) {
		case famNVENC:
			return []string{"-rc", "vbr", "-b:v", target, "-maxrate", maxRate}
		case famVP9:
			return []string{"-b:v", target, "-maxrate", maxRate, "-deadline", "good", "-row-mt", "1"}
		default:
			return []string{"-b:v", target, "-maxrate", maxRate, "-bufsize", maxRate}
		}
	}

	// Constant quality.
	switch family(encoder) {
	case famNVENC:
		return []string{"-rc", "vbr", "-cq", q, "-b:v", "0"}
	case famQSV:
		return []string{"-global_quality", q}
	case famAMF:
		return []string{"-rc", "cqp", "-qp_i", q, "-qp_p", q}
	case famVAAPI:
		return []string{"-qp", q}
	case famVP9:
		return []string{"-b:v", "0", "-crf", q, "-deadline", "good", "-row-mt", "1"}
	default:
		return []string{"-crf", q}
	}
}

// presetArgs maps the generic preset ladder to encoder-native values.
func presetArgs(p models.Preset, encoder string) []string {
	switch family(encoder) {
	case famNVENC:
		return []string{"-preset", map[models.Preset]string{
			models.PresetUltrafast: "p1",
			models.PresetFast:      "p3",
			models.PresetMedium:    "p4",
			models.PresetSlow:      "p6",
			models.PresetVeryslow:  "p7",
		}[p]}
	case famQSV:
		return []string{"-preset", map[models.Preset]string{
			models.PresetUltrafast: "veryfast",
			models.PresetFast:      "faster",
			models.PresetMedium:    "medium",
			models.PresetSlow:      "slower",
			models.PresetVeryslow:  "veryslow",
		}[p]}
	case famSVTAV1:
		return []string{"-preset", map[models.Preset]string{
			models.PresetUltrafast: "12",
			models.PresetFast:      "10",
			models.PresetMedium:    "8",
			models.PresetSlow:      "5",
			models.PresetVeryslow:  "2",
		}[p]}
	case famVP9:
		return []string{"-cpu-used", map[models.Preset]string{
			models.PresetUltrafast: "8",
			models.PresetFast:      "6",
			models.PresetMedium:    "4",
			models.PresetSlow:      "2",
			models.PresetVeryslow:  "0",
		}[p]}
	case famAMF:
		return []string{"-quality", map[models.Preset]string{
			models.PresetUltrafast: "speed",
			models.PresetFast:      "speed",
			models.PresetMedium:    "balanced",
			models.PresetSlow:      "quality",
			models.PresetVeryslow:  "quality",
		}[p]}
	case famVAAPI, famVideoToolbox:
		return nil
	default:
		// libx264 / libx265 take the ladder names directly.
		return []string{"-preset", string(p)}
	}
}

// audioArgs emits the audio codec selection. Passthrough copies the source
// stream; flac is lossless and takes no bitrate.
func audioArgs(req models.TranscodeRequest) []string {
	switch req.AudioCodec {
	case models.AudioCopy:
		return []string{"-c:a", "copy"}
	case models.AudioFLAC:
		return []string{"-c:a", "flac"}
	case models.AudioMP3:
		return []string{"-c:a", "libmp3lame", "-b:a", fmt.Sprintf("%dk", req.AudioBitrateKbps)}
	default:
		return []string{"-c:a", "aac", "-b:a", fmt.Sprintf("%dk", req.AudioBitrateKbps)}
	}
}

type encoderFamily int

const (
	famSoftwareH26x encoderFamily = iota
	famNVENC
	famQSV
	famAMF
	famVAAPI
	famVideoToolbox
	famVP9
	famSVTAV1
)

func family(encoder string) encoderFamily {
	switch encoder {
	case "h264_nvenc", "hevc_nvenc", "av1_nvenc":
		return famNVENC
	case "h264_qsv", "hevc_qsv", "av1_qsv", "vp9_qsv":
		return famQSV
	case "h264_amf", "hevc_amf", "av1_amf":
		return famAMF
	case "h264_vaapi", "hevc_vaapi", "av1_vaapi":
		return famVAAPI
	case "h264_videotoolbox", "hevc_videotoolbox":
		return famVideoToolbox
	case "libvpx-vp9":
		return famVP9
	case "libsvtav1":
		return famSVTAV1
	default:
		return famSoftwareH26x
	}
}
