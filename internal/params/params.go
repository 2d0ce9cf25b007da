// Package params translates a user-facing transcode request into a concrete
// ffmpeg invocation, applying software fallback when the requested hardware
// path is unavailable. Resolution is a pure function of the request and a
// capability snapshot.
package params

import (
	"fmt"
	"path/filepath"
	"strings"

	"transcode-engine/internal/capability"
	"transcode-engine/pkg/models"
)

// Resolved is the validated, concrete invocation derived from one request.
// Immutable; recompute against a fresh snapshot to retry.
type Resolved struct {
	// Encoder is the concrete ffmpeg encoder, e.g. "hevc_nvenc" or "libx265".
	Encoder string
	// Accel is the acceleration path the encoder belongs to.
	Accel capability.Accel
	// Fallback is set when the requested hardware path was downgraded to
	// software.
	Fallback bool

	OutputPath string
	// Args is the full ffmpeg argument list, input through output.
	Args []string
}

// encoderTable maps codec and vendor path to the ffmpeg encoder name.
// Missing entries mean the vendor has no encoder for that codec.
var encoderTable = map[models.VideoCodec]map[capability.Accel]string{
	models.CodecH264: {
		capability.AccelNVENC:        "h264_nvenc",
		capability.AccelQSV:          "h264_qsv",
		capability.AccelAMF:          "h264_amf",
		capability.AccelVAAPI:        "h264_vaapi",
		capability.AccelVideoToolbox: "h264_videotoolbox",
		capability.AccelSoftware:     "libx264",
	},
	models.CodecHEVC: {
		capability.AccelNVENC:        "hevc_nvenc",
		capability.AccelQSV:          "hevc_qsv",
		capability.AccelAMF:          "hevc_amf",
		capability.AccelVAAPI:        "hevc_vaapi",
		capability.AccelVideoToolbox: "hevc_videotoolbox",
		capability.AccelSoftware:     "libx265",
	},
	models.CodecVP9: {
		capability.AccelQSV:      "vp9_qsv",
		capability.AccelSoftware: "libvpx-vp9",
	},
	models.CodecAV1: {
		capability.AccelNVENC:    "av1_nvenc",
		capability.AccelQSV:      "av1_qsv",
		capability.AccelAMF:      "av1_amf",
		capability.AccelSoftware: "libsvtav1",
	},
}

// containerVideo is the container/video-codec compatibility matrix.
var containerVideo = map[models.Container]map[models.VideoCodec]bool{
	models.ContainerMP4:  {models.CodecH264: true, models.CodecHEVC: true, models.CodecAV1: true},
	models.ContainerMKV:  {models.CodecH264: true, models.CodecHEVC: true, models.CodecVP9: true, models.CodecAV1: true},
	models.ContainerWebM: {models.CodecVP9: true, models.CodecAV1: true},
}

// containerAudio is the container/audio-codec compatibility matrix. Copy is
// accepted everywhere; the engine fails at runtime if the source stream is
// genuinely unmuxable, which the runner reports as an engine failure.
var containerAudio = map[models.Container]map[models.AudioCodec]bool{
	models.ContainerMP4:  {models.AudioAAC: true, models.AudioMP3: true, models.AudioCopy: true},
	models.ContainerMKV:  {models.AudioAAC: true, models.AudioMP3: true, models.AudioFLAC: true, models.AudioCopy: true},
	models.ContainerWebM: {models.AudioCopy: true},
}

const (
	defaultQuality      = 23
	defaultAudioBitrate = 192
	defaultSuffix       = "_transcoded"
)

// Resolve validates the request against the capability snapshot and produces
// the concrete invocation. No side effects.
func Resolve(req models.TranscodeRequest, caps *capability.Set) (*Resolved, error) {
	req = withDefaults(req)

	codecs, ok := encoderTable[req.VideoCodec]
	if !ok {
		return nil, &Error{Kind: KindIncompatibleFormat, Message: fmt.Sprintf("unknown video codec %q", req.VideoCodec)}
	}
	if !containerVideo[req.Container][req.VideoCodec] {
		return nil, &Error{
			Kind:    KindIncompatibleFormat,
			Message: fmt.Sprintf("codec %s cannot be muxed into %s", req.VideoCodec, req.Container),
		}
	}
	if !containerAudio[req.Container][req.AudioCodec] {
		return nil, &Error{
			Kind:    KindIncompatibleFormat,
			Message: fmt.Sprintf("audio codec %s cannot be muxed into %s", req.AudioCodec, req.Container),
		}
	}

	accel, fallback, err := selectAccel(req, caps, codecs)
	if err != nil {
		return nil, err
	}
	encoder := codecs[accel]

	out := outputPath(req)
	r := &Resolved{
		Encoder:    encoder,
		Accel:      accel,
		Fallback:   fallback,
		OutputPath: out,
	}
	r.Args = buildArgs(req, r)
	return r, nil
}

// selectAccel applies the preference/capability decision table:
//
//	forced   + present → hardware
//	forced   + absent  → UnsupportedHardware
//	auto     + present → hardware
//	auto     + absent  → software, fallback flag set
//	disabled + any     → software
func selectAccel(req models.TranscodeRequest, caps *capability.Set, codecs map[capability.Accel]string) (capability.Accel, bool, error) {
	if req.Hardware == models.HwDisabled {
		return capability.AccelSoftware, false, nil
	}

	best := capability.AccelSoftware
	for _, a := range caps.Accels() {
		enc, vendorHas := codecs[a]
		if vendorHas && caps.HasEncoder(enc) {
			best = a
			break
		}
	}

	if best == capability.AccelSoftware {
		if req.Hardware == models.HwForced {
			return "", false, &Error{
				Kind:    KindUnsupportedHardware,
				Message: fmt.Sprintf("no hardware encoder for %s is available on this host", req.VideoCodec),
			}
		}
		// Auto preference downgrades transparently.
		return capability.AccelSoftware, true, nil
	}
	return best, false, nil
}

func withDefaults(req models.TranscodeRequest) models.TranscodeRequest {
	if req.Hardware == "" {
		req.Hardware = models.HwAuto
	}
	if req.RateControl == "" {
		req.RateControl = models.RateQuality
	}
	if req.Quality == 0 {
		req.Quality = defaultQuality
	}
	if req.AudioBitrateKbps == 0 {
		req.AudioBitrateKbps = defaultAudioBitrate
	}
	if req.Preset == "" {
		req.Preset = models.PresetMedium
	}
	if req.AudioCodec == "" {
		req.AudioCodec = models.AudioAAC
	}
	if req.OutputSuffix == "" {
		req.OutputSuffix = defaultSuffix
	}
	if req.MaxBitrateKbps == 0 {
		req.MaxBitrateKbps = req.TargetBitrateKbps * 2
	}
	return req
}

// outputPath joins the source stem, suffix, and container extension under
// the requested output directory.
func outputPath(req models.TranscodeRequest) string {
	base := filepath.Base(req.SourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "output"
	}
	name := fmt.Sprintf("%s%s.%s", stem, req.OutputSuffix, req.Container.Extension())
	return filepath.Join(req.OutputDir, name)
}
