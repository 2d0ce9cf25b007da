package params

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcode-engine/internal/capability"
	"transcode-engine/pkg/models"
)

func nvidiaCaps() *capability.Set {
	return capability.NewSet("/usr/bin/ffmpeg", []string{
		"h264_nvenc", "hevc_nvenc", "libx264", "libx265", "libvpx-vp9", "libsvtav1", "aac",
	})
}

func softwareCaps() *capability.Set {
	return capability.NewSet("/usr/bin/ffmpeg", []string{
		"libx264", "libx265", "libvpx-vp9", "libsvtav1", "aac",
	})
}

func baseRequest() models.TranscodeRequest {
	return models.TranscodeRequest{
		SourcePath: "/media/in/movie.mkv",
		OutputDir:  "/media/out",
		Container:  models.ContainerMKV,
		VideoCodec: models.CodecHEVC,
		AudioCodec: models.AudioAAC,
	}
}

func TestResolveHardwareSelection(t *testing.T) {
	tests := []struct {
		name         string
		caps         *capability.Set
		pref         models.HwPreference
		wantEncoder  string
		wantFallback bool
		wantErrKind  Kind
	}{
		{
			name:        "auto with nvenc present",
			caps:        nvidiaCaps(),
			pref:        models.HwAuto,
			wantEncoder: "hevc_nvenc",
		},
		{
			name:         "auto without hardware falls back",
			caps:         softwareCaps(),
			pref:         models.HwAuto,
			wantEncoder:  "libx265",
			wantFallback: true,
		},
		{
			name:        "forced with nvenc present",
			caps:        nvidiaCaps(),
			pref:        models.HwForced,
			wantEncoder: "hevc_nvenc",
		},
		{
			name:        "forced without hardware fails",
			caps:        softwareCaps(),
			pref:        models.HwForced,
			wantErrKind: KindUnsupportedHardware,
		},
		{
			name:        "disabled ignores available hardware",
			caps:        nvidiaCaps(),
			pref:        models.HwDisabled,
			wantEncoder: "libx265",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			req.Hardware = tt.pref

			r, err := Resolve(req, tt.caps)
			if tt.wantErrKind != "" {
				var resolveErr *Error
				require.ErrorAs(t, err, &resolveErr)
				assert.Equal(t, tt.wantErrKind, resolveErr.Kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEncoder, r.Encoder)
			assert.Equal(t, tt.wantFallback, r.Fallback)
		})
	}
}

func TestResolveVendorWithoutCodecFallsBack(t *testing.T) {
	// An NVIDIA host has no VP9 encode path, so auto preference should
	// land on software with the fallback flag set.
	req := baseRequest()
	req.VideoCodec = models.CodecVP9
	req.Hardware = models.HwAuto

	r, err := Resolve(req, nvidiaCaps())
	require.NoError(t, err)
	assert.Equal(t, "libvpx-vp9", r.Encoder)
	assert.True(t, r.Fallback)
}

func TestResolveContainerCompatibility(t *testing.T) {
	tests := []struct {
		name      string
		container models.Container
		video     models.VideoCodec
		audio     models.AudioCodec
		wantErr   bool
	}{
		{"h264 in mp4", models.ContainerMP4, models.CodecH264, models.AudioAAC, false},
		{"vp9 in mp4 rejected", models.ContainerMP4, models.CodecVP9, models.AudioAAC, true},
		{"h264 in webm rejected", models.ContainerWebM, models.CodecH264, models.AudioCopy, true},
		{"vp9 in webm", models.ContainerWebM, models.CodecVP9, models.AudioCopy, false},
		{"flac in mp4 rejected", models.ContainerMP4, models.CodecH264, models.AudioFLAC, true},
		{"flac in mkv", models.ContainerMKV, models.CodecH264, models.AudioFLAC, false},
		{"aac in webm rejected", models.ContainerWebM, models.CodecVP9, models.AudioAAC, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			req.Container = tt.container
			req.VideoCodec = tt.video
			req.AudioCodec = tt.audio

			_, err := Resolve(req, softwareCaps())
			if tt.wantErr {
				var resolveErr *Error
				require.ErrorAs(t, err, &resolveErr)
				assert.Equal(t, KindIncompatibleFormat, resolveErr.Kind)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveOutputPath(t *testing.T) {
	req := baseRequest()
	req.Container = models.ContainerMP4
	req.VideoCodec = models.CodecH264

	r, err := Resolve(req, softwareCaps())
	require.NoError(t, err)
	assert.Equal(t, "/media/out/movie_transcoded.mp4", r.OutputPath)

	req.OutputSuffix = "_720p"
	r, err = Resolve(req, softwareCaps())
	require.NoError(t, err)
	assert.Equal(t, "/media/out/movie_720p.mp4", r.OutputPath)
}

func TestResolveArgsDeterministic(t *testing.T) {
	req := baseRequest()
	a, err := Resolve(req, nvidiaCaps())
	require.NoError(t, err)
	b, err := Resolve(req, nvidiaCaps())
	require.NoError(t, err)
	assert.Equal(t, a.Args, b.Args)
}

func TestResolveArgsNVENCQuality(t *testing.T) {
	req := baseRequest()
	req.Quality = 28

	r, err := Resolve(req, nvidiaCaps())
	require.NoError(t, err)

	joined := strings.Join(r.Args, " ")
	assert.Contains(t, joined, "-hwaccel cuda")
	assert.Contains(t, joined, "-c:v hevc_nvenc")
	assert.Contains(t, joined, "-rc vbr -cq 28")
	assert.Contains(t, joined, "-preset p4")
	assert.Contains(t, joined, "-progress pipe:1")
	assert.Contains(t, joined, "-stats_period 0.5")

	// Input options must precede -i; the output path is last.
	assert.Equal(t, "-hide_banner", r.Args[0])
	assert.Equal(t, r.OutputPath, r.Args[len(r.Args)-1])
}

func TestResolveArgsBitrateMode(t *testing.T) {
	req := baseRequest()
	req.VideoCodec = models.CodecH264
	req.Hardware = models.HwDisabled
	req.RateControl = models.RateBitrate
	req.TargetBitrateKbps = 4000

	r, err := Resolve(req, softwareCaps())
	require.NoError(t, err)

	joined := strings.Join(r.Args, " ")
	assert.Contains(t, joined, "-b:v 4000k")
	// Max bitrate defaults to twice the target when unset.
	assert.Contains(t, joined, "-maxrate 8000k")
	assert.NotContains(t, joined, "-crf")
}

func TestResolveArgsVP9(t *testing.T) {
	req := baseRequest()
	req.Container = models.ContainerWebM
	req.VideoCodec = models.CodecVP9
	req.AudioCodec = models.AudioCopy
	req.Hardware = models.HwDisabled

	r, err := Resolve(req, softwareCaps())
	require.NoError(t, err)

	joined := strings.Join(r.Args, " ")
	assert.Contains(t, joined, "-c:v libvpx-vp9")
	assert.Contains(t, joined, "-b:v 0 -crf 23")
	assert.Contains(t, joined, "-row-mt 1")
	assert.Contains(t, joined, "-cpu-used 4")
	assert.Contains(t, joined, "-c:a copy")
}

func TestResolveUnknownCodec(t *testing.T) {
	req := baseRequest()
	req.VideoCodec = models.VideoCodec("theora")

	_, err := Resolve(req, softwareCaps())
	var resolveErr *Error
	require.ErrorAs(t, err, &resolveErr)
	assert.Equal(t, KindIncompatibleFormat, resolveErr.Kind)
}
