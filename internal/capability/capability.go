// Package capability probes the host for the ffmpeg binary and the hardware
// encoders it can actually use. Detection spawns short-lived ffmpeg
// subprocesses; results are cached process-wide and only replaced on an
// explicit re-probe.
package capability

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// EnvFFmpegPath overrides where the engine binary is looked up.
const EnvFFmpegPath = "ENGINE_FFMPEG_PATH"

// minMajorVersion is the oldest ffmpeg major release the engine drives.
// Older builds predate -progress pipe output stability.
const minMajorVersion = 4

// Accel identifies a hardware acceleration vendor path.
type Accel string

const (
	AccelNVENC        Accel = "nvenc"
	AccelQSV          Accel = "qsv"
	AccelAMF          Accel = "amf"
	AccelVAAPI        Accel = "vaapi"
	AccelVideoToolbox Accel = "videotoolbox"
	AccelSoftware     Accel = "software"
)

// accelProbeEncoders cross-references each vendor path against encoder names
// that must appear in the engine's compiled-in encoder list.
var accelProbeEncoders = map[Accel][]string{
	AccelNVENC:        {"h264_nvenc", "hevc_nvenc", "av1_nvenc"},
	AccelQSV:          {"h264_qsv", "hevc_qsv", "av1_qsv", "vp9_qsv"},
	AccelAMF:          {"h264_amf", "hevc_amf", "av1_amf"},
	AccelVAAPI:        {"h264_vaapi", "hevc_vaapi", "av1_vaapi"},
	AccelVideoToolbox: {"h264_videotoolbox", "hevc_videotoolbox"},
}

// accelPriority orders vendor paths from most to least preferred when
// choosing a recommended accelerator.
var accelPriority = []Accel{AccelNVENC, AccelQSV, AccelAMF, AccelVAAPI, AccelVideoToolbox}

// Set is an immutable snapshot of what this host can do. It is replaced
// wholesale on re-probe, never mutated in place.
type Set struct {
	FFmpegPath  string
	FFprobePath string

	Version string
	Major   int
	Minor   int
	GPL     bool

	encoders map[string]struct{}
	accels   map[Accel]struct{}
}

// NewSet builds a snapshot from a known encoder list, cross-referencing the
// vendor table the same way detection does.
func NewSet(ffmpegPath string, encoderNames []string) *Set {
	encoders := make(map[string]struct{}, len(encoderNames))
	for _, name := range encoderNames {
		encoders[name] = struct{}{}
	}
	return &Set{
		FFmpegPath: ffmpegPath,
		encoders:   encoders,
		accels:     crossReference(encoders),
	}
}

// HasEncoder reports whether the engine build ships the named encoder.
func (s *Set) HasEncoder(name string) bool {
	_, ok := s.encoders[name]
	return ok
}

// HasAccel reports whether the vendor path is usable on this host.
func (s *Set) HasAccel(a Accel) bool {
	if a == AccelSoftware {
		return true
	}
	_, ok := s.accels[a]
	return ok
}

// Accels returns usable vendor paths in priority order. Software is always
// usable and is not included.
func (s *Set) Accels() []Accel {
	out := make([]Accel, 0, len(s.accels))
	for _, a := range accelPriority {
		if _, ok := s.accels[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Recommended returns the preferred accelerator for this host, falling back
// to software when no hardware path is available.
func (s *Set) Recommended() Accel {
	for _, a := range accelPriority {
		if _, ok := s.accels[a]; ok {
			return a
		}
	}
	return AccelSoftware
}

// HasHardware reports whether any hardware encoder path is usable.
func (s *Set) HasHardware() bool { return len(s.accels) > 0 }

// Detector locates the engine binary and probes its encoder list.
type Detector struct {
	// OverridePath, when set, is tried before the environment and PATH.
	OverridePath string

	Log zerolog.Logger
}

// Detect probes the host and returns a fresh capability snapshot. It is
// idempotent and safe to repeat; each call spawns short-lived engine
// subprocesses.
func (d *Detector) Detect(ctx context.Context) (*Set, error) {
	ffmpegPath, err := d.locate()
	if err != nil {
		return nil, err
	}

	version, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, &Error{Kind: KindExecFailed, Message: fmt.Sprintf("engine at %s did not execute: %v", ffmpegPath, err)}
	}
	set := &Set{FFmpegPath: ffmpegPath}
	parseVersionOutput(string(version), set)
	if set.Major > 0 && set.Major < minMajorVersion {
		return nil, &Error{Kind: KindUnsupportedVersion, Message: fmt.Sprintf("engine version %s is too old (need >= %d)", set.Version, minMajorVersion)}
	}

	encOut, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders").CombinedOutput()
	if err != nil {
		return nil, &Error{Kind: KindExecFailed, Message: fmt.Sprintf("encoder query failed: %v", err)}
	}
	set.encoders = parseEncoderTable(string(encOut))
	set.accels = crossReference(set.encoders)
	set.FFprobePath = siblingProbe(ffmpegPath)

	d.Log.Info().
		Str("path", ffmpegPath).
		Str("version", set.Version).
		Int("encoders", len(set.encoders)).
		Strs("accels", accelNames(set.Accels())).
		Msg("engine capabilities detected")

	return set, nil
}

// locate finds the engine binary: explicit override, environment variable,
// PATH lookup, then common install locations.
func (d *Detector) locate() (string, error) {
	if d.OverridePath != "" {
		if p, ok := usable(d.OverridePath); ok {
			return p, nil
		}
		return "", &Error{Kind: KindBinaryNotFound, Message: fmt.Sprintf("configured engine path %s is not executable", d.OverridePath)}
	}

	if env := os.Getenv(EnvFFmpegPath); env != "" {
		if p, ok := usable(env); ok {
			return p, nil
		}
		return "", &Error{Kind: KindBinaryNotFound, Message: fmt.Sprintf("%s points at %s which is not executable", EnvFFmpegPath, env)}
	}

	if p, err := exec.LookPath(binaryName()); err == nil {
		return p, nil
	}

	for _, dir := range commonInstallDirs() {
		candidate := filepath.Join(dir, binaryName())
		if p, ok := usable(candidate); ok {
			return p, nil
		}
	}

	return "", &Error{Kind: KindBinaryNotFound, Message: "ffmpeg binary not found on this host"}
}

// usable checks a candidate path. Directories holding the binary are
// accepted as well as direct file paths.
func usable(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		nested := filepath.Join(path, binaryName())
		if fi, err := os.Stat(nested); err == nil && !fi.IsDir() {
			return nested, true
		}
		nested = filepath.Join(path, "bin", binaryName())
		if fi, err := os.Stat(nested); err == nil && !fi.IsDir() {
			return nested, true
		}
		return "", false
	}
	return path, true
}

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

func probeName() string {
	if runtime.GOOS == "windows" {
		return "ffprobe.exe"
	}
	return "ffprobe"
}

func commonInstallDirs() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			`C:\Program Files\FFmpeg\bin`,
			`C:\FFmpeg\bin`,
		}
	case "darwin":
		return []string{"/opt/homebrew/bin", "/usr/local/bin"}
	default:
		return []string{"/usr/bin", "/usr/local/bin"}
	}
}

// siblingProbe guesses the ffprobe path next to the ffmpeg binary, falling
// back to PATH lookup.
func siblingProbe(ffmpegPath string) string {
	candidate := filepath.Join(filepath.Dir(ffmpegPath), probeName())
	if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
		return candidate
	}
	if p, err := exec.LookPath(probeName()); err == nil {
		return p
	}
	return ""
}

// parseVersionOutput fills version fields from `ffmpeg -version` output.
// First line looks like "ffmpeg version 7.0.1 Copyright ...".
func parseVersionOutput(out string, set *Set) {
	line, _, _ := strings.Cut(out, "\n")
	for _, field := range strings.Fields(line) {
		if len(field) > 0 && field[0] >= '0' && field[0] <= '9' {
			set.Version = field
			break
		}
	}
	if set.Version != "" {
		parts := strings.SplitN(strings.TrimPrefix(set.Version, "n"), ".", 3)
		if len(parts) > 0 {
			set.Major, _ = strconv.Atoi(parts[0])
		}
		if len(parts) > 1 {
			set.Minor, _ = strconv.Atoi(nonDigitCut(parts[1]))
		}
	}
	set.GPL = strings.Contains(out, "--enable-gpl")
}

func nonDigitCut(s string) string {
	for i, r := range s {
		if r < '0' || r > '9' {
			return s[:i]
		}
	}
	return s
}

// parseEncoderTable extracts encoder names from `ffmpeg -encoders` output.
// Encoder rows look like " V....D h264_nvenc  NVIDIA NVENC H.264 encoder"
// and follow a "------" separator line.
func parseEncoderTable(out string) map[string]struct{} {
	encoders := make(map[string]struct{})
	seen := false
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if !seen {
			if strings.HasPrefix(trimmed, "---") {
				seen = true
			}
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			continue
		}
		flags := fields[0]
		switch flags[0] {
		case 'V', 'A', 'S':
			encoders[fields[1]] = struct{}{}
		}
	}
	return encoders
}

// crossReference returns the vendor paths for which at least one known
// encoder is present in the build.
func crossReference(encoders map[string]struct{}) map[Accel]struct{} {
	accels := make(map[Accel]struct{})
	for accel, names := range accelProbeEncoders {
		for _, name := range names {
			if _, ok := encoders[name]; ok {
				accels[accel] = struct{}{}
				break
			}
		}
	}
	return accels
}

func accelNames(accels []Accel) []string {
	out := make([]string, len(accels))
	for i, a := range accels {
		out[i] = string(a)
	}
	return out
}
