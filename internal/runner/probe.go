package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// probeDuration asks ffprobe for the media duration in seconds. Needed for
// percent calculation; the transcode itself does not depend on it.
func (r *Runner) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	if r.FFprobePath == "" {
		return 0, fmt.Errorf("no ffprobe binary available")
	}

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	}
	out, err := exec.CommandContext(ctx, r.FFprobePath, args...).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	var res struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, fmt.Errorf("ffprobe output: %w", err)
	}

	secs, err := strconv.ParseFloat(res.Format.Duration, 64)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("no usable duration in probe output")
	}
	return time.Duration(secs * float64(time.Second)), nil
}
