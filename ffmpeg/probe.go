package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"mediarender/task"
)

const probeTimeout = 30 * time.Second

// ProbeResult is the subset of ffprobe's JSON output the pipeline reads.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

type ProbeStream struct {
	CodecType string `json:"codec_type"`
	Duration  string `json:"duration"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type ProbeFormat struct {
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

// DurationSeconds returns the container duration, falling back to the
// longest stream duration. It is 0 when neither is known.
func (p ProbeResult) DurationSeconds() float64 {
	if d := parseSeconds(p.Format.Duration); d > 0 {
		return d
	}
	var longest float64
	for _, s := range p.Streams {
		if d := parseSeconds(s.Duration); d > longest {
			longest = d
		}
	}
	return longest
}

func parseSeconds(value string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// ParseProbe decodes ffprobe -of json output.
func ParseProbe(output []byte) (ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// Probe inspects path with ffprobe.
func (r *Runner) Probe(ctx context.Context, path string) (ProbeResult, error) {
	args := []string{"-v", "error", "-show_format", "-show_streams", "-of", "json", "--", path}
	out, _, err := r.run(ctx, "probe", probeTimeout, r.probeBin, args)
	if err != nil {
		return ProbeResult{}, err
	}
	result, err := ParseProbe([]byte(out))
	if err != nil {
		return ProbeResult{}, task.Errorf(task.KindTranscodeFailure, "probe", err)
	}
	return result, nil
}

// Duration measures the playable duration of path in seconds.
func (r *Runner) Duration(ctx context.Context, path string) (float64, error) {
	result, err := r.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	d := result.DurationSeconds()
	if d <= 0 {
		return 0, task.Errorf(task.KindTranscodeFailure, "probe", fmt.Errorf("no duration reported for %s", path))
	}
	return d, nil
}
