// Package probe inspects source media to determine its resolution class and
// duration, and detects which hardware encoder families are usable on the
// current host.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ResolutionClass buckets a source by frame size per the thresholds the
// Planner uses to pick an upscale path.
type ResolutionClass string

const (
	ResolutionUHD ResolutionClass = "UHD"
	ResolutionHD  ResolutionClass = "HD"
	ResolutionSD  ResolutionClass = "SD"
)

// ClassifyResolution buckets a frame size into UHD, HD, or SD.
func ClassifyResolution(width, height int) ResolutionClass {
	if width > 1920 || height > 1080 {
		return ResolutionUHD
	}
	if width >= 1280 || height >= 720 {
		return ResolutionHD
	}
	return ResolutionSD
}

// MediaInfo is the subset of container inspection results the Planner needs.
type MediaInfo struct {
	Width           int
	Height          int
	DurationSeconds float64
	Resolution      ResolutionClass
}

// probeFormat and probeStream mirror the handful of ffprobe JSON fields this
// package reads; all other fields of ffprobe's output are ignored.
type probeFormat struct {
	Duration string `json:"duration"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

// Prober runs the container inspector against a source file.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a Prober using the given ffprobe binary path.
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath, timeout: 30 * time.Second}
}

// Inspect runs ffprobe against a local source file and returns its
// resolution and duration classification.
func (p *Prober) Inspect(ctx context.Context, sourcePath string) (*MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		sourcePath,
	)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	info := &MediaInfo{}
	for _, stream := range parsed.Streams {
		if stream.CodecType == "video" {
			info.Width = stream.Width
			info.Height = stream.Height
			break
		}
	}
	if parsed.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			info.DurationSeconds = dur
		}
	}
	info.Resolution = ClassifyResolution(info.Width, info.Height)

	return info, nil
}
