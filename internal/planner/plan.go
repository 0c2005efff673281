package planner

import (
	"fmt"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/commandguard"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/models"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/probe"
)

// DefaultVAAPIDevice is the render device node supplied to the VAAPI
// hwaccel preamble when the caller does not override it.
const DefaultVAAPIDevice = "/dev/dri/renderD128"

// nvencPresetNames is the set of preset names published by the vendor NVENC
// tool (VideoTool-B). A configured preset outside this set belongs to the
// software/VideoTool-A preset vocabulary instead, so NVENC falls back to
// its direct VideoTool-A path.
var nvencPresetNames = map[string]bool{
	"p1": true, "p2": true, "p3": true, "p4": true, "p5": true, "p6": true, "p7": true,
	"default": true, "hq": true, "hp": true, "bd": true,
	"ll": true, "llhq": true, "llhp": true, "lossless": true, "losslesshp": true,
}

// Input is everything Planner needs to build an executable plan for one job.
type Input struct {
	SourcePath  string
	DestPath    string
	Family      models.EncoderFamily
	Resolution  probe.ResolutionClass
	Params      commandguard.NormalizedParams
	Binaries    *commandguard.Binaries
	VAAPIDevice string
}

// Plan is the fully resolved command ready for Executor to run.
type Plan struct {
	Tool string
	Argv []string
}

// BuildPlan produces the argv and tool choice for a job, following the
// encoder mapping table and resolution policy in SPEC_FULL.md §4.6.
func BuildPlan(in Input) (*Plan, error) {
	if in.Binaries == nil || in.Binaries.FFmpegPath == "" {
		return nil, fmt.Errorf("no ffmpeg binary resolved")
	}
	vaapiDevice := in.VAAPIDevice
	if vaapiDevice == "" {
		vaapiDevice = DefaultVAAPIDevice
	}

	if in.Family == models.EncoderFamilyNVENC && in.Binaries.HasNVENCTool() && nvencPresetNames[in.Params.Preset] {
		return buildNVENCPresetPlan(in), nil
	}
	return buildVideoToolAPlan(in, vaapiDevice)
}

// buildNVENCPresetPlan builds the VideoTool-B (vendor NVENC tool) argv. Its
// quality is preset-embedded: UHD sources select the 4k preset variant,
// everything else uses the standard variant.
func buildNVENCPresetPlan(in Input) *Plan {
	qualityPreset := "standard"
	if in.Resolution == probe.ResolutionUHD {
		qualityPreset = "4k"
	}

	codec := "h264"
	if in.Params.VideoEncoder == commandguard.VideoEncoderNVENCH265 {
		codec = "hevc"
	}

	argv := []string{
		"-i", in.SourcePath,
		"--codec", codec,
		"--preset", in.Params.Preset,
		"--quality-preset", qualityPreset,
	}
	argv = append(argv, audioArgsNVENCTool(in.Params)...)
	argv = append(argv, "-o", in.DestPath)

	return &Plan{Tool: in.Binaries.NVENCToolPath, Argv: argv}
}

// audioArgsNVENCTool translates the audio parameters into the vendor tool's
// own flag vocabulary, since it does not share VideoTool-A's -c:a syntax.
func audioArgsNVENCTool(params commandguard.NormalizedParams) []string {
	if params.AudioEncoder == commandguard.AudioEncoderCopy {
		return []string{"--audio-copy"}
	}
	return []string{"--audio-codec", string(params.AudioEncoder)}
}

// buildVideoToolAPlan builds the ffmpeg argv used by every family except
// the NVENC preset path: NVENC direct, VAAPI, AMF, QSV, and the software
// families.
func buildVideoToolAPlan(in Input, vaapiDevice string) (*Plan, error) {
	hevc := in.Params.VideoEncoder == commandguard.VideoEncoderNVENCH265 ||
		in.Params.VideoEncoder == commandguard.VideoEncoderVAAPIH265 ||
		in.Params.VideoEncoder == commandguard.VideoEncoderAMFH265 ||
		in.Params.VideoEncoder == commandguard.VideoEncoderQSVH265 ||
		in.Params.VideoEncoder == commandguard.VideoEncoderX265

	builder := newCommandBuilder(in.Binaries.FFmpegPath).
		HideBanner().
		Overwrite()

	builder.InputArgs(hwaccelPreamble(in.Family, vaapiDevice)...)
	builder.Input(in.SourcePath)

	if resolutionClassNeedsUpscale(in.Resolution) {
		builder.VideoFilter(upscaleFilter(in.Family))
	}

	builder.VideoCodec(videoToolAEncoder(in.Family, hevc))
	builder.OutputArgs(qualityFlag(in.Family, in.Params.Quality)...)
	builder.OutputArgs(streamMapArgs(in.Params.SubtitleMode)...)
	builder.OutputArgs(audioArgs(in.Params)...)
	builder.Output(in.DestPath)

	cmd := builder.Build()
	return &Plan{Tool: cmd.Binary, Argv: cmd.Args}, nil
}

// streamMapArgs maps video track 0 and every audio track, plus subtitles
// per subtitle_mode, per SPEC_FULL.md §4.6's stream mapping rule.
func streamMapArgs(mode commandguard.SubtitleMode) []string {
	args := []string{"-map", "0:v:0", "-map", "0:a?"}
	switch mode {
	case commandguard.SubtitleModeAll:
		args = append(args, "-map", "0:s?", "-c:s", "copy")
	case commandguard.SubtitleModeFirst:
		args = append(args, "-map", "0:s:0?", "-c:s", "copy")
	case commandguard.SubtitleModeNone:
		// no subtitle stream mapped
	}
	return args
}

// audioArgs builds the audio codec arguments: copy passes through,
// otherwise transcodes to the configured codec at the 192k default bitrate.
func audioArgs(params commandguard.NormalizedParams) []string {
	if params.AudioEncoder == commandguard.AudioEncoderCopy {
		return []string{"-c:a", "copy"}
	}
	return []string{"-c:a", string(params.AudioEncoder), "-b:a", "192k"}
}
