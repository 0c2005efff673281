// Package commandguard validates the handful of user-tunable transcode
// parameters against fixed allowlists before they are ever placed in a
// subprocess argv, and resolves the encoder binaries used to run that argv.
package commandguard

import (
	"fmt"
)

// VideoEncoder is an allowed value for the video_encoder parameter.
type VideoEncoder string

const (
	VideoEncoderNVENCH265 VideoEncoder = "nvenc_h265"
	VideoEncoderNVENCH264 VideoEncoder = "nvenc_h264"
	VideoEncoderVAAPIH265 VideoEncoder = "vaapi_h265"
	VideoEncoderVAAPIH264 VideoEncoder = "vaapi_h264"
	VideoEncoderAMFH265   VideoEncoder = "amf_h265"
	VideoEncoderAMFH264   VideoEncoder = "amf_h264"
	VideoEncoderQSVH265   VideoEncoder = "qsv_h265"
	VideoEncoderQSVH264   VideoEncoder = "qsv_h264"
	VideoEncoderX265      VideoEncoder = "x265"
	VideoEncoderX264      VideoEncoder = "x264"
)

// videoEncoderAliases maps the canonical ffmpeg codec names a caller might
// supply to the short allowlist form above.
var videoEncoderAliases = map[string]VideoEncoder{
	"hevc_nvenc": VideoEncoderNVENCH265,
	"h264_nvenc": VideoEncoderNVENCH264,
	"hevc_vaapi": VideoEncoderVAAPIH265,
	"h264_vaapi": VideoEncoderVAAPIH264,
	"hevc_amf":   VideoEncoderAMFH265,
	"h264_amf":   VideoEncoderAMFH264,
	"hevc_qsv":   VideoEncoderQSVH265,
	"h264_qsv":   VideoEncoderQSVH264,
	"libx265":    VideoEncoderX265,
	"libx264":    VideoEncoderX264,
}

var videoEncoders = map[VideoEncoder]bool{
	VideoEncoderNVENCH265: true, VideoEncoderNVENCH264: true,
	VideoEncoderVAAPIH265: true, VideoEncoderVAAPIH264: true,
	VideoEncoderAMFH265: true, VideoEncoderAMFH264: true,
	VideoEncoderQSVH265: true, VideoEncoderQSVH264: true,
	VideoEncoderX265: true, VideoEncoderX264: true,
}

// AudioEncoder is an allowed value for the audio_encoder parameter.
type AudioEncoder string

const (
	AudioEncoderCopy AudioEncoder = "copy"
	AudioEncoderAAC  AudioEncoder = "aac"
	AudioEncoderAC3  AudioEncoder = "ac3"
	AudioEncoderEAC3 AudioEncoder = "eac3"
	AudioEncoderFLAC AudioEncoder = "flac"
	AudioEncoderMP3  AudioEncoder = "mp3"
)

var audioEncoders = map[AudioEncoder]bool{
	AudioEncoderCopy: true, AudioEncoderAAC: true, AudioEncoderAC3: true,
	AudioEncoderEAC3: true, AudioEncoderFLAC: true, AudioEncoderMP3: true,
}

// SubtitleMode is an allowed value for the subtitle_mode parameter.
type SubtitleMode string

const (
	SubtitleModeAll   SubtitleMode = "all"
	SubtitleModeNone  SubtitleMode = "none"
	SubtitleModeFirst SubtitleMode = "first"
)

var subtitleModes = map[SubtitleMode]bool{
	SubtitleModeAll: true, SubtitleModeNone: true, SubtitleModeFirst: true,
}

// presets is the static, baked-in allowlist of preset names published by
// the software encoder and by the vendor hardware-encoder SDK. Unlike the
// video/audio encoder and subtitle-mode allowlists, this is not an enum a
// caller could exhaustively type out by hand, so it is validated by simple
// set membership against the names the tools themselves advertise.
var presets = map[string]bool{
	"ultrafast": true, "superfast": true, "veryfast": true, "faster": true,
	"fast": true, "medium": true, "slow": true, "slower": true, "veryslow": true,
	"p1": true, "p2": true, "p3": true, "p4": true, "p5": true, "p6": true, "p7": true,
	"default": true, "hq": true, "hp": true, "bd": true, "ll": true, "llhq": true, "llhp": true,
	"lossless": true, "losslesshp": true,
}

// ValidationResult carries the structured outcome of validating a set of
// transcode parameters, mirroring the shape callers need to surface per-field
// errors to the admission/control-plane layer without string-matching.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

func (r *ValidationResult) fail(format string, args ...interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Params holds the user-tunable transcode parameters as received, before
// normalization.
type Params struct {
	VideoEncoder string
	AudioEncoder string
	SubtitleMode string
	Quality      int
	Preset       string
}

// NormalizedParams holds the validated, normalized parameter set ready to be
// handed to the Planner.
type NormalizedParams struct {
	VideoEncoder VideoEncoder
	AudioEncoder AudioEncoder
	SubtitleMode SubtitleMode
	Quality      int
	Preset       string
}

// Validate checks each parameter against its fixed allowlist and returns the
// normalized form on success.
func Validate(p Params) (*NormalizedParams, ValidationResult) {
	result := ValidationResult{Valid: true}
	normalized := &NormalizedParams{Quality: p.Quality, Preset: p.Preset}

	videoEncoder, ok := normalizeVideoEncoder(p.VideoEncoder)
	if !ok {
		result.fail("video_encoder %q is not in the allowlist", p.VideoEncoder)
	}
	normalized.VideoEncoder = videoEncoder

	audioEncoder := AudioEncoder(p.AudioEncoder)
	if !audioEncoders[audioEncoder] {
		result.fail("audio_encoder %q is not in the allowlist", p.AudioEncoder)
	}
	normalized.AudioEncoder = audioEncoder

	subtitleMode := SubtitleMode(p.SubtitleMode)
	if !subtitleModes[subtitleMode] {
		result.fail("subtitle_mode %q is not in the allowlist", p.SubtitleMode)
	}
	normalized.SubtitleMode = subtitleMode

	if p.Quality < 0 || p.Quality > 51 {
		result.fail("quality %d is outside the allowed range [0, 51]", p.Quality)
	}

	if !presets[p.Preset] {
		result.fail("preset %q is not a recognized encoder preset", p.Preset)
	}

	if !result.Valid {
		return nil, result
	}
	return normalized, result
}

// normalizeVideoEncoder accepts either a short allowlist form or one of the
// canonical ffmpeg codec name aliases, and returns the normalized short
// form.
func normalizeVideoEncoder(raw string) (VideoEncoder, bool) {
	if alias, ok := videoEncoderAliases[raw]; ok {
		return alias, true
	}
	candidate := VideoEncoder(raw)
	if videoEncoders[candidate] {
		return candidate, true
	}
	return "", false
}
