package planner

import (
	"strconv"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/commandguard"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/models"
	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/probe"
)

// FamilyForVideoEncoder maps a validated video_encoder value to the
// encoder family it belongs to, used by the worker to decide which GPU
// capability to check before committing to that encoder for a job.
func FamilyForVideoEncoder(ve commandguard.VideoEncoder) models.EncoderFamily {
	switch ve {
	case commandguard.VideoEncoderNVENCH265, commandguard.VideoEncoderNVENCH264:
		return models.EncoderFamilyNVENC
	case commandguard.VideoEncoderVAAPIH265, commandguard.VideoEncoderVAAPIH264:
		return models.EncoderFamilyVAAPI
	case commandguard.VideoEncoderAMFH265, commandguard.VideoEncoderAMFH264:
		return models.EncoderFamilyAMF
	case commandguard.VideoEncoderQSVH265, commandguard.VideoEncoderQSVH264:
		return models.EncoderFamilyQSV
	case commandguard.VideoEncoderX264:
		return models.EncoderFamilySoftX264
	default:
		return models.EncoderFamilySoftX265
	}
}

// qualityFlag returns the output argv fragment that carries the quality
// setting for the VideoTool-A encode path, per the per-family mapping table
// in SPEC_FULL.md §4.6. The NVENC preset path (VideoTool-B) has no entry
// here since its quality is preset-embedded.
func qualityFlag(family models.EncoderFamily, quality int) []string {
	q := strconv.Itoa(quality)
	switch family {
	case models.EncoderFamilyNVENC:
		return []string{"-cq", q}
	case models.EncoderFamilyVAAPI:
		return []string{"-qp", q}
	case models.EncoderFamilyAMF:
		return []string{"-qp_i", q, "-qp_p", q}
	case models.EncoderFamilyQSV:
		return []string{"-global_quality", q}
	default:
		return []string{"-crf", q}
	}
}

// upscaleFilter returns the family-native filter that upscales an SD source
// to 720p. HD and UHD sources pass through without a scale filter.
func upscaleFilter(family models.EncoderFamily) string {
	switch family {
	case models.EncoderFamilyNVENC:
		return "scale_cuda=1280:720"
	case models.EncoderFamilyVAAPI:
		return "scale_vaapi=w=1280:h=720"
	case models.EncoderFamilyAMF:
		return "scale=1280:720"
	case models.EncoderFamilyQSV:
		return "vpp_qsv=w=1280:h=720"
	default:
		return "scale=1280:720"
	}
}

// videoToolAEncoder returns the VideoTool-A (ffmpeg) codec name for a family
// on the direct (non-preset-tool) encode path.
func videoToolAEncoder(family models.EncoderFamily, hevc bool) string {
	switch family {
	case models.EncoderFamilyNVENC:
		if hevc {
			return "hevc_nvenc"
		}
		return "h264_nvenc"
	case models.EncoderFamilyVAAPI:
		if hevc {
			return "hevc_vaapi"
		}
		return "h264_vaapi"
	case models.EncoderFamilyAMF:
		if hevc {
			return "hevc_amf"
		}
		return "h264_amf"
	case models.EncoderFamilyQSV:
		if hevc {
			return "hevc_qsv"
		}
		return "h264_qsv"
	case models.EncoderFamilySoftX264:
		return "libx264"
	default:
		return "libx265"
	}
}

// hwaccelPreamble returns the decoder-side hwaccel input arguments for a
// family, per SPEC_FULL.md §4.6: NVENC and QSV need only the accel name and
// output format, VAAPI additionally needs the device node; AMF and software
// add nothing.
func hwaccelPreamble(family models.EncoderFamily, vaapiDevice string) []string {
	switch family {
	case models.EncoderFamilyNVENC:
		return []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}
	case models.EncoderFamilyVAAPI:
		return []string{"-hwaccel", "vaapi", "-hwaccel_device", vaapiDevice, "-hwaccel_output_format", "vaapi"}
	case models.EncoderFamilyQSV:
		return []string{"-hwaccel", "qsv", "-hwaccel_output_format", "qsv"}
	default:
		return nil
	}
}

// resolutionClassNeedsUpscale reports whether a source resolution needs the
// SD->720p upscale path. UHD and HD sources preserve their resolution.
func resolutionClassNeedsUpscale(class probe.ResolutionClass) bool {
	return class == probe.ResolutionSD
}
