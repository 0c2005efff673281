package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandBuilder_OrdersArgsInputThenFilterThenOutput(t *testing.T) {
	cmd := newCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		Overwrite().
		InputArgs("-hwaccel", "vaapi").
		Input("/work/source.mkv").
		VideoFilter("scale=1920:1080").
		VideoCodec("h264_vaapi").
		OutputArgs("-map", "0:v:0").
		Output("/work/dest.mkv").
		Build()

	assert.Equal(t, "/usr/bin/ffmpeg", cmd.Binary)
	assert.Equal(t, []string{
		"-loglevel", "error", "-hide_banner", "-y",
		"-hwaccel", "vaapi", "-i", "/work/source.mkv",
		"-vf", "scale=1920:1080",
		"-c:v", "h264_vaapi", "-map", "0:v:0",
		"/work/dest.mkv",
	}, cmd.Args)
}

func TestCommandBuilder_NoFilterOmitsVFFlag(t *testing.T) {
	cmd := newCommandBuilder("/usr/bin/ffmpeg").
		Input("/work/source.mkv").
		VideoCodec("copy").
		Output("/work/dest.mkv").
		Build()

	assert.NotContains(t, cmd.Args, "-vf")
}
