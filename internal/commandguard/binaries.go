package commandguard

import (
	"fmt"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/util"
)

// Binaries holds the absolute paths of the encoder tools, resolved once at
// startup so that every subsequent exec.Command call uses a fixed, already
// validated executable path rather than a bare name subject to PATH
// manipulation at run time.
type Binaries struct {
	// FFmpegPath is the path to the general-purpose container/codec tool
	// (VideoTool-A in the design notes) used by every encoder family.
	FFmpegPath string
	// FFprobePath is the path to the media inspection tool used by Probe.
	FFprobePath string
	// NVENCToolPath is the path to the vendor NVENC-specific encoder tool
	// (VideoTool-B), used only on the NVENC preset path when available.
	NVENCToolPath string
}

// ResolveBinaries discovers the encoder tool paths using the same
// env-var-then-local-then-PATH search FindBinary uses for every other
// externally invoked tool in this codebase.
func ResolveBinaries() (*Binaries, error) {
	ffmpegPath, err := util.FindBinary("ffmpeg", "TRANSCODER_FFMPEG_PATH")
	if err != nil {
		return nil, fmt.Errorf("resolving ffmpeg binary: %w", err)
	}

	ffprobePath, err := util.FindBinary("ffprobe", "TRANSCODER_FFPROBE_PATH")
	if err != nil {
		return nil, fmt.Errorf("resolving ffprobe binary: %w", err)
	}

	binaries := &Binaries{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}

	if nvencPath, err := util.FindBinary("nvencc", "TRANSCODER_NVENC_TOOL_PATH"); err == nil {
		binaries.NVENCToolPath = nvencPath
	}

	return binaries, nil
}

// HasNVENCTool reports whether the vendor NVENC tool was found at startup.
func (b *Binaries) HasNVENCTool() bool {
	return b.NVENCToolPath != ""
}
