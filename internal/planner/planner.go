// Package planner turns a probed source and a validated parameter set into
// the argv Executor will run, and decides which destination library
// subdirectory a finished job belongs in.
package planner

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/uprightbass360/automatic-ripping-machine-transcoder/internal/models"
)

// standaloneAudioExtensions are the container extensions that mark a source
// directory as an audio-only rip rather than a movie or TV episode.
var standaloneAudioExtensions = map[string]bool{
	".flac": true, ".mp3": true, ".wav": true, ".ogg": true,
}

// episodeToken matches a season/episode marker like "S01E03" or "s1e12"
// anywhere in a directory name or title hint.
var episodeToken = regexp.MustCompile(`(?i)S\d{1,2}E\d{1,3}`)

// Classify decides the destination library category for a job, given the
// base filenames present in its source directory and the title/source hint
// supplied at admission. sourceFiles holds filenames only, not full paths,
// so callers list the directory themselves (typically through PathGuard)
// before calling Classify.
func Classify(sourceFiles []string, hint string) models.Classification {
	for _, name := range sourceFiles {
		if standaloneAudioExtensions[strings.ToLower(filepath.Ext(name))] {
			return models.ClassificationAudio
		}
	}
	if episodeToken.MatchString(hint) {
		return models.ClassificationTV
	}
	return models.ClassificationMovie
}

// DestinationSubdir maps a classification to the library subdirectory name
// finished output is published under.
func DestinationSubdir(c models.Classification) string {
	switch c {
	case models.ClassificationTV:
		return "tv"
	case models.ClassificationAudio:
		return "audio"
	default:
		return "movies"
	}
}
