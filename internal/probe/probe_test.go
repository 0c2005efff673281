package probe

import "testing"

func TestClassifyResolution(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		height int
		want   ResolutionClass
	}{
		{"4k", 3840, 2160, ResolutionUHD},
		{"1080p width boundary exceeded", 1921, 800, ResolutionUHD},
		{"1080p height boundary exceeded", 800, 1081, ResolutionUHD},
		{"exactly 1080p", 1920, 1080, ResolutionHD},
		{"720p", 1280, 720, ResolutionHD},
		{"width at hd floor", 1280, 500, ResolutionHD},
		{"height at hd floor", 500, 720, ResolutionHD},
		{"480p", 854, 480, ResolutionSD},
		{"tiny", 320, 240, ResolutionSD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyResolution(tt.width, tt.height)
			if got != tt.want {
				t.Errorf("ClassifyResolution(%d, %d) = %s, want %s", tt.width, tt.height, got, tt.want)
			}
		})
	}
}
