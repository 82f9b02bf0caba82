package ui

import "strings"

// ProgressBar draws width segments with a knob at progress, which is
// clamped to [0, 1].
func ProgressBar(width int, progress float64) string {
	if width <= 0 {
		return ""
	}
	progress = min(max(progress, 0), 1)
	dot := min(int(float64(width)*progress), width-1)

	var b strings.Builder
	for i := range width {
		if i == dot {
			b.WriteRune('🔘')
		} else {
			b.WriteRune('▬')
		}
	}
	return b.String()
}
