package countdown

import "fmt"

// UrgentThresholdSeconds is the remaining time at or below which the UI
// switches to its urgent color.
const UrgentThresholdSeconds = 10

// Format renders seconds as zero-padded MM:SS.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func IsUrgent(seconds int) bool {
	return seconds <= UrgentThresholdSeconds
}

// Progress is the remaining share of the countdown in percent.
func Progress(remaining, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(remaining) / float64(total) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
