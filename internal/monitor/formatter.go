package monitor

import (
	"fmt"
	"math"
)

// FormatElapsed renders a step or run duration given in milliseconds:
// "850ms", "1.2s", "2m 5s" or "2h 15m".
func FormatElapsed(ms int64) string {
	switch {
	case ms < 0:
		return "0ms"
	case ms < 1000:
		return fmt.Sprintf("%dms", ms)
	case ms < 60_000:
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	secs := ms / 1000
	if h := secs / 3600; h > 0 {
		return fmt.Sprintf("%dh %dm", h, (secs%3600)/60)
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

// FormatSuccessRate renders a 0-100 success rate with one decimal. Values
// outside the range are clamped.
func FormatSuccessRate(rate float64) string {
	if math.IsNaN(rate) {
		rate = 0
	}
	return fmt.Sprintf("%.1f%%", math.Max(0, math.Min(100, rate)))
}
