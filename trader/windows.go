// trader/windows.go
package trader

import (
	"time"

	"auto_kis_go/config"
)

// minuteOfDay converts an "HH:MM" wall-clock string to minutes after
// midnight. Inputs are validated by config.Validate, so a parse failure
// here cannot happen for loaded configuration.
func minuteOfDay(hhmm string) int {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0
	}
	return t.Hour()*60 + t.Minute()
}

// withinWindows reports whether the local wall-clock time falls inside any
// configured trading window. Both bounds are inclusive, so a 23:00-02:00
// window still trades through the 02:00 minute. A window whose end
// precedes its start wraps midnight.
func withinWindows(t time.Time, windows []config.Window) bool {
	cur := t.Hour()*60 + t.Minute()
	for _, w := range windows {
		start := minuteOfDay(w.Start)
		end := minuteOfDay(w.End)
		if start <= end {
			if cur >= start && cur <= end {
				return true
			}
			continue
		}
		if cur >= start || cur <= end {
			return true
		}
	}
	return false
}
