// trader/windows_test.go
package trader

import (
	"testing"
	"time"

	"auto_kis_go/config"

	"github.com/stretchr/testify/assert"
)

func TestWithinWindows(t *testing.T) {
	t.Parallel()

	windows := []config.Window{
		{Start: "18:00", End: "22:00"},
		{Start: "23:00", End: "02:00"},
	}

	at := func(hour, min int) time.Time {
		return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
	}

	assert.False(t, withinWindows(at(17, 59), windows))
	assert.True(t, withinWindows(at(18, 0), windows))
	assert.True(t, withinWindows(at(21, 59), windows))
	// Bounds are inclusive on both ends.
	assert.True(t, withinWindows(at(22, 0), windows))
	assert.False(t, withinWindows(at(22, 1), windows))
	assert.False(t, withinWindows(at(22, 30), windows))

	// Second window wraps midnight.
	assert.True(t, withinWindows(at(23, 0), windows))
	assert.True(t, withinWindows(at(23, 59), windows))
	assert.True(t, withinWindows(at(0, 30), windows))
	assert.True(t, withinWindows(at(1, 59), windows))
	assert.True(t, withinWindows(at(2, 0), windows))
	assert.False(t, withinWindows(at(2, 1), windows))
	assert.False(t, withinWindows(at(10, 0), windows))
}
