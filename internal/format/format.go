// Package format renders durations, timecodes and sizes for API responses
// and CLI output.
package format

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// Timecode renders seconds as HH:MM:SS:FF at the given frame rate.
// A non-positive fps falls back to 30.
func Timecode(seconds float64, fps int) string {
	if fps <= 0 {
		fps = 30
	}
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	totalFrames := int64(math.Round(seconds * float64(fps)))
	frames := totalFrames % int64(fps)
	totalSeconds := totalFrames / int64(fps)
	return fmt.Sprintf("%02d:%02d:%02d:%02d",
		totalSeconds/3600, (totalSeconds/60)%60, totalSeconds%60, frames)
}

// Duration renders seconds as m:ss, or h:mm:ss from one hour up.
func Duration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int64(math.Floor(seconds))
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Bytes renders n with IEC units, e.g. "1.0 GiB".
func Bytes(n int64) string {
	if n < 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(n))
}

// Percent returns part/whole as a whole-number percentage capped at 100.
func Percent(part, whole int64) int {
	if whole <= 0 {
		return 0
	}
	p := int(part * 100 / whole)
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}
