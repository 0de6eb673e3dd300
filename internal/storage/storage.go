// Package storage names failure-screenshot artifacts and hosts the
// store implementations in its subpackages.
package storage

import (
	"fmt"
	"strings"
	"time"
)

// ScreenshotPath builds the diagnostic artifact name
// error_<sanitized-context>_<timestamp>.png. The context is typically
// "<jobID>-<commandType>".
func ScreenshotPath(context string, at time.Time) string {
	return fmt.Sprintf("error_%s_%s.png", sanitize(context), at.UTC().Format("20060102T150405Z"))
}

// sanitize keeps path-safe characters only so a hostile or odd context
// string cannot escape the artifact directory.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
