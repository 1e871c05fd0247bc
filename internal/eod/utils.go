package eod

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

func eodCSVPath(dir string, t time.Time) string {
	return filepath.Join(dir, "eod", t.Format("2006-01-02")+".csv")
}

// closeTime is the configured daily close on t's calendar day.
func closeTime(t time.Time, at time.Duration) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).Add(at)
}

// ParseClock turns "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}
