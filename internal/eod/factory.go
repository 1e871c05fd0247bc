package eod

import (
	"time"

	"trade-maestro/internal/interfaces"
)

var defaultSummarizer interfaces.EodSummarizer

// SetDefaultSummarizer installs the summarizer used by the package-level
// functions, typically wrapped with eodobs.
func SetDefaultSummarizer(summarizer interfaces.EodSummarizer) {
	defaultSummarizer = summarizer
}

// NewSummarizer reports on log, treating closeAt after midnight (in the
// log's location) as the end of the trading day.
func NewSummarizer(log DayReader, closeAt time.Duration) interfaces.EodSummarizer {
	return newSummarizer(log, closeAt, time.Now)
}

func newSummarizer(log DayReader, closeAt time.Duration, now func() time.Time) *eodSummarizer {
	return &eodSummarizer{log: log, closeAt: closeAt, now: now}
}

func SummarizeDay(t time.Time) (string, error) {
	return defaultSummarizer.SummarizeDay(t)
}

func SummarizeToday() (string, error) {
	return defaultSummarizer.SummarizeToday()
}

func ShouldRunNow() (bool, string) {
	return defaultSummarizer.ShouldRunNow()
}
