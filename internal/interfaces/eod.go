package interfaces

import "time"

// EodSummarizer turns a day of the trade log into a CSV report.
type EodSummarizer interface {
	// SummarizeDay writes the report for the day containing t and returns
	// its path. An empty path with a nil error means no trades closed that
	// day.
	SummarizeDay(t time.Time) (csvPath string, err error)

	// SummarizeToday is SummarizeDay for the current day.
	SummarizeToday() (csvPath string, err error)

	// ShouldRunNow reports whether the daily close has passed and today's
	// report has not been written yet.
	ShouldRunNow() (shouldRun bool, csvPath string)
}
