package eodobs

import (
	"context"
	"time"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/trace"
)

type observableEodSummarizer struct {
	summarizer interfaces.EodSummarizer
}

var _ interfaces.EodSummarizer = (*observableEodSummarizer)(nil)

func Wrap(summarizer interfaces.EodSummarizer) interfaces.EodSummarizer {
	return &observableEodSummarizer{
		summarizer: summarizer,
	}
}

func (oes *observableEodSummarizer) SummarizeDay(t time.Time) (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeDay")
	defer span.End()
	return oes.observe(ctx, t.Format("2006-01-02"), func() (string, error) {
		return oes.summarizer.SummarizeDay(t)
	})
}

func (oes *observableEodSummarizer) SummarizeToday() (string, error) {
	ctx, span := trace.StartSpan(context.Background(), "eod.SummarizeToday")
	defer span.End()
	return oes.observe(ctx, "today", oes.summarizer.SummarizeToday)
}

func (oes *observableEodSummarizer) observe(ctx context.Context, day string, run func() (string, error)) (string, error) {
	start := time.Now()
	csvPath, err := run()
	elapsed := time.Since(start)
	if err != nil {
		trace.RecordError(ctx, err)
		logger.ErrorWithErrSkip(ctx, 2, "EOD summary failed", err,
			"date", day,
			"duration_ms", elapsed.Milliseconds(),
		)
		return "", err
	}

	if csvPath == "" {
		logger.InfoSkip(ctx, 2, "No closed trades for EOD summary", "date", day)
		return "", nil
	}

	trace.AddEvent(ctx, "eod.written", trace.Attributes("csv_path", csvPath)...)
	logger.InfoSkip(ctx, 2, "EOD summary written",
		"date", day,
		"csv_path", csvPath,
		"duration_ms", elapsed.Milliseconds(),
	)
	return csvPath, nil
}

func (oes *observableEodSummarizer) ShouldRunNow() (bool, string) {
	ctx, span := trace.StartSpan(context.Background(), "eod.ShouldRunNow")
	defer span.End()

	shouldRun, csvPath := oes.summarizer.ShouldRunNow()

	logger.DebugSkip(ctx, 1, "EOD check completed",
		"should_run", shouldRun,
		"csv_path", csvPath,
	)

	return shouldRun, csvPath
}
