// Package tradelog appends closed trades and strategy decisions to daily
// JSON-lines files and rotates old files into gzip archives.
package tradelog

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/types"
)

const dayLayout = "2006-01-02"

// Entry is one closed trade as written to the daily file.
type Entry struct {
	types.PerformanceRecord
	LoggedAt time.Time `json:"logged_at"`
}

// DecisionEntry records what happened to one strategy intent.
type DecisionEntry struct {
	Time       time.Time       `json:"time"`
	Symbol     string          `json:"symbol"`
	StrategyID string          `json:"strategy_id"`
	Direction  types.Direction `json:"direction"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason,omitempty"`
	Admitted   bool            `json:"admitted"`
	OrderID    string          `json:"order_id,omitempty"`
	Size       float64         `json:"size,omitempty"`
	Rejection  string          `json:"rejection,omitempty"`
}

type Log struct {
	dir string
	loc *time.Location
	now func() time.Time
	mu  sync.Mutex
}

var _ interfaces.RecordSink = (*Log)(nil)

// New writes under dir, splitting days in loc. A nil loc means UTC.
func New(dir string, loc *time.Location) *Log {
	if dir == "" {
		dir = "logs"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Log{dir: dir, loc: loc, now: time.Now}
}

func (l *Log) Name() string             { return "tradelog" }
func (l *Log) Dir() string              { return l.dir }
func (l *Log) Location() *time.Location { return l.loc }

// DayFile is the trade file for the day containing t.
func (l *Log) DayFile(t time.Time) string {
	return filepath.Join(l.dir, t.In(l.loc).Format(dayLayout)+".txt")
}

func (l *Log) decisionsFile(t time.Time) string {
	return filepath.Join(l.dir, "decisions", t.In(l.loc).Format(dayLayout)+".txt")
}

// Write appends rec to the file of the day it closed on.
func (l *Log) Write(_ context.Context, rec types.PerformanceRecord) error {
	return l.appendLines(l.DayFile(rec.ClosedAt), Entry{PerformanceRecord: rec, LoggedAt: l.now().UTC()})
}

// AppendStep logs every opened and rejected intent of a tick.
func (l *Log) AppendStep(_ context.Context, res *types.StepResult) error {
	if res == nil || len(res.Opened)+len(res.Rejected) == 0 {
		return nil
	}
	lines := make([]any, 0, len(res.Opened)+len(res.Rejected))
	for _, o := range res.Opened {
		lines = append(lines, DecisionEntry{
			Time:       res.Time,
			Symbol:     o.Symbol,
			StrategyID: o.StrategyID,
			Direction:  o.Direction,
			Confidence: o.Intent.Confidence,
			Reason:     o.Intent.Reason,
			Admitted:   true,
			OrderID:    o.ID,
			Size:       o.Size,
		})
	}
	for _, r := range res.Rejected {
		lines = append(lines, DecisionEntry{
			Time:       res.Time,
			Symbol:     r.Intent.Symbol,
			StrategyID: r.Intent.StrategyID,
			Direction:  r.Intent.Direction,
			Confidence: r.Intent.Confidence,
			Reason:     r.Intent.Reason,
			Rejection:  r.Reason,
		})
	}
	return l.appendLines(l.decisionsFile(res.Time), lines...)
}

func (l *Log) appendLines(p string, lines ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadDay returns the trades logged for the day containing t, reading the
// gzip archive when the plain file has been rotated. Malformed lines are
// skipped. A day with no file yields no records and no error.
func (l *Log) ReadDay(t time.Time) ([]types.PerformanceRecord, error) {
	p := l.DayFile(t)
	var r io.Reader
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		f, err = os.Open(p + ".gz")
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		defer f.Close()
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open %s.gz: %w", p, err)
		}
		defer gz.Close()
		r = gz
	} else if err != nil {
		return nil, err
	} else {
		defer f.Close()
		r = f
	}

	var out []types.PerformanceRecord
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.OrderID == "" {
			continue
		}
		out = append(out, e.PerformanceRecord)
	}
	return out, sc.Err()
}

// CompressOlder gzips day files last modified more than retentionDays ago
// and returns how many it rotated.
func (l *Log) CompressOlder(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := l.now().AddDate(0, 0, -retentionDays)
	n := 0
	err := filepath.WalkDir(l.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".txt" {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if _, err := os.Stat(p + ".gz"); err == nil {
			return os.Remove(p)
		}
		if err := gzipFile(p); err != nil {
			return fmt.Errorf("compress %s: %w", p, err)
		}
		n++
		return nil
	})
	return n, err
}

func gzipFile(p string) error {
	in, err := os.Open(p)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(p+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		os.Remove(p + ".gz")
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(p)
}
