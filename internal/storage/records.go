// Package storage persists performance records and engine snapshots in
// Postgres.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/types"
)

// RecordStore writes one row per closed order. Writes are idempotent on the
// order id so retried deliveries never duplicate a trade.
type RecordStore struct {
	db    *sql.DB
	table string
}

var _ interfaces.RecordSink = (*RecordStore)(nil)

func NewRecordStore(ctx context.Context, dsn, table string) (*RecordStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &RecordStore{db: db, table: pq.QuoteIdentifier(table)}
	if err := s.initTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}
	return s, nil
}

func (s *RecordStore) Name() string { return "postgres" }

func (s *RecordStore) Write(ctx context.Context, rec types.PerformanceRecord) error {
	_, err := s.db.ExecContext(ctx, insertQuery(s.table),
		rec.OrderID,
		rec.Symbol,
		rec.StrategyID,
		rec.PnL,
		rec.Duration.Milliseconds(),
		rec.ClosedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save performance record %s: %w", rec.OrderID, err)
	}
	return nil
}

// Records returns rows closed at or after since, oldest first. An empty
// strategyID selects every strategy.
func (s *RecordStore) Records(ctx context.Context, strategyID string, since time.Time) ([]types.PerformanceRecord, error) {
	query := fmt.Sprintf(`
        SELECT order_id, symbol, strategy_id, pnl, duration_ms, closed_at
        FROM %s
        WHERE closed_at >= $1 AND ($2 = '' OR strategy_id = $2)
        ORDER BY closed_at ASC, order_id ASC
    `, s.table)

	rows, err := s.db.QueryContext(ctx, query, since.UTC(), strategyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance records: %w", err)
	}
	defer rows.Close()

	var out []types.PerformanceRecord
	for rows.Next() {
		var (
			rec types.PerformanceRecord
			ms  int64
		)
		if err := rows.Scan(&rec.OrderID, &rec.Symbol, &rec.StrategyID, &rec.PnL, &ms, &rec.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan performance record: %w", err)
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating performance records: %w", err)
	}
	return out, nil
}

func (s *RecordStore) Close() error { return s.db.Close() }

func (s *RecordStore) initTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createQuery(s.table))
	return err
}

func createQuery(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			order_id VARCHAR(64) PRIMARY KEY,
			symbol VARCHAR(32) NOT NULL,
			strategy_id VARCHAR(64) NOT NULL,
			pnl NUMERIC(24, 8) NOT NULL,
			duration_ms BIGINT NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`, table)
}

func insertQuery(table string) string {
	return fmt.Sprintf(`
        INSERT INTO %s (
            order_id, symbol, strategy_id, pnl, duration_ms, closed_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6
        )
        ON CONFLICT (order_id) DO NOTHING
    `, table)
}
