package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/types"
)

// snapshotRow keeps the headline numbers as columns and the full snapshot
// as a JSON document.
type snapshotRow struct {
	ID         uint      `gorm:"primaryKey"`
	TakenAt    time.Time `gorm:"index;not null"`
	Balance    float64   `gorm:"not null"`
	Equity     float64   `gorm:"not null"`
	OpenOrders int       `gorm:"not null"`
	Feed       string    `gorm:"size:32"`
	Document   string    `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time
}

func (snapshotRow) TableName() string { return "engine_snapshots" }

type SnapshotStore struct {
	db *gorm.DB
}

var _ interfaces.SnapshotSink = (*SnapshotStore)(nil)

func NewSnapshotStore(dsn string) (*SnapshotStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate snapshots: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap types.Snapshot) error {
	row, err := toRow(snap)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recently taken snapshot.
func (s *SnapshotStore) Latest(ctx context.Context) (types.Snapshot, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).Order("taken_at DESC, id DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Snapshot{}, &types.NotFoundError{Kind: "snapshot", Key: "latest"}
	}
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return fromRow(row)
}

// Prune deletes snapshots taken before cutoff and returns how many went.
func (s *SnapshotStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("taken_at < ?", cutoff.UTC()).Delete(&snapshotRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *SnapshotStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(snap types.Snapshot) (snapshotRow, error) {
	doc, err := json.Marshal(snap)
	if err != nil {
		return snapshotRow{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return snapshotRow{
		TakenAt:    snap.Time.UTC(),
		Balance:    snap.Account.Balance,
		Equity:     snap.Account.Equity,
		OpenOrders: len(snap.OpenOrders),
		Feed:       snap.Health.Feed.Feed,
		Document:   string(doc),
	}, nil
}

func fromRow(row snapshotRow) (types.Snapshot, error) {
	var snap types.Snapshot
	if err := json.Unmarshal([]byte(row.Document), &snap); err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to decode snapshot %d: %w", row.ID, err)
	}
	return snap, nil
}
