package store

import (
	"context"
	"fmt"
	"time"
)

// AppliedMigration is one completed unit. Rows are only ever inserted by a
// fresh run; removing one makes the unit run fresh again.
type AppliedMigration struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Unit      string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	AppliedAt time.Time `gorm:"not null"`
}

func (AppliedMigration) TableName() string { return "applied_migrations" }

// Applied reports whether unit has completed before.
func (t *Tx) Applied(ctx context.Context, unit string) (bool, error) {
	var n int64
	err := t.db.WithContext(ctx).Model(&AppliedMigration{}).Where("unit = ?", unit).Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Record appends the ledger entry of unit.
func (t *Tx) Record(ctx context.Context, unit string) error {
	entry := AppliedMigration{Unit: unit, AppliedAt: t.store.now().UTC()}
	if err := t.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// AppliedMigrations lists the ledger in application order.
func (s *Store) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	var out []AppliedMigration
	if err := s.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Forget deletes the ledger entry of unit so its next run is fresh.
func (s *Store) Forget(ctx context.Context, unit string) error {
	return s.db.WithContext(ctx).Where("unit = ?", unit).Delete(&AppliedMigration{}).Error
}
