package state

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is one row of the state_entries table.
type Entry struct {
	Scope     string `gorm:"primaryKey;size:128"`
	Name      string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (Entry) TableName() string { return "state_entries" }

// SQLBackend stores blobs in the state_entries table.
type SQLBackend struct {
	db *gorm.DB
}

func NewSQLBackend(db *gorm.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

func (s *SQLBackend) Load(ctx context.Context, scope string, key Key) ([]byte, bool, error) {
	var entry Entry
	err := s.db.WithContext(ctx).
		Where("scope = ? AND name = ?", scope, string(key)).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(entry.Value), true, nil
}

func (s *SQLBackend) Save(ctx context.Context, scope string, key Key, value []byte) error {
	entry := Entry{Scope: scope, Name: string(key), Value: string(value), UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry).Error
}

func (s *SQLBackend) Delete(ctx context.Context, scope string, key Key) error {
	return s.db.WithContext(ctx).
		Where("scope = ? AND name = ?", scope, string(key)).
		Delete(&Entry{}).Error
}
