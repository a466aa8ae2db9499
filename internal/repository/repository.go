package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tracked-mail-relay-go/internal/model"
)

// ErrNotFound is returned by Get when no record exists for a message id
var ErrNotFound = errors.New("event record not found")

// Store is keyed persistence of one EventRecord per message id
type Store interface {
	// GetOrCreate returns the stored record for messageID, or a new empty
	// record that is not durable until Save is called.
	GetOrCreate(ctx context.Context, messageID string) (*model.EventRecord, error)
	// Save upserts the record by message id.
	Save(ctx context.Context, record *model.EventRecord) error
	// MostRecentByWatermark returns the record with the greatest LatestEvent,
	// or nil when the store holds no watermark yet.
	MostRecentByWatermark(ctx context.Context) (*model.EventRecord, error)
	Get(ctx context.Context, messageID string) (*model.EventRecord, error)
	List(ctx context.Context, offset, limit int) ([]model.EventRecord, int64, error)
}

// Repository is the gorm-backed Store
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetOrCreate(ctx context.Context, messageID string) (*model.EventRecord, error) {
	var record model.EventRecord
	result := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&record)
	if result.Error == nil {
		return &record, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return model.NewEventRecord(messageID), nil
	}
	return nil, fmt.Errorf("database error loading event record: %w", result.Error)
}

func (r *Repository) Save(ctx context.Context, record *model.EventRecord) error {
	db := r.db.WithContext(ctx)

	var result *gorm.DB
	if record.IsNew() {
		// A concurrent writer may have created the row since GetOrCreate.
		result = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			UpdateAll: true,
		}).Create(record)
	} else {
		result = db.Save(record)
	}
	if result.Error != nil {
		return fmt.Errorf("failed to save event record %s: %w", record.MessageID, result.Error)
	}
	return nil
}

func (r *Repository) MostRecentByWatermark(ctx context.Context) (*model.EventRecord, error) {
	var record model.EventRecord
	result := r.db.WithContext(ctx).
		Where("latest_event IS NOT NULL").
		Order("latest_event DESC").
		First(&record)
	if result.Error == nil {
		return &record, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("database error loading sync watermark: %w", result.Error)
}

func (r *Repository) Get(ctx context.Context, messageID string) (*model.EventRecord, error) {
	var record model.EventRecord
	result := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&record)
	if result.Error == nil {
		return &record, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("database error loading event record: %w", result.Error)
}

func (r *Repository) List(ctx context.Context, offset, limit int) ([]model.EventRecord, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.EventRecord{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count event records: %w", err)
	}

	var records []model.EventRecord
	result := r.db.WithContext(ctx).
		Order("latest_event DESC").
		Offset(offset).
		Limit(limit).
		Find(&records)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list event records: %w", result.Error)
	}
	return records, total, nil
}
