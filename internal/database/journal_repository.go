package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// JournalRepository provides database operations for the link journal
type JournalRepository struct {
	db *gorm.DB
}

// NewJournalRepository creates a new repository instance
func NewJournalRepository(db *gorm.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

// RecordEvent stores a single link event
func (r *JournalRepository) RecordEvent(event *LinkEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if !event.IsValid() {
		return fmt.Errorf("event is not valid: kind is empty")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	return r.db.Create(event).Error
}

// RecordSample stores a single telemetry sample
func (r *JournalRepository) RecordSample(sample *TelemetrySample) error {
	if sample == nil {
		return fmt.Errorf("sample cannot be nil")
	}
	if sample.ReceivedAt.IsZero() {
		sample.ReceivedAt = time.Now()
	}
	return r.db.Create(sample).Error
}

// RecentEvents returns the newest events first
func (r *JournalRepository) RecentEvents(limit int) ([]LinkEvent, error) {
	var events []LinkEvent
	err := r.db.Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// SamplesForChannel returns the newest samples of one channel first
func (r *JournalRepository) SamplesForChannel(channel uint32, limit int) ([]TelemetrySample, error) {
	var samples []TelemetrySample
	err := r.db.Where("channel = ?", channel).
		Order("received_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&samples).Error
	return samples, err
}

// LatestSample returns the most recent sample of a channel
func (r *JournalRepository) LatestSample(channel uint32) (*TelemetrySample, error) {
	var sample TelemetrySample
	err := r.db.Where("channel = ?", channel).
		Order("received_at DESC").
		Order("id DESC").
		First(&sample).Error
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

// CountByKind returns the number of journalled events per kind
func (r *JournalRepository) CountByKind() (map[string]int64, error) {
	var rows []struct {
		Kind  string
		Count int64
	}
	err := r.db.Model(&LinkEvent{}).
		Select("kind, COUNT(*) as count").
		Group("kind").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Kind] = row.Count
	}
	return counts, nil
}

// Prune deletes events and samples older than before, in one transaction.
// It returns the number of rows removed.
func (r *JournalRepository) Prune(before time.Time) (int64, error) {
	var removed int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("created_at < ?", before).Delete(&LinkEvent{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected

		res = tx.Where("received_at < ?", before).Delete(&TelemetrySample{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune before %s failed: %w", before.Format(time.RFC3339), err)
	}
	return removed, nil
}

// HealthCheck verifies the repository is working correctly
func (r *JournalRepository) HealthCheck() error {
	var count int64
	return r.db.Model(&LinkEvent{}).Count(&count).Error
}
