package repository

import (
	"context"
	"time"

	"retail-integration/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookEventRepository interface {
	Claim(ctx context.Context, topic, eventID string) (bool, error)
	Release(ctx context.Context, topic, eventID string) error
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type webhookEventRepositoryImpl struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepositoryImpl{db: db}
}

// Claim inserts the event row and reports whether this call created it. The
// primary key makes the insert the arbiter between concurrent callers.
func (r *webhookEventRepositoryImpl) Claim(ctx context.Context, topic, eventID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.WebhookEvent{
			Topic:    topic,
			EventID:  eventID,
			QueuedAt: time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *webhookEventRepositoryImpl) Release(ctx context.Context, topic, eventID string) error {
	return r.db.WithContext(ctx).
		Where("TOPIC = ? AND EVENT_ID = ?", topic, eventID).
		Delete(&model.WebhookEvent{}).Error
}

func (r *webhookEventRepositoryImpl) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("QUEUED_AT < ?", cutoff).
		Delete(&model.WebhookEvent{})

	return result.RowsAffected, result.Error
}
