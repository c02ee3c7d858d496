package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"gorm.io/gorm"
)

type deliveryLogRepository struct {
	db *gorm.DB
}

// NewDeliveryLogRepository creates a new delivery log repository instance
func NewDeliveryLogRepository(db *gorm.DB) DeliveryLogRepository {
	return &deliveryLogRepository{db: db}
}

func (r *deliveryLogRepository) Create(ctx context.Context, entry *models.WebhookDeliveryLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *deliveryLogRepository) GetByID(ctx context.Context, id string) (*models.WebhookDeliveryLog, error) {
	var entry models.WebhookDeliveryLog
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *deliveryLogRepository) Finalize(ctx context.Context, id string, update DeliveryLogUpdate) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.WebhookDeliveryLog{}).
		Where("id = ? AND status IN ?", id, []string{models.DeliveryStatusPending, models.DeliveryStatusRetry}).
		Updates(map[string]interface{}{
			"status":        update.Status,
			"response_code": update.ResponseCode,
			"message":       update.Message,
			"error_text":    update.ErrorText,
			"duration_ms":   update.DurationMs,
			"receipt_id":    update.ReceiptID,
			"finalized_at":  update.FinalizedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *deliveryLogRepository) BeginRetry(ctx context.Context, id string, maxRetries int, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.WebhookDeliveryLog{}).
		Where("id = ? AND status = ? AND retry_count < ?", id, models.DeliveryStatusFailed, maxRetries).
		Updates(map[string]interface{}{
			"status":        models.DeliveryStatusRetry,
			"retry_count":   gorm.Expr("retry_count + ?", 1),
			"last_retry_at": at,
			"finalized_at":  nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// List returns one page of a merchant's entries, newest first, plus the
// total number of matching entries.
func (r *deliveryLogRepository) List(ctx context.Context, merchantID uint, filter DeliveryLogFilter, offset, limit int) ([]models.WebhookDeliveryLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.WebhookDeliveryLog{}).Where("merchant_id = ?", merchantID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.TransactionID != "" {
		query = query.Where("transaction_id = ?", filter.TransactionID)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", filter.Since.UTC())
	}
	if filter.Until != nil {
		query = query.Where("created_at < ?", filter.Until.UTC())
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.WebhookDeliveryLog
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ListStale returns pending entries created before olderThan, oldest first
func (r *deliveryLogRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]models.WebhookDeliveryLog, error) {
	var entries []models.WebhookDeliveryLog
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.DeliveryStatusPending, olderThan.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
