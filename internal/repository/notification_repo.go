package repository

import (
	"context"
	"errors"
	"time"

	"github.com/marifactor/push-pipeline/internal/domain"
	"gorm.io/gorm"
)

// NotificationRepository is the record store port. Every transition method
// is a conditional single-row update keyed on the expected source status and
// reports whether a row actually changed, so re-applying a transition after
// a partial failure or a concurrent sweep run is a no-op.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	ExistsByMessageID(ctx context.Context, messageID string) (bool, error)
	ExistsRecentMessage(ctx context.Context, recipientID, senderID string, since time.Time) (bool, error)
	ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Notification, error)
	ListRecentByRecipient(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error)
	SetDeliveryToken(ctx context.Context, id string, token string) error
	MarkSent(ctx context.Context, id string, transportMessageID string) (bool, error)
	MarkFailed(ctx context.Context, id string, errMsg string, errCode string) (bool, error)
	MarkWaitingForToken(ctx context.Context, id string, reason string) (bool, error)
	PromoteWithToken(ctx context.Context, id string, token string) (bool, error)
	MarkExpired(ctx context.Context, id string, reason string) (bool, error)
	ClearErrorAnnotation(ctx context.Context, id string, platform domain.Platform) error
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

// ExistsByMessageID is the exact-replay duplicate check over the
// correlation key inside the JSONB payload.
func (r *GormNotificationRepo) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("data ->> ? = ?", domain.DataKeyMessageID, messageID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ExistsRecentMessage is the burst duplicate check for a sender/recipient
// pair inside the suppression window.
func (r *GormNotificationRepo) ExistsRecentMessage(ctx context.Context, recipientID, senderID string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("recipient_id = ? AND type = ? AND data ->> ? = ? AND created_at > ?",
			recipientID, domain.TypeMessage, domain.DataKeySenderID, senderID, since).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormNotificationRepo) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	query := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications, nil
}

func (r *GormNotificationRepo) ListRecentByRecipient(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications, nil
}

func (r *GormNotificationRepo) SetDeliveryToken(ctx context.Context, id string, token string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Update("delivery_token", token)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormNotificationRepo) MarkSent(ctx context.Context, id string, transportMessageID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":               domain.StatusSent,
			"transport_message_id": transportMessageID,
			"sent_at":              time.Now().UTC(),
			"error":                nil,
			"error_code":           nil,
			"error_time":           nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) MarkFailed(ctx context.Context, id string, errMsg string, errCode string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, []domain.Status{domain.StatusPending, domain.StatusPendingToken}).
		Updates(map[string]any{
			"status":     domain.StatusError,
			"error":      errMsg,
			"error_code": errCode,
			"error_time": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) MarkWaitingForToken(ctx context.Context, id string, reason string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":       domain.StatusPendingToken,
			"error":        reason,
			"processed_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) PromoteWithToken(ctx context.Context, id string, token string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPendingToken).
		Updates(map[string]any{
			"status":         domain.StatusPending,
			"delivery_token": token,
			"error":          nil,
			"processed_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) MarkExpired(ctx context.Context, id string, reason string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPendingToken).
		Updates(map[string]any{
			"status": domain.StatusExpired,
			"error":  reason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ClearErrorAnnotation removes a leftover error field from a pending record
// and normalizes its platform. Data hygiene only; no status change.
func (r *GormNotificationRepo) ClearErrorAnnotation(ctx context.Context, id string, platform domain.Platform) error {
	return r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"error":      nil,
			"error_code": nil,
			"error_time": nil,
			"platform":   platform,
		}).Error
}

func (r *GormNotificationRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&NotificationModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
