package repository

import (
	"time"

	"github.com/marifactor/push-pipeline/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID                 string            `gorm:"type:varchar(160);primaryKey"`
	Type               string            `gorm:"type:varchar(30);not null"`
	Title              string            `gorm:"type:text;not null"`
	Body               string            `gorm:"type:text;not null"`
	RecipientID        string            `gorm:"type:varchar(128);not null"`
	DeliveryToken      *string           `gorm:"type:text"`
	Status             domain.Status     `gorm:"type:varchar(20);not null"`
	Data               domain.Attributes `gorm:"type:jsonb;serializer:json"`
	Platform           domain.Platform   `gorm:"type:varchar(10);not null"`
	TransportMessageID *string           `gorm:"type:varchar(255)"`
	Error              *string           `gorm:"type:text"`
	ErrorCode          *string           `gorm:"type:varchar(64)"`
	CreatedAt          time.Time
	SentAt             *time.Time
	ProcessedAt        *time.Time
	ErrorTime          *time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// UserModel is the persistence model for the users table. The table belongs
// to the user-management subsystem; only the token fields are written here.
type UserModel struct {
	ID             string          `gorm:"type:varchar(128);primaryKey"`
	Name           string          `gorm:"type:varchar(255)"`
	Platform       domain.Platform `gorm:"type:varchar(10)"`
	DeliveryToken  *string         `gorm:"type:text"`
	TokenValid     *bool
	TokenError     *string `gorm:"type:varchar(64)"`
	TokenErrorTime *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:                 n.ID,
		Type:               n.Type,
		Title:              n.Title,
		Body:               n.Body,
		RecipientID:        n.RecipientID,
		DeliveryToken:      n.DeliveryToken,
		Status:             n.Status,
		Data:               n.Data,
		Platform:           n.Platform,
		TransportMessageID: n.TransportMessageID,
		Error:              n.Error,
		ErrorCode:          n.ErrorCode,
		CreatedAt:          n.CreatedAt,
		SentAt:             n.SentAt,
		ProcessedAt:        n.ProcessedAt,
		ErrorTime:          n.ErrorTime,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:                 m.ID,
		Type:               m.Type,
		Title:              m.Title,
		Body:               m.Body,
		RecipientID:        m.RecipientID,
		DeliveryToken:      m.DeliveryToken,
		Status:             m.Status,
		Data:               m.Data,
		Platform:           m.Platform,
		TransportMessageID: m.TransportMessageID,
		Error:              m.Error,
		ErrorCode:          m.ErrorCode,
		CreatedAt:          m.CreatedAt,
		SentAt:             m.SentAt,
		ProcessedAt:        m.ProcessedAt,
		ErrorTime:          m.ErrorTime,
	}
}

func userModelToDomain(m *UserModel) *domain.User {
	if m == nil {
		return nil
	}

	return &domain.User{
		ID:             m.ID,
		Name:           m.Name,
		Platform:       m.Platform,
		DeliveryToken:  m.DeliveryToken,
		TokenValid:     m.TokenValid,
		TokenError:     m.TokenError,
		TokenErrorTime: m.TokenErrorTime,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
