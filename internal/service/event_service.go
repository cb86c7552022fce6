package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/marifactor/push-pipeline/internal/domain"
	"github.com/marifactor/push-pipeline/internal/observability"
	"github.com/marifactor/push-pipeline/internal/queue"
	"github.com/marifactor/push-pipeline/internal/repository"
)

const (
	maxBodyPreviewLen   = 50
	truncatedPreviewLen = 47
	defaultMessageTitle = "Marifactor"
	messageBodySuffix   = " sent you a new message"
	truncationEllipsis  = "..."
)

// EventService turns incoming message events into notification records and
// pushes them through the dispatcher. Broker redelivery of the same event is
// harmless: the duplicate guard suppresses replays before a second record is
// created.
type EventService struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	guard         *DuplicateGuard
	dispatcher    *Dispatcher
	title         string
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewEventService(
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	guard *DuplicateGuard,
	dispatcher *Dispatcher,
	title string,
	logger *zap.Logger,
) (*EventService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if guard == nil {
		return nil, fmt.Errorf("duplicate guard is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if title == "" {
		title = defaultMessageTitle
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventService{
		notifications: notifications,
		users:         users,
		guard:         guard,
		dispatcher:    dispatcher,
		title:         title,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (s *EventService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// HandleMessageEvent processes one message event end to end. It never
// returns an error for per-record delivery failures; those end in a stored
// error status. Returned errors are infrastructure failures the caller may
// redeliver.
func (s *EventService) HandleMessageEvent(ctx context.Context, msg queue.MessageEvent) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message event: %w", err)
	}

	suppress, err := s.guard.ShouldSuppress(ctx, msg.MessageID, msg.SenderID, msg.ReceiverID)
	if err != nil {
		return err
	}
	if suppress {
		s.logger.Info("suppressing duplicate message event",
			zap.String("messageId", msg.MessageID),
			zap.String("senderId", msg.SenderID),
		)
		if s.metrics != nil {
			s.metrics.IncEventSuppressed()
		}
		return nil
	}

	recipient, err := s.users.GetByID(ctx, msg.ReceiverID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("recipient not found, dropping event",
				zap.String("messageId", msg.MessageID),
				zap.String("receiverId", msg.ReceiverID),
			)
			return nil
		}
		return fmt.Errorf("failed to load recipient: %w", err)
	}

	notification := s.buildNotification(ctx, msg, recipient)
	if err := s.notifications.Create(ctx, notification); err != nil {
		return fmt.Errorf("failed to create notification record: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncNotificationCreated(notification.Status.String())
	}

	s.logger.Info("created message notification",
		zap.String("notificationId", notification.ID),
		zap.String("recipientId", notification.RecipientID),
		zap.String("status", notification.Status.String()),
	)

	if _, err := s.dispatcher.Dispatch(ctx, notification); err != nil {
		return err
	}
	return nil
}

func (s *EventService) buildNotification(ctx context.Context, msg queue.MessageEvent, recipient *domain.User) *domain.Notification {
	now := s.now().UTC()

	senderName := "Someone"
	if sender, err := s.users.GetByID(ctx, msg.SenderID); err == nil {
		senderName = sender.DisplayName()
	}

	notification := &domain.Notification{
		ID:          fmt.Sprintf("msg_%s_%d", msg.MessageID, now.UnixMilli()),
		Type:        domain.TypeMessage,
		Title:       s.title,
		Body:        senderName + messageBodySuffix,
		RecipientID: msg.ReceiverID,
		Platform:    domain.NormalizePlatform(recipient.Platform.String()),
		Data: domain.Attributes{
			domain.DataKeyType:        domain.TypeMessage,
			domain.DataKeySenderID:    msg.SenderID,
			domain.DataKeyMessageID:   msg.MessageID,
			domain.DataKeyMessageText: truncatePreview(msg.Text),
			domain.DataKeyTimestamp:   strconv.FormatInt(now.UnixMilli(), 10),
		},
		CreatedAt: now,
	}

	if recipient.HasToken() {
		token := recipient.Token()
		notification.DeliveryToken = &token
		notification.Status = domain.StatusPending
	} else {
		notification.Status = domain.StatusPendingToken
	}

	return notification
}

func truncatePreview(text string) string {
	runes := []rune(text)
	if len(runes) <= maxBodyPreviewLen {
		return text
	}
	return string(runes[:truncatedPreviewLen]) + truncationEllipsis
}
