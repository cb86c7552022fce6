package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marifactor/push-pipeline/internal/domain"
	"github.com/marifactor/push-pipeline/internal/provider"
	"github.com/marifactor/push-pipeline/internal/repository"
)

const (
	tokenPrefixLen        = 10
	statusReportLimit     = 10
	testNotificationTitle = "Direct Test Notification"
	testNotificationBody  = "Sent directly from delivery service"
	noTokenErrorCode      = "token-unavailable"
)

// ProcessResult aggregates one bulk reprocessing run.
type ProcessResult struct {
	Total      int
	Processed  int
	Successful int
	Failed     int
	Errors     []string
}

// StatusReport is the read-only per-user diagnostic. The token is redacted
// to a short prefix; the full value never leaves the service.
type StatusReport struct {
	HasToken            bool
	TokenPrefix         *string
	RecentNotifications []NotificationSummary
}

type NotificationSummary struct {
	ID        string
	Type      string
	Status    domain.Status
	CreatedAt time.Time
	Error     *string
}

// AdminService hosts the on-demand recovery and diagnostic operations.
type AdminService struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	dispatcher    *Dispatcher
	provider      provider.Provider
	logger        *zap.Logger
}

func NewAdminService(
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	dispatcher *Dispatcher,
	pushProvider provider.Provider,
	logger *zap.Logger,
) (*AdminService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if pushProvider == nil {
		return nil, fmt.Errorf("push provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AdminService{
		notifications: notifications,
		users:         users,
		dispatcher:    dispatcher,
		provider:      pushProvider,
		logger:        logger,
	}, nil
}

// ProcessAllPending re-dispatches every record currently in pending. Safe to
// run repeatedly; records already moved by a concurrent path are skipped at
// the state-machine level. One record's failure never aborts the run.
func (s *AdminService) ProcessAllPending(ctx context.Context) (*ProcessResult, error) {
	pending, err := s.notifications.ListByStatus(ctx, domain.StatusPending, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending records: %w", err)
	}

	result := &ProcessResult{Total: len(pending)}
	s.logger.Info("processing pending notifications", zap.Int("total", result.Total))

	for i := range pending {
		record := &pending[i]
		result.Processed++

		if !record.HasToken() {
			if _, err := s.notifications.MarkFailed(ctx, record.ID, noTokenReason, noTokenErrorCode); err != nil {
				s.logger.Error("failed to mark tokenless record",
					zap.String("notificationId", record.ID),
					zap.Error(err),
				)
			}
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("No FCM token for %s", record.ID))
			continue
		}

		dispatched, err := s.dispatcher.Dispatch(ctx, record)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", record.ID, err))
			continue
		}

		switch dispatched.Outcome {
		case DispatchSent:
			result.Successful++
		case DispatchFailed:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", record.ID, dispatched.Err))
		}
	}

	s.logger.Info("processing complete",
		zap.Int("total", result.Total),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// FixStuck clears leftover error annotations from pending records that
// already carry a token, normalizing an unknown platform to ios. Data
// hygiene only; no dispatch.
func (s *AdminService) FixStuck(ctx context.Context) (int, error) {
	pending, err := s.notifications.ListByStatus(ctx, domain.StatusPending, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending records: %w", err)
	}

	fixed := 0
	for i := range pending {
		record := &pending[i]
		if !record.HasToken() || record.Error == nil {
			continue
		}

		platform := record.Platform
		if platform == domain.PlatformUnknown {
			platform = domain.PlatformIOS
		}

		if err := s.notifications.ClearErrorAnnotation(ctx, record.ID, platform); err != nil {
			s.logger.Error("failed to repair record",
				zap.String("notificationId", record.ID),
				zap.Error(err),
			)
			continue
		}
		fixed++
	}

	s.logger.Info("fixed stuck notifications", zap.Int("fixed", fixed))
	return fixed, nil
}

// CheckStatus reports a user's token state and their last ten notifications.
func (s *AdminService) CheckStatus(ctx context.Context, userID string) (*StatusReport, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	recent, err := s.notifications.ListRecentByRecipient(ctx, userID, statusReportLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent notifications: %w", err)
	}

	report := &StatusReport{
		HasToken:            user.HasToken(),
		RecentNotifications: make([]NotificationSummary, 0, len(recent)),
	}
	if user.HasToken() {
		prefix := redactToken(user.Token())
		report.TokenPrefix = &prefix
	}

	for i := range recent {
		record := &recent[i]
		report.RecentNotifications = append(report.RecentNotifications, NotificationSummary{
			ID:        record.ID,
			Type:      record.Type,
			Status:    record.Status,
			CreatedAt: record.CreatedAt,
			Error:     record.Error,
		})
	}

	return report, nil
}

// SendTest bypasses the pipeline and calls the transport directly.
func (s *AdminService) SendTest(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: token is required", domain.ErrValidation)
	}

	resp, err := s.provider.Send(ctx, provider.Push{
		Token: token,
		Title: testNotificationTitle,
		Body:  testNotificationBody,
	})
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

func redactToken(token string) string {
	runes := []rune(token)
	if len(runes) <= tokenPrefixLen {
		return token + "..."
	}
	return string(runes[:tokenPrefixLen]) + "..."
}
