package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/marifactor/push-pipeline/internal/domain"
	"github.com/marifactor/push-pipeline/internal/repository"
)

// TokenResolver finds a delivery token for a notification record.
// Resolution order, first hit wins: the token already on the record, the
// debug override for designated test accounts, then the recipient's stored
// token. A resolved token is persisted back onto the record so repeated
// resolution is idempotent.
type TokenResolver struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	debugToken    string
	debugAccounts map[string]struct{}
	logger        *zap.Logger
}

func NewTokenResolver(
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	debugToken string,
	debugAccountIDs []string,
	logger *zap.Logger,
) (*TokenResolver, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	accounts := make(map[string]struct{}, len(debugAccountIDs))
	for _, id := range debugAccountIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			accounts[id] = struct{}{}
		}
	}

	return &TokenResolver{
		notifications: notifications,
		users:         users,
		debugToken:    strings.TrimSpace(debugToken),
		debugAccounts: accounts,
		logger:        logger,
	}, nil
}

// Resolve returns a delivery token for the record or domain.ErrTokenUnavailable.
// The record is updated in place when a token is found off-record.
func (r *TokenResolver) Resolve(ctx context.Context, n *domain.Notification) (string, error) {
	if n == nil {
		return "", fmt.Errorf("notification is required")
	}

	if n.HasToken() {
		return n.Token(), nil
	}

	if r.isDebugAccount(n.RecipientID) && r.debugToken != "" {
		r.logger.Info("using debug token for test account",
			zap.String("notificationId", n.ID),
			zap.String("recipientId", n.RecipientID),
		)
		if err := r.persistToken(ctx, n, r.debugToken); err != nil {
			return "", err
		}
		return r.debugToken, nil
	}

	user, err := r.users.GetByID(ctx, n.RecipientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrTokenUnavailable
		}
		return "", fmt.Errorf("failed to load recipient %s: %w", n.RecipientID, err)
	}

	if !user.HasToken() {
		return "", domain.ErrTokenUnavailable
	}

	if err := r.persistToken(ctx, n, user.Token()); err != nil {
		return "", err
	}
	return user.Token(), nil
}

func (r *TokenResolver) persistToken(ctx context.Context, n *domain.Notification, token string) error {
	if err := r.notifications.SetDeliveryToken(ctx, n.ID, token); err != nil {
		return fmt.Errorf("failed to persist resolved token: %w", err)
	}
	n.DeliveryToken = &token
	return nil
}

func (r *TokenResolver) isDebugAccount(recipientID string) bool {
	if strings.Contains(recipientID, "test_") {
		return true
	}
	_, ok := r.debugAccounts[recipientID]
	return ok
}
