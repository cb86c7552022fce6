package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marifactor/push-pipeline/internal/repository"
)

const defaultDuplicateWindow = 5 * time.Second

// DuplicateGuard decides whether a message event should be suppressed
// because an equivalent notification record already exists. Two checks,
// either one sufficient: an exact replay on the message id, and a burst
// window on the sender/recipient pair. Read-then-write with no mutual
// exclusion, so a race between two truly concurrent invocations of the
// same event can still slip through.
type DuplicateGuard struct {
	notifications repository.NotificationRepository
	window        time.Duration
	now           func() time.Time
}

func NewDuplicateGuard(
	notifications repository.NotificationRepository,
	window time.Duration,
) (*DuplicateGuard, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if window <= 0 {
		window = defaultDuplicateWindow
	}

	return &DuplicateGuard{
		notifications: notifications,
		window:        window,
		now:           time.Now,
	}, nil
}

func (g *DuplicateGuard) ShouldSuppress(ctx context.Context, messageID, senderID, recipientID string) (bool, error) {
	if strings.TrimSpace(messageID) == "" {
		return false, fmt.Errorf("message id is required")
	}

	exists, err := g.notifications.ExistsByMessageID(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("exact replay check failed: %w", err)
	}
	if exists {
		return true, nil
	}

	since := g.now().UTC().Add(-g.window)
	recent, err := g.notifications.ExistsRecentMessage(ctx, recipientID, senderID, since)
	if err != nil {
		return false, fmt.Errorf("burst check failed: %w", err)
	}
	return recent, nil
}
