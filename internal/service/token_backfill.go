package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marifactor/push-pipeline/internal/domain"
	"github.com/marifactor/push-pipeline/internal/observability"
	"github.com/marifactor/push-pipeline/internal/repository"
)

const (
	defaultBackfillInterval = 15 * time.Minute
	defaultTokenWaitExpiry  = 24 * time.Hour
	defaultSweepScanLimit   = 500

	expiredReason      = "Notification expired before token was available"
	userNotFoundReason = "User not found"
	userNotFoundCode   = "user-not-found"
)

// TokenBackfillSweep periodically revisits pending_token records: promotes
// the ones whose recipient has registered a token since, expires the ones
// past the wait window, and errors the ones whose recipient no longer
// exists. Each transition is a conditional update, so overlapping sweep
// runs cannot double-apply.
type TokenBackfillSweep struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	logger        *zap.Logger
	metrics       *observability.Metrics
	interval      time.Duration
	expiry        time.Duration
	limit         int
	now           func() time.Time
}

func NewTokenBackfillSweep(
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	interval time.Duration,
	expiry time.Duration,
	limit int,
	logger *zap.Logger,
) (*TokenBackfillSweep, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if interval <= 0 {
		interval = defaultBackfillInterval
	}
	if expiry <= 0 {
		expiry = defaultTokenWaitExpiry
	}
	if limit <= 0 {
		limit = defaultSweepScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TokenBackfillSweep{
		notifications: notifications,
		users:         users,
		logger:        logger,
		interval:      interval,
		expiry:        expiry,
		limit:         limit,
		now:           time.Now,
	}, nil
}

func (s *TokenBackfillSweep) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *TokenBackfillSweep) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial pass so records waiting through a restart do not also
	// wait out the first ticker edge.
	if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("token backfill initial run failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("token backfill run failed", zap.Error(err))
			}
		}
	}
}

func (s *TokenBackfillSweep) RunOnce(ctx context.Context) error {
	waiting, err := s.notifications.ListByStatus(ctx, domain.StatusPendingToken, s.limit)
	if err != nil {
		return fmt.Errorf("failed to list pending_token records: %w", err)
	}

	promoted, expired, errored, skipped := 0, 0, 0, 0
	now := s.now().UTC()

	for i := range waiting {
		record := &waiting[i]

		if record.Age(now) > s.expiry {
			changed, err := s.notifications.MarkExpired(ctx, record.ID, expiredReason)
			if err != nil {
				s.logger.Error("failed to expire record",
					zap.String("notificationId", record.ID),
					zap.Error(err),
				)
				continue
			}
			if changed {
				expired++
				s.countTransition("expired")
			}
			continue
		}

		user, err := s.users.GetByID(ctx, record.RecipientID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				changed, markErr := s.notifications.MarkFailed(ctx, record.ID, userNotFoundReason, userNotFoundCode)
				if markErr != nil {
					s.logger.Error("failed to error record for missing user",
						zap.String("notificationId", record.ID),
						zap.Error(markErr),
					)
					continue
				}
				if changed {
					errored++
					s.countTransition("errored")
				}
				continue
			}
			s.logger.Error("failed to load recipient during backfill",
				zap.String("notificationId", record.ID),
				zap.String("recipientId", record.RecipientID),
				zap.Error(err),
			)
			continue
		}

		if !user.HasToken() {
			skipped++
			continue
		}

		changed, err := s.notifications.PromoteWithToken(ctx, record.ID, user.Token())
		if err != nil {
			s.logger.Error("failed to promote record",
				zap.String("notificationId", record.ID),
				zap.Error(err),
			)
			continue
		}
		if changed {
			promoted++
			s.countTransition("promoted")
		}
	}

	s.logger.Info("token backfill run complete",
		zap.Int("scanned", len(waiting)),
		zap.Int("promoted", promoted),
		zap.Int("expired", expired),
		zap.Int("errored", errored),
		zap.Int("skipped", skipped),
	)
	return nil
}

func (s *TokenBackfillSweep) countTransition(transition string) {
	if s.metrics != nil {
		s.metrics.IncSweepTransition("token_backfill", transition)
	}
}
