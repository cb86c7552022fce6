package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marifactor/push-pipeline/internal/observability"
	"github.com/marifactor/push-pipeline/internal/repository"
)

const defaultTokenCleanupInterval = 24 * time.Hour

// TokenCleanupSweep strips known-dead tokens from user profiles so the
// resolver stops reusing them and users return to a clean unregistered
// state.
type TokenCleanupSweep struct {
	users    repository.UserRepository
	logger   *zap.Logger
	metrics  *observability.Metrics
	interval time.Duration
	limit    int
}

func NewTokenCleanupSweep(
	users repository.UserRepository,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*TokenCleanupSweep, error) {
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if interval <= 0 {
		interval = defaultTokenCleanupInterval
	}
	if limit <= 0 {
		limit = defaultSweepScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TokenCleanupSweep{
		users:    users,
		logger:   logger,
		interval: interval,
		limit:    limit,
	}, nil
}

func (s *TokenCleanupSweep) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *TokenCleanupSweep) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("token cleanup initial run failed", zap.Error(err))
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
				s.logger.Error("token cleanup run failed", zap.Error(err))
			}
		}
	}
}

func (s *TokenCleanupSweep) RunOnce(ctx context.Context) error {
	flagged, err := s.users.ListWithInvalidToken(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to list users with invalid tokens: %w", err)
	}

	cleaned := 0
	for i := range flagged {
		user := &flagged[i]
		if err := s.users.ClearToken(ctx, user.ID); err != nil {
			s.logger.Error("failed to clear invalid token",
				zap.String("userId", user.ID),
				zap.Error(err),
			)
			continue
		}
		cleaned++
		if s.metrics != nil {
			s.metrics.IncSweepTransition("token_cleanup", "cleared")
		}
	}

	s.logger.Info("token cleanup run complete",
		zap.Int("scanned", len(flagged)),
		zap.Int("cleaned", cleaned),
	)
	return nil
}
