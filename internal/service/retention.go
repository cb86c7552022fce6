package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marifactor/push-pipeline/internal/observability"
	"github.com/marifactor/push-pipeline/internal/repository"
)

const (
	defaultRetentionInterval = 24 * time.Hour
	defaultRetentionPeriod   = 30 * 24 * time.Hour
)

// RetentionSweep deletes any record older than the retention period,
// regardless of status. This is the only way a record is ever destroyed.
type RetentionSweep struct {
	notifications repository.NotificationRepository
	logger        *zap.Logger
	metrics       *observability.Metrics
	interval      time.Duration
	retention     time.Duration
	now           func() time.Time
}

func NewRetentionSweep(
	notifications repository.NotificationRepository,
	interval time.Duration,
	retention time.Duration,
	logger *zap.Logger,
) (*RetentionSweep, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if interval <= 0 {
		interval = defaultRetentionInterval
	}
	if retention <= 0 {
		retention = defaultRetentionPeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetentionSweep{
		notifications: notifications,
		logger:        logger,
		interval:      interval,
		retention:     retention,
		now:           time.Now,
	}, nil
}

func (s *RetentionSweep) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetentionSweep) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retention initial run failed", zap.Error(err))
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
				s.logger.Error("retention run failed", zap.Error(err))
			}
		}
	}
}

func (s *RetentionSweep) RunOnce(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.retention)

	deleted, err := s.notifications.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete expired records: %w", err)
	}

	if s.metrics != nil && deleted > 0 {
		s.metrics.AddSweepTransitions("retention", "deleted", float64(deleted))
	}
	s.logger.Info("retention run complete",
		zap.Int64("deleted", deleted),
		zap.Time("cutoff", cutoff),
	)
	return nil
}
