package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marifactor/push-pipeline/internal/domain"
	"github.com/marifactor/push-pipeline/internal/observability"
	"github.com/marifactor/push-pipeline/internal/provider"
	"github.com/marifactor/push-pipeline/internal/ratelimit"
	"github.com/marifactor/push-pipeline/internal/repository"
)

const noTokenReason = "No FCM token available"

// DispatchOutcome describes where a record landed after one dispatch attempt.
type DispatchOutcome int

const (
	// DispatchSkipped means the record was not in a dispatchable state,
	// usually because a concurrent path already moved it.
	DispatchSkipped DispatchOutcome = iota
	// DispatchParked means no token could be resolved; the record waits in
	// pending_token for the backfill sweep.
	DispatchParked
	DispatchSent
	DispatchFailed
)

// DispatchResult carries the outcome and, for failures, the transport error.
type DispatchResult struct {
	Outcome DispatchOutcome
	Err     error
}

// Dispatcher drives a single record through token resolution, one
// synchronous transport call, and the matching status transition. There is
// no retry; a failed record stays in error until repaired externally.
type Dispatcher struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	resolver      *TokenResolver
	provider      provider.Provider
	rateLimiter   ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewDispatcher(
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	resolver *TokenResolver,
	pushProvider provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("token resolver is required")
	}
	if pushProvider == nil {
		return nil, fmt.Errorf("push provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		notifications: notifications,
		users:         users,
		resolver:      resolver,
		provider:      pushProvider,
		rateLimiter:   rateLimiter,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Dispatch attempts delivery of one record. The returned error is reserved
// for infrastructure failures; delivery failures are absorbed into the
// record's status and reported through the result.
func (d *Dispatcher) Dispatch(ctx context.Context, n *domain.Notification) (DispatchResult, error) {
	if n == nil {
		return DispatchResult{}, fmt.Errorf("notification is required")
	}
	if n.Status != domain.StatusPending && n.Status != domain.StatusPendingToken {
		return DispatchResult{Outcome: DispatchSkipped}, nil
	}

	token, err := d.resolver.Resolve(ctx, n)
	if err != nil {
		if errors.Is(err, domain.ErrTokenUnavailable) {
			return d.park(ctx, n)
		}
		return DispatchResult{}, err
	}

	if n.Status == domain.StatusPendingToken {
		promoted, err := d.notifications.PromoteWithToken(ctx, n.ID, token)
		if err != nil {
			return DispatchResult{}, fmt.Errorf("failed to promote record with token: %w", err)
		}
		if !promoted {
			return DispatchResult{Outcome: DispatchSkipped}, nil
		}
		n.Status = domain.StatusPending
	}

	platform := n.Platform.String()
	if d.rateLimiter != nil {
		if err := d.rateLimiter.Wait(ctx, platform); err != nil {
			return DispatchResult{}, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	sendStart := d.now()
	resp, sendErr := d.provider.Send(ctx, provider.Push{
		Token:    token,
		Title:    n.Title,
		Body:     n.Body,
		Data:     n.Data,
		Platform: n.Platform,
	})
	if d.metrics != nil {
		d.metrics.ObserveSendDuration(platform, d.now().Sub(sendStart))
	}

	if sendErr == nil {
		messageID := ""
		if resp != nil {
			messageID = resp.MessageID
		}
		if _, err := d.notifications.MarkSent(ctx, n.ID, messageID); err != nil {
			return DispatchResult{}, fmt.Errorf("failed to mark record sent: %w", err)
		}
		n.Status = domain.StatusSent
		if d.metrics != nil {
			d.metrics.IncNotificationSent(platform)
		}
		return DispatchResult{Outcome: DispatchSent}, nil
	}

	code := provider.ErrorCode(sendErr)
	if code == "" {
		code = "unknown"
	}
	if _, err := d.notifications.MarkFailed(ctx, n.ID, sendErr.Error(), code); err != nil {
		return DispatchResult{}, fmt.Errorf("failed to mark record failed: %w", err)
	}
	n.Status = domain.StatusError

	reason := "transport_error"
	if provider.IsTokenInvalid(sendErr) {
		reason = "token_invalid"
		d.invalidateUserToken(ctx, n.RecipientID, code)
	}
	if d.metrics != nil {
		d.metrics.IncNotificationFailed(platform, reason)
	}

	d.logger.Warn("dispatch failed",
		zap.String("notificationId", n.ID),
		zap.String("errorCode", code),
		zap.Error(sendErr),
	)

	return DispatchResult{Outcome: DispatchFailed, Err: sendErr}, nil
}

func (d *Dispatcher) park(ctx context.Context, n *domain.Notification) (DispatchResult, error) {
	parked, err := d.notifications.MarkWaitingForToken(ctx, n.ID, noTokenReason)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("failed to park record without token: %w", err)
	}
	if parked {
		n.Status = domain.StatusPendingToken
	}
	return DispatchResult{Outcome: DispatchParked}, nil
}

// invalidateUserToken is best-effort: a failure to flag the dead token must
// not abort the record transition that already happened.
func (d *Dispatcher) invalidateUserToken(ctx context.Context, recipientID, errCode string) {
	if strings.TrimSpace(recipientID) == "" {
		return
	}
	if err := d.users.MarkTokenInvalid(ctx, recipientID, errCode); err != nil {
		d.logger.Error("failed to mark user token invalid",
			zap.String("recipientId", recipientID),
			zap.String("errorCode", errCode),
			zap.Error(err),
		)
	}
}
