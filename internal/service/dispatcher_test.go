package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/marifactor/push-pipeline/internal/domain"
	"github.com/marifactor/push-pipeline/internal/provider"
	"github.com/marifactor/push-pipeline/internal/ratelimit"
	"github.com/marifactor/push-pipeline/internal/repository"
)

func strPtr(s string) *string { return &s }

func newTestDispatcher(t *testing.T, repo *fakeNotificationRepo, users *fakeUserRepo, push *fakePushProvider, limiter ratelimit.RateLimiter) *Dispatcher {
	t.Helper()

	resolver, err := NewTokenResolver(repo, users, "", nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTokenResolver() error = %v", err)
	}

	d, err := NewDispatcher(repo, users, resolver, push, limiter, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return d
}

func TestDispatcherSendsPendingRecord(t *testing.T) {
	t.Parallel()

	markedSent := false
	repo := &fakeNotificationRepo{
		markSentFn: func(ctx context.Context, id string, transportMessageID string) (bool, error) {
			if id != "n1" {
				t.Fatalf("id = %q, want n1", id)
			}
			if transportMessageID != "fcm-msg-1" {
				t.Fatalf("transport message id = %q, want fcm-msg-1", transportMessageID)
			}
			markedSent = true
			return true, nil
		},
	}

	push := &fakePushProvider{
		sendFn: func(ctx context.Context, p provider.Push) (*provider.ProviderResponse, error) {
			if p.Token != "device-token" {
				t.Fatalf("token = %q, want device-token", p.Token)
			}
			if p.Platform != domain.PlatformIOS {
				t.Fatalf("platform = %s, want ios", p.Platform)
			}
			return &provider.ProviderResponse{MessageID: "fcm-msg-1"}, nil
		},
	}

	limiterWaited := false
	limiter := &fakeRateLimiter{
		waitFn: func(ctx context.Context, platform string) error {
			if platform != "ios" {
				t.Fatalf("platform = %q, want ios", platform)
			}
			limiterWaited = true
			return nil
		},
	}

	d := newTestDispatcher(t, repo, &fakeUserRepo{}, push, limiter)

	record := &domain.Notification{
		ID:            "n1",
		Status:        domain.StatusPending,
		RecipientID:   "user-1",
		DeliveryToken: strPtr("device-token"),
		Platform:      domain.PlatformIOS,
	}

	result, err := d.Dispatch(context.Background(), record)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result.Outcome != DispatchSent {
		t.Fatalf("outcome = %d, want DispatchSent", result.Outcome)
	}
	if record.Status != domain.StatusSent {
		t.Fatalf("record status = %s, want sent", record.Status)
	}
	if !markedSent {
		t.Fatal("expected MarkSent to be called")
	}
	if !limiterWaited {
		t.Fatal("expected rate limiter wait before send")
	}
}

func TestDispatcherParksRecordWithoutToken(t *testing.T) {
	t.Parallel()

	parked := false
	repo := &fakeNotificationRepo{
		markWaitingForTokenFn: func(ctx context.Context, id string, reason string) (bool, error) {
			if reason != noTokenReason {
				t.Fatalf("reason = %q, want %q", reason, noTokenReason)
			}
			parked = true
			return true, nil
		},
	}
	users := &fakeUserRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.User, error) {
			return &domain.User{ID: id}, nil
		},
	}

	push := &fakePushProvider{
		sendFn: func(ctx context.Context, p provider.Push) (*provider.ProviderResponse, error) {
			t.Fatal("send should not be called without a token")
			return nil, nil
		},
	}

	d := newTestDispatcher(t, repo, users, push, &fakeRateLimiter{})

	record := &domain.Notification{
		ID:          "n2",
		Status:      domain.StatusPending,
		RecipientID: "user-2",
		Platform:    domain.PlatformAndroid,
	}

	result, err := d.Dispatch(context.Background(), record)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result.Outcome != DispatchParked {
		t.Fatalf("outcome = %d, want DispatchParked", result.Outcome)
	}
	if record.Status != domain.StatusPendingToken {
		t.Fatalf("record status = %s, want pending_token", record.Status)
	}
	if !parked {
		t.Fatal("expected MarkWaitingForToken to be called")
	}
}

func TestDispatcherPromotesWaitingRecordBeforeSend(t *testing.T) {
	t.Parallel()

	promoted := false
	repo := &fakeNotificationRepo{
		promoteWithTokenFn: func(ctx context.Context, id string, token string) (bool, error) {
			if token != "late-token" {
				t.Fatalf("token = %q, want late-token", token)
			}
			promoted = true
			return true, nil
		},
		markSentFn: func(ctx context.Context, id string, transportMessageID string) (bool, error) {
			return true, nil
		},
	}

	d := newTestDispatcher(t, repo, &fakeUserRepo{}, &fakePushProvider{}, &fakeRateLimiter{})

	record := &domain.Notification{
		ID:            "n3",
		Status:        domain.StatusPendingToken,
		RecipientID:   "user-3",
		DeliveryToken: strPtr("late-token"),
		Platform:      domain.PlatformIOS,
	}

	result, err := d.Dispatch(context.Background(), record)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result.Outcome != DispatchSent {
		t.Fatalf("outcome = %d, want DispatchSent", result.Outcome)
	}
	if !promoted {
		t.Fatal("expected PromoteWithToken before send")
	}
}

func TestDispatcherSkipsWhenPromotionLosesRace(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		promoteWithTokenFn: func(ctx context.Context, id string, token string) (bool, error) {
			return false, nil
		},
	}

	push := &fakePushProvider{
		sendFn: func(ctx context.Context, p provider.Push) (*provider.ProviderResponse, error) {
			t.Fatal("send should not be called when promotion loses the race")
			return nil, nil
		},
	}

	d := newTestDispatcher(t, repo, &fakeUserRepo{}, push, &fakeRateLimiter{})

	record := &domain.Notification{
		ID:            "n4",
		Status:        domain.StatusPendingToken,
		RecipientID:   "user-4",
		DeliveryToken: strPtr("token"),
		Platform:      domain.PlatformIOS,
	}

	result, err := d.Dispatch(context.Background(), record)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result.Outcome != DispatchSkipped {
		t.Fatalf("outcome = %d, want DispatchSkipped", result.Outcome)
	}
}

func TestDispatcherSkipsTerminalStatuses(t *testing.T) {
	t.Parallel()

	for _, status := range []domain.Status{domain.StatusSent, domain.StatusError, domain.StatusExpired} {
		push := &fakePushProvider{
			sendFn: func(ctx context.Context, p provider.Push) (*provider.ProviderResponse, error) {
				t.Fatalf("send should not be called for status %s", status)
				return nil, nil
			},
		}

		d := newTestDispatcher(t, &fakeNotificationRepo{}, &fakeUserRepo{}, push, &fakeRateLimiter{})

		result, err := d.Dispatch(context.Background(), &domain.Notification{
			ID:            "n5",
			Status:        status,
			RecipientID:   "user-5",
			DeliveryToken: strPtr("token"),
			Platform:      domain.PlatformIOS,
		})
		if err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
		if result.Outcome != DispatchSkipped {
			t.Fatalf("outcome for %s = %d, want DispatchSkipped", status, result.Outcome)
		}
	}
}

func TestDispatcherInvalidTokenFailureFlagsUser(t *testing.T) {
	t.Parallel()

	var failedCode string
	repo := &fakeNotificationRepo{
		markFailedFn: func(ctx context.Context, id string, errMsg string, errCode string) (bool, error) {
			failedCode = errCode
			return true, nil
		},
	}

	var invalidatedUser, invalidatedCode string
	users := &fakeUserRepo{
		markTokenInvalidFn: func(ctx context.Context, id string, errCode string) error {
			invalidatedUser = id
			invalidatedCode = errCode
			return nil
		},
	}

	push := &fakePushProvider{
		sendFn: func(ctx context.Context, p provider.Push) (*provider.ProviderResponse, error) {
			return nil, &provider.ProviderError{
				Code:         provider.CodeTokenNotRegistered,
				Message:      "requested entity was not found",
				TokenInvalid: true,
			}
		},
	}

	d := newTestDispatcher(t, repo, users, push, &fakeRateLimiter{})

	record := &domain.Notification{
		ID:            "n6",
		Status:        domain.StatusPending,
		RecipientID:   "user-6",
		DeliveryToken: strPtr("stale-token"),
		Platform:      domain.PlatformAndroid,
	}

	result, err := d.Dispatch(context.Background(), record)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result.Outcome != DispatchFailed {
		t.Fatalf("outcome = %d, want DispatchFailed", result.Outcome)
	}
	if result.Err == nil {
		t.Fatal("result should carry the transport error")
	}
	if record.Status != domain.StatusError {
		t.Fatalf("record status = %s, want error", record.Status)
	}
	if failedCode != provider.CodeTokenNotRegistered {
		t.Fatalf("failed code = %q, want %q", failedCode, provider.CodeTokenNotRegistered)
	}
	if invalidatedUser != "user-6" {
		t.Fatalf("invalidated user = %q, want user-6", invalidatedUser)
	}
	if invalidatedCode != provider.CodeTokenNotRegistered {
		t.Fatalf("invalidated code = %q, want %q", invalidatedCode, provider.CodeTokenNotRegistered)
	}
}

func TestDispatcherTransportFailureLeavesUserAlone(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		markFailedFn: func(ctx context.Context, id string, errMsg string, errCode string) (bool, error) {
			if errCode != "unknown" {
				t.Fatalf("error code = %q, want unknown", errCode)
			}
			return true, nil
		},
	}
	users := &fakeUserRepo{
		markTokenInvalidFn: func(ctx context.Context, id string, errCode string) error {
			t.Fatal("user token should not be invalidated on a transport error")
			return nil
		},
	}

	push := &fakePushProvider{
		sendFn: func(ctx context.Context, p provider.Push) (*provider.ProviderResponse, error) {
			return nil, errors.New("connection reset")
		},
	}

	d := newTestDispatcher(t, repo, users, push, &fakeRateLimiter{})

	result, err := d.Dispatch(context.Background(), &domain.Notification{
		ID:            "n7",
		Status:        domain.StatusPending,
		RecipientID:   "user-7",
		DeliveryToken: strPtr("token"),
		Platform:      domain.PlatformIOS,
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result.Outcome != DispatchFailed {
		t.Fatalf("outcome = %d, want DispatchFailed", result.Outcome)
	}
}

func TestDispatcherRateLimiterErrorAborts(t *testing.T) {
	t.Parallel()

	push := &fakePushProvider{
		sendFn: func(ctx context.Context, p provider.Push) (*provider.ProviderResponse, error) {
			t.Fatal("send should not be called when the rate limiter fails")
			return nil, nil
		},
	}
	limiter := &fakeRateLimiter{
		waitFn: func(ctx context.Context, platform string) error {
			return errors.New("redis down")
		},
	}

	d := newTestDispatcher(t, &fakeNotificationRepo{}, &fakeUserRepo{}, push, limiter)

	_, err := d.Dispatch(context.Background(), &domain.Notification{
		ID:            "n8",
		Status:        domain.StatusPending,
		RecipientID:   "user-8",
		DeliveryToken: strPtr("token"),
		Platform:      domain.PlatformIOS,
	})
	if err == nil {
		t.Fatal("Dispatch() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "rate limiter wait failed") {
		t.Fatalf("Dispatch() error = %v, want rate limiter wait failure", err)
	}
}

type fakeNotificationRepo struct {
	createFn                func(ctx context.Context, n *domain.Notification) error
	getByIDFn               func(ctx context.Context, id string) (*domain.Notification, error)
	existsByMessageIDFn     func(ctx context.Context, messageID string) (bool, error)
	existsRecentMessageFn   func(ctx context.Context, recipientID, senderID string, since time.Time) (bool, error)
	listByStatusFn          func(ctx context.Context, status domain.Status, limit int) ([]domain.Notification, error)
	listRecentByRecipientFn func(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error)
	setDeliveryTokenFn      func(ctx context.Context, id string, token string) error
	markSentFn              func(ctx context.Context, id string, transportMessageID string) (bool, error)
	markFailedFn            func(ctx context.Context, id string, errMsg string, errCode string) (bool, error)
	markWaitingForTokenFn   func(ctx context.Context, id string, reason string) (bool, error)
	promoteWithTokenFn      func(ctx context.Context, id string, token string) (bool, error)
	markExpiredFn           func(ctx context.Context, id string, reason string) (bool, error)
	clearErrorAnnotationFn  func(ctx context.Context, id string, platform domain.Platform) error
	deleteCreatedBeforeFn   func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if f.createFn != nil {
		return f.createFn(ctx, n)
	}
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	if f.existsByMessageIDFn != nil {
		return f.existsByMessageIDFn(ctx, messageID)
	}
	return false, nil
}

func (f *fakeNotificationRepo) ExistsRecentMessage(ctx context.Context, recipientID, senderID string, since time.Time) (bool, error) {
	if f.existsRecentMessageFn != nil {
		return f.existsRecentMessageFn(ctx, recipientID, senderID, since)
	}
	return false, nil
}

func (f *fakeNotificationRepo) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]domain.Notification, error) {
	if f.listByStatusFn != nil {
		return f.listByStatusFn(ctx, status, limit)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) ListRecentByRecipient(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	if f.listRecentByRecipientFn != nil {
		return f.listRecentByRecipientFn(ctx, recipientID, limit)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) SetDeliveryToken(ctx context.Context, id string, token string) error {
	if f.setDeliveryTokenFn != nil {
		return f.setDeliveryTokenFn(ctx, id, token)
	}
	return nil
}

func (f *fakeNotificationRepo) MarkSent(ctx context.Context, id string, transportMessageID string) (bool, error) {
	if f.markSentFn != nil {
		return f.markSentFn(ctx, id, transportMessageID)
	}
	return true, nil
}

func (f *fakeNotificationRepo) MarkFailed(ctx context.Context, id string, errMsg string, errCode string) (bool, error) {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, errMsg, errCode)
	}
	return true, nil
}

func (f *fakeNotificationRepo) MarkWaitingForToken(ctx context.Context, id string, reason string) (bool, error) {
	if f.markWaitingForTokenFn != nil {
		return f.markWaitingForTokenFn(ctx, id, reason)
	}
	return true, nil
}

func (f *fakeNotificationRepo) PromoteWithToken(ctx context.Context, id string, token string) (bool, error) {
	if f.promoteWithTokenFn != nil {
		return f.promoteWithTokenFn(ctx, id, token)
	}
	return true, nil
}

func (f *fakeNotificationRepo) MarkExpired(ctx context.Context, id string, reason string) (bool, error) {
	if f.markExpiredFn != nil {
		return f.markExpiredFn(ctx, id, reason)
	}
	return true, nil
}

func (f *fakeNotificationRepo) ClearErrorAnnotation(ctx context.Context, id string, platform domain.Platform) error {
	if f.clearErrorAnnotationFn != nil {
		return f.clearErrorAnnotationFn(ctx, id, platform)
	}
	return nil
}

func (f *fakeNotificationRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.deleteCreatedBeforeFn != nil {
		return f.deleteCreatedBeforeFn(ctx, cutoff)
	}
	return 0, nil
}

var _ repository.NotificationRepository = (*fakeNotificationRepo)(nil)

type fakeUserRepo struct {
	getByIDFn              func(ctx context.Context, id string) (*domain.User, error)
	markTokenInvalidFn     func(ctx context.Context, id string, errCode string) error
	listWithInvalidTokenFn func(ctx context.Context, limit int) ([]domain.User, error)
	clearTokenFn           func(ctx context.Context, id string) error
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeUserRepo) MarkTokenInvalid(ctx context.Context, id string, errCode string) error {
	if f.markTokenInvalidFn != nil {
		return f.markTokenInvalidFn(ctx, id, errCode)
	}
	return nil
}

func (f *fakeUserRepo) ListWithInvalidToken(ctx context.Context, limit int) ([]domain.User, error) {
	if f.listWithInvalidTokenFn != nil {
		return f.listWithInvalidTokenFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeUserRepo) ClearToken(ctx context.Context, id string) error {
	if f.clearTokenFn != nil {
		return f.clearTokenFn(ctx, id)
	}
	return nil
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

type fakePushProvider struct {
	sendFn func(ctx context.Context, push provider.Push) (*provider.ProviderResponse, error)
}

func (f *fakePushProvider) Send(ctx context.Context, push provider.Push) (*provider.ProviderResponse, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, push)
	}
	return &provider.ProviderResponse{}, nil
}

var _ provider.Provider = (*fakePushProvider)(nil)

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, platform string) (bool, error)
	waitFn  func(ctx context.Context, platform string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, platform string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, platform)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, platform string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, platform)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)
