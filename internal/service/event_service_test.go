package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/marifactor/push-pipeline/internal/domain"
	"github.com/marifactor/push-pipeline/internal/provider"
	"github.com/marifactor/push-pipeline/internal/queue"
)

func newTestEventService(t *testing.T, repo *fakeNotificationRepo, users *fakeUserRepo, push *fakePushProvider) *EventService {
	t.Helper()

	guard, err := NewDuplicateGuard(repo, 5*time.Second)
	if err != nil {
		t.Fatalf("NewDuplicateGuard() error = %v", err)
	}
	resolver, err := NewTokenResolver(repo, users, "", nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTokenResolver() error = %v", err)
	}
	dispatcher, err := NewDispatcher(repo, users, resolver, push, &fakeRateLimiter{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	svc, err := NewEventService(repo, users, guard, dispatcher, "", zap.NewNop())
	if err != nil {
		t.Fatalf("NewEventService() error = %v", err)
	}
	return svc
}

func TestEventServiceCreatesAndSendsNotification(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var created *domain.Notification
	repo := &fakeNotificationRepo{
		createFn: func(ctx context.Context, n *domain.Notification) error {
			created = n
			return nil
		},
	}
	users := &fakeUserRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.User, error) {
			switch id {
			case "receiver-1":
				return &domain.User{
					ID:            id,
					Platform:      domain.PlatformIOS,
					DeliveryToken: strPtr("receiver-token"),
				}, nil
			case "sender-1":
				return &domain.User{ID: id, Name: "Ayşe"}, nil
			}
			return nil, domain.ErrNotFound
		},
	}

	sendCalled := false
	push := &fakePushProvider{
		sendFn: func(ctx context.Context, p provider.Push) (*provider.ProviderResponse, error) {
			sendCalled = true
			if p.Token != "receiver-token" {
				t.Fatalf("token = %q, want receiver-token", p.Token)
			}
			return &provider.ProviderResponse{MessageID: "fcm-1"}, nil
		},
	}

	svc := newTestEventService(t, repo, users, push)
	svc.now = func() time.Time { return base }

	err := svc.HandleMessageEvent(context.Background(), queue.MessageEvent{
		MessageID:  "m1",
		SenderID:   "sender-1",
		ReceiverID: "receiver-1",
		Text:       "merhaba",
	})
	if err != nil {
		t.Fatalf("HandleMessageEvent() error = %v", err)
	}

	if created == nil {
		t.Fatal("notification record should be created")
	}
	wantID := fmt.Sprintf("msg_m1_%d", base.UnixMilli())
	if created.ID != wantID {
		t.Fatalf("id = %q, want %q", created.ID, wantID)
	}
	if created.Title != defaultMessageTitle {
		t.Fatalf("title = %q, want %q", created.Title, defaultMessageTitle)
	}
	if created.Body != "Ayşe sent you a new message" {
		t.Fatalf("body = %q", created.Body)
	}
	if created.Status != domain.StatusSent {
		t.Fatalf("status = %s, want sent after dispatch", created.Status)
	}
	if created.Data[domain.DataKeyMessageID] != "m1" {
		t.Fatalf("data.messageId = %q, want m1", created.Data[domain.DataKeyMessageID])
	}
	if created.Data[domain.DataKeySenderID] != "sender-1" {
		t.Fatalf("data.senderId = %q, want sender-1", created.Data[domain.DataKeySenderID])
	}
	if created.Data[domain.DataKeyMessageText] != "merhaba" {
		t.Fatalf("data.messageText = %q, want merhaba", created.Data[domain.DataKeyMessageText])
	}
	if created.Data[domain.DataKeyTimestamp] != fmt.Sprintf("%d", base.UnixMilli()) {
		t.Fatalf("data.timestamp = %q", created.Data[domain.DataKeyTimestamp])
	}
	if !sendCalled {
		t.Fatal("expected transport send")
	}
}

func TestEventServiceParksRecordForTokenlessRecipient(t *testing.T) {
	t.Parallel()

	var created *domain.Notification
	repo := &fakeNotificationRepo{
		createFn: func(ctx context.Context, n *domain.Notification) error {
			created = n
			return nil
		},
	}
	users := &fakeUserRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.User, error) {
			if id == "receiver-2" {
				return &domain.User{ID: id, Platform: domain.PlatformAndroid}, nil
			}
			return nil, domain.ErrNotFound
		},
	}
	push := &fakePushProvider{
		sendFn: func(ctx context.Context, p provider.Push) (*provider.ProviderResponse, error) {
			t.Fatal("send should not run for a tokenless recipient")
			return nil, nil
		},
	}

	svc := newTestEventService(t, repo, users, push)

	err := svc.HandleMessageEvent(context.Background(), queue.MessageEvent{
		MessageID:  "m2",
		SenderID:   "sender-2",
		ReceiverID: "receiver-2",
		Text:       "hello",
	})
	if err != nil {
		t.Fatalf("HandleMessageEvent() error = %v", err)
	}

	if created == nil {
		t.Fatal("notification record should be created")
	}
	if created.Status != domain.StatusPendingToken {
		t.Fatalf("status = %s, want pending_token", created.Status)
	}
	if created.Body != "Someone sent you a new message" {
		t.Fatalf("body = %q, want unknown-sender fallback", created.Body)
	}
}

func TestEventServiceSuppressesDuplicate(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		existsByMessageIDFn: func(ctx context.Context, messageID string) (bool, error) {
			return true, nil
		},
		createFn: func(ctx context.Context, n *domain.Notification) error {
			t.Fatal("no record should be created for a suppressed event")
			return nil
		},
	}

	svc := newTestEventService(t, repo, &fakeUserRepo{}, &fakePushProvider{})

	err := svc.HandleMessageEvent(context.Background(), queue.MessageEvent{
		MessageID:  "m3",
		SenderID:   "sender-3",
		ReceiverID: "receiver-3",
	})
	if err != nil {
		t.Fatalf("HandleMessageEvent() error = %v", err)
	}
}

func TestEventServiceDropsEventForMissingRecipient(t *testing.T) {
	t.Parallel()

	repo := &fakeNotificationRepo{
		createFn: func(ctx context.Context, n *domain.Notification) error {
			t.Fatal("no record should be created for a missing recipient")
			return nil
		},
	}

	svc := newTestEventService(t, repo, &fakeUserRepo{}, &fakePushProvider{})

	err := svc.HandleMessageEvent(context.Background(), queue.MessageEvent{
		MessageID:  "m4",
		SenderID:   "sender-4",
		ReceiverID: "ghost",
	})
	if err != nil {
		t.Fatalf("HandleMessageEvent() error = %v", err)
	}
}

func TestEventServiceRejectsInvalidEvent(t *testing.T) {
	t.Parallel()

	svc := newTestEventService(t, &fakeNotificationRepo{}, &fakeUserRepo{}, &fakePushProvider{})

	err := svc.HandleMessageEvent(context.Background(), queue.MessageEvent{
		MessageID:  "m5",
		SenderID:   "same",
		ReceiverID: "same",
	})
	if err == nil {
		t.Fatal("HandleMessageEvent() expected error for self-message")
	}
}

func TestTruncatePreview(t *testing.T) {
	t.Parallel()

	short := "a short message"
	if got := truncatePreview(short); got != short {
		t.Fatalf("truncatePreview(short) = %q, want unchanged", got)
	}

	exact := strings.Repeat("x", maxBodyPreviewLen)
	if got := truncatePreview(exact); got != exact {
		t.Fatalf("truncatePreview(exact) = %q, want unchanged", got)
	}

	long := strings.Repeat("y", maxBodyPreviewLen+1)
	got := truncatePreview(long)
	if want := strings.Repeat("y", truncatedPreviewLen) + "..."; got != want {
		t.Fatalf("truncatePreview(long) = %q, want %q", got, want)
	}

	// Multi-byte text must be cut on rune boundaries.
	unicode := strings.Repeat("ğ", maxBodyPreviewLen+5)
	got = truncatePreview(unicode)
	if want := strings.Repeat("ğ", truncatedPreviewLen) + "..."; got != want {
		t.Fatalf("truncatePreview(unicode) = %q, want %q", got, want)
	}
}
