package provider

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/marifactor/push-pipeline/internal/domain"
)

const (
	androidChannelID = "chat_notifications"
	apnsPriority     = "10"
	apnsPushType     = "alert"
)

// fcmClient is the subset of *messaging.Client used by the provider.
type fcmClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

var _ Provider = (*FCMProvider)(nil)

// FCMProvider delivers pushes through Firebase Cloud Messaging.
type FCMProvider struct {
	client fcmClient

	isUnregistered func(error) bool
	isInvalidToken func(error) bool
	isTransient    func(error) bool
}

func NewFCMProvider(ctx context.Context, credentialsPath string) (*FCMProvider, error) {
	if strings.TrimSpace(credentialsPath) == "" {
		return nil, fmt.Errorf("firebase credentials path is required")
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}

	return newFCMProvider(client), nil
}

func newFCMProvider(client fcmClient) *FCMProvider {
	return &FCMProvider{
		client:         client,
		isUnregistered: messaging.IsUnregistered,
		isInvalidToken: errorutils.IsInvalidArgument,
		isTransient: func(err error) bool {
			return errorutils.IsUnavailable(err) || errorutils.IsInternal(err)
		},
	}
}

func (p *FCMProvider) Send(ctx context.Context, push Push) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("fcm provider is not initialized")
	}
	if strings.TrimSpace(push.Token) == "" {
		return nil, &ProviderError{Code: CodeTokenInvalid, Message: "empty device token", TokenInvalid: true}
	}

	messageID, err := p.client.Send(ctx, buildMessage(push))
	if err != nil {
		return nil, p.classifySendError(err)
	}

	return &ProviderResponse{MessageID: messageID}, nil
}

func buildMessage(push Push) *messaging.Message {
	badge := 1
	threadID := "default"
	category := "DEFAULT"
	if t := push.Data[domain.DataKeyType]; t != "" {
		threadID = t
		category = t
	}

	customData := make(map[string]interface{}, len(push.Data))
	for k, v := range push.Data {
		customData[k] = v
	}

	return &messaging.Message{
		Token: push.Token,
		Notification: &messaging.Notification{
			Title: push.Title,
			Body:  push.Body,
		},
		Data: push.Data,
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  apnsPriority,
				"apns-push-type": apnsPushType,
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: push.Title,
						Body:  push.Body,
					},
					Sound:            "default",
					Badge:            &badge,
					ContentAvailable: true,
					MutableContent:   true,
					ThreadID:         threadID,
					Category:         category,
				},
				CustomData: customData,
			},
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:       "default",
				ChannelID:   androidChannelID,
				Priority:    messaging.PriorityHigh,
				Visibility:  messaging.VisibilityPublic,
				ClickAction: "FLUTTER_NOTIFICATION_CLICK",
			},
		},
	}
}

func (p *FCMProvider) classifySendError(err error) error {
	switch {
	case p.isUnregistered(err):
		return &ProviderError{
			Code:         CodeTokenNotRegistered,
			Message:      "device token is no longer registered",
			TokenInvalid: true,
			Cause:        err,
		}
	case p.isInvalidToken(err):
		return &ProviderError{
			Code:         CodeTokenInvalid,
			Message:      "device token rejected as invalid",
			TokenInvalid: true,
			Cause:        err,
		}
	case p.isTransient(err):
		return &ProviderError{
			Message:   "fcm temporarily unavailable",
			Transient: true,
			Cause:     err,
		}
	default:
		return &ProviderError{
			Message: "fcm send failed",
			Cause:   err,
		}
	}
}
