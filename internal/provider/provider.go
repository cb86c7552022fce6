package provider

import (
	"context"

	"github.com/marifactor/push-pipeline/internal/domain"
)

// Push is a single outbound push request addressed to a device token.
type Push struct {
	Token    string
	Title    string
	Body     string
	Data     map[string]string
	Platform domain.Platform
}

// Provider is the outbound push delivery port.
type Provider interface {
	Send(ctx context.Context, push Push) (*ProviderResponse, error)
}

// ProviderResponse stores provider call metadata for audit and persistence.
type ProviderResponse struct {
	MessageID string
}
