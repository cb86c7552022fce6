package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification record.
type Status string

const (
	StatusPending      Status = "pending"
	StatusPendingToken Status = "pending_token"
	StatusSent         Status = "sent"
	StatusError        Status = "error"
	StatusExpired      Status = "expired"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPendingToken, StatusSent, StatusError, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether automatic processing is finished for the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusError, StatusExpired:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Platform represents the recipient's device platform.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformUnknown Platform = "unknown"
)

func (p Platform) String() string { return string(p) }

func (p Platform) IsValid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformUnknown:
		return true
	}
	return false
}

// NormalizePlatform maps empty or unrecognized values to PlatformUnknown.
func NormalizePlatform(s string) Platform {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return PlatformUnknown
	}
	return p
}

// TypeMessage tags notifications synthesized from a chat message event.
const TypeMessage = "message"

// Data keys carried in the notification payload. DataKeyMessageID is the
// correlation key linking a message notification back to its source event.
const (
	DataKeyType        = "type"
	DataKeyMessageID   = "messageId"
	DataKeySenderID    = "senderId"
	DataKeyMessageText = "messageText"
	DataKeyTimestamp   = "timestamp"
)

// Attributes is the flat string payload delivered alongside the push.
type Attributes map[string]string

// Notification is one delivery attempt tracked by the pipeline.
type Notification struct {
	ID                 string
	Type               string
	Title              string
	Body               string
	RecipientID        string
	DeliveryToken      *string
	Status             Status
	Data               Attributes
	Platform           Platform
	TransportMessageID *string
	Error              *string
	ErrorCode          *string
	CreatedAt          time.Time
	SentAt             *time.Time
	ProcessedAt        *time.Time
	ErrorTime          *time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.Type) == "" {
		return fmt.Errorf("%w: type is required", ErrValidation)
	}
	if strings.TrimSpace(n.RecipientID) == "" {
		return fmt.Errorf("%w: recipientId is required", ErrValidation)
	}
	if !n.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, n.Status)
	}
	if !n.Platform.IsValid() {
		return fmt.Errorf("%w: invalid platform %q", ErrValidation, n.Platform)
	}
	if n.Type == TypeMessage && strings.TrimSpace(n.Data[DataKeyMessageID]) == "" {
		return fmt.Errorf("%w: message notifications require data.%s", ErrValidation, DataKeyMessageID)
	}
	return nil
}

// HasToken reports whether a delivery token is resolved on the record.
func (n *Notification) HasToken() bool {
	return n.DeliveryToken != nil && strings.TrimSpace(*n.DeliveryToken) != ""
}

// Token returns the resolved delivery token or the empty string.
func (n *Notification) Token() string {
	if n.DeliveryToken == nil {
		return ""
	}
	return *n.DeliveryToken
}

// Age reports how long ago the record was created.
func (n *Notification) Age(now time.Time) time.Duration {
	return now.Sub(n.CreatedAt)
}
