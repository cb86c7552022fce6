package queue

import (
	"fmt"
	"strings"
	"time"
)

// MessageEvent is the broker payload emitted when a chat message is created.
type MessageEvent struct {
	MessageID  string    `json:"messageId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sentAt,omitempty"`
}

func (m MessageEvent) Validate() error {
	if strings.TrimSpace(m.MessageID) == "" {
		return fmt.Errorf("messageId is required")
	}
	if strings.TrimSpace(m.SenderID) == "" {
		return fmt.Errorf("senderId is required")
	}
	if strings.TrimSpace(m.ReceiverID) == "" {
		return fmt.Errorf("receiverId is required")
	}
	if m.SenderID == m.ReceiverID {
		return fmt.Errorf("sender and receiver must differ")
	}
	return nil
}
