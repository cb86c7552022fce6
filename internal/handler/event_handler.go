package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/marifactor/push-pipeline/internal/domain"
	"github.com/marifactor/push-pipeline/internal/queue"
)

// EventHandler ingests message events from the application backend and
// hands them to the broker; the worker pool picks them up from there.
type EventHandler struct {
	publisher queue.Publisher
}

func NewEventHandler(publisher queue.Publisher) (*EventHandler, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &EventHandler{publisher: publisher}, nil
}

func RegisterEventRoutes(router fiber.Router, publisher queue.Publisher) error {
	h, err := NewEventHandler(publisher)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/events/messages", h.IngestMessageEvent)

	return nil
}

type messageEventRequest struct {
	MessageID  string     `json:"messageId"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Text       string     `json:"text"`
	SentAt     *time.Time `json:"sentAt,omitempty"`
}

func (h *EventHandler) IngestMessageEvent(c *fiber.Ctx) error {
	var req messageEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	event := queue.MessageEvent{
		MessageID:  strings.TrimSpace(req.MessageID),
		SenderID:   strings.TrimSpace(req.SenderID),
		ReceiverID: strings.TrimSpace(req.ReceiverID),
		Text:       req.Text,
	}
	if req.SentAt != nil {
		event.SentAt = req.SentAt.UTC()
	} else {
		event.SentAt = time.Now().UTC()
	}

	if err := event.Validate(); err != nil {
		return toHTTPError(fmt.Errorf("%w: %v", domain.ErrValidation, err))
	}

	if err := h.publisher.Publish(c.Context(), queue.MessageEventsQueue, event); err != nil {
		return fmt.Errorf("failed to enqueue message event: %w", err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted":  true,
		"messageId": event.MessageID,
	})
}
