package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/marifactor/push-pipeline/internal/domain"
	"github.com/marifactor/push-pipeline/internal/service"
)

// AdminService is the on-demand recovery and diagnostic surface.
type AdminService interface {
	ProcessAllPending(ctx context.Context) (*service.ProcessResult, error)
	FixStuck(ctx context.Context) (int, error)
	CheckStatus(ctx context.Context, userID string) (*service.StatusReport, error)
	SendTest(ctx context.Context, token string) (string, error)
}

type AdminHandler struct {
	service AdminService
}

func NewAdminHandler(service AdminService) (*AdminHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("admin service is required")
	}
	return &AdminHandler{service: service}, nil
}

func RegisterAdminRoutes(router fiber.Router, service AdminService) error {
	h, err := NewAdminHandler(service)
	if err != nil {
		return err
	}

	admin := router.Group("/v1/admin/notifications")
	admin.Post("/process-pending", h.ProcessPending)
	admin.Post("/fix-stuck", h.FixStuck)
	admin.Get("/status/:userId", h.CheckStatus)
	admin.Post("/test", h.SendTest)

	return nil
}

type processPendingResponse struct {
	Total      int      `json:"total"`
	Processed  int      `json:"processed"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
}

type fixStuckResponse struct {
	Success bool `json:"success"`
	Fixed   int  `json:"fixed"`
}

type statusResponse struct {
	HasToken            bool                    `json:"hasToken"`
	TokenPrefix         *string                 `json:"tokenPrefix"`
	RecentNotifications []recentNotificationRow `json:"recentNotifications"`
}

type recentNotificationRow struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     *string   `json:"error,omitempty"`
}

type sendTestRequest struct {
	Token string `json:"token"`
}

type sendTestResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

func (h *AdminHandler) ProcessPending(c *fiber.Ctx) error {
	result, err := h.service.ProcessAllPending(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	resp := processPendingResponse{
		Total:      result.Total,
		Processed:  result.Processed,
		Successful: result.Successful,
		Failed:     result.Failed,
		Errors:     result.Errors,
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *AdminHandler) FixStuck(c *fiber.Ctx) error {
	fixed, err := h.service.FixStuck(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fixStuckResponse{
		Success: true,
		Fixed:   fixed,
	})
}

func (h *AdminHandler) CheckStatus(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userId"))

	report, err := h.service.CheckStatus(c.Context(), userID)
	if err != nil {
		return toHTTPError(err)
	}

	rows := make([]recentNotificationRow, 0, len(report.RecentNotifications))
	for _, item := range report.RecentNotifications {
		rows = append(rows, recentNotificationRow{
			ID:        item.ID,
			Type:      item.Type,
			Status:    item.Status.String(),
			Timestamp: item.CreatedAt,
			Error:     item.Error,
		})
	}

	return c.Status(fiber.StatusOK).JSON(statusResponse{
		HasToken:            report.HasToken,
		TokenPrefix:         report.TokenPrefix,
		RecentNotifications: rows,
	})
}

func (h *AdminHandler) SendTest(c *fiber.Ctx) error {
	var req sendTestRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	messageID, err := h.service.SendTest(c.Context(), req.Token)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(sendTestResponse{
		Success:   true,
		MessageID: messageID,
	})
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
