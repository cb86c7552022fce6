package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/marifactor/push-pipeline/internal/observability"
)

// RequestID tags every request with a correlation id: the caller's
// X-Request-ID when supplied, a fresh uuid otherwise. The id is echoed
// on the response and threaded through the request context so handler
// and service logs line up.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(fiber.HeaderXRequestID, id)
		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))

		return c.Next()
	}
}
