package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
)

func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		if code == fiber.StatusInternalServerError {
			log.Error("Internal Server Error", zap.Error(err), zap.String("path", c.Path()))
		}

		// OCPI endpoints answer with the protocol envelope, everything else
		// with a plain error object.
		if strings.HasPrefix(c.Path(), "/ocpi/") {
			status := domain.StatusServerError
			if code >= 400 && code < 500 {
				status = domain.StatusClientError
			}
			return c.Status(code).JSON(domain.NewErrorEnvelope(status, err.Error()))
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
