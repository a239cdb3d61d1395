package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/service/ocpi"
)

// Locals keys set by TokenRequired for downstream handlers.
const (
	LocalsToken       = "ocpi_token"
	LocalsRemoteParty = "ocpi_remote_party"
)

// TokenRequired authenticates OCPI requests via the Authorization: Token
// header. Unknown and blocked tokens are rejected without touching any
// state; an allowed token's remote party, when bound, is stored in locals.
func TokenRequired(api *ocpi.CommonAPI, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).
				JSON(domain.NewErrorEnvelope(domain.StatusClientError, "Missing authorization header"))
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Token") {
			return c.Status(fiber.StatusUnauthorized).
				JSON(domain.NewErrorEnvelope(domain.StatusClientError, "Invalid authorization header format"))
		}

		token, res, party, ok := api.ResolveToken(parts[1])
		if !ok || res.Status != domain.TokenAllowed {
			log.Warn("Rejected OCPI request",
				zap.String("path", c.Path()),
				zap.Bool("known_token", ok),
			)
			return c.Status(fiber.StatusUnauthorized).
				JSON(domain.NewErrorEnvelope(domain.StatusClientError, "Invalid or blocked token"))
		}

		c.Locals(LocalsToken, token)
		if party != nil {
			c.Locals(LocalsRemoteParty, party)
		}
		return c.Next()
	}
}

// RemoteParty extracts the authenticated peer from locals, when bound.
func RemoteParty(c *fiber.Ctx) (*domain.RemoteParty, bool) {
	party, ok := c.Locals(LocalsRemoteParty).(*domain.RemoteParty)
	return party, ok
}

// Token extracts the authenticated raw token from locals.
func Token(c *fiber.Ctx) string {
	token, _ := c.Locals(LocalsToken).(string)
	return token
}
