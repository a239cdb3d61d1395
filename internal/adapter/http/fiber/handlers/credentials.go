package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/service/ocpi"
	"github.com/seu-repo/ocpi-hub/internal/service/registration"
)

// CredentialsHandler serves the receiver side of the credentials handshake.
type CredentialsHandler struct {
	api *ocpi.CommonAPI
	log *zap.Logger
}

func NewCredentialsHandler(api *ocpi.CommonAPI, log *zap.Logger) *CredentialsHandler {
	return &CredentialsHandler{
		api: api,
		log: log,
	}
}

// Post handles POST /ocpi/:version/credentials: a peer registering with us.
func (h *CredentialsHandler) Post(c *fiber.Ctx) error {
	return h.exchange(c)
}

// Put handles PUT /ocpi/:version/credentials: re-registration and token
// rotation by an already registered peer.
func (h *CredentialsHandler) Put(c *fiber.Ctx) error {
	return h.exchange(c)
}

func (h *CredentialsHandler) exchange(c *fiber.Ctx) error {
	version := domain.VersionID(c.Params("version"))

	var creds domain.Credentials
	if err := c.BodyParser(&creds); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(domain.NewErrorEnvelope(domain.StatusInvalidParameters, "Invalid credentials body"))
	}

	reply, created, err := h.api.HandleInboundCredentials(c.Context(), version, middleware.Token(c), creds)
	if err != nil {
		switch {
		case errors.Is(err, registration.ErrTokenNotAllowed):
			return c.Status(fiber.StatusUnauthorized).
				JSON(domain.NewErrorEnvelope(domain.StatusClientError, "Invalid or blocked token"))
		default:
			h.log.Warn("Inbound credentials exchange failed", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).
				JSON(domain.NewErrorEnvelope(domain.StatusInvalidParameters, err.Error()))
		}
	}

	if created {
		c.Status(fiber.StatusCreated)
	}
	return respond(c, reply)
}

// Delete handles DELETE /ocpi/:version/credentials: a peer unregistering.
func (h *CredentialsHandler) Delete(c *fiber.Ctx) error {
	if err := h.api.HandleInboundUnregister(c.Context(), middleware.Token(c)); err != nil {
		if errors.Is(err, registration.ErrTokenNotAllowed) {
			return c.Status(fiber.StatusUnauthorized).
				JSON(domain.NewErrorEnvelope(domain.StatusClientError, "Invalid or blocked token"))
		}
		return c.Status(fiber.StatusNotFound).
			JSON(domain.NewErrorEnvelope(domain.StatusClientError, err.Error()))
	}
	return respond(c, nil)
}
