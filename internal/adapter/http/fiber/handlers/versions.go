package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/service/ocpi"
)

// VersionsHandler serves the version discovery endpoints this system
// publishes about itself.
type VersionsHandler struct {
	api     *ocpi.CommonAPI
	baseURL string
	log     *zap.Logger
}

func NewVersionsHandler(api *ocpi.CommonAPI, baseURL string, log *zap.Logger) *VersionsHandler {
	return &VersionsHandler{
		api:     api,
		baseURL: baseURL,
		log:     log,
	}
}

// List handles GET /ocpi/versions.
func (h *VersionsHandler) List(c *fiber.Ctx) error {
	return respond(c, h.api.VersionRefs())
}

// Details handles GET /ocpi/versions/:version.
func (h *VersionsHandler) Details(c *fiber.Ctx) error {
	version := domain.VersionID(c.Params("version"))
	details, err := h.api.LocalVersionDetails(version, h.baseURL)
	if err != nil {
		return c.Status(fiber.StatusNotFound).
			JSON(domain.NewErrorEnvelope(domain.StatusUnsupportedVersion, "Unsupported version"))
	}
	return respond(c, details)
}

// respond wraps data in a success envelope.
func respond(c *fiber.Ctx, data interface{}) error {
	env, err := domain.NewEnvelope(data)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to build response")
	}
	return c.JSON(env)
}
