package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/service/command"
	"github.com/seu-repo/ocpi-hub/internal/service/ocpi"
)

// CommandsHandler serves the receiver side of the commands module plus the
// callback endpoint where peers POST asynchronous command results.
type CommandsHandler struct {
	api *ocpi.CommonAPI
	log *zap.Logger
}

func NewCommandsHandler(api *ocpi.CommonAPI, log *zap.Logger) *CommandsHandler {
	return &CommandsHandler{
		api: api,
		log: log,
	}
}

// Execute handles POST /ocpi/:version/commands/:type.
func (h *CommandsHandler) Execute(c *fiber.Ctx) error {
	cmd, err := parseInboundCommand(domain.CommandType(c.Params("type")), c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(domain.NewErrorEnvelope(domain.StatusInvalidParameters, err.Error()))
	}

	var from domain.PartyIdentity
	if party, ok := middleware.RemoteParty(c); ok {
		from = party.Identity
	}

	resp, err := h.api.HandleInboundCommand(c.Context(), from, cmd)
	if err != nil {
		h.log.Error("Inbound command failed", zap.String("type", string(cmd.Type)), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).
			JSON(domain.NewErrorEnvelope(domain.StatusServerError, err.Error()))
	}
	return respond(c, resp)
}

// Result handles POST /ocpi/:version/responses/:correlation_id, the callback
// URL embedded in outbound commands. Orphan results are acknowledged to the
// sender per protocol even though no waiter is resolved.
func (h *CommandsHandler) Result(c *fiber.Ctx) error {
	correlationID := c.Params("correlation_id")

	var result domain.CommandResult
	if err := c.BodyParser(&result); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(domain.NewErrorEnvelope(domain.StatusInvalidParameters, "Invalid command result body"))
	}

	if err := h.api.HandleCommandResult(correlationID, result); err != nil {
		if !errors.Is(err, command.ErrUnknownCorrelation) {
			return c.Status(fiber.StatusInternalServerError).
				JSON(domain.NewErrorEnvelope(domain.StatusServerError, err.Error()))
		}
		h.log.Warn("Orphan command result acknowledged", zap.String("correlation_id", correlationID))
	}
	return respond(c, nil)
}

// parseInboundCommand rebuilds the tagged union from the flat wire body of a
// command POST: the payload fields of the command type plus response_url.
func parseInboundCommand(cmdType domain.CommandType, body []byte) (*domain.Command, error) {
	var envelope struct {
		ResponseURL string `json:"response_url"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.New("invalid command body")
	}
	if envelope.ResponseURL == "" {
		return nil, errors.New("response_url is required")
	}

	cmd := &domain.Command{Type: cmdType, ResponseURL: envelope.ResponseURL}
	var payload interface{}
	switch cmdType {
	case domain.CommandReserveNow:
		cmd.ReserveNow = &domain.ReserveNowPayload{}
		payload = cmd.ReserveNow
	case domain.CommandStartSession:
		cmd.StartSession = &domain.StartSessionPayload{}
		payload = cmd.StartSession
	case domain.CommandStopSession:
		cmd.StopSession = &domain.StopSessionPayload{}
		payload = cmd.StopSession
	case domain.CommandCancelReservation:
		cmd.CancelReservation = &domain.CancelReservationPayload{}
		payload = cmd.CancelReservation
	case domain.CommandUnlockConnector:
		cmd.UnlockConnector = &domain.UnlockConnectorPayload{}
		payload = cmd.UnlockConnector
	default:
		return nil, errors.New("unknown command type")
	}
	if err := json.Unmarshal(body, payload); err != nil {
		return nil, errors.New("invalid command payload")
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}
