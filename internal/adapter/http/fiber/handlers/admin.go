package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/service/auth"
	"github.com/seu-repo/ocpi-hub/internal/service/ocpi"
	"github.com/seu-repo/ocpi-hub/internal/service/registry"
)

// AdminHandler exposes the operator API: login, peer management and command
// dispatch on behalf of any hosted local party.
type AdminHandler struct {
	hub  *ocpi.Hub
	auth *auth.Service
	log  *zap.Logger
}

func NewAdminHandler(hub *ocpi.Hub, authService *auth.Service, log *zap.Logger) *AdminHandler {
	return &AdminHandler{
		hub:  hub,
		auth: authService,
		log:  log,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /admin/login.
func (h *AdminHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	token, err := h.auth.Login(c.Context(), req.Username, req.Password)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid credentials"})
	}
	return c.JSON(fiber.Map{"access_token": token})
}

// apiFor selects the CommonAPI addressed by the optional local_party field,
// defaulting to the primary hosted identity.
func (h *AdminHandler) apiFor(localParty string) (*ocpi.CommonAPI, error) {
	if localParty == "" {
		return h.hub.Default(), nil
	}
	api, ok := h.hub.ForKey(localParty)
	if !ok {
		return nil, errors.New("unknown local party")
	}
	return api, nil
}

// ListParties handles GET /admin/parties.
func (h *AdminHandler) ListParties(c *fiber.Ctx) error {
	api, err := h.apiFor(c.Query("local_party"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"parties": api.Parties()})
}

type addPartyRequest struct {
	LocalParty string             `json:"local_party,omitempty"`
	Party      domain.RemoteParty `json:"party"`
}

// AddParty handles POST /admin/parties: register a peer from out-of-band
// exchanged credentials, without running the handshake.
func (h *AdminHandler) AddParty(c *fiber.Ctx) error {
	var req addPartyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := req.Party.Identity.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if req.Party.SelectedVersion == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "selected_version is required"})
	}
	api, err := h.apiFor(req.LocalParty)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}

	if err := api.Registry().AddRemoteParty(c.Context(), &req.Party); err != nil {
		if errors.Is(err, registry.ErrAlreadyRegistered) || errors.Is(err, registry.ErrTokenClaimed) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"party": req.Party})
}

type registerRequest struct {
	LocalParty  string `json:"local_party,omitempty"`
	VersionsURL string `json:"versions_url"`
	Token       string `json:"token"`
}

// Register handles POST /admin/registrations: initiate the outbound
// handshake against a peer using its out-of-band bootstrap token.
func (h *AdminHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.VersionsURL == "" || req.Token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "versions_url and token are required"})
	}
	api, err := h.apiFor(req.LocalParty)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}

	party, err := api.InitiateRegistration(c.Context(), req.VersionsURL, req.Token)
	if err != nil {
		h.log.Warn("Outbound registration failed",
			zap.String("versions_url", req.VersionsURL),
			zap.Error(err),
		)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"party": party})
}

type partyRef struct {
	LocalParty  string           `json:"local_party,omitempty"`
	CountryCode string           `json:"country_code"`
	PartyID     string           `json:"party_id"`
	Role        domain.Role      `json:"role"`
	Version     domain.VersionID `json:"version"`
}

func (r partyRef) identity() domain.PartyIdentity {
	return domain.PartyIdentity{CountryCode: r.CountryCode, PartyID: r.PartyID, Role: r.Role}
}

// Renew handles POST /admin/registrations/renew: rotate the token pair with
// an already registered peer.
func (h *AdminHandler) Renew(c *fiber.Ctx) error {
	var req partyRef
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	api, err := h.apiFor(req.LocalParty)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}

	party, err := api.RenewRegistration(c.Context(), req.identity(), req.Version)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"party": party})
}

// Unregister handles DELETE /admin/registrations. The remote=true query
// also tells the peer to drop us before removing local state.
func (h *AdminHandler) Unregister(c *fiber.Ctx) error {
	var req partyRef
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	api, err := h.apiFor(req.LocalParty)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}

	if c.QueryBool("remote", false) {
		err = api.UnregisterFromPeer(c.Context(), req.identity(), req.Version)
	} else {
		err = api.Unregister(c.Context(), req.identity(), req.Version)
	}
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type tokenRequest struct {
	LocalParty string             `json:"local_party,omitempty"`
	Token      string             `json:"token"`
	Status     domain.TokenStatus `json:"status,omitempty"`
}

// AddToken handles POST /admin/tokens: pre-allow a bootstrap token a peer
// will present for an inbound-first registration. An explicitly blocked token
// cannot be re-allowed this way; that takes the block endpoint's inverse
// authority, which is not exposed.
func (h *AdminHandler) AddToken(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "token is required"})
	}
	if req.Status == "" {
		req.Status = domain.TokenAllowed
	}
	if req.Status != domain.TokenAllowed && req.Status != domain.TokenBlocked {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "status must be ALLOWED or BLOCKED"})
	}
	api, err := h.apiFor(req.LocalParty)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}

	if err := api.Registry().AddAccessToken(c.Context(), domain.AccessToken{Token: req.Token, Status: req.Status}); err != nil {
		if errors.Is(err, registry.ErrTokenBlocked) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// BlockToken handles POST /admin/tokens/block: pre-block an abusive token
// before any handshake, or revoke one already issued.
func (h *AdminHandler) BlockToken(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "token is required"})
	}
	api, err := h.apiFor(req.LocalParty)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}

	if err := api.Registry().Tokens().SetStatus(c.Context(), req.Token, domain.TokenBlocked); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type sendCommandRequest struct {
	partyRef
	Command domain.Command `json:"command"`
	Wait    bool           `json:"wait,omitempty"`
}

// SendCommand handles POST /admin/commands: dispatch a command to a peer.
// With wait=true the call blocks until the asynchronous result or timeout.
func (h *AdminHandler) SendCommand(c *fiber.Ctx) error {
	var req sendCommandRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	api, err := h.apiFor(req.LocalParty)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}

	pending, err := api.SendCommand(c.Context(), req.identity(), req.Version, &req.Command)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	body := fiber.Map{
		"correlation_id": pending.CorrelationID,
		"response":       pending.Response,
	}
	if req.Wait && pending.Result() != nil {
		select {
		case result := <-pending.Result():
			body["result"] = result
		case <-c.Context().Done():
			return c.Status(fiber.StatusRequestTimeout).JSON(fiber.Map{"error": "request canceled"})
		}
	}
	return c.JSON(body)
}
