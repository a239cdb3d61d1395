package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/adapter/http/fiber/handlers"
	"github.com/seu-repo/ocpi-hub/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/ocpi-hub/internal/adapter/ocpiclient"
	"github.com/seu-repo/ocpi-hub/internal/adapter/storage/memory"
	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/observability/events"
	"github.com/seu-repo/ocpi-hub/internal/ports"
	"github.com/seu-repo/ocpi-hub/internal/service/command"
	"github.com/seu-repo/ocpi-hub/internal/service/ocpi"
	"github.com/seu-repo/ocpi-hub/internal/service/registration"
	"github.com/seu-repo/ocpi-hub/internal/service/registry"
)

type PeerSimConfig struct {
	Port           int
	BaseURL        string
	CountryCode    string
	PartyID        string
	Role           string
	BusinessName   string
	Versions       string
	BootstrapToken string
	ResultDelay    time.Duration
	ResultType     string
	DropResults    bool
}

// PeerSim is a self-contained fake OCPI party: it accepts registrations with
// its bootstrap token, executes inbound commands with a configurable
// asynchronous result, and can be pointed at a real deployment end to end.
type PeerSim struct {
	cfg PeerSimConfig
	app *fiber.App
	log *zap.Logger
}

func NewPeerSim(cfg PeerSimConfig, log *zap.Logger) (*PeerSim, error) {
	identity := domain.PartyIdentity{
		CountryCode: cfg.CountryCode,
		PartyID:     cfg.PartyID,
		Role:        domain.Role(cfg.Role),
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	var supported []domain.VersionID
	for _, v := range strings.Split(cfg.Versions, ",") {
		if v = strings.TrimSpace(v); v != "" {
			supported = append(supported, domain.VersionID(v))
		}
	}
	if len(supported) == 0 {
		return nil, fmt.Errorf("peersim: at least one version is required")
	}

	ctx := context.Background()
	tokens := registry.NewAccessTokenStore(identity, memory.NewAccessTokenRepository(), log)
	if err := tokens.Load(ctx); err != nil {
		return nil, err
	}
	if err := tokens.Add(ctx, domain.AccessToken{Token: cfg.BootstrapToken, Status: domain.TokenAllowed}); err != nil {
		return nil, err
	}
	parties := registry.NewRemotePartyRegistry(identity, memory.NewRemotePartyRepository(), tokens, log)
	versions := registry.NewVersionRegistry(log)
	clients := ocpiclient.NewFactory(ocpiclient.Options{UserAgent: "ocpi-hub-peersim"}, log)

	dispatcher := command.NewDispatcher(parties, versions, clients, cfg.BaseURL, time.Second, events.NopSink{}, log)
	dispatcher.Start()

	handler := &simCommandHandler{
		cfg:     cfg,
		parties: parties,
		clients: clients,
		log:     log,
	}
	receiver := command.NewReceiver(handler, events.NopSink{}, log)

	local := ocpi.LocalParty{
		Identity:          identity,
		BusinessDetails:   domain.BusinessDetails{Name: cfg.BusinessName},
		VersionsURL:       cfg.BaseURL + "/ocpi/versions",
		SupportedVersions: supported,
	}
	stateMachine := registration.NewStateMachine(registration.Config{
		BusinessDetails:   local.BusinessDetails,
		VersionsURL:       local.VersionsURL,
		SupportedVersions: supported,
	}, parties, versions, clients, events.NopSink{}, log)

	api := ocpi.NewCommonAPI(local, parties, versions, stateMachine, dispatcher, receiver, clients, log)

	app := fiber.New(fiber.Config{
		AppName:               "ocpi-hub-peersim",
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(log),
	})

	versionsHandler := handlers.NewVersionsHandler(api, cfg.BaseURL, log)
	credentialsHandler := handlers.NewCredentialsHandler(api, log)
	commandsHandler := handlers.NewCommandsHandler(api, log)

	group := app.Group("/ocpi", middleware.TokenRequired(api, log))
	group.Get("/versions", versionsHandler.List)
	group.Get("/versions/:version", versionsHandler.Details)
	group.Post("/:version/credentials", credentialsHandler.Post)
	group.Put("/:version/credentials", credentialsHandler.Put)
	group.Delete("/:version/credentials", credentialsHandler.Delete)
	group.Post("/:version/commands/:type", commandsHandler.Execute)
	group.Post("/:version/responses/:correlation_id", commandsHandler.Result)

	return &PeerSim{cfg: cfg, app: app, log: log}, nil
}

func (s *PeerSim) Run() error {
	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
}

func (s *PeerSim) Stop() {
	_ = s.app.Shutdown()
}

// simCommandHandler acknowledges every valid command and later posts the
// configured asynchronous result to the command's response URL.
type simCommandHandler struct {
	cfg     PeerSimConfig
	parties *registry.RemotePartyRegistry
	clients ports.ClientFactory
	log     *zap.Logger
}

func (h *simCommandHandler) HandleCommand(_ context.Context, from domain.PartyIdentity, cmd *domain.Command) (domain.CommandResponse, error) {
	response := domain.CommandResponse{
		Result:  domain.ResponseAccepted,
		Timeout: 30 * time.Second,
	}
	if h.cfg.DropResults {
		return response, nil
	}

	// The sender's token and version come from its registration, when known.
	version := domain.Version221
	token := ""
	for _, rp := range h.parties.RemoteParties() {
		if rp.Identity.Key() == from.Key() {
			version = rp.SelectedVersion
			token = rp.RemoteToken
			break
		}
	}

	responseURL := cmd.ResponseURL
	go func() {
		time.Sleep(h.cfg.ResultDelay)
		result := domain.CommandResult{Result: domain.CommandResultType(h.cfg.ResultType)}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.clients.ClientFor(version).PostCommandResult(ctx, responseURL, token, result); err != nil {
			h.log.Warn("Failed to post command result", zap.String("response_url", responseURL), zap.Error(err))
		}
	}()
	return response, nil
}
