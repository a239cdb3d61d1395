package ocpi

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/ports"
	"github.com/seu-repo/ocpi-hub/internal/service/command"
	"github.com/seu-repo/ocpi-hub/internal/service/registration"
	"github.com/seu-repo/ocpi-hub/internal/service/registry"
)

// BoundClient is a PeerClient pre-bound to one registered peer: it carries
// the token to present and the peer's resolved module endpoints for the
// selected version.
type BoundClient struct {
	Client  ports.PeerClient
	Token   string
	Details *domain.VersionDetails
}

// Endpoint resolves the URL of a module interface on the bound peer.
func (b *BoundClient) Endpoint(module domain.ModuleID, role domain.InterfaceRole) (string, error) {
	return b.Details.EndpointFor(module, role)
}

// CommonAPI is the per-local-party facade over the registration, registry
// and command services. One instance exists per identity the local system
// operates as; instances share no state.
type CommonAPI struct {
	parties      *registry.RemotePartyRegistry
	versions     *registry.VersionRegistry
	registration *registration.StateMachine
	dispatcher   *command.Dispatcher
	receiver     *command.Receiver
	clients      ports.ClientFactory
	local        LocalParty
	log          *zap.Logger
}

// LocalParty is what this system publishes about itself.
type LocalParty struct {
	Identity          domain.PartyIdentity
	BusinessDetails   domain.BusinessDetails
	VersionsURL       string
	SupportedVersions []domain.VersionID
}

func NewCommonAPI(local LocalParty, parties *registry.RemotePartyRegistry, versions *registry.VersionRegistry, reg *registration.StateMachine, dispatcher *command.Dispatcher, receiver *command.Receiver, clients ports.ClientFactory, log *zap.Logger) *CommonAPI {
	if len(local.SupportedVersions) == 0 {
		local.SupportedVersions = domain.AllVersions
	}
	return &CommonAPI{
		parties:      parties,
		versions:     versions,
		registration: reg,
		dispatcher:   dispatcher,
		receiver:     receiver,
		clients:      clients,
		local:        local,
		log:          log,
	}
}

func (a *CommonAPI) LocalParty() LocalParty {
	return a.local
}

// Parties returns a point-in-time snapshot of all registered peers.
func (a *CommonAPI) Parties() []domain.RemoteParty {
	return a.parties.RemoteParties()
}

// Registry exposes the underlying party registry for administrative use.
func (a *CommonAPI) Registry() *registry.RemotePartyRegistry {
	return a.parties
}

// Versions exposes the version registry, e.g. for serving our own discovery
// endpoints about peers.
func (a *CommonAPI) Versions() *registry.VersionRegistry {
	return a.versions
}

// GetClientFor returns a client bound to a registered peer: transport for the
// selected version, the token we present, and the peer's module endpoints.
func (a *CommonAPI) GetClientFor(remote domain.PartyIdentity, version domain.VersionID) (*BoundClient, error) {
	party, ok := a.parties.Get(remote, version)
	if !ok {
		return nil, fmt.Errorf("common api: %s: %w", domain.RemotePartyKey(remote, version), registry.ErrNotFound)
	}
	details, err := a.versions.Resolve(remote, version)
	if err != nil {
		return nil, err
	}
	return &BoundClient{
		Client:  a.clients.ClientFor(version),
		Token:   party.RemoteToken,
		Details: details,
	}, nil
}

// ResolveToken maps a presented bearer token to its status and the peer it
// identifies, if any. Transport middleware uses this for request
// authorization. The returned string is the canonical stored form of the
// token, which inbound handlers must use for further lookups.
func (a *CommonAPI) ResolveToken(wireToken string) (string, registry.TokenResolution, *domain.RemoteParty, bool) {
	token := wireToken
	res, ok := a.parties.Tokens().Resolve(token)
	if !ok {
		// From 2.2 on the wire form is base64; retry with the decoded token.
		decoded, valid := domain.DecodeWireToken(wireToken)
		if !valid {
			return "", registry.TokenResolution{}, nil, false
		}
		token = decoded
		res, ok = a.parties.Tokens().Resolve(token)
		if !ok {
			return "", registry.TokenResolution{}, nil, false
		}
	}
	if res.PartyKey == "" {
		return token, res, nil, true
	}
	party, _ := a.parties.GetByKey(res.PartyKey)
	return token, res, party, true
}

// InitiateRegistration runs the outbound credentials handshake against a
// peer's versions URL.
func (a *CommonAPI) InitiateRegistration(ctx context.Context, peerVersionsURL, bootstrapToken string) (*domain.RemoteParty, error) {
	return a.registration.InitiateRegistration(ctx, peerVersionsURL, bootstrapToken)
}

// HandleInboundCredentials runs the receiver half of the handshake.
func (a *CommonAPI) HandleInboundCredentials(ctx context.Context, version domain.VersionID, presentedToken string, creds domain.Credentials) (*domain.Credentials, bool, error) {
	return a.registration.HandleInboundCredentials(ctx, version, presentedToken, creds)
}

// HandleInboundUnregister drops the relationship identified by the presented
// token, on the peer's request.
func (a *CommonAPI) HandleInboundUnregister(ctx context.Context, presentedToken string) error {
	return a.registration.HandleInboundUnregister(ctx, presentedToken)
}

// RenewRegistration rotates the token pair with an already registered peer.
func (a *CommonAPI) RenewRegistration(ctx context.Context, remote domain.PartyIdentity, version domain.VersionID) (*domain.RemoteParty, error) {
	return a.registration.RenewRegistration(ctx, remote, version)
}

// Unregister removes a peer relationship locally.
func (a *CommonAPI) Unregister(ctx context.Context, remote domain.PartyIdentity, version domain.VersionID) error {
	return a.registration.Unregister(ctx, remote, version)
}

// UnregisterFromPeer removes the relationship on both sides.
func (a *CommonAPI) UnregisterFromPeer(ctx context.Context, remote domain.PartyIdentity, version domain.VersionID) error {
	return a.registration.UnregisterFromPeer(ctx, remote, version)
}

// SendCommand dispatches an asynchronous command to a registered peer. The
// returned PendingCommand, when non-nil, resolves with the final
// CommandResult or a synthetic timeout.
func (a *CommonAPI) SendCommand(ctx context.Context, remote domain.PartyIdentity, version domain.VersionID, cmd *domain.Command) (*command.PendingCommand, error) {
	return a.dispatcher.Send(ctx, remote, version, cmd)
}

// HandleCommandResult matches an inbound asynchronous result against the
// pending-correlation table.
func (a *CommonAPI) HandleCommandResult(correlationID string, result domain.CommandResult) error {
	return a.dispatcher.HandleInboundResult(correlationID, result)
}

// HandleInboundCommand executes a command sent to us by a peer and returns
// the synchronous acknowledgement.
func (a *CommonAPI) HandleInboundCommand(ctx context.Context, from domain.PartyIdentity, cmd *domain.Command) (domain.CommandResponse, error) {
	return a.receiver.HandleInboundCommand(ctx, from, cmd)
}

// VersionRefs lists the versions this system publishes, with their discovery
// URLs rooted at the local versions URL.
func (a *CommonAPI) VersionRefs() []domain.VersionRef {
	refs := make([]domain.VersionRef, 0, len(a.local.SupportedVersions))
	for _, v := range a.local.SupportedVersions {
		refs = append(refs, domain.VersionRef{
			Version: v,
			URL:     fmt.Sprintf("%s/%s", a.local.VersionsURL, v),
		})
	}
	return refs
}

// LocalVersionDetails builds the module endpoint listing this system
// publishes for one of its own versions.
func (a *CommonAPI) LocalVersionDetails(version domain.VersionID, baseURL string) (*domain.VersionDetails, error) {
	supported := false
	for _, v := range a.local.SupportedVersions {
		if v == version {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("common api: version %s: %w", version, registry.ErrNotFound)
	}

	caps := domain.CapabilitiesFor(version)
	details := &domain.VersionDetails{Version: version}
	add := func(module domain.ModuleID, role domain.InterfaceRole, path string) {
		ep := domain.VersionEndpoint{Module: module, URL: fmt.Sprintf("%s/ocpi/%s/%s", baseURL, version, path)}
		if caps.RoledEndpoints {
			ep.Role = role
		}
		details.Endpoints = append(details.Endpoints, ep)
	}
	add(domain.ModuleCredentials, domain.InterfaceReceiver, "credentials")
	if caps.SupportsModule(domain.ModuleCommands) {
		add(domain.ModuleCommands, domain.InterfaceReceiver, "commands")
	}
	return details, nil
}
