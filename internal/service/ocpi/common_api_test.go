package ocpi

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/mocks"
	"github.com/seu-repo/ocpi-hub/internal/service/command"
	"github.com/seu-repo/ocpi-hub/internal/service/registration"
	"github.com/seu-repo/ocpi-hub/internal/service/registry"
)

func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

var (
	localIdentity  = domain.PartyIdentity{CountryCode: "BR", PartyID: "HUB", Role: domain.RoleHub}
	remoteIdentity = domain.PartyIdentity{CountryCode: "DE", PartyID: "ABC", Role: domain.RoleEMSP}
)

func newTestAPI(client *mocks.MockPeerClient) (*CommonAPI, *registry.RemotePartyRegistry, *registry.VersionRegistry) {
	log := newTestLogger()
	tokens := registry.NewAccessTokenStore(localIdentity, mocks.NewMockAccessTokenRepository(), log)
	parties := registry.NewRemotePartyRegistry(localIdentity, mocks.NewMockRemotePartyRepository(), tokens, log)
	versions := registry.NewVersionRegistry(log)
	factory := mocks.NewMockClientFactory(client)

	local := LocalParty{
		Identity:          localIdentity,
		BusinessDetails:   domain.BusinessDetails{Name: "Hub Operator"},
		VersionsURL:       "https://hub.example.com/ocpi/versions",
		SupportedVersions: []domain.VersionID{domain.Version211, domain.Version221},
	}
	machine := registration.NewStateMachine(registration.Config{
		BusinessDetails:   local.BusinessDetails,
		VersionsURL:       local.VersionsURL,
		SupportedVersions: local.SupportedVersions,
	}, parties, versions, factory, nil, log)
	dispatcher := command.NewDispatcher(parties, versions, factory, "https://hub.example.com", time.Second, nil, log)
	receiver := command.NewReceiver(nil, nil, log)

	api := NewCommonAPI(local, parties, versions, machine, dispatcher, receiver, factory, log)
	return api, parties, versions
}

func TestResolveToken_RawAndBase64(t *testing.T) {
	// Arrange
	ctx := context.Background()
	api, parties, _ := newTestAPI(&mocks.MockPeerClient{})
	if err := parties.Tokens().Add(ctx, domain.AccessToken{Token: "stored-token", Status: domain.TokenAllowed}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Act + Assert: raw form first.
	canonical, res, _, ok := api.ResolveToken("stored-token")
	if !ok || res.Status != domain.TokenAllowed {
		t.Fatalf("expected raw token to resolve, got ok=%v res=%+v", ok, res)
	}
	if canonical != "stored-token" {
		t.Errorf("expected canonical token, got %q", canonical)
	}

	// The base64 wire form resolves to the same canonical token.
	wire := domain.EncodeWireToken("stored-token", domain.Version221)
	canonical, res, _, ok = api.ResolveToken(wire)
	if !ok || res.Status != domain.TokenAllowed {
		t.Fatalf("expected wire token to resolve, got ok=%v res=%+v", ok, res)
	}
	if canonical != "stored-token" {
		t.Errorf("expected canonical token from wire form, got %q", canonical)
	}
}

func TestResolveToken_Unknown(t *testing.T) {
	api, _, _ := newTestAPI(&mocks.MockPeerClient{})

	if _, _, _, ok := api.ResolveToken("never-issued"); ok {
		t.Fatal("expected unknown token not to resolve")
	}
}

func TestResolveToken_ReturnsBoundParty(t *testing.T) {
	// Arrange
	ctx := context.Background()
	api, parties, _ := newTestAPI(&mocks.MockPeerClient{})
	party := &domain.RemoteParty{
		Identity:        remoteIdentity,
		LocalToken:      domain.NewAccessToken(),
		RemoteToken:     "their-token",
		SelectedVersion: domain.Version221,
		Status:          domain.PartyEnabled,
	}
	if err := parties.AddRemoteParty(ctx, party); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Act
	_, _, bound, ok := api.ResolveToken(party.LocalToken.Token)

	// Assert
	if !ok {
		t.Fatal("expected token to resolve")
	}
	if bound == nil || bound.Identity.Key() != remoteIdentity.Key() {
		t.Errorf("expected bound party %s, got %+v", remoteIdentity.Key(), bound)
	}
}

func TestGetClientFor_BindsTokenAndEndpoints(t *testing.T) {
	// Arrange
	ctx := context.Background()
	api, parties, versions := newTestAPI(&mocks.MockPeerClient{})
	party := &domain.RemoteParty{
		Identity:        remoteIdentity,
		LocalToken:      domain.NewAccessToken(),
		RemoteToken:     "their-token",
		SelectedVersion: domain.Version221,
		Status:          domain.PartyEnabled,
	}
	if err := parties.AddRemoteParty(ctx, party); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := versions.PublishVersionDetails(remoteIdentity, domain.Version221, &domain.VersionDetails{
		Version: domain.Version221,
		Endpoints: []domain.VersionEndpoint{
			{Module: domain.ModuleCommands, Role: domain.InterfaceReceiver, URL: "https://abc.example.com/ocpi/2.2.1/commands"},
		},
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Act
	bound, err := api.GetClientFor(remoteIdentity, domain.Version221)

	// Assert
	if err != nil {
		t.Fatalf("expected bound client, got %v", err)
	}
	if bound.Token != "their-token" {
		t.Errorf("expected the peer's token, got %q", bound.Token)
	}
	url, err := bound.Endpoint(domain.ModuleCommands, domain.InterfaceReceiver)
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	if url != "https://abc.example.com/ocpi/2.2.1/commands" {
		t.Errorf("unexpected endpoint %q", url)
	}
}

func TestGetClientFor_UnknownParty(t *testing.T) {
	api, _, _ := newTestAPI(&mocks.MockPeerClient{})

	if _, err := api.GetClientFor(remoteIdentity, domain.Version221); err == nil {
		t.Fatal("expected error for unknown party")
	}
}

func TestLocalVersionDetails_RoledEndpoints(t *testing.T) {
	api, _, _ := newTestAPI(&mocks.MockPeerClient{})

	details, err := api.LocalVersionDetails(domain.Version221, "https://hub.example.com")
	if err != nil {
		t.Fatalf("expected details, got %v", err)
	}
	for _, ep := range details.Endpoints {
		if ep.Role == "" {
			t.Errorf("expected role on 2.2.1 endpoint %s", ep.Module)
		}
	}

	// 2.1.1 endpoints carry no interface role.
	details, err = api.LocalVersionDetails(domain.Version211, "https://hub.example.com")
	if err != nil {
		t.Fatalf("expected details, got %v", err)
	}
	for _, ep := range details.Endpoints {
		if ep.Role != "" {
			t.Errorf("expected no role on 2.1.1 endpoint %s, got %s", ep.Module, ep.Role)
		}
	}
}

func TestLocalVersionDetails_UnsupportedVersion(t *testing.T) {
	api, _, _ := newTestAPI(&mocks.MockPeerClient{})

	if _, err := api.LocalVersionDetails(domain.Version30, "https://hub.example.com"); err == nil {
		t.Fatal("expected error for a version we do not serve")
	}
}

func TestHub_FirstAddedIsDefault(t *testing.T) {
	// Arrange
	first, _, _ := newTestAPI(&mocks.MockPeerClient{})
	hub := NewHub()
	hub.Add(first)

	// Assert
	if hub.Default() != first {
		t.Error("expected first added api to be the default")
	}
	api, ok := hub.ForKey(localIdentity.Key())
	if !ok || api != first {
		t.Error("expected lookup by identity key")
	}
	if _, ok := hub.ForKey("XX*XXX*CPO"); ok {
		t.Error("expected unknown key not to resolve")
	}
	if len(hub.All()) != 1 {
		t.Errorf("expected 1 api, got %d", len(hub.All()))
	}
}
