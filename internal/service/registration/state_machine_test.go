package registration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/mocks"
	"github.com/seu-repo/ocpi-hub/internal/ports"
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

func newTestMachine(client ports.PeerClient) (*StateMachine, *registry.RemotePartyRegistry, *registry.VersionRegistry) {
	tokens := registry.NewAccessTokenStore(localIdentity, mocks.NewMockAccessTokenRepository(), newTestLogger())
	parties := registry.NewRemotePartyRegistry(localIdentity, mocks.NewMockRemotePartyRepository(), tokens, newTestLogger())
	versions := registry.NewVersionRegistry(newTestLogger())
	cfg := Config{
		BusinessDetails:   domain.BusinessDetails{Name: "Hub Operator"},
		VersionsURL:       "https://hub.example.com/ocpi/versions",
		SupportedVersions: []domain.VersionID{domain.Version211, domain.Version221, domain.Version30},
	}
	machine := NewStateMachine(cfg, parties, versions, mocks.NewMockClientFactory(client), nil, newTestLogger())
	return machine, parties, versions
}

func peerVersionRefs() []domain.VersionRef {
	return []domain.VersionRef{
		{Version: domain.Version211, URL: "https://abc.example.com/ocpi/versions/2.1.1"},
		{Version: domain.Version221, URL: "https://abc.example.com/ocpi/versions/2.2.1"},
	}
}

func peerVersionDetails(version domain.VersionID) *domain.VersionDetails {
	return &domain.VersionDetails{
		Version: version,
		Endpoints: []domain.VersionEndpoint{
			{Module: domain.ModuleCredentials, Role: domain.InterfaceReceiver, URL: fmt.Sprintf("https://abc.example.com/ocpi/%s/credentials", version)},
			{Module: domain.ModuleCommands, Role: domain.InterfaceReceiver, URL: fmt.Sprintf("https://abc.example.com/ocpi/%s/commands", version)},
		},
	}
}

func peerCredentials(token string) *domain.Credentials {
	return &domain.Credentials{
		Token: token,
		URL:   "https://abc.example.com/ocpi/versions",
		Roles: []domain.CredentialsRole{{
			Role:            domain.RoleEMSP,
			CountryCode:     "DE",
			PartyID:         "ABC",
			BusinessDetails: domain.BusinessDetails{Name: "ABC Mobility"},
		}},
	}
}

func TestInitiateRegistration_Success(t *testing.T) {
	// Arrange
	ctx := context.Background()
	var offeredToken string
	client := &mocks.MockPeerClient{
		GetVersionsFunc: func(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error) {
			if token != "bootstrap" {
				t.Errorf("expected bootstrap token on discovery, got %q", token)
			}
			return peerVersionRefs(), nil
		},
		GetVersionDetailsFunc: func(ctx context.Context, detailsURL, token string) (*domain.VersionDetails, error) {
			return peerVersionDetails(domain.Version221), nil
		},
		PostCredentialsFunc: func(ctx context.Context, credentialsURL, token string, creds domain.Credentials) (*domain.Credentials, error) {
			offeredToken = creds.Token
			return peerCredentials("peer-issued-token"), nil
		},
	}
	machine, parties, versions := newTestMachine(client)

	// Act
	party, err := machine.InitiateRegistration(ctx, "https://abc.example.com/ocpi/versions", "bootstrap")

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if party.SelectedVersion != domain.Version221 {
		t.Errorf("expected negotiated version 2.2.1, got %s", party.SelectedVersion)
	}
	if party.RemoteToken != "peer-issued-token" {
		t.Errorf("expected peer's token stored, got %q", party.RemoteToken)
	}
	if party.LocalToken.Token == "" || party.LocalToken.Token == "bootstrap" {
		t.Errorf("expected a fresh local token, got %q", party.LocalToken.Token)
	}
	if offeredToken != party.LocalToken.Token {
		t.Errorf("expected the offered token %q to be the stored local token %q", offeredToken, party.LocalToken.Token)
	}
	if _, ok := parties.Get(remoteIdentity, domain.Version221); !ok {
		t.Error("expected remote party to be registered")
	}
	if _, err := versions.Resolve(remoteIdentity, domain.Version221); err != nil {
		t.Errorf("expected peer endpoints to be published: %v", err)
	}
}

func TestInitiateRegistration_PostFailureLeavesNoState(t *testing.T) {
	// Arrange
	ctx := context.Background()
	client := &mocks.MockPeerClient{
		GetVersionsFunc: func(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error) {
			return peerVersionRefs(), nil
		},
		GetVersionDetailsFunc: func(ctx context.Context, detailsURL, token string) (*domain.VersionDetails, error) {
			return peerVersionDetails(domain.Version221), nil
		},
		PostCredentialsFunc: func(ctx context.Context, credentialsURL, token string, creds domain.Credentials) (*domain.Credentials, error) {
			return nil, errors.New("connection refused")
		},
	}
	machine, parties, _ := newTestMachine(client)

	// Act
	_, err := machine.InitiateRegistration(ctx, "https://abc.example.com/ocpi/versions", "bootstrap")

	// Assert
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if parties.Count() != 0 {
		t.Errorf("expected no partial record, got %d", parties.Count())
	}
}

func TestInitiateRegistration_NoMutualVersion(t *testing.T) {
	ctx := context.Background()
	client := &mocks.MockPeerClient{
		GetVersionsFunc: func(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error) {
			return []domain.VersionRef{{Version: domain.Version23, URL: "https://abc.example.com/ocpi/versions/2.3"}}, nil
		},
	}
	machine, _, _ := newTestMachine(client)

	_, err := machine.InitiateRegistration(ctx, "https://abc.example.com/ocpi/versions", "bootstrap")
	if !errors.Is(err, registry.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestInitiateRegistration_RepeatRotatesTokens(t *testing.T) {
	// Arrange: one completed registration, then a second outbound handshake
	// with the same peer.
	ctx := context.Background()
	client := &mocks.MockPeerClient{
		GetVersionsFunc: func(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error) {
			return peerVersionRefs(), nil
		},
		GetVersionDetailsFunc: func(ctx context.Context, detailsURL, token string) (*domain.VersionDetails, error) {
			return peerVersionDetails(domain.Version221), nil
		},
		PostCredentialsFunc: func(ctx context.Context, credentialsURL, token string, creds domain.Credentials) (*domain.Credentials, error) {
			return peerCredentials("peer-token-" + token), nil
		},
	}
	machine, parties, _ := newTestMachine(client)

	first, err := machine.InitiateRegistration(ctx, "https://abc.example.com/ocpi/versions", "bootstrap")
	if err != nil {
		t.Fatalf("first registration: %v", err)
	}

	// Act
	second, err := machine.InitiateRegistration(ctx, "https://abc.example.com/ocpi/versions", "bootstrap-2")
	if err != nil {
		t.Fatalf("second registration: %v", err)
	}

	// Assert
	if parties.Count() != 1 {
		t.Errorf("expected 1 record after re-registration, got %d", parties.Count())
	}
	if second.LocalToken.Token == first.LocalToken.Token {
		t.Error("expected a fresh local token on re-registration")
	}
	res, ok := parties.Tokens().Resolve(first.LocalToken.Token)
	if !ok || res.Status != domain.TokenBlocked {
		t.Errorf("expected superseded local token to be blocked, got %+v ok=%v", res, ok)
	}
}

func TestHandleInboundCredentials_UnknownTokenRejected(t *testing.T) {
	machine, _, _ := newTestMachine(&mocks.MockPeerClient{})

	_, _, err := machine.HandleInboundCredentials(context.Background(), domain.Version221, "never-issued", *peerCredentials("peer-token"))
	if !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("expected ErrTokenNotAllowed, got %v", err)
	}
}

func TestHandleInboundCredentials_BlockedTokenRejected(t *testing.T) {
	ctx := context.Background()
	machine, parties, _ := newTestMachine(&mocks.MockPeerClient{})
	if err := parties.Tokens().SetStatus(ctx, "spent-bootstrap", domain.TokenBlocked); err != nil {
		t.Fatalf("block: %v", err)
	}

	_, _, err := machine.HandleInboundCredentials(ctx, domain.Version221, "spent-bootstrap", *peerCredentials("peer-token"))
	if !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("expected ErrTokenNotAllowed, got %v", err)
	}
}

func TestHandleInboundCredentials_Success(t *testing.T) {
	// Arrange
	ctx := context.Background()
	client := &mocks.MockPeerClient{
		GetVersionsFunc: func(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error) {
			if token != "peer-token" {
				t.Errorf("expected the peer's offered token on discovery, got %q", token)
			}
			return peerVersionRefs(), nil
		},
		GetVersionDetailsFunc: func(ctx context.Context, detailsURL, token string) (*domain.VersionDetails, error) {
			return peerVersionDetails(domain.Version221), nil
		},
	}
	machine, parties, _ := newTestMachine(client)
	if err := parties.Tokens().Add(ctx, domain.AccessToken{Token: "bootstrap", Status: domain.TokenAllowed}); err != nil {
		t.Fatalf("seed bootstrap: %v", err)
	}

	// Act
	reply, created, err := machine.HandleInboundCredentials(ctx, domain.Version221, "bootstrap", *peerCredentials("peer-token"))

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !created {
		t.Error("expected a new relationship")
	}
	if reply.Token == "" || reply.Token == "bootstrap" {
		t.Errorf("expected a fresh token in the reply, got %q", reply.Token)
	}
	party, ok := parties.Get(remoteIdentity, domain.Version221)
	if !ok {
		t.Fatal("expected remote party to be registered")
	}
	if party.RemoteToken != "peer-token" {
		t.Errorf("expected peer token stored, got %q", party.RemoteToken)
	}
	// The bootstrap token is spent once the handshake finished.
	res, ok := parties.Tokens().Resolve("bootstrap")
	if !ok || res.Status != domain.TokenBlocked {
		t.Errorf("expected bootstrap token blocked, got %+v ok=%v", res, ok)
	}
}

func TestHandleInboundCredentials_VersionNotOffered(t *testing.T) {
	// The peer posts on our 3.0 endpoint but its own discovery list lacks 3.0.
	ctx := context.Background()
	client := &mocks.MockPeerClient{
		GetVersionsFunc: func(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error) {
			return peerVersionRefs(), nil
		},
	}
	machine, parties, _ := newTestMachine(client)
	if err := parties.Tokens().Add(ctx, domain.AccessToken{Token: "bootstrap", Status: domain.TokenAllowed}); err != nil {
		t.Fatalf("seed bootstrap: %v", err)
	}

	_, _, err := machine.HandleInboundCredentials(ctx, domain.Version30, "bootstrap", *peerCredentials("peer-token"))
	if !errors.Is(err, registry.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestHandleInboundCredentials_RepeatRotates(t *testing.T) {
	// Arrange: complete one inbound handshake, then register again with the
	// issued token.
	ctx := context.Background()
	client := &mocks.MockPeerClient{
		GetVersionsFunc: func(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error) {
			return peerVersionRefs(), nil
		},
		GetVersionDetailsFunc: func(ctx context.Context, detailsURL, token string) (*domain.VersionDetails, error) {
			return peerVersionDetails(domain.Version221), nil
		},
	}
	machine, parties, _ := newTestMachine(client)
	if err := parties.Tokens().Add(ctx, domain.AccessToken{Token: "bootstrap", Status: domain.TokenAllowed}); err != nil {
		t.Fatalf("seed bootstrap: %v", err)
	}
	firstReply, _, err := machine.HandleInboundCredentials(ctx, domain.Version221, "bootstrap", *peerCredentials("peer-token"))
	if err != nil {
		t.Fatalf("first handshake: %v", err)
	}

	// Act
	secondReply, created, err := machine.HandleInboundCredentials(ctx, domain.Version221, firstReply.Token, *peerCredentials("peer-token-2"))

	// Assert
	if err != nil {
		t.Fatalf("second handshake: %v", err)
	}
	if created {
		t.Error("expected rotation, not creation")
	}
	if parties.Count() != 1 {
		t.Errorf("expected 1 record, got %d", parties.Count())
	}
	if secondReply.Token == firstReply.Token {
		t.Error("expected a fresh token on rotation")
	}
	res, ok := parties.Tokens().Resolve(firstReply.Token)
	if !ok || res.Status != domain.TokenBlocked {
		t.Errorf("expected superseded token blocked, got %+v ok=%v", res, ok)
	}
}

func TestUnregister_BlocksTokenAndRemoves(t *testing.T) {
	// Arrange
	ctx := context.Background()
	client := &mocks.MockPeerClient{
		GetVersionsFunc: func(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error) {
			return peerVersionRefs(), nil
		},
		GetVersionDetailsFunc: func(ctx context.Context, detailsURL, token string) (*domain.VersionDetails, error) {
			return peerVersionDetails(domain.Version221), nil
		},
		PostCredentialsFunc: func(ctx context.Context, credentialsURL, token string, creds domain.Credentials) (*domain.Credentials, error) {
			return peerCredentials("peer-token"), nil
		},
	}
	machine, parties, versions := newTestMachine(client)
	party, err := machine.InitiateRegistration(ctx, "https://abc.example.com/ocpi/versions", "bootstrap")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// Act
	if err := machine.Unregister(ctx, remoteIdentity, domain.Version221); err != nil {
		t.Fatalf("unregister: %v", err)
	}

	// Assert
	if _, ok := parties.Get(remoteIdentity, domain.Version221); ok {
		t.Error("expected record removed")
	}
	res, ok := parties.Tokens().Resolve(party.LocalToken.Token)
	if !ok || res.Status != domain.TokenBlocked {
		t.Errorf("expected issued token blocked after unregister, got %+v ok=%v", res, ok)
	}
	if _, err := versions.Resolve(remoteIdentity, domain.Version221); err == nil {
		t.Error("expected peer endpoints forgotten")
	}
}

func TestHandleInboundUnregister_DropsByPresentedToken(t *testing.T) {
	// Arrange
	ctx := context.Background()
	client := &mocks.MockPeerClient{
		GetVersionsFunc: func(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error) {
			return peerVersionRefs(), nil
		},
		GetVersionDetailsFunc: func(ctx context.Context, detailsURL, token string) (*domain.VersionDetails, error) {
			return peerVersionDetails(domain.Version221), nil
		},
	}
	machine, parties, _ := newTestMachine(client)
	if err := parties.Tokens().Add(ctx, domain.AccessToken{Token: "bootstrap", Status: domain.TokenAllowed}); err != nil {
		t.Fatalf("seed bootstrap: %v", err)
	}
	reply, _, err := machine.HandleInboundCredentials(ctx, domain.Version221, "bootstrap", *peerCredentials("peer-token"))
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}

	// Act
	if err := machine.HandleInboundUnregister(ctx, reply.Token); err != nil {
		t.Fatalf("inbound unregister: %v", err)
	}

	// Assert
	if parties.Count() != 0 {
		t.Errorf("expected no records, got %d", parties.Count())
	}
}

func TestHandleInboundUnregister_UnboundTokenRejected(t *testing.T) {
	ctx := context.Background()
	machine, parties, _ := newTestMachine(&mocks.MockPeerClient{})
	if err := parties.Tokens().Add(ctx, domain.AccessToken{Token: "bare", Status: domain.TokenAllowed}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := machine.HandleInboundUnregister(ctx, "bare")
	if !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("expected ErrTokenNotAllowed, got %v", err)
	}
}

func TestInitiateRegistration_InvalidDetailsLeavesNoState(t *testing.T) {
	// Arrange: the peer's endpoint list carries a duplicate module entry.
	ctx := context.Background()
	client := &mocks.MockPeerClient{
		GetVersionsFunc: func(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error) {
			return peerVersionRefs(), nil
		},
		GetVersionDetailsFunc: func(ctx context.Context, detailsURL, token string) (*domain.VersionDetails, error) {
			return &domain.VersionDetails{
				Version: domain.Version221,
				Endpoints: []domain.VersionEndpoint{
					{Module: domain.ModuleCredentials, Role: domain.InterfaceReceiver, URL: "https://abc.example.com/ocpi/2.2.1/credentials"},
					{Module: domain.ModuleCredentials, Role: domain.InterfaceReceiver, URL: "https://abc.example.com/ocpi/2.2.1/credentials-again"},
				},
			}, nil
		},
		PostCredentialsFunc: func(ctx context.Context, credentialsURL, token string, creds domain.Credentials) (*domain.Credentials, error) {
			t.Error("credentials must not be posted for an invalid endpoint list")
			return peerCredentials("peer-issued-token"), nil
		},
	}
	machine, parties, versions := newTestMachine(client)

	// Act
	_, err := machine.InitiateRegistration(ctx, "https://abc.example.com/ocpi/versions", "bootstrap")

	// Assert: the exchange fails and no record of any kind survives.
	if err == nil {
		t.Fatal("expected registration to fail")
	}
	if parties.Count() != 0 {
		t.Errorf("expected no RemoteParty record, got %d", parties.Count())
	}
	if _, err := versions.Resolve(remoteIdentity, domain.Version221); err == nil {
		t.Error("expected no published version details")
	}
}

func TestHandleInboundCredentials_InvalidDetailsLeavesNoState(t *testing.T) {
	// Arrange
	ctx := context.Background()
	client := &mocks.MockPeerClient{
		GetVersionsFunc: func(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error) {
			return peerVersionRefs(), nil
		},
		GetVersionDetailsFunc: func(ctx context.Context, detailsURL, token string) (*domain.VersionDetails, error) {
			return &domain.VersionDetails{
				Version: domain.Version221,
				Endpoints: []domain.VersionEndpoint{
					{Module: domain.ModuleCommands, Role: domain.InterfaceReceiver, URL: "https://abc.example.com/ocpi/2.2.1/commands"},
					{Module: domain.ModuleCommands, Role: domain.InterfaceReceiver, URL: "https://abc.example.com/ocpi/2.2.1/commands-again"},
				},
			}, nil
		},
	}
	machine, parties, _ := newTestMachine(client)
	if err := parties.Tokens().Add(ctx, domain.AccessToken{Token: "bootstrap", Status: domain.TokenAllowed}); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	// Act
	_, _, err := machine.HandleInboundCredentials(ctx, domain.Version221, "bootstrap", *peerCredentials("peer-token"))

	// Assert: the exchange fails, nothing is stored and the presented token
	// is not spent, so the peer may retry with a corrected endpoint list.
	if err == nil {
		t.Fatal("expected inbound registration to fail")
	}
	if parties.Count() != 0 {
		t.Errorf("expected no RemoteParty record, got %d", parties.Count())
	}
	res, ok := parties.Tokens().Resolve("bootstrap")
	if !ok || res.Status != domain.TokenAllowed {
		t.Errorf("expected presented token to stay ALLOWED, got %+v (found=%v)", res, ok)
	}
}
