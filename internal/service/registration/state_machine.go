package registration

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/observability/events"
	"github.com/seu-repo/ocpi-hub/internal/observability/telemetry"
	"github.com/seu-repo/ocpi-hub/internal/ports"
	"github.com/seu-repo/ocpi-hub/internal/service/registry"
)

// ErrTokenNotAllowed rejects an inbound credentials exchange whose presented
// token is unknown or blocked.
var ErrTokenNotAllowed = errors.New("registration: token not allowed")

// Config describes the local side of every handshake this state machine
// drives: who we are, where peers can discover us, and which protocol
// versions we speak.
type Config struct {
	BusinessDetails   domain.BusinessDetails
	VersionsURL       string
	SupportedVersions []domain.VersionID
}

// StateMachine drives the credentials handshake with remote parties, both as
// initiator and as receiver. Handshakes for the same peer are serialized so
// two concurrent attempts cannot produce divergent token pairs; no partial
// RemoteParty record survives a failed exchange.
type StateMachine struct {
	cfg      Config
	parties  *registry.RemotePartyRegistry
	versions *registry.VersionRegistry
	clients  ports.ClientFactory
	locks    registry.KeyedMutex
	sink     events.Sink
	log      *zap.Logger
}

func NewStateMachine(cfg Config, parties *registry.RemotePartyRegistry, versions *registry.VersionRegistry, clients ports.ClientFactory, sink events.Sink, log *zap.Logger) *StateMachine {
	if len(cfg.SupportedVersions) == 0 {
		cfg.SupportedVersions = domain.AllVersions
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &StateMachine{
		cfg:      cfg,
		parties:  parties,
		versions: versions,
		clients:  clients,
		sink:     sink,
		log:      log,
	}
}

// LocalCredentials builds the credentials payload this system presents to
// peers, carrying the given freshly issued token.
func (m *StateMachine) LocalCredentials(token string) domain.Credentials {
	local := m.parties.LocalIdentity()
	return domain.Credentials{
		Token: token,
		URL:   m.cfg.VersionsURL,
		Roles: []domain.CredentialsRole{{
			Role:            local.Role,
			CountryCode:     local.CountryCode,
			PartyID:         local.PartyID,
			BusinessDetails: m.cfg.BusinessDetails,
		}},
	}
}

// InitiateRegistration runs the outbound half of the handshake against a
// peer's versions URL, authenticating with the out-of-band bootstrap token
// the peer issued. It discovers the peer's versions, negotiates the highest
// mutual one, issues a fresh local token and POSTs our credentials to the
// peer's credentials endpoint. The RemoteParty is only stored after the
// peer's credentials response validated; any earlier failure leaves no state
// behind and the caller may simply retry.
func (m *StateMachine) InitiateRegistration(ctx context.Context, peerVersionsURL, bootstrapToken string) (*domain.RemoteParty, error) {
	// The peer's identity is unknown until its credentials response arrives,
	// so concurrent attempts are serialized on the URL instead.
	unlock := m.locks.Lock("initiate:" + peerVersionsURL)
	defer unlock()

	party, err := m.initiate(ctx, peerVersionsURL, bootstrapToken)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	telemetry.RegistrationsTotal.WithLabelValues("outbound", outcome).Inc()
	if err != nil {
		return nil, err
	}

	telemetry.RegisteredParties.WithLabelValues(m.parties.LocalIdentity().Key()).Set(float64(m.parties.Count()))
	m.sink.Emit(events.Event{
		Type:  "registration.completed",
		Party: party.Identity.Key(),
		Fields: map[string]interface{}{
			"direction": "outbound",
			"version":   string(party.SelectedVersion),
		},
	})
	return party, nil
}

func (m *StateMachine) initiate(ctx context.Context, peerVersionsURL, bootstrapToken string) (*domain.RemoteParty, error) {
	// Discovery runs before negotiation, so it uses a client for the highest
	// version we support; only the wire token encoding depends on it.
	discovery := m.clients.ClientFor(m.highestSupported())
	refs, err := discovery.GetVersions(ctx, peerVersionsURL, bootstrapToken)
	if err != nil {
		return nil, fmt.Errorf("registration: fetch versions: %w", err)
	}

	theirIDs := make([]domain.VersionID, 0, len(refs))
	detailsURLs := make(map[domain.VersionID]string, len(refs))
	for _, ref := range refs {
		theirIDs = append(theirIDs, ref.Version)
		detailsURLs[ref.Version] = ref.URL
	}

	selected, err := registry.NegotiateVersion(m.cfg.SupportedVersions, theirIDs)
	if err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}

	client := m.clients.ClientFor(selected)
	details, err := client.GetVersionDetails(ctx, detailsURLs[selected], bootstrapToken)
	if err != nil {
		return nil, fmt.Errorf("registration: fetch version details: %w", err)
	}
	// Reject a malformed endpoint list before any token or record exists, so
	// a failed exchange leaves nothing behind.
	if err := details.Validate(); err != nil {
		return nil, fmt.Errorf("registration: peer version details: %w", err)
	}
	credentialsURL, err := details.EndpointFor(domain.ModuleCredentials, domain.InterfaceReceiver)
	if err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}

	localToken := domain.NewAccessToken()
	peerCreds, err := client.PostCredentials(ctx, credentialsURL, bootstrapToken, m.LocalCredentials(localToken.Token))
	if err != nil {
		return nil, fmt.Errorf("registration: post credentials: %w", err)
	}
	if err := peerCreds.Validate(); err != nil {
		return nil, fmt.Errorf("registration: peer response: %w", err)
	}

	remote := peerCreds.PrimaryIdentity()
	party := &domain.RemoteParty{
		Identity:         remote,
		BusinessDetails:  peerCreds.Roles[0].BusinessDetails,
		LocalToken:       localToken,
		RemoteToken:      peerCreds.Token,
		VersionsURL:      peerVersionsURL,
		RemoteVersionIDs: theirIDs,
		SelectedVersion:  selected,
		ConnectionStatus: domain.ConnectionOnline,
		Status:           domain.PartyEnabled,
	}

	stored, created, err := m.parties.AddRemotePartyIfNotExists(ctx, party)
	if err != nil {
		return nil, err
	}
	if !created {
		// The peer was already registered under this version; this outbound
		// handshake supersedes the old token pair on both sides.
		if err := m.rotate(ctx, stored, party); err != nil {
			return nil, err
		}
	}

	m.versions.PublishVersions(remote, detailsURLs)
	if err := m.versions.PublishVersionDetails(remote, selected, details); err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}

	m.log.Info("Outbound registration completed",
		zap.String("local_party", m.parties.LocalIdentity().Key()),
		zap.String("remote_party", remote.Key()),
		zap.String("version", string(selected)),
	)
	return party, nil
}

// HandleInboundCredentials runs the receiver half of the handshake. The
// presented token must resolve to ALLOWED. The peer's versions and endpoints
// are fetched through its declared versions URL with its offered token; the
// version is fixed by the endpoint the peer called, not re-negotiated. On
// success the returned credentials carry a fresh local token for the peer,
// and the presented token is blocked as superseded. Re-registration with an
// already registered peer rotates the stored token pair instead of
// duplicating the record.
func (m *StateMachine) HandleInboundCredentials(ctx context.Context, version domain.VersionID, presentedToken string, creds domain.Credentials) (*domain.Credentials, bool, error) {
	if err := creds.Validate(); err != nil {
		return nil, false, err
	}
	res, ok := m.parties.Tokens().Resolve(presentedToken)
	if !ok || res.Status != domain.TokenAllowed {
		telemetry.RegistrationsTotal.WithLabelValues("inbound", "denied").Inc()
		return nil, false, ErrTokenNotAllowed
	}

	remote := creds.PrimaryIdentity()
	key := domain.RemotePartyKey(remote, version)
	unlock := m.locks.Lock(key)
	defer unlock()

	reply, created, err := m.acceptInbound(ctx, version, presentedToken, creds, remote)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	telemetry.RegistrationsTotal.WithLabelValues("inbound", outcome).Inc()
	if err != nil {
		return nil, false, err
	}

	telemetry.RegisteredParties.WithLabelValues(m.parties.LocalIdentity().Key()).Set(float64(m.parties.Count()))
	m.sink.Emit(events.Event{
		Type:  "registration.completed",
		Party: remote.Key(),
		Fields: map[string]interface{}{
			"direction": "inbound",
			"version":   string(version),
			"created":   created,
		},
	})
	return reply, created, nil
}

func (m *StateMachine) acceptInbound(ctx context.Context, version domain.VersionID, presentedToken string, creds domain.Credentials, remote domain.PartyIdentity) (*domain.Credentials, bool, error) {
	client := m.clients.ClientFor(version)
	refs, err := client.GetVersions(ctx, creds.URL, creds.Token)
	if err != nil {
		return nil, false, fmt.Errorf("registration: fetch peer versions: %w", err)
	}

	theirIDs := make([]domain.VersionID, 0, len(refs))
	detailsURLs := make(map[domain.VersionID]string, len(refs))
	for _, ref := range refs {
		theirIDs = append(theirIDs, ref.Version)
		detailsURLs[ref.Version] = ref.URL
	}
	detailsURL, ok := detailsURLs[version]
	if !ok {
		return nil, false, fmt.Errorf("registration: peer does not offer %s: %w", version, registry.ErrVersionMismatch)
	}
	details, err := client.GetVersionDetails(ctx, detailsURL, creds.Token)
	if err != nil {
		return nil, false, fmt.Errorf("registration: fetch peer version details: %w", err)
	}
	// Validate before touching any store, so the presented token stays usable
	// and no RemoteParty record survives a rejected exchange.
	if err := details.Validate(); err != nil {
		return nil, false, fmt.Errorf("registration: peer version details: %w", err)
	}

	localToken := domain.NewAccessToken()
	party := &domain.RemoteParty{
		Identity:         remote,
		BusinessDetails:  creds.Roles[0].BusinessDetails,
		LocalToken:       localToken,
		RemoteToken:      creds.Token,
		VersionsURL:      creds.URL,
		RemoteVersionIDs: theirIDs,
		SelectedVersion:  version,
		ConnectionStatus: domain.ConnectionOnline,
		Status:           domain.PartyEnabled,
	}

	created := false
	if existing, ok := m.parties.Get(remote, version); ok {
		if err := m.rotate(ctx, existing, party); err != nil {
			return nil, false, err
		}
	} else {
		if err := m.parties.AddRemoteParty(ctx, party); err != nil {
			return nil, false, err
		}
		created = true
	}

	// The presented token is spent: either the out-of-band bootstrap token or
	// the previously issued local one.
	if presentedToken != localToken.Token {
		if err := m.parties.Tokens().SetStatus(ctx, presentedToken, domain.TokenBlocked); err != nil {
			return nil, false, err
		}
	}

	m.versions.PublishVersions(remote, detailsURLs)
	if err := m.versions.PublishVersionDetails(remote, version, details); err != nil {
		return nil, false, fmt.Errorf("registration: %w", err)
	}

	m.log.Info("Inbound registration completed",
		zap.String("local_party", m.parties.LocalIdentity().Key()),
		zap.String("remote_party", remote.Key()),
		zap.String("version", string(version)),
		zap.Bool("created", created),
	)
	reply := m.LocalCredentials(localToken.Token)
	return &reply, created, nil
}

// RenewRegistration re-runs the handshake with an already registered peer
// from our side, issuing a fresh local token and PUTting our credentials to
// the peer. The peer answers with its own fresh token; both are swapped in
// atomically and the old local token is blocked.
func (m *StateMachine) RenewRegistration(ctx context.Context, remote domain.PartyIdentity, version domain.VersionID) (*domain.RemoteParty, error) {
	key := domain.RemotePartyKey(remote, version)
	unlock := m.locks.Lock(key)
	defer unlock()

	existing, ok := m.parties.Get(remote, version)
	if !ok {
		return nil, fmt.Errorf("registration: %s: %w", key, registry.ErrNotFound)
	}

	details, err := m.versions.Resolve(remote, version)
	if err != nil {
		return nil, err
	}
	credentialsURL, err := details.EndpointFor(domain.ModuleCredentials, domain.InterfaceReceiver)
	if err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}

	client := m.clients.ClientFor(version)
	localToken := domain.NewAccessToken()
	peerCreds, err := client.PutCredentials(ctx, credentialsURL, existing.RemoteToken, m.LocalCredentials(localToken.Token))
	if err != nil {
		telemetry.RegistrationsTotal.WithLabelValues("outbound", "error").Inc()
		return nil, fmt.Errorf("registration: put credentials: %w", err)
	}
	if err := peerCreds.Validate(); err != nil {
		telemetry.RegistrationsTotal.WithLabelValues("outbound", "error").Inc()
		return nil, fmt.Errorf("registration: peer response: %w", err)
	}

	updated := *existing
	updated.BusinessDetails = peerCreds.Roles[0].BusinessDetails
	updated.LocalToken = localToken
	updated.RemoteToken = peerCreds.Token
	updated.VersionsURL = peerCreds.URL
	if err := m.rotate(ctx, existing, &updated); err != nil {
		return nil, err
	}

	telemetry.RegistrationsTotal.WithLabelValues("outbound", "success").Inc()
	m.sink.Emit(events.Event{
		Type:  "registration.rotated",
		Party: remote.Key(),
		Fields: map[string]interface{}{
			"version": string(version),
		},
	})
	return &updated, nil
}

// Unregister removes the relationship locally: the RemoteParty record is
// deleted, the local token issued to the peer is blocked so it stays dead
// across restarts, and the peer's endpoints are forgotten once no other
// version relationship remains.
func (m *StateMachine) Unregister(ctx context.Context, remote domain.PartyIdentity, version domain.VersionID) error {
	key := domain.RemotePartyKey(remote, version)
	unlock := m.locks.Lock(key)
	defer unlock()

	party, ok := m.parties.Get(remote, version)
	if !ok {
		return fmt.Errorf("registration: %s: %w", key, registry.ErrNotFound)
	}
	if party.LocalToken.Token != "" {
		if err := m.parties.Tokens().SetStatus(ctx, party.LocalToken.Token, domain.TokenBlocked); err != nil {
			return err
		}
	}
	if err := m.parties.Remove(ctx, remote, version); err != nil {
		return err
	}
	if !m.hasOtherVersions(remote, version) {
		m.versions.Forget(remote)
	}

	telemetry.RegisteredParties.WithLabelValues(m.parties.LocalIdentity().Key()).Set(float64(m.parties.Count()))
	m.sink.Emit(events.Event{
		Type:  "registration.removed",
		Party: remote.Key(),
		Fields: map[string]interface{}{
			"version": string(version),
		},
	})
	return nil
}

// UnregisterFromPeer tells the peer to drop us (DELETE on its credentials
// endpoint) and then unregisters locally. A transport failure surfaces
// without touching local state; callers that want to force local removal use
// Unregister directly.
func (m *StateMachine) UnregisterFromPeer(ctx context.Context, remote domain.PartyIdentity, version domain.VersionID) error {
	party, ok := m.parties.Get(remote, version)
	if !ok {
		return fmt.Errorf("registration: %s: %w", domain.RemotePartyKey(remote, version), registry.ErrNotFound)
	}
	details, err := m.versions.Resolve(remote, version)
	if err != nil {
		return err
	}
	credentialsURL, err := details.EndpointFor(domain.ModuleCredentials, domain.InterfaceReceiver)
	if err != nil {
		return fmt.Errorf("registration: %w", err)
	}
	if err := m.clients.ClientFor(version).DeleteCredentials(ctx, credentialsURL, party.RemoteToken); err != nil {
		return fmt.Errorf("registration: delete credentials: %w", err)
	}
	return m.Unregister(ctx, remote, version)
}

// HandleInboundUnregister is the receiver side of a peer-initiated DELETE.
// The presented token identifies which relationship to drop.
func (m *StateMachine) HandleInboundUnregister(ctx context.Context, presentedToken string) error {
	res, ok := m.parties.Tokens().Resolve(presentedToken)
	if !ok || res.Status != domain.TokenAllowed || res.PartyKey == "" {
		return ErrTokenNotAllowed
	}
	party, ok := m.parties.GetByKey(res.PartyKey)
	if !ok {
		return fmt.Errorf("registration: %s: %w", res.PartyKey, registry.ErrNotFound)
	}
	return m.Unregister(ctx, party.Identity, party.SelectedVersion)
}

// rotate swaps in a replacement record for an existing relationship and
// blocks the superseded local token. Caller holds the per-key lock.
func (m *StateMachine) rotate(ctx context.Context, old, next *domain.RemoteParty) error {
	next.CreatedAt = old.CreatedAt
	if err := m.parties.Update(ctx, next); err != nil {
		return err
	}
	if old.LocalToken.Token != "" && old.LocalToken.Token != next.LocalToken.Token {
		if err := m.parties.Tokens().SetStatus(ctx, old.LocalToken.Token, domain.TokenBlocked); err != nil {
			return err
		}
	}
	return nil
}

func (m *StateMachine) hasOtherVersions(remote domain.PartyIdentity, except domain.VersionID) bool {
	for _, rp := range m.parties.RemoteParties() {
		if rp.Identity.Key() == remote.Key() && rp.SelectedVersion != except {
			return true
		}
	}
	return false
}

func (m *StateMachine) highestSupported() domain.VersionID {
	best := m.cfg.SupportedVersions[0]
	for _, v := range m.cfg.SupportedVersions[1:] {
		if domain.CompareVersions(v, best) > 0 {
			best = v
		}
	}
	return best
}
