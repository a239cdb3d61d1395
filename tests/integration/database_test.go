package integration

import (
	"context"
	"testing"
	"time"

	pgstore "github.com/seu-repo/ocpi-hub/internal/adapter/storage/postgres"
	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/service/registry"
)

var (
	localParty  = domain.PartyIdentity{CountryCode: "BR", PartyID: "HUB", Role: domain.RoleHub}
	remoteParty = domain.PartyIdentity{CountryCode: "DE", PartyID: "ABC", Role: domain.RoleEMSP}
)

func sampleParty() *domain.RemoteParty {
	return &domain.RemoteParty{
		Identity:         remoteParty,
		BusinessDetails:  domain.BusinessDetails{Name: "ABC Mobility", Website: "https://abc.example.com"},
		LocalToken:       domain.AccessToken{Token: "local-token", Status: domain.TokenAllowed},
		RemoteToken:      "remote-token",
		VersionsURL:      "https://abc.example.com/ocpi/versions",
		RemoteVersionIDs: []domain.VersionID{domain.Version221, domain.Version23},
		SelectedVersion:  domain.Version221,
		ConnectionStatus: domain.ConnectionOnline,
		Status:           domain.PartyEnabled,
		CreatedAt:        time.Now().UTC().Truncate(time.Second),
		UpdatedAt:        time.Now().UTC().Truncate(time.Second),
	}
}

// TestDatabase_RemotePartyRoundTrip exercises the party repository against a
// real Postgres.
func TestDatabase_RemotePartyRoundTrip(t *testing.T) {
	env := SetupTestEnvironment(t)
	if env == nil || env.Gorm == nil {
		t.Skip("Database not available")
	}
	CleanDatabase(t, env.DB)

	ctx := context.Background()
	repo := pgstore.NewRemotePartyRepository(env.Gorm, env.Logger)

	// Save
	party := sampleParty()
	if err := repo.Save(ctx, localParty, party); err != nil {
		t.Fatalf("Failed to save remote party: %v", err)
	}

	// Load
	parties, err := repo.LoadAll(ctx, localParty)
	if err != nil {
		t.Fatalf("Failed to load remote parties: %v", err)
	}
	if len(parties) != 1 {
		t.Fatalf("Expected 1 party, got %d", len(parties))
	}
	got := parties[0]
	if got.Identity.Key() != remoteParty.Key() {
		t.Errorf("Expected identity %s, got %s", remoteParty.Key(), got.Identity.Key())
	}
	if got.RemoteToken != "remote-token" {
		t.Errorf("Expected remote token to survive round trip, got %q", got.RemoteToken)
	}
	if got.SelectedVersion != domain.Version221 {
		t.Errorf("Expected selected version 2.2.1, got %s", got.SelectedVersion)
	}

	// Upsert under the same key
	party.RemoteToken = "rotated-token"
	if err := repo.Save(ctx, localParty, party); err != nil {
		t.Fatalf("Failed to upsert remote party: %v", err)
	}
	parties, err = repo.LoadAll(ctx, localParty)
	if err != nil {
		t.Fatalf("Failed to reload: %v", err)
	}
	if len(parties) != 1 {
		t.Fatalf("Expected upsert to keep 1 row, got %d", len(parties))
	}
	if parties[0].RemoteToken != "rotated-token" {
		t.Errorf("Expected rotated token, got %q", parties[0].RemoteToken)
	}

	// Delete
	if err := repo.Delete(ctx, localParty, remoteParty, domain.Version221); err != nil {
		t.Fatalf("Failed to delete remote party: %v", err)
	}
	parties, err = repo.LoadAll(ctx, localParty)
	if err != nil {
		t.Fatalf("Failed to reload after delete: %v", err)
	}
	if len(parties) != 0 {
		t.Errorf("Expected 0 parties after delete, got %d", len(parties))
	}
}

// TestDatabase_PartiesAreScopedToLocalIdentity verifies rows of one local
// party do not leak into another's registry.
func TestDatabase_PartiesAreScopedToLocalIdentity(t *testing.T) {
	env := SetupTestEnvironment(t)
	if env == nil || env.Gorm == nil {
		t.Skip("Database not available")
	}
	CleanDatabase(t, env.DB)

	ctx := context.Background()
	repo := pgstore.NewRemotePartyRepository(env.Gorm, env.Logger)
	otherLocal := domain.PartyIdentity{CountryCode: "BR", PartyID: "EMS", Role: domain.RoleEMSP}

	if err := repo.Save(ctx, localParty, sampleParty()); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	parties, err := repo.LoadAll(ctx, otherLocal)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if len(parties) != 0 {
		t.Errorf("Expected no parties for the other local identity, got %d", len(parties))
	}
}

// TestDatabase_TokenBlockSurvivesRestart verifies the durable block list
// through a full store rebuild, the way a process restart replays it.
func TestDatabase_TokenBlockSurvivesRestart(t *testing.T) {
	env := SetupTestEnvironment(t)
	if env == nil || env.Gorm == nil {
		t.Skip("Database not available")
	}
	CleanDatabase(t, env.DB)

	ctx := context.Background()
	repo := pgstore.NewAccessTokenRepository(env.Gorm, env.Logger)

	first := registry.NewAccessTokenStore(localParty, repo, env.Logger)
	if err := first.Add(ctx, domain.AccessToken{Token: "spent-token", Status: domain.TokenAllowed}); err != nil {
		t.Fatalf("Failed to add token: %v", err)
	}
	if err := first.SetStatus(ctx, "spent-token", domain.TokenBlocked); err != nil {
		t.Fatalf("Failed to block token: %v", err)
	}

	second := registry.NewAccessTokenStore(localParty, repo, env.Logger)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Failed to reload token store: %v", err)
	}

	res, ok := second.Resolve("spent-token")
	if !ok {
		t.Fatal("Expected blocked token to survive restart")
	}
	if res.Status != domain.TokenBlocked {
		t.Errorf("Expected status BLOCKED, got %s", res.Status)
	}
}

// TestDatabase_RegistryRehydration runs the full registry load path over
// Postgres-backed repositories.
func TestDatabase_RegistryRehydration(t *testing.T) {
	env := SetupTestEnvironment(t)
	if env == nil || env.Gorm == nil {
		t.Skip("Database not available")
	}
	CleanDatabase(t, env.DB)

	ctx := context.Background()
	partyRepo := pgstore.NewRemotePartyRepository(env.Gorm, env.Logger)
	tokenRepo := pgstore.NewAccessTokenRepository(env.Gorm, env.Logger)

	tokens := registry.NewAccessTokenStore(localParty, tokenRepo, env.Logger)
	parties := registry.NewRemotePartyRegistry(localParty, partyRepo, tokens, env.Logger)
	if err := parties.AddRemoteParty(ctx, sampleParty()); err != nil {
		t.Fatalf("Failed to register party: %v", err)
	}

	// Fresh registry over the same database.
	tokens2 := registry.NewAccessTokenStore(localParty, tokenRepo, env.Logger)
	parties2 := registry.NewRemotePartyRegistry(localParty, partyRepo, tokens2, env.Logger)
	if err := tokens2.Load(ctx); err != nil {
		t.Fatalf("Failed to load tokens: %v", err)
	}
	if err := parties2.Load(ctx); err != nil {
		t.Fatalf("Failed to load parties: %v", err)
	}

	got, ok := parties2.Get(remoteParty, domain.Version221)
	if !ok {
		t.Fatal("Expected party after rehydration")
	}
	if got.LocalToken.Token != "local-token" {
		t.Errorf("Expected local token to survive, got %q", got.LocalToken.Token)
	}
	res, ok := tokens2.Resolve("local-token")
	if !ok || res.Status != domain.TokenAllowed {
		t.Errorf("Expected issued token allowed after rehydration, got %+v ok=%v", res, ok)
	}
	if res.PartyKey != got.Key() {
		t.Errorf("Expected token bound to %q, got %q", got.Key(), res.PartyKey)
	}
}
