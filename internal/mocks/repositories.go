package mocks

import (
	"context"
	"sync"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/ports"
)

// MockRemotePartyRepository is a mock implementation of RemotePartyRepository
type MockRemotePartyRepository struct {
	mu      sync.Mutex
	Records map[string]map[string]domain.RemoteParty

	SaveFunc    func(ctx context.Context, local domain.PartyIdentity, party *domain.RemoteParty) error
	DeleteFunc  func(ctx context.Context, local domain.PartyIdentity, remote domain.PartyIdentity, version domain.VersionID) error
	LoadAllFunc func(ctx context.Context, local domain.PartyIdentity) ([]domain.RemoteParty, error)
}

func NewMockRemotePartyRepository() *MockRemotePartyRepository {
	return &MockRemotePartyRepository{
		Records: make(map[string]map[string]domain.RemoteParty),
	}
}

func (m *MockRemotePartyRepository) Save(ctx context.Context, local domain.PartyIdentity, party *domain.RemoteParty) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, local, party)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	parties := m.Records[local.Key()]
	if parties == nil {
		parties = make(map[string]domain.RemoteParty)
		m.Records[local.Key()] = parties
	}
	parties[party.Key()] = *party
	return nil
}

func (m *MockRemotePartyRepository) Delete(ctx context.Context, local domain.PartyIdentity, remote domain.PartyIdentity, version domain.VersionID) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, local, remote, version)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Records[local.Key()], domain.RemotePartyKey(remote, version))
	return nil
}

func (m *MockRemotePartyRepository) LoadAll(ctx context.Context, local domain.PartyIdentity) ([]domain.RemoteParty, error) {
	if m.LoadAllFunc != nil {
		return m.LoadAllFunc(ctx, local)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.RemoteParty, 0, len(m.Records[local.Key()]))
	for _, p := range m.Records[local.Key()] {
		out = append(out, p)
	}
	return out, nil
}

// Count returns the number of stored parties for a local identity.
func (m *MockRemotePartyRepository) Count(local domain.PartyIdentity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Records[local.Key()])
}

// MockAccessTokenRepository is a mock implementation of AccessTokenRepository
type MockAccessTokenRepository struct {
	mu     sync.Mutex
	Tokens map[string]map[string]ports.StoredToken

	SaveFunc    func(ctx context.Context, local domain.PartyIdentity, token domain.AccessToken, boundPartyKey string) error
	DeleteFunc  func(ctx context.Context, local domain.PartyIdentity, token string) error
	LoadAllFunc func(ctx context.Context, local domain.PartyIdentity) ([]ports.StoredToken, error)
}

func NewMockAccessTokenRepository() *MockAccessTokenRepository {
	return &MockAccessTokenRepository{
		Tokens: make(map[string]map[string]ports.StoredToken),
	}
}

func (m *MockAccessTokenRepository) Save(ctx context.Context, local domain.PartyIdentity, token domain.AccessToken, boundPartyKey string) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, local, token, boundPartyKey)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tokens := m.Tokens[local.Key()]
	if tokens == nil {
		tokens = make(map[string]ports.StoredToken)
		m.Tokens[local.Key()] = tokens
	}
	tokens[token.Token] = ports.StoredToken{Token: token, BoundPartyKey: boundPartyKey}
	return nil
}

func (m *MockAccessTokenRepository) Delete(ctx context.Context, local domain.PartyIdentity, token string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, local, token)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Tokens[local.Key()], token)
	return nil
}

func (m *MockAccessTokenRepository) LoadAll(ctx context.Context, local domain.PartyIdentity) ([]ports.StoredToken, error) {
	if m.LoadAllFunc != nil {
		return m.LoadAllFunc(ctx, local)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.StoredToken, 0, len(m.Tokens[local.Key()]))
	for _, t := range m.Tokens[local.Key()] {
		out = append(out, t)
	}
	return out, nil
}
