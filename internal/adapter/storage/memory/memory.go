package memory

import (
	"context"
	"sync"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/ports"
)

// RemotePartyRepository is an in-memory ports.RemotePartyRepository. Used by
// the peer simulator and by tests; data does not survive the process.
type RemotePartyRepository struct {
	mu   sync.Mutex
	rows map[string]map[string]domain.RemoteParty // local key -> party key -> record
}

func NewRemotePartyRepository() *RemotePartyRepository {
	return &RemotePartyRepository{rows: make(map[string]map[string]domain.RemoteParty)}
}

func (r *RemotePartyRepository) Save(_ context.Context, local domain.PartyIdentity, party *domain.RemoteParty) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	table, ok := r.rows[local.Key()]
	if !ok {
		table = make(map[string]domain.RemoteParty)
		r.rows[local.Key()] = table
	}
	table[party.Key()] = *party
	return nil
}

func (r *RemotePartyRepository) Delete(_ context.Context, local domain.PartyIdentity, remote domain.PartyIdentity, version domain.VersionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows[local.Key()], domain.RemotePartyKey(remote, version))
	return nil
}

func (r *RemotePartyRepository) LoadAll(_ context.Context, local domain.PartyIdentity) ([]domain.RemoteParty, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RemoteParty
	for _, rec := range r.rows[local.Key()] {
		out = append(out, rec)
	}
	return out, nil
}

// Count reports the persisted rows for a local party, for assertions on
// durable state.
func (r *RemotePartyRepository) Count(local domain.PartyIdentity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows[local.Key()])
}

// AccessTokenRepository is an in-memory ports.AccessTokenRepository.
type AccessTokenRepository struct {
	mu   sync.Mutex
	rows map[string]map[string]ports.StoredToken // local key -> token -> record
}

func NewAccessTokenRepository() *AccessTokenRepository {
	return &AccessTokenRepository{rows: make(map[string]map[string]ports.StoredToken)}
}

func (r *AccessTokenRepository) Save(_ context.Context, local domain.PartyIdentity, token domain.AccessToken, boundPartyKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	table, ok := r.rows[local.Key()]
	if !ok {
		table = make(map[string]ports.StoredToken)
		r.rows[local.Key()] = table
	}
	table[token.Token] = ports.StoredToken{Token: token, BoundPartyKey: boundPartyKey}
	return nil
}

func (r *AccessTokenRepository) Delete(_ context.Context, local domain.PartyIdentity, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows[local.Key()], token)
	return nil
}

func (r *AccessTokenRepository) LoadAll(_ context.Context, local domain.PartyIdentity) ([]ports.StoredToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ports.StoredToken
	for _, rec := range r.rows[local.Key()] {
		out = append(out, rec)
	}
	return out, nil
}
