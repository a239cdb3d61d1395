package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/ports"
)

// RemotePartyRegistry owns the durable table of registered peers for one
// local party. Mutations are serialized per (remote identity, version) key and
// persisted before they are visible; reads never observe a partially written
// record because records are stored as immutable snapshots.
type RemotePartyRegistry struct {
	local   domain.PartyIdentity
	repo    ports.RemotePartyRepository
	tokens  *AccessTokenStore
	parties sync.Map // RemotePartyKey -> *domain.RemoteParty (never mutated in place)
	locks   KeyedMutex
	log     *zap.Logger
}

func NewRemotePartyRegistry(local domain.PartyIdentity, repo ports.RemotePartyRepository, tokens *AccessTokenStore, log *zap.Logger) *RemotePartyRegistry {
	return &RemotePartyRegistry{
		local:  local,
		repo:   repo,
		tokens: tokens,
		log:    log,
	}
}

// LocalIdentity returns the local party this registry belongs to.
func (r *RemotePartyRegistry) LocalIdentity() domain.PartyIdentity {
	return r.local
}

// Load rehydrates the registry from the durable repository.
func (r *RemotePartyRegistry) Load(ctx context.Context) error {
	rows, err := r.repo.LoadAll(ctx, r.local)
	if err != nil {
		return fmt.Errorf("party registry: load: %w", err)
	}
	for i := range rows {
		rp := rows[i]
		r.parties.Store(rp.Key(), &rp)
	}
	r.log.Info("Remote party registry loaded",
		zap.String("local_party", r.local.Key()),
		zap.Int("parties", len(rows)),
	)
	return nil
}

// AddRemotePartyIfNotExists creates and persists the relationship, or returns
// the existing record when the (remote identity, version) pair is already
// known. Both outcomes are success: peer discovery may be retried by callers
// that do not track prior state.
func (r *RemotePartyRegistry) AddRemotePartyIfNotExists(ctx context.Context, party *domain.RemoteParty) (*domain.RemoteParty, bool, error) {
	key := party.Key()
	unlock := r.locks.Lock(key)
	defer unlock()

	if existing, ok := r.parties.Load(key); ok {
		return existing.(*domain.RemoteParty), false, nil
	}

	if err := r.insert(ctx, key, party); err != nil {
		return nil, false, err
	}
	return party, true, nil
}

// AddRemoteParty creates the relationship and fails with ErrAlreadyRegistered
// when the (remote identity, version) pair exists. Used for explicit
// administrative registration, e.g. of a deliberately blocked party.
func (r *RemotePartyRegistry) AddRemoteParty(ctx context.Context, party *domain.RemoteParty) error {
	key := party.Key()
	unlock := r.locks.Lock(key)
	defer unlock()

	if _, ok := r.parties.Load(key); ok {
		return fmt.Errorf("party registry: %s: %w", key, ErrAlreadyRegistered)
	}
	return r.insert(ctx, key, party)
}

// AddAccessToken registers a bare token in the block/allow list, not yet tied
// to any remote party. Used to pre-block abusive tokens before any handshake.
func (r *RemotePartyRegistry) AddAccessToken(ctx context.Context, token domain.AccessToken) error {
	return r.tokens.Add(ctx, token)
}

// Update replaces an existing record, persisting first. Used for token
// rotation and status changes.
func (r *RemotePartyRegistry) Update(ctx context.Context, party *domain.RemoteParty) error {
	key := party.Key()
	unlock := r.locks.Lock(key)
	defer unlock()

	if _, ok := r.parties.Load(key); !ok {
		return fmt.Errorf("party registry: %s: %w", key, ErrNotFound)
	}
	return r.insert(ctx, key, party)
}

// SetConnectionStatus records the observed reachability of a peer. Best
// effort: an unknown party is ignored, a no-op change is not persisted.
func (r *RemotePartyRegistry) SetConnectionStatus(ctx context.Context, remote domain.PartyIdentity, version domain.VersionID, status domain.ConnectionStatus) error {
	key := domain.RemotePartyKey(remote, version)
	unlock := r.locks.Lock(key)
	defer unlock()

	v, ok := r.parties.Load(key)
	if !ok {
		return fmt.Errorf("party registry: %s: %w", key, ErrNotFound)
	}
	current := v.(*domain.RemoteParty)
	if current.ConnectionStatus == status {
		return nil
	}
	updated := *current
	updated.ConnectionStatus = status
	updated.UpdatedAt = time.Now().UTC()
	return r.insert(ctx, key, &updated)
}

// Get returns the record for (remote identity, version), or false.
func (r *RemotePartyRegistry) Get(remote domain.PartyIdentity, version domain.VersionID) (*domain.RemoteParty, bool) {
	return r.GetByKey(domain.RemotePartyKey(remote, version))
}

// GetByKey returns the record stored under a registry key.
func (r *RemotePartyRegistry) GetByKey(key string) (*domain.RemoteParty, bool) {
	v, ok := r.parties.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*domain.RemoteParty), true
}

// RemoteParties returns a point-in-time snapshot of all records.
func (r *RemotePartyRegistry) RemoteParties() []domain.RemoteParty {
	var out []domain.RemoteParty
	r.parties.Range(func(_, v interface{}) bool {
		out = append(out, *(v.(*domain.RemoteParty)))
		return true
	})
	return out
}

// Count returns the number of registered relationships.
func (r *RemotePartyRegistry) Count() int {
	n := 0
	r.parties.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Remove deletes the relationship. Revoking the issued local token is the
// registration layer's job.
func (r *RemotePartyRegistry) Remove(ctx context.Context, remote domain.PartyIdentity, version domain.VersionID) error {
	key := domain.RemotePartyKey(remote, version)
	unlock := r.locks.Lock(key)
	defer unlock()

	if _, ok := r.parties.Load(key); !ok {
		return fmt.Errorf("party registry: %s: %w", key, ErrNotFound)
	}
	if err := r.repo.Delete(ctx, r.local, remote, version); err != nil {
		return fmt.Errorf("party registry: delete: %w", err)
	}
	r.parties.Delete(key)

	r.log.Info("Remote party removed",
		zap.String("local_party", r.local.Key()),
		zap.String("remote_party", key),
	)
	return nil
}

// Tokens exposes the token store this registry feeds.
func (r *RemotePartyRegistry) Tokens() *AccessTokenStore {
	return r.tokens
}

// insert persists and publishes a record. Caller holds the per-key lock. The
// local token, when present, must not already be claimed by a different
// non-blocked party, and must not collide with an explicitly blocked token.
// Both checks run before the record is persisted so a refusal leaves no state.
func (r *RemotePartyRegistry) insert(ctx context.Context, key string, party *domain.RemoteParty) error {
	if party.LocalToken.Token != "" {
		if res, ok := r.tokens.Resolve(party.LocalToken.Token); ok &&
			res.Status == domain.TokenBlocked && party.LocalToken.Status != domain.TokenBlocked {
			return fmt.Errorf("party registry: %s: %w", key, ErrTokenBlocked)
		}
		if boundKey, ok := r.tokens.BoundPartyKey(party.LocalToken.Token); ok && boundKey != "" && boundKey != key {
			if other, exists := r.GetByKey(boundKey); exists && other.LocalToken.Status != domain.TokenBlocked {
				return fmt.Errorf("party registry: %s: %w", key, ErrTokenClaimed)
			}
		}
	}

	now := time.Now().UTC()
	if party.CreatedAt.IsZero() {
		party.CreatedAt = now
	}
	party.UpdatedAt = now

	if err := r.repo.Save(ctx, r.local, party); err != nil {
		return fmt.Errorf("party registry: persist: %w", err)
	}

	if party.LocalToken.Token != "" {
		if err := r.tokens.Add(ctx, party.LocalToken); err != nil {
			return err
		}
		if err := r.tokens.Bind(ctx, party.LocalToken.Token, key); err != nil {
			return err
		}
	}

	r.parties.Store(key, party)

	r.log.Info("Remote party stored",
		zap.String("local_party", r.local.Key()),
		zap.String("remote_party", key),
		zap.String("version", string(party.SelectedVersion)),
	)
	return nil
}
