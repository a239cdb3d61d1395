package registry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/ports"
)

// TokenResolution is the outcome of resolving a presented bearer token.
type TokenResolution struct {
	Status domain.TokenStatus
	// PartyKey is the registry key of the RemoteParty the token is bound to,
	// empty for bare list entries.
	PartyKey string
}

type tokenEntry struct {
	token         domain.AccessToken
	boundPartyKey string
}

// AccessTokenStore maps bearer tokens to their allow/block status for one
// local party. Every mutation is persisted before it is visible to readers.
type AccessTokenStore struct {
	local   domain.PartyIdentity
	repo    ports.AccessTokenRepository
	entries sync.Map // token string -> tokenEntry
	log     *zap.Logger
}

func NewAccessTokenStore(local domain.PartyIdentity, repo ports.AccessTokenRepository, log *zap.Logger) *AccessTokenStore {
	return &AccessTokenStore{
		local: local,
		repo:  repo,
		log:   log,
	}
}

// Load rehydrates the store from the durable repository. Revoked tokens stay
// revoked across restarts.
func (s *AccessTokenStore) Load(ctx context.Context) error {
	rows, err := s.repo.LoadAll(ctx, s.local)
	if err != nil {
		return fmt.Errorf("token store: load: %w", err)
	}
	for _, row := range rows {
		s.entries.Store(row.Token.Token, tokenEntry{token: row.Token, boundPartyKey: row.BoundPartyKey})
	}
	s.log.Info("Access token store loaded",
		zap.String("local_party", s.local.Key()),
		zap.Int("tokens", len(rows)),
	)
	return nil
}

// Add upserts a token. Overwriting an existing entry is not an error and an
// existing party binding survives a bare re-add, but an explicit block is
// never downgraded: only SetStatus may lift it.
func (s *AccessTokenStore) Add(ctx context.Context, token domain.AccessToken) error {
	boundKey := ""
	if prev, ok := s.entries.Load(token.Token); ok {
		entry := prev.(tokenEntry)
		if entry.token.Status == domain.TokenBlocked && token.Status != domain.TokenBlocked {
			return fmt.Errorf("token store: %w", ErrTokenBlocked)
		}
		boundKey = entry.boundPartyKey
	}
	return s.put(ctx, token, boundKey)
}

// SetStatus updates the status of an existing token, creating the entry when
// absent (a token may be blocked before any handshake occurred).
func (s *AccessTokenStore) SetStatus(ctx context.Context, token string, status domain.TokenStatus) error {
	entry := tokenEntry{token: domain.AccessToken{Token: token, Status: status}}
	if prev, ok := s.entries.Load(token); ok {
		entry = prev.(tokenEntry)
		entry.token.Status = status
	}
	return s.put(ctx, entry.token, entry.boundPartyKey)
}

// Bind associates a token with a RemoteParty registry key.
func (s *AccessTokenStore) Bind(ctx context.Context, token string, partyKey string) error {
	prev, ok := s.entries.Load(token)
	if !ok {
		return ErrNotFound
	}
	entry := prev.(tokenEntry)
	entry.boundPartyKey = partyKey
	return s.put(ctx, entry.token, entry.boundPartyKey)
}

// Remove deletes a token entirely. Blocking via SetStatus is preferred for
// revocation because it survives as an explicit deny.
func (s *AccessTokenStore) Remove(ctx context.Context, token string) error {
	if err := s.repo.Delete(ctx, s.local, token); err != nil {
		return fmt.Errorf("token store: delete: %w", err)
	}
	s.entries.Delete(token)
	return nil
}

// Resolve looks up the effective status of a token. An explicit BLOCKED entry
// always wins, even when a RemoteParty claims the token.
func (s *AccessTokenStore) Resolve(token string) (TokenResolution, bool) {
	v, ok := s.entries.Load(token)
	if !ok {
		return TokenResolution{}, false
	}
	entry := v.(tokenEntry)
	res := TokenResolution{Status: entry.token.Status}
	if entry.token.Status != domain.TokenBlocked {
		res.PartyKey = entry.boundPartyKey
	}
	return res, true
}

// BoundPartyKey returns the party binding of a token regardless of status.
func (s *AccessTokenStore) BoundPartyKey(token string) (string, bool) {
	v, ok := s.entries.Load(token)
	if !ok {
		return "", false
	}
	return v.(tokenEntry).boundPartyKey, true
}

// put persists the entry and only then publishes it to readers.
func (s *AccessTokenStore) put(ctx context.Context, token domain.AccessToken, boundPartyKey string) error {
	if err := s.repo.Save(ctx, s.local, token, boundPartyKey); err != nil {
		return fmt.Errorf("token store: persist: %w", err)
	}
	s.entries.Store(token.Token, tokenEntry{token: token, boundPartyKey: boundPartyKey})
	return nil
}
