package ports

import (
	"context"
	"time"

	"github.com/seu-repo/ocpi-hub/internal/domain"
)

// RemotePartyRepository persists the registered-peer table of one local party.
// Save must be durable before it returns.
type RemotePartyRepository interface {
	Save(ctx context.Context, local domain.PartyIdentity, party *domain.RemoteParty) error
	Delete(ctx context.Context, local domain.PartyIdentity, remote domain.PartyIdentity, version domain.VersionID) error
	LoadAll(ctx context.Context, local domain.PartyIdentity) ([]domain.RemoteParty, error)
}

// AccessTokenRepository persists the block/allow list of one local party.
type AccessTokenRepository interface {
	Save(ctx context.Context, local domain.PartyIdentity, token domain.AccessToken, boundPartyKey string) error
	Delete(ctx context.Context, local domain.PartyIdentity, token string) error
	LoadAll(ctx context.Context, local domain.PartyIdentity) ([]StoredToken, error)
}

// StoredToken is one row of the persisted token list.
type StoredToken struct {
	Token         domain.AccessToken
	BoundPartyKey string
}

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping() error
	Close() error
}
