package ports

import (
	"context"

	"github.com/seu-repo/ocpi-hub/internal/domain"
)

// PeerClient speaks the OCPI wire protocol to one peer. Implementations own
// transport concerns (TLS, circuit breaking, envelopes); callers own retry
// policy.
type PeerClient interface {
	GetVersions(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error)
	GetVersionDetails(ctx context.Context, detailsURL, token string) (*domain.VersionDetails, error)
	PostCredentials(ctx context.Context, credentialsURL, token string, creds domain.Credentials) (*domain.Credentials, error)
	PutCredentials(ctx context.Context, credentialsURL, token string, creds domain.Credentials) (*domain.Credentials, error)
	DeleteCredentials(ctx context.Context, credentialsURL, token string) error
	PostCommand(ctx context.Context, commandsURL, token string, cmd *domain.Command) (*domain.CommandResponse, error)
	PostCommandResult(ctx context.Context, responseURL, token string, result domain.CommandResult) error
}

// ClientFactory builds a PeerClient for one protocol version. The version
// decides wire token encoding.
type ClientFactory interface {
	ClientFor(version domain.VersionID) PeerClient
}

// CommandHandler is the receiver-side hook a deployment plugs in to actually
// execute inbound commands. The returned response is the synchronous
// acknowledgement only; the handler posts the CommandResult later.
type CommandHandler interface {
	HandleCommand(ctx context.Context, from domain.PartyIdentity, cmd *domain.Command) (domain.CommandResponse, error)
}
