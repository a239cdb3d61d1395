package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/ports"
)

// MockPeerClient is a mock implementation of PeerClient interface
type MockPeerClient struct {
	mu          sync.Mutex
	PostedCmds  []*domain.Command
	PostedTos   []string
	SentResults []domain.CommandResult

	GetVersionsFunc       func(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error)
	GetVersionDetailsFunc func(ctx context.Context, detailsURL, token string) (*domain.VersionDetails, error)
	PostCredentialsFunc   func(ctx context.Context, credentialsURL, token string, creds domain.Credentials) (*domain.Credentials, error)
	PutCredentialsFunc    func(ctx context.Context, credentialsURL, token string, creds domain.Credentials) (*domain.Credentials, error)
	DeleteCredentialsFunc func(ctx context.Context, credentialsURL, token string) error
	PostCommandFunc       func(ctx context.Context, commandsURL, token string, cmd *domain.Command) (*domain.CommandResponse, error)
	PostCommandResultFunc func(ctx context.Context, responseURL, token string, result domain.CommandResult) error
}

func NewMockPeerClient() *MockPeerClient {
	return &MockPeerClient{}
}

func (m *MockPeerClient) GetVersions(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error) {
	if m.GetVersionsFunc != nil {
		return m.GetVersionsFunc(ctx, versionsURL, token)
	}
	return nil, fmt.Errorf("mock: GetVersions not configured")
}

func (m *MockPeerClient) GetVersionDetails(ctx context.Context, detailsURL, token string) (*domain.VersionDetails, error) {
	if m.GetVersionDetailsFunc != nil {
		return m.GetVersionDetailsFunc(ctx, detailsURL, token)
	}
	return nil, fmt.Errorf("mock: GetVersionDetails not configured")
}

func (m *MockPeerClient) PostCredentials(ctx context.Context, credentialsURL, token string, creds domain.Credentials) (*domain.Credentials, error) {
	if m.PostCredentialsFunc != nil {
		return m.PostCredentialsFunc(ctx, credentialsURL, token, creds)
	}
	return nil, fmt.Errorf("mock: PostCredentials not configured")
}

func (m *MockPeerClient) PutCredentials(ctx context.Context, credentialsURL, token string, creds domain.Credentials) (*domain.Credentials, error) {
	if m.PutCredentialsFunc != nil {
		return m.PutCredentialsFunc(ctx, credentialsURL, token, creds)
	}
	return nil, fmt.Errorf("mock: PutCredentials not configured")
}

func (m *MockPeerClient) DeleteCredentials(ctx context.Context, credentialsURL, token string) error {
	if m.DeleteCredentialsFunc != nil {
		return m.DeleteCredentialsFunc(ctx, credentialsURL, token)
	}
	return nil
}

func (m *MockPeerClient) PostCommand(ctx context.Context, commandsURL, token string, cmd *domain.Command) (*domain.CommandResponse, error) {
	m.mu.Lock()
	m.PostedCmds = append(m.PostedCmds, cmd)
	m.PostedTos = append(m.PostedTos, commandsURL)
	m.mu.Unlock()
	if m.PostCommandFunc != nil {
		return m.PostCommandFunc(ctx, commandsURL, token, cmd)
	}
	return &domain.CommandResponse{Result: domain.ResponseAccepted, Timeout: 30 * time.Second}, nil
}

func (m *MockPeerClient) PostCommandResult(ctx context.Context, responseURL, token string, result domain.CommandResult) error {
	m.mu.Lock()
	m.SentResults = append(m.SentResults, result)
	m.mu.Unlock()
	if m.PostCommandResultFunc != nil {
		return m.PostCommandResultFunc(ctx, responseURL, token, result)
	}
	return nil
}

// PostedCommands returns a snapshot of commands sent through PostCommand.
func (m *MockPeerClient) PostedCommands() []*domain.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Command, len(m.PostedCmds))
	copy(out, m.PostedCmds)
	return out
}

// MockClientFactory is a mock implementation of ClientFactory interface
type MockClientFactory struct {
	Client        ports.PeerClient
	ClientForFunc func(version domain.VersionID) ports.PeerClient
}

func NewMockClientFactory(client ports.PeerClient) *MockClientFactory {
	return &MockClientFactory{Client: client}
}

func (m *MockClientFactory) ClientFor(version domain.VersionID) ports.PeerClient {
	if m.ClientForFunc != nil {
		return m.ClientForFunc(version)
	}
	return m.Client
}
