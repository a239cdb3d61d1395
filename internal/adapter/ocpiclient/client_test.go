package ocpiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
)

func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// captureServer records the correlation headers of every request and answers
// with a success envelope around the given data.
func captureServer(t *testing.T, data interface{}) (*httptest.Server, *http.Header) {
	t.Helper()
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		env, err := domain.NewEnvelope(data)
		if err != nil {
			t.Errorf("build envelope: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(env); err != nil {
			t.Errorf("write envelope: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &headers
}

func TestPostCommand_CarriesCommandCorrelationHeaders(t *testing.T) {
	// Arrange
	srv, headers := captureServer(t, domain.CommandResponse{Result: domain.ResponseAccepted})
	factory := NewFactory(Options{}, newTestLogger())
	client := factory.ClientFor(domain.Version221)
	cmd := &domain.Command{
		Type:          domain.CommandUnlockConnector,
		RequestID:     "req-42",
		CorrelationID: "corr-42",
		ResponseURL:   "https://hub.example.com/ocpi/2.2.1/commands/UNLOCK_CONNECTOR/corr-42",
		UnlockConnector: &domain.UnlockConnectorPayload{
			LocationID: "LOC1", EvseUID: "EVSE1", ConnectorID: "1",
		},
	}

	// Act
	resp, err := client.PostCommand(context.Background(), srv.URL, "peer-token", cmd)

	// Assert: the ids assigned to the command reach the wire unchanged, so
	// the peer's asynchronous result can be matched to the pending entry.
	if err != nil {
		t.Fatalf("post command: %v", err)
	}
	if resp.Result != domain.ResponseAccepted {
		t.Errorf("expected ACCEPTED, got %s", resp.Result)
	}
	if got := headers.Get("X-Request-ID"); got != "req-42" {
		t.Errorf("expected X-Request-ID req-42, got %q", got)
	}
	if got := headers.Get("X-Correlation-ID"); got != "corr-42" {
		t.Errorf("expected X-Correlation-ID corr-42, got %q", got)
	}
}

func TestGetVersions_StampsFreshCorrelationHeaders(t *testing.T) {
	// Arrange
	srv, headers := captureServer(t, []domain.VersionRef{{Version: domain.Version221, URL: "https://peer.example.com/ocpi/versions/2.2.1"}})
	factory := NewFactory(Options{}, newTestLogger())
	client := factory.ClientFor(domain.Version221)

	// Act
	refs, err := client.GetVersions(context.Background(), srv.URL, "peer-token")

	// Assert
	if err != nil {
		t.Fatalf("get versions: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("expected 1 version ref, got %d", len(refs))
	}
	if headers.Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}
	if headers.Get("X-Correlation-ID") == "" {
		t.Error("expected a generated X-Correlation-ID")
	}
}
