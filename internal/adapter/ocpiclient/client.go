package ocpiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/observability/telemetry"
	"github.com/seu-repo/ocpi-hub/internal/ports"
)

// StatusError is a peer response whose envelope carried a non-success OCPI
// status code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ocpi client: peer status %d: %s", e.Code, e.Message)
}

type Options struct {
	Timeout   time.Duration
	UserAgent string
}

// Factory builds version-bound OCPI clients sharing one HTTP transport and
// one circuit breaker per peer host.
type Factory struct {
	httpClient *http.Client
	userAgent  string
	breakers   sync.Map // host -> *gobreaker.CircuitBreaker
	log        *zap.Logger
}

func NewFactory(opts Options, log *zap.Logger) *Factory {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "ocpi-hub"
	}
	return &Factory{
		httpClient: &http.Client{Timeout: opts.Timeout},
		userAgent:  opts.UserAgent,
		log:        log,
	}
}

// ClientFor returns a PeerClient speaking the given protocol version. The
// version decides the wire token encoding.
func (f *Factory) ClientFor(version domain.VersionID) ports.PeerClient {
	return &Client{version: version, f: f}
}

func (f *Factory) breakerFor(host string) *gobreaker.CircuitBreaker {
	if cb, ok := f.breakers.Load(host); ok {
		return cb.(*gobreaker.CircuitBreaker)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			f.log.Warn("Peer circuit breaker state changed",
				zap.String("host", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	actual, _ := f.breakers.LoadOrStore(host, cb)
	return actual.(*gobreaker.CircuitBreaker)
}

// Client implements ports.PeerClient for one protocol version over HTTP.
type Client struct {
	version domain.VersionID
	f       *Factory
}

func (c *Client) GetVersions(ctx context.Context, versionsURL, token string) ([]domain.VersionRef, error) {
	var refs []domain.VersionRef
	if err := c.do(ctx, http.MethodGet, versionsURL, token, "get_versions", nil, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func (c *Client) GetVersionDetails(ctx context.Context, detailsURL, token string) (*domain.VersionDetails, error) {
	var details domain.VersionDetails
	if err := c.do(ctx, http.MethodGet, detailsURL, token, "get_version_details", nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

func (c *Client) PostCredentials(ctx context.Context, credentialsURL, token string, creds domain.Credentials) (*domain.Credentials, error) {
	var reply domain.Credentials
	if err := c.do(ctx, http.MethodPost, credentialsURL, token, "post_credentials", creds, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) PutCredentials(ctx context.Context, credentialsURL, token string, creds domain.Credentials) (*domain.Credentials, error) {
	var reply domain.Credentials
	if err := c.do(ctx, http.MethodPut, credentialsURL, token, "put_credentials", creds, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) DeleteCredentials(ctx context.Context, credentialsURL, token string) error {
	return c.do(ctx, http.MethodDelete, credentialsURL, token, "delete_credentials", nil, nil)
}

func (c *Client) PostCommand(ctx context.Context, commandsURL, token string, cmd *domain.Command) (*domain.CommandResponse, error) {
	// The command's own ids go on the wire so the peer's async result can be
	// correlated back to the pending entry.
	var resp domain.CommandResponse
	if err := c.exchange(ctx, http.MethodPost, commandsURL, token, "post_command", cmd.RequestID, cmd.CorrelationID, commandPayload(cmd), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) PostCommandResult(ctx context.Context, responseURL, token string, result domain.CommandResult) error {
	return c.do(ctx, http.MethodPost, responseURL, token, "post_command_result", result, nil)
}

// commandPayload flattens the tagged union into the version's wire body: the
// payload for the command type plus the response URL.
func commandPayload(cmd *domain.Command) interface{} {
	wrap := func(payload interface{}) map[string]interface{} {
		raw, _ := json.Marshal(payload)
		body := map[string]interface{}{}
		_ = json.Unmarshal(raw, &body)
		body["response_url"] = cmd.ResponseURL
		return body
	}
	switch cmd.Type {
	case domain.CommandReserveNow:
		return wrap(cmd.ReserveNow)
	case domain.CommandStartSession:
		return wrap(cmd.StartSession)
	case domain.CommandStopSession:
		return wrap(cmd.StopSession)
	case domain.CommandCancelReservation:
		return wrap(cmd.CancelReservation)
	case domain.CommandUnlockConnector:
		return wrap(cmd.UnlockConnector)
	default:
		return cmd
	}
}

// do performs one round trip with fresh correlation ids.
func (c *Client) do(ctx context.Context, method, rawURL, token, operation string, body, out interface{}) error {
	return c.exchange(ctx, method, rawURL, token, operation, uuid.NewString(), uuid.NewString(), body, out)
}

// exchange performs one request/response round trip: auth and correlation
// headers, circuit breaking per peer host, envelope unwrapping. out, when
// non-nil, receives the envelope's data field.
func (c *Client) exchange(ctx context.Context, method, rawURL, token, operation, requestID, correlationID string, body, out interface{}) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("ocpi client: %s: %w", rawURL, err)
	}

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ocpi client: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return fmt.Errorf("ocpi client: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+domain.EncodeWireToken(token, c.version))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("X-Correlation-ID", correlationID)
	req.Header.Set("User-Agent", c.f.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	raw, err := c.f.breakerFor(parsed.Host).Execute(func() (interface{}, error) {
		resp, err := c.f.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("http status %d", resp.StatusCode)
		}
		return payload, nil
	})
	telemetry.PeerRequestLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("ocpi client: %s %s: %w", method, rawURL, err)
	}

	var env domain.Envelope
	if err := json.Unmarshal(raw.([]byte), &env); err != nil {
		return fmt.Errorf("ocpi client: decode envelope: %w", err)
	}
	if !env.OK() {
		return &StatusError{Code: env.StatusCode, Message: env.StatusMessage}
	}
	if out != nil {
		if env.Data == nil {
			return fmt.Errorf("ocpi client: %s: envelope has no data", operation)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("ocpi client: decode data: %w", err)
		}
	}
	return nil
}
