package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/observability/events"
	"github.com/seu-repo/ocpi-hub/internal/observability/telemetry"
	"github.com/seu-repo/ocpi-hub/internal/ports"
	"github.com/seu-repo/ocpi-hub/internal/service/registry"
)

var (
	// ErrUnknownCorrelation marks a command result that matches no pending
	// dispatch. The result is still acknowledged to the sender; only the
	// local waiter is missing.
	ErrUnknownCorrelation = errors.New("command: unknown correlation id")

	// ErrPartyDisabled is returned when dispatching to a disabled party.
	ErrPartyDisabled = errors.New("command: remote party is disabled")
)

// DefaultTimeout bounds the wait for an asynchronous result when the peer's
// synchronous response does not carry one.
const DefaultTimeout = 30 * time.Second

type pendingEntry struct {
	correlationID string
	commandType   domain.CommandType
	deadlineNanos atomic.Int64
	once          sync.Once
	result        chan domain.CommandResult
}

func (e *pendingEntry) resolve(res domain.CommandResult) bool {
	fired := false
	e.once.Do(func() {
		e.result <- res
		fired = true
	})
	return fired
}

// Dispatcher sends fire-and-forget commands to peers and correlates the
// out-of-band results that arrive later. Pending correlations live in a
// concurrency-safe map; expiry is driven by a periodic sweep so a timeout
// never depends on another inbound call.
type Dispatcher struct {
	parties  *registry.RemotePartyRegistry
	versions *registry.VersionRegistry
	clients  ports.ClientFactory

	// callbackBaseURL is this server's public base URL, embedded into each
	// command's ResponseURL.
	callbackBaseURL string

	sweepInterval time.Duration
	sink          events.Sink
	log           *zap.Logger

	pending  sync.Map // correlation id -> *pendingEntry
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(
	parties *registry.RemotePartyRegistry,
	versions *registry.VersionRegistry,
	clients ports.ClientFactory,
	callbackBaseURL string,
	sweepInterval time.Duration,
	sink events.Sink,
	log *zap.Logger,
) *Dispatcher {
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Dispatcher{
		parties:         parties,
		versions:        versions,
		clients:         clients,
		callbackBaseURL: strings.TrimRight(callbackBaseURL, "/"),
		sweepInterval:   sweepInterval,
		sink:            sink,
		log:             log,
		stopCh:          make(chan struct{}),
	}
}

// Start launches the timeout sweep. Safe to call once.
func (d *Dispatcher) Start() {
	go d.sweepLoop()
}

// Stop terminates the timeout sweep. Pending entries are left in place; a
// restarted sweep or inbound results still resolve them.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// PendingCommand is the handle returned by Send. Result yields a channel that
// receives exactly one final CommandResult, or nil when the peer's synchronous
// response already settled the command.
type PendingCommand struct {
	CorrelationID string
	RequestID     string
	Response      domain.CommandResponse
	result        <-chan domain.CommandResult
}

func (p *PendingCommand) Result() <-chan domain.CommandResult {
	return p.result
}

// Send resolves the peer's commands endpoint and bearer token, POSTs the
// command and returns the synchronous acknowledgement. A pending correlation
// is registered before the POST so a result racing the response still
// matches; it is dropped again when the response says nothing will follow.
// Abandoning the returned handle never cancels the command already sent.
func (d *Dispatcher) Send(ctx context.Context, remote domain.PartyIdentity, version domain.VersionID, cmd *domain.Command) (*PendingCommand, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	cmd.EnsureIDs()

	party, ok := d.parties.Get(remote, version)
	if !ok {
		return nil, fmt.Errorf("command: party %s version %s: %w", remote.Key(), version, registry.ErrNotFound)
	}
	if party.Status == domain.PartyDisabled {
		return nil, fmt.Errorf("%w: %s", ErrPartyDisabled, remote.Key())
	}

	details, err := d.versions.Resolve(remote, version)
	if err != nil {
		return nil, err
	}
	endpoint, err := details.EndpointFor(domain.ModuleCommands, domain.InterfaceReceiver)
	if err != nil {
		return nil, err
	}

	if cmd.ResponseURL == "" {
		cmd.ResponseURL = fmt.Sprintf("%s/ocpi/%s/responses/%s", d.callbackBaseURL, version, cmd.CorrelationID)
	}

	entry := &pendingEntry{
		correlationID: cmd.CorrelationID,
		commandType:   cmd.Type,
		result:        make(chan domain.CommandResult, 1),
	}
	entry.deadlineNanos.Store(time.Now().Add(DefaultTimeout).UnixNano())
	d.pending.Store(cmd.CorrelationID, entry)
	telemetry.PendingCommands.Inc()

	commandURL := strings.TrimRight(endpoint, "/") + "/" + string(cmd.Type)
	resp, err := d.clients.ClientFor(version).PostCommand(ctx, commandURL, party.RemoteToken, cmd)
	if err != nil {
		d.drop(cmd.CorrelationID)
		d.markConnection(remote, version, domain.ConnectionOffline)
		return nil, fmt.Errorf("command: post %s to %s: %w", cmd.Type, remote.Key(), err)
	}
	d.markConnection(remote, version, domain.ConnectionOnline)

	telemetry.CommandsSentTotal.WithLabelValues(string(cmd.Type), string(resp.Result)).Inc()
	d.sink.Emit(events.Event{
		Type: "commands.dispatched",
		Fields: map[string]interface{}{
			"command":        string(cmd.Type),
			"correlation_id": cmd.CorrelationID,
			"remote_party":   remote.Key(),
			"result":         string(resp.Result),
		},
	})

	pc := &PendingCommand{
		CorrelationID: cmd.CorrelationID,
		RequestID:     cmd.RequestID,
		Response:      *resp,
	}

	if !resp.Awaitable() {
		// Nothing to await: the peer settled the command synchronously.
		d.drop(cmd.CorrelationID)
		return pc, nil
	}

	timeout := resp.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	entry.deadlineNanos.Store(time.Now().Add(timeout).UnixNano())
	pc.result = entry.result
	return pc, nil
}

// HandleInboundResult matches an asynchronous result against the pending
// table. Known correlations resolve their waiter exactly once; unknown ones
// are counted as orphans and reported with ErrUnknownCorrelation.
func (d *Dispatcher) HandleInboundResult(correlationID string, result domain.CommandResult) error {
	v, ok := d.pending.LoadAndDelete(correlationID)
	if !ok {
		telemetry.OrphanResultsTotal.Inc()
		d.sink.Emit(events.Event{
			Type: "commands.orphan_result",
			Fields: map[string]interface{}{
				"correlation_id": correlationID,
				"result":         string(result.Result),
			},
		})
		d.log.Warn("Command result without pending correlation",
			zap.String("correlation_id", correlationID),
			zap.String("result", string(result.Result)),
		)
		return fmt.Errorf("%w: %s", ErrUnknownCorrelation, correlationID)
	}

	entry := v.(*pendingEntry)
	telemetry.PendingCommands.Dec()
	if entry.resolve(result) {
		telemetry.CommandResultsTotal.WithLabelValues(string(result.Result)).Inc()
		d.sink.Emit(events.Event{
			Type: "commands.resolved",
			Fields: map[string]interface{}{
				"command":        string(entry.commandType),
				"correlation_id": correlationID,
				"result":         string(result.Result),
			},
		})
	}
	return nil
}

// PendingCount reports the number of outstanding correlations.
func (d *Dispatcher) PendingCount() int {
	n := 0
	d.pending.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// markConnection records the reachability observed on a dispatch attempt.
// Persist failures only log; the command outcome is already decided.
func (d *Dispatcher) markConnection(remote domain.PartyIdentity, version domain.VersionID, status domain.ConnectionStatus) {
	if err := d.parties.SetConnectionStatus(context.Background(), remote, version, status); err != nil {
		d.log.Warn("Failed to record connection status",
			zap.String("remote_party", remote.Key()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) drop(correlationID string) {
	if _, ok := d.pending.LoadAndDelete(correlationID); ok {
		telemetry.PendingCommands.Dec()
	}
}

func (d *Dispatcher) sweepLoop() {
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.sweep(time.Now())
		case <-d.stopCh:
			return
		}
	}
}

// sweep expires entries past their deadline with a synthetic TIMEOUT result.
func (d *Dispatcher) sweep(now time.Time) {
	d.pending.Range(func(key, v interface{}) bool {
		entry := v.(*pendingEntry)
		if now.UnixNano() < entry.deadlineNanos.Load() {
			return true
		}
		// An inbound result may win this race; only the deleter resolves.
		if _, ok := d.pending.LoadAndDelete(key); !ok {
			return true
		}
		telemetry.PendingCommands.Dec()
		if entry.resolve(domain.CommandResult{Result: domain.ResultTimeout, Message: "no result received within timeout"}) {
			telemetry.CommandResultsTotal.WithLabelValues(string(domain.ResultTimeout)).Inc()
			d.sink.Emit(events.Event{
				Type: "commands.timeout",
				Fields: map[string]interface{}{
					"command":        string(entry.commandType),
					"correlation_id": entry.correlationID,
				},
			})
			d.log.Info("Command timed out",
				zap.String("correlation_id", entry.correlationID),
				zap.String("command", string(entry.commandType)),
			)
		}
		return true
	})
}
