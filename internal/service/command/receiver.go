package command

import (
	"context"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
	"github.com/seu-repo/ocpi-hub/internal/observability/events"
	"github.com/seu-repo/ocpi-hub/internal/ports"
)

// Receiver is the inbound half of the commands module: it acknowledges a
// command synchronously and hands execution to the deployment's handler,
// which posts the CommandResult to the command's ResponseURL later.
type Receiver struct {
	handler ports.CommandHandler
	sink    events.Sink
	log     *zap.Logger
}

func NewReceiver(handler ports.CommandHandler, sink events.Sink, log *zap.Logger) *Receiver {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Receiver{handler: handler, sink: sink, log: log}
}

// HandleInboundCommand validates and acknowledges one inbound command. A nil
// handler rejects everything with NOT_SUPPORTED.
func (r *Receiver) HandleInboundCommand(ctx context.Context, from domain.PartyIdentity, cmd *domain.Command) (domain.CommandResponse, error) {
	if err := cmd.Validate(); err != nil {
		return domain.CommandResponse{Result: domain.ResponseRejected, Message: err.Error()}, err
	}

	r.sink.Emit(events.Event{
		Type: "commands.received",
		Fields: map[string]interface{}{
			"command":        string(cmd.Type),
			"correlation_id": cmd.CorrelationID,
			"from":           from.Key(),
		},
	})

	if r.handler == nil {
		return domain.CommandResponse{
			Result:  domain.ResponseNotSupported,
			Message: "no command handler configured",
		}, nil
	}

	resp, err := r.handler.HandleCommand(ctx, from, cmd)
	if err != nil {
		r.log.Error("Command handler failed",
			zap.String("command", string(cmd.Type)),
			zap.String("from", from.Key()),
			zap.Error(err),
		)
		return domain.CommandResponse{Result: domain.ResponseRejected, Message: "command handler failure"}, nil
	}
	return resp, nil
}
