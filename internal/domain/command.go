package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type CommandType string

const (
	CommandReserveNow        CommandType = "RESERVE_NOW"
	CommandStartSession      CommandType = "START_SESSION"
	CommandStopSession       CommandType = "STOP_SESSION"
	CommandCancelReservation CommandType = "CANCEL_RESERVATION"
	CommandUnlockConnector   CommandType = "UNLOCK_CONNECTOR"
)

// Command is a closed tagged union over the command kinds. Exactly one payload
// field matching Type is set; everything else is the shared dispatch envelope.
type Command struct {
	Type CommandType `json:"type"`

	RequestID     string `json:"request_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ResponseURL   string `json:"response_url"`

	ReserveNow        *ReserveNowPayload        `json:"reserve_now,omitempty"`
	StartSession      *StartSessionPayload      `json:"start_session,omitempty"`
	StopSession       *StopSessionPayload       `json:"stop_session,omitempty"`
	CancelReservation *CancelReservationPayload `json:"cancel_reservation,omitempty"`
	UnlockConnector   *UnlockConnectorPayload   `json:"unlock_connector,omitempty"`
}

type ReserveNowPayload struct {
	TokenUID      string    `json:"token_uid"`
	ExpiryDate    time.Time `json:"expiry_date"`
	ReservationID string    `json:"reservation_id"`
	LocationID    string    `json:"location_id"`
	EvseUID       string    `json:"evse_uid,omitempty"`
}

type StartSessionPayload struct {
	TokenUID   string `json:"token_uid"`
	LocationID string `json:"location_id"`
	EvseUID    string `json:"evse_uid,omitempty"`
}

type StopSessionPayload struct {
	SessionID string `json:"session_id"`
}

type CancelReservationPayload struct {
	ReservationID string `json:"reservation_id"`
}

type UnlockConnectorPayload struct {
	LocationID  string `json:"location_id"`
	EvseUID     string `json:"evse_uid"`
	ConnectorID string `json:"connector_id"`
}

// EnsureIDs fills RequestID and CorrelationID with fresh random identifiers
// when the caller did not supply them.
func (c *Command) EnsureIDs() {
	if c.RequestID == "" {
		c.RequestID = uuid.NewString()
	}
	if c.CorrelationID == "" {
		c.CorrelationID = uuid.NewString()
	}
}

// Validate checks that the payload matching the tag is present and complete.
func (c *Command) Validate() error {
	switch c.Type {
	case CommandReserveNow:
		if c.ReserveNow == nil || c.ReserveNow.ReservationID == "" || c.ReserveNow.LocationID == "" {
			return fmt.Errorf("command %s: reservation_id and location_id are required", c.Type)
		}
	case CommandStartSession:
		if c.StartSession == nil || c.StartSession.TokenUID == "" || c.StartSession.LocationID == "" {
			return fmt.Errorf("command %s: token_uid and location_id are required", c.Type)
		}
	case CommandStopSession:
		if c.StopSession == nil || c.StopSession.SessionID == "" {
			return fmt.Errorf("command %s: session_id is required", c.Type)
		}
	case CommandCancelReservation:
		if c.CancelReservation == nil || c.CancelReservation.ReservationID == "" {
			return fmt.Errorf("command %s: reservation_id is required", c.Type)
		}
	case CommandUnlockConnector:
		if c.UnlockConnector == nil || c.UnlockConnector.LocationID == "" || c.UnlockConnector.ConnectorID == "" {
			return fmt.Errorf("command %s: location_id and connector_id are required", c.Type)
		}
	default:
		return fmt.Errorf("unknown command type %q", c.Type)
	}
	return nil
}

type CommandResponseType string

const (
	ResponseAccepted       CommandResponseType = "ACCEPTED"
	ResponseRejected       CommandResponseType = "REJECTED"
	ResponseUnknownSession CommandResponseType = "UNKNOWN_SESSION"
	ResponseNotSupported   CommandResponseType = "NOT_SUPPORTED"
)

// CommandResponse is the synchronous acknowledgement to a command POST. It
// does not indicate the final outcome.
type CommandResponse struct {
	Result  CommandResponseType `json:"result"`
	Timeout time.Duration       `json:"timeout"`
	Message string              `json:"message,omitempty"`
}

// Awaitable reports whether a later asynchronous result is expected.
func (r CommandResponse) Awaitable() bool {
	return r.Result != ResponseRejected && r.Result != ResponseNotSupported
}

// commandResponseWire is the JSON shape of a CommandResponse. The protocol
// carries the timeout as whole seconds.
type commandResponseWire struct {
	Result  CommandResponseType `json:"result"`
	Timeout int64               `json:"timeout"`
	Message string              `json:"message,omitempty"`
}

func (r CommandResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(commandResponseWire{
		Result:  r.Result,
		Timeout: int64(r.Timeout / time.Second),
		Message: r.Message,
	})
}

func (r *CommandResponse) UnmarshalJSON(data []byte) error {
	var wire commandResponseWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.Result = wire.Result
	r.Timeout = time.Duration(wire.Timeout) * time.Second
	r.Message = wire.Message
	return nil
}

type CommandResultType string

const (
	ResultAccepted            CommandResultType = "ACCEPTED"
	ResultRejected            CommandResultType = "REJECTED"
	ResultCanceledReservation CommandResultType = "CANCELED_RESERVATION"
	ResultEvseOccupied        CommandResultType = "EVSE_OCCUPIED"
	ResultEvseInoperative     CommandResultType = "EVSE_INOPERATIVE"
	ResultFailed              CommandResultType = "FAILED"
	ResultTimeout             CommandResultType = "TIMEOUT"
	ResultUnknownReservation  CommandResultType = "UNKNOWN_RESERVATION"
)

// CommandResult is the asynchronous final outcome posted to the command's
// ResponseURL.
type CommandResult struct {
	Result  CommandResultType `json:"result"`
	Message string            `json:"message,omitempty"`
}
