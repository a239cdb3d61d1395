package domain

import (
	"encoding/json"
	"time"
)

// OCPI status codes carried in the response envelope. 1xxx success, 2xxx
// client errors, 3xxx server errors.
const (
	StatusSuccess             = 1000
	StatusClientError         = 2000
	StatusInvalidParameters   = 2001
	StatusNotEnoughInfo       = 2002
	StatusUnknownLocation     = 2003
	StatusServerError         = 3000
	StatusUnableToUse         = 3001
	StatusUnsupportedVersion  = 3002
	StatusNoMatchingEndpoints = 3003
)

// Envelope is the wrapper every OCPI response body carries.
type Envelope struct {
	StatusCode    int             `json:"status_code"`
	StatusMessage string          `json:"status_message,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps data in a success envelope. A nil data value yields an
// envelope without a data field.
func NewEnvelope(data interface{}) (*Envelope, error) {
	env := &Envelope{
		StatusCode:    StatusSuccess,
		StatusMessage: "Success",
		Timestamp:     time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return env, nil
}

// NewErrorEnvelope builds an envelope for a non-success status code.
func NewErrorEnvelope(code int, message string) *Envelope {
	return &Envelope{
		StatusCode:    code,
		StatusMessage: message,
		Timestamp:     time.Now().UTC(),
	}
}

// OK reports whether the envelope signals success.
func (e *Envelope) OK() bool {
	return e.StatusCode >= 1000 && e.StatusCode < 2000
}
