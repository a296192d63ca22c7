package types

import "github.com/goccy/go-json"

// Envelope is the frame written to clients: {"event": name, "data": payload}.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// InboundEnvelope is the frame read from clients. Data is decoded per event.
type InboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ErrorEvent is the name of the event that reports a failed client event.
const ErrorEvent = "call-error"

// ErrorPayload is sent to the originating connection only.
type ErrorPayload struct {
	Message string    `json:"message"`
	Code    ErrorCode `json:"code"`
	Event   string    `json:"event,omitempty"`
}
