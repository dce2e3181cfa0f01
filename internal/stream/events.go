package stream

import (
	"encoding/json"
	"time"
)

// Named server-sent events observed on the terminal feed. Frames without an
// event name are forwarded under EventMessage.
const (
	EventConnected      = "connected"
	EventCurrentSession = "current_session"
	EventTerminalState  = "terminal_state"
	EventSessionCreated = "session_created"
	EventSessionUpdated = "session_updated"
	EventSessionClosed  = "session_closed"
	EventHeartbeat      = "heartbeat"
	EventMessage        = "message"
)

// Status is the connection status of the terminal event feed
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

// ReconnectReason classifies why a reconnect was scheduled
type ReconnectReason string

const (
	ReasonUnauthorized ReconnectReason = "unauthorized"
	ReasonNetwork      ReconnectReason = "network"
	ReasonUnknown      ReconnectReason = "unknown"
)

// ReconnectInfo is passed to the reconnect handler for observability
type ReconnectInfo struct {
	Attempt int
	Delay   time.Duration
	Reason  ReconnectReason
}

// RawEvent is one frame off the event feed. Payload is the decoded JSON body
// when the data parses, nil otherwise; Raw always carries the original text.
// No business interpretation happens at this layer.
type RawEvent struct {
	Name    string
	Payload interface{}
	Raw     string
}

// Handlers supplies the subscriber's callbacks. All fields are optional, but
// any of them may be invoked at any time after Subscribe returns.
type Handlers struct {
	OnStatus    func(Status)
	OnEvent     func(RawEvent)
	OnError     func(error)
	OnReconnect func(ReconnectInfo)
}

// decodePayload parses raw as JSON, returning nil when the body does not
// parse; the original text is still carried on RawEvent.Raw.
func decodePayload(raw string) interface{} {
	var payload interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload
}
