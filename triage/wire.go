package triage

import (
	"encoding/json"
)

// realtime channel event names
const (
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventConnectionError = "connectionError"
	EventPropertyUpdated = "propertyUpdated"

	eventAuth              = "auth"
	eventGetInteractions   = "getPropertyInteractions"
	eventUpdateInteraction = "updatePropertyInteraction"
)

// Envelope is the single message shape on the realtime channel: requests
// carry Event+RequestId+Data, acks echo the RequestId with a Success flag,
// and unsolicited pushes carry Event+Success+Data.
type Envelope struct {
	Event     string          `json:"event,omitempty"`
	RequestId *Id             `json:"requestId,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (self *Envelope) Ok() bool {
	return self.Success != nil && *self.Success
}

// FailureMessage returns the server-supplied reason for an unsuccessful ack.
func (self *Envelope) FailureMessage() string {
	if self.Message != "" {
		return self.Message
	}
	if self.Error != "" {
		return self.Error
	}
	return "request failed"
}

type authArgs struct {
	Token      string `json:"token,omitempty"`
	InstanceId Id     `json:"instanceId"`
	AppVersion string `json:"appVersion,omitempty"`
}

// PropertyState is the per-user triage record for one property, both the
// store's in-memory value and the wire record
// (`{propertyId, status, position, columnIndex, lastUpdated, comment}`).
// Values in the store map are treated as immutable; every write replaces the
// whole record.
type PropertyState struct {
	PropertyId  string         `json:"propertyId"`
	Status      PropertyStatus `json:"status"`
	Position    int            `json:"position"`
	ColumnIndex int            `json:"columnIndex"`
	// unix milliseconds, observability only, never used for conflict resolution
	LastUpdated int64  `json:"lastUpdated"`
	Comment     string `json:"comment,omitempty"`

	// local write order, breaks position ties deterministically
	seq uint64
}

func (self *PropertyState) Seq() uint64 {
	return self.seq
}
