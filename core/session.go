package core

import "time"

// SyncState is the conversation synchronizer state.
type SyncState string

const (
	SyncIdle      SyncState = "idle"
	SyncListing   SyncState = "listing"
	SyncStreaming SyncState = "streaming"
)

// SessionEventType names a session lifecycle event.
type SessionEventType string

const (
	EventConnected      SessionEventType = "session.connected"
	EventDisconnected   SessionEventType = "session.disconnected"
	EventKeysDerived    SessionEventType = "session.keys_derived"
	EventStreamDegraded SessionEventType = "session.stream_degraded"
)

// SessionEvent is published to observers outside the process.
type SessionEvent struct {
	ID         string           `json:"id"`
	Type       SessionEventType `json:"type"`
	Address    string           `json:"address"`
	Epoch      uint64           `json:"epoch"`
	Detail     string           `json:"detail,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
