package types

import "time"

type EventType string

const (
	EventResultDropped   EventType = "ResultDropped"
	EventCapabilityError EventType = "CapabilityError"
	EventMisfire         EventType = "Misfire"
	EventDispatchFailed  EventType = "DispatchFailed"
	EventWriteFailed     EventType = "WriteFailed"
	EventWriterAborted   EventType = "WriterAborted"
)

type Event struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"ts"`
	JobID     string            `json:"job_id,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Details   map[string]any    `json:"details,omitempty"`
}
