package eventstore

import "time"

// Event is one persisted record of run history.
type Event interface {
	ID() int64
	// RunID returns the run this event belongs to.
	RunID() string
	Type() string
	Timestamp() time.Time
	// Payload returns the JSON-encoded event data.
	Payload() []byte
	Metadata() map[string]string
}

// BaseEvent provides a default implementation of Event. Its fields are not
// part of the JSON payload.
type BaseEvent struct {
	EventID        int64             `json:"-"`
	EventRunID     string            `json:"-"`
	EventType      string            `json:"-"`
	EventTimestamp time.Time         `json:"-"`
	EventPayload   []byte            `json:"-"`
	EventMetadata  map[string]string `json:"-"`
}

func (e *BaseEvent) ID() int64                   { return e.EventID }
func (e *BaseEvent) RunID() string               { return e.EventRunID }
func (e *BaseEvent) Type() string                { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time        { return e.EventTimestamp }
func (e *BaseEvent) Payload() []byte             { return e.EventPayload }
func (e *BaseEvent) Metadata() map[string]string { return e.EventMetadata }

func (e *BaseEvent) setID(id int64) { e.EventID = id }
