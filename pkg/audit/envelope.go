package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the pipeline. Infrastructure layers return these
// (optionally wrapped) so callers can translate them into policy:
// retry, drop, or abort the triggering business operation.
var (
	// ErrUnknownEventType marks an EventType with no routing projection.
	// This is a programming error at the publish site, not a runtime
	// condition, so Publish fails fast instead of emitting the message.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrBrokerUnavailable marks a publish or subscribe attempt made
	// while the broker connection or channel is absent.
	ErrBrokerUnavailable = errors.New("broker unavailable")
)

// Change is the caller-supplied portion of an event: which entity
// changed, who drove the change, and opaque pre/post snapshots. The
// pipeline never interprets Before/After beyond round-tripping the raw
// JSON, so business schemas can evolve without touching it.
type Change struct {
	EntityID string          `json:"EntityId"`
	Actor    string          `json:"Actor,omitempty"`
	Before   json.RawMessage `json:"Before,omitempty"`
	After    json.RawMessage `json:"After,omitempty"`
}

// Envelope is the immutable unit carried from publisher to consumer.
// EventID is generated at publish time and is the deduplication key for
// at-least-once delivery downstream.
type Envelope struct {
	EventID   uuid.UUID `json:"EventId"`
	EventType EventType `json:"EventType"`
	Timestamp time.Time `json:"Timestamp"`
	Data      Change    `json:"Data"`
}

// NewEnvelope stamps a change with a fresh event ID and capture time.
// Timestamps are UTC and monotonic only within the publishing process.
func NewEnvelope(eventType EventType, data Change) Envelope {
	return Envelope{
		EventID:   uuid.New(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// wireEnvelope is the JSON body published to the exchange. Timestamps
// travel as RFC3339Nano strings so non-Go consumers parse them without
// Go-specific encoding rules.
type wireEnvelope struct {
	EventID   string `json:"EventId"`
	EventType string `json:"EventType"`
	Timestamp string `json:"Timestamp"`
	Data      Change `json:"Data"`
}

// MarshalWire serializes the envelope into the wire format.
func (e Envelope) MarshalWire() ([]byte, error) {
	body, err := json.Marshal(wireEnvelope{
		EventID:   e.EventID.String(),
		EventType: string(e.EventType),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Data:      e.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return body, nil
}

// UnmarshalWire parses a wire body back into an Envelope. Any missing
// or unparsable required field is an error; the consumer treats it as
// a malformed message (log, skip), never as fatal.
func UnmarshalWire(body []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(body, &w); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	eventID, err := uuid.Parse(w.EventID)
	if err != nil {
		return Envelope{}, fmt.Errorf("parse event id %q: %w", w.EventID, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return Envelope{}, fmt.Errorf("parse timestamp %q: %w", w.Timestamp, err)
	}
	return Envelope{
		EventID:   eventID,
		EventType: EventType(w.EventType),
		Timestamp: ts,
		Data:      w.Data,
	}, nil
}

// Record is an Envelope materialized in the audit log: the envelope
// fields plus the entity label resolved from the event type and the
// store-assigned insertion sequence. Records are append-only and never
// updated after insert.
type Record struct {
	EventID    uuid.UUID       `json:"eventId"`
	EventType  EventType       `json:"eventType"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Actor      string          `json:"actor,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Seq        int64           `json:"-"`
}

// ToRecord resolves the entity label and flattens the envelope into a
// storable record. Fails for unmapped event types so the store never
// holds a record it cannot be queried back by.
func (e Envelope) ToRecord() (Record, error) {
	route, err := e.EventType.Route()
	if err != nil {
		return Record{}, err
	}
	return Record{
		EventID:    e.EventID,
		EventType:  e.EventType,
		EntityType: route.Entity,
		EntityID:   e.Data.EntityID,
		Actor:      e.Data.Actor,
		Timestamp:  e.Timestamp,
		Before:     e.Data.Before,
		After:      e.Data.After,
	}, nil
}
