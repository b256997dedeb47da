package events

import (
	"encoding/json"
	"fmt"

	"github.com/zorth44/sqlfluff-service/internal/ident"
)

// Type is the stable event-type discriminator carried on the wire.
type Type string

const (
	TypeSqlCheckRequested Type = "SqlCheckRequested"
	TypeSqlCheckCompleted Type = "SqlCheckCompleted"
	TypeSqlCheckFailed    Type = "SqlCheckFailed"
	TypeWorkerHeartbeat   Type = "WorkerHeartbeat"
)

// Channel names shared by producers and consumers.
const (
	ChannelRequests   = "sql_check_requests"
	ChannelEvents     = "sql_check_events"
	ChannelMonitoring = "worker_monitoring"
)

// Heartbeat statuses.
const (
	WorkerStatusIdle = "IDLE"
	WorkerStatusBusy = "BUSY"
)

// Payload is implemented by every typed event payload.
type Payload interface {
	EventType() Type
}

// Envelope is the canonical record published on every channel. Payload is a
// typed variant selected by EventType; fields the decoder does not know are
// kept verbatim in each payload's Extensions bag so re-publishing an envelope
// never drops data.
type Envelope struct {
	EventID       string
	EventType     Type
	Timestamp     string
	CorrelationID string
	Payload       Payload
}

// New builds an envelope around p with a fresh event id and timestamp.
func New(p Payload, correlationID string) Envelope {
	return Envelope{
		EventID:       ident.NewEventID(),
		EventType:     p.EventType(),
		Timestamp:     ident.Now(),
		CorrelationID: correlationID,
		Payload:       p,
	}
}

type wireEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     Type            `json:"event_type"`
	Timestamp     string          `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.EventType, err)
	}
	return json.Marshal(wireEnvelope{
		EventID:       e.EventID,
		EventType:     e.EventType,
		Timestamp:     e.Timestamp,
		CorrelationID: e.CorrelationID,
		Payload:       body,
	})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.EventID = w.EventID
	e.EventType = w.EventType
	e.Timestamp = w.Timestamp
	e.CorrelationID = w.CorrelationID

	var p Payload
	switch w.EventType {
	case TypeSqlCheckRequested:
		p = &SqlCheckRequested{}
	case TypeSqlCheckCompleted:
		p = &SqlCheckCompleted{}
	case TypeSqlCheckFailed:
		p = &SqlCheckFailed{}
	case TypeWorkerHeartbeat:
		p = &WorkerHeartbeat{}
	default:
		p = &RawPayload{Type: w.EventType}
	}
	if len(w.Payload) > 0 {
		if err := json.Unmarshal(w.Payload, p); err != nil {
			return fmt.Errorf("decode %s payload: %w", w.EventType, err)
		}
	}
	e.Payload = p
	return nil
}

// Encode serializes an envelope for publishing.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an envelope received from a channel.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// RawPayload carries the body of an event type this build does not know.
type RawPayload struct {
	Type Type
	Body json.RawMessage
}

func (p *RawPayload) EventType() Type { return p.Type }

func (p *RawPayload) MarshalJSON() ([]byte, error) {
	if len(p.Body) == 0 {
		return []byte("{}"), nil
	}
	return p.Body, nil
}

func (p *RawPayload) UnmarshalJSON(data []byte) error {
	p.Body = append(p.Body[:0], data...)
	return nil
}

// marshalWithExtensions renders the known fields of a payload and folds the
// extensions bag back in. Known fields win on key collisions.
func marshalWithExtensions(known interface{}, ext map[string]json.RawMessage) ([]byte, error) {
	b, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	if len(ext) == 0 {
		return b, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range ext {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// unmarshalWithExtensions decodes data into known and returns every key the
// known struct does not render, verbatim.
func unmarshalWithExtensions(data []byte, known interface{}) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, known); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	rendered, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	var kept map[string]json.RawMessage
	if err := json.Unmarshal(rendered, &kept); err != nil {
		return nil, err
	}
	for k := range kept {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}
