package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

var (
	ErrForeignSource    = errors.New("message source is not navi")
	ErrMissingInstance  = errors.New("message instance_id is required")
	ErrUnknownEventType = errors.New("unknown message type")
	ErrInvalidHeight    = errors.New("height must be a positive number")
)

// Message is the postMessage envelope. Payload fields sit next to the
// envelope fields on the wire.
type Message struct {
	Source     string
	InstanceID string
	Type       EventType
	Payload    map[string]any
}

var envelopeFields = []string{"source", "instance_id", "type"}

func New(instanceID string, typ EventType, payload map[string]any) Message {
	return Message{Source: Source, InstanceID: instanceID, Type: typ, Payload: payload}
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Payload)+3)
	maps.Copy(out, m.Payload)
	out["source"] = m.Source
	out["instance_id"] = m.InstanceID
	out["type"] = m.Type
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Source, _ = raw["source"].(string)
	m.InstanceID, _ = raw["instance_id"].(string)
	typ, _ := raw["type"].(string)
	m.Type = EventType(typ)
	for _, f := range envelopeFields {
		delete(raw, f)
	}
	m.Payload = raw
	return nil
}

// Validate checks the envelope. Source and type are checked independently of
// the origin check done by the Dispatcher.
func (m Message) Validate() error {
	if m.Source != Source {
		return ErrForeignSource
	}
	if m.InstanceID == "" {
		return ErrMissingInstance
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, m.Type)
	}
	if m.Type == HeightChanged {
		if _, err := m.Height(); err != nil {
			return err
		}
	}
	return nil
}

// Height reads the payload of a navi.height.changed message.
func (m Message) Height() (int, error) {
	switch v := m.Payload["height"].(type) {
	case float64:
		if v > 0 {
			return int(v), nil
		}
	case int:
		if v > 0 {
			return v, nil
		}
	}
	return 0, ErrInvalidHeight
}
