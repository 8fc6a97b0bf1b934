package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
)

// DefaultTarget is the sub-channel used when a producer does not name one.
const DefaultTarget = "default"

// DefaultType is the category assigned when a producer does not name one.
const DefaultType = "info"

// Reserved keys. Everything else in a record is an extension field.
const (
	KeyID        = "id"
	KeyTimestamp = "timestamp"
	KeyTarget    = "target"
	KeyType      = "type"
	KeyMessage   = "message"
)

// Fields is the open record a producer hands to the log on append.
type Fields map[string]any

// Message is a stored notification. The fixed fields are assigned or
// defaulted by the log; Extra carries any other producer-supplied keys
// and is serialized alongside them as a flat JSON object.
type Message struct {
	ID        string
	Timestamp int64
	Target    string
	Type      string
	Message   string
	Extra     map[string]any
}

// New builds a message from producer fields. id, timestamp and target
// always come from the arguments; message and type fall back to their
// defaults when absent.
func New(id string, timestamp int64, target string, fields Fields) Message {
	if target == "" {
		target = DefaultTarget
	}
	m := Message{
		ID:        id,
		Timestamp: timestamp,
		Target:    target,
		Type:      DefaultType,
	}
	for k, v := range fields {
		switch k {
		case KeyID, KeyTimestamp, KeyTarget:
			// assigned by the log
		case KeyMessage:
			m.Message = stringify(v)
		case KeyType:
			m.Type = stringify(v)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = v
		}
	}
	return m
}

// Fields returns every field of the message, fixed and extra, keyed by
// its JSON name.
func (m Message) Fields() map[string]any {
	out := make(map[string]any, len(m.Extra)+5)
	maps.Copy(out, m.Extra)
	out[KeyID] = m.ID
	out[KeyTimestamp] = m.Timestamp
	out[KeyTarget] = m.Target
	out[KeyType] = m.Type
	out[KeyMessage] = m.Message
	return out
}

// Clone returns a copy that does not share the Extra map.
func (m Message) Clone() Message {
	if m.Extra != nil {
		m.Extra = maps.Clone(m.Extra)
	}
	return m
}

// MarshalJSON writes the message as one flat object.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Fields())
}

// UnmarshalJSON reads a flat object, splitting the reserved keys from
// the extension fields. Numbers in extension fields are kept as
// json.Number so they re-encode exactly.
func (m *Message) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("decoding message: not an object")
	}

	*m = Message{}
	for k, v := range raw {
		switch k {
		case KeyID:
			m.ID = stringify(v)
		case KeyTimestamp:
			ts, err := toInt64(v)
			if err != nil {
				return fmt.Errorf("decoding message timestamp: %w", err)
			}
			m.Timestamp = ts
		case KeyTarget:
			m.Target = stringify(v)
		case KeyType:
			m.Type = stringify(v)
		case KeyMessage:
			m.Message = stringify(v)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = v
		}
	}
	return nil
}

// Filter returns the messages whose target matches, preserving order.
// An empty target matches everything.
func Filter(msgs []Message, target string) []Message {
	if target == "" {
		return msgs
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Target == target {
			out = append(out, m)
		}
	}
	return out
}

// After returns the messages with a timestamp strictly greater than ts.
func After(msgs []Message, ts int64) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Timestamp > ts {
			out = append(out, m)
		}
	}
	return out
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
