package poll

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/btouchard/courier/internal/message"
)

// Actions.
const (
	ActionAdd   = "addMessage"
	ActionGet   = "getMessages"
	ActionClear = "clearMessages"
)

// Request is the body of POST /api/messages.
type Request struct {
	SessionID     string         `json:"sessionId"`
	Action        string         `json:"action,omitempty"`
	Target        *string        `json:"target,omitempty"`
	LastTimestamp *json.Number   `json:"lastTimestamp,omitempty"`
	Message       any            `json:"message,omitempty"`
	Type          *string        `json:"type,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// Response is the envelope returned for every request, successful or not.
type Response struct {
	Success  bool              `json:"success"`
	Messages []message.Message `json:"messages,omitzero"`
	Error    string            `json:"error,omitempty"`
}

func (r Request) target() string {
	if r.Target == nil {
		return ""
	}
	return *r.Target
}

func (r Request) lastTimestamp() (int64, bool, error) {
	if r.LastTimestamp == nil || *r.LastTimestamp == "" {
		return 0, false, nil
	}
	if ts, err := r.LastTimestamp.Int64(); err == nil {
		return ts, true, nil
	}
	f, err := r.LastTimestamp.Float64()
	if err != nil {
		return 0, false, fmt.Errorf("lastTimestamp: %w", err)
	}
	return int64(f), true, nil
}

// fields merges the open fields object with the top-level message and
// type, which win when present.
func (r Request) fields() message.Fields {
	f := make(message.Fields, len(r.Fields)+2)
	maps.Copy(f, r.Fields)
	if r.Message != nil {
		f[message.KeyMessage] = r.Message
	} else if _, ok := f[message.KeyMessage]; !ok {
		f[message.KeyMessage] = ""
	}
	if r.Type != nil {
		f[message.KeyType] = *r.Type
	} else if _, ok := f[message.KeyType]; !ok {
		f[message.KeyType] = message.DefaultType
	}
	return f
}
