package broker

import (
	"context"

	"github.com/btouchard/courier/internal/message"
	"github.com/btouchard/courier/internal/notify"
)

// Session scopes every operation to one session's log.
type Session struct {
	id string
	m  *Manager
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// AddMessage appends fields to the log under target ("" = default) and
// returns the stored message.
func (s *Session) AddMessage(ctx context.Context, fields message.Fields, target string) (message.Message, error) {
	if target == "" {
		target = message.DefaultTarget
	}

	msg, err := s.m.store.Append(ctx, s.id, target, fields)
	if err != nil {
		return message.Message{}, s.m.storageError("append", s.id, err)
	}

	s.m.changed(notify.Event{
		Type:      notify.MessageAdded,
		SessionID: s.id,
		Target:    msg.Target,
		Message:   msg.Message,
		Level:     msg.Type,
		Data:      msg.Fields(),
	})
	return msg, nil
}

// GetMessages returns the log in append order, filtered to target when
// non-empty.
func (s *Session) GetMessages(ctx context.Context, target string) ([]message.Message, error) {
	msgs, err := s.m.store.List(ctx, s.id, target)
	if err != nil {
		return nil, s.m.storageError("list", s.id, err)
	}
	return msgs, nil
}

// GetMessagesSince is GetMessages restricted to timestamps strictly
// greater than lastTimestamp.
func (s *Session) GetMessagesSince(ctx context.Context, target string, lastTimestamp int64) ([]message.Message, error) {
	msgs, err := s.GetMessages(ctx, target)
	if err != nil {
		return nil, err
	}
	return message.After(msgs, lastTimestamp), nil
}

// ClearMessages removes the messages of target, or the whole log when
// target is empty.
func (s *Session) ClearMessages(ctx context.Context, target string) error {
	if err := s.m.store.Clear(ctx, s.id, target); err != nil {
		return s.m.storageError("clear", s.id, err)
	}

	s.m.changed(notify.Event{
		Type:      notify.MessagesCleared,
		SessionID: s.id,
		Target:    target,
	})
	return nil
}
