package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/btouchard/courier/internal/message"
)

// appendScript pushes one record at the tail of KEYS[1]. ARGV[1] is the
// current time in epoch seconds, ARGV[2] the record without its timestamp.
// The stored timestamp is never lower than the tail's.
var appendScript = redis.NewScript(`
local ts = tonumber(ARGV[1])
local tail = redis.call('LINDEX', KEYS[1], -1)
if tail then
  local last = tonumber(cjson.decode(tail).timestamp)
  if last and last > ts then
    ts = last
  end
end
redis.call('RPUSH', KEYS[1], '{"timestamp":' .. ts .. ',' .. string.sub(ARGV[2], 2))
return ts
`)

// clearTargetScript drops the records of target ARGV[1] from KEYS[1] and
// returns how many were removed.
var clearTargetScript = redis.NewScript(`
local raws = redis.call('LRANGE', KEYS[1], 0, -1)
local kept = {}
for _, raw in ipairs(raws) do
  if cjson.decode(raw).target ~= ARGV[1] then
    table.insert(kept, raw)
  end
end
if #kept == #raws then
  return 0
end
redis.call('DEL', KEYS[1])
for i = 1, #kept, 1000 do
  redis.call('RPUSH', KEYS[1], unpack(kept, i, math.min(i + 999, #kept)))
end
return #raws - #kept
`)

// RedisStore keeps each session's log in a Redis list of JSON records.
// Appends and target clears run as server-side scripts, so concurrent
// writers from several processes never lose a message.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the connection and key namespace.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "courier:messages:"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisStore) Append(ctx context.Context, sessionID, target string, fields message.Fields) (message.Message, error) {
	m := message.New(newID(), 0, target, fields)

	record := m.Fields()
	delete(record, message.KeyTimestamp)
	data, err := json.Marshal(record)
	if err != nil {
		return message.Message{}, fmt.Errorf("encoding message: %w", err)
	}

	ts, err := appendScript.Run(ctx, s.client, []string{s.key(sessionID)}, now().Unix(), data).Int64()
	if err != nil {
		return message.Message{}, fmt.Errorf("appending message: %w", err)
	}
	m.Timestamp = ts
	return m, nil
}

func (s *RedisStore) List(ctx context.Context, sessionID, target string) ([]message.Message, error) {
	raws, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	msgs, err := decodeAll(raws)
	if err != nil {
		return nil, err
	}
	return message.Filter(msgs, target), nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID, target string) error {
	key := s.key(sessionID)
	if target == "" {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("clearing messages: %w", err)
		}
		return nil
	}

	if err := clearTargetScript.Run(ctx, s.client, []string{key}, target).Err(); err != nil {
		return fmt.Errorf("clearing target %s: %w", target, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeAll(raws []string) ([]message.Message, error) {
	msgs := make([]message.Message, 0, len(raws))
	for _, raw := range raws {
		var m message.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("parsing message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
