package poll

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/courier/internal/message"
)

// Paths served by the courier API.
const (
	MessagesPath = "/api/messages"
	ProcessPath  = "/api/process"
)

// Displayer renders messages as they arrive.
type Displayer interface {
	Display(msg message.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	SessionID  string // generated when empty
	Target     string // "" = every target
	Interval   time.Duration
	HTTPClient *http.Client
	Display    Displayer

	OnMessage func(message.Message)
	OnError   func(error)

	MaxResponseSize int64 // bytes, default DefaultMaxResponseSize
}

// DefaultMaxResponseSize bounds a single reply read by the client.
const DefaultMaxResponseSize = 64 << 20

// ErrResponseTooLarge is returned when a reply exceeds MaxResponseSize.
var ErrResponseTooLarge = errors.New("response too large")

// Client polls the message endpoint at a fixed interval. Requests are
// serialized: the next one is scheduled only after the current resolves.
type Client struct {
	opts Options

	mu            sync.Mutex
	lastTimestamp int64
}

// ProcessStarted is the reply of the process endpoint.
type ProcessStarted struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TaskID  string `json:"taskId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewClient creates a poll client.
func NewClient(opts Options) *Client {
	if opts.SessionID == "" {
		opts.SessionID = NewSessionID()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxResponseSize <= 0 {
		opts.MaxResponseSize = DefaultMaxResponseSize
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{opts: opts}
}

// SessionID returns the session this client reads and writes.
func (c *Client) SessionID() string {
	return c.opts.SessionID
}

// LastTimestamp returns the highest timestamp observed so far.
func (c *Client) LastTimestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTimestamp
}

// Run polls until ctx is cancelled. Failures are reported through
// OnError and do not stop the loop.
func (c *Client) Run(ctx context.Context) error {
	for {
		if _, err := c.Poll(ctx); err != nil && ctx.Err() == nil && c.opts.OnError != nil {
			c.opts.OnError(err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.Interval):
		}
	}
}

// Poll runs one cycle: fetch everything newer than the watermark,
// dispatch each message in order, advance the watermark.
func (c *Client) Poll(ctx context.Context) ([]message.Message, error) {
	since := c.LastTimestamp()
	req := Request{
		SessionID:     c.opts.SessionID,
		Action:        ActionGet,
		LastTimestamp: numberPtr(since),
	}
	if c.opts.Target != "" {
		req.Target = &c.opts.Target
	}

	resp, err := c.call(ctx, MessagesPath, req)
	if err != nil {
		return nil, err
	}

	for _, m := range resp.Messages {
		c.mu.Lock()
		if m.Timestamp > c.lastTimestamp {
			c.lastTimestamp = m.Timestamp
		}
		c.mu.Unlock()

		if c.opts.Display != nil {
			c.opts.Display.Display(m)
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(m)
		}
	}
	return resp.Messages, nil
}

// SendMessage appends one message and returns it as stored.
func (c *Client) SendMessage(ctx context.Context, text, msgType, target string) (message.Message, error) {
	if msgType == "" {
		msgType = message.DefaultType
	}
	if target == "" {
		target = message.DefaultTarget
	}
	resp, err := c.call(ctx, MessagesPath, Request{
		SessionID: c.opts.SessionID,
		Action:    ActionAdd,
		Message:   text,
		Type:      &msgType,
		Target:    &target,
	})
	if err != nil {
		return message.Message{}, err
	}
	if len(resp.Messages) == 0 {
		return message.Message{}, errors.New("server returned no stored message")
	}
	return resp.Messages[0], nil
}

// ClearMessages clears target, or the whole session when target is "".
func (c *Client) ClearMessages(ctx context.Context, target string) error {
	req := Request{SessionID: c.opts.SessionID, Action: ActionClear}
	if target != "" {
		req.Target = &target
	}
	_, err := c.call(ctx, MessagesPath, req)
	return err
}

// StartProcess asks the server to run the simulated long task, reporting
// into target.
func (c *Client) StartProcess(ctx context.Context, target string) (ProcessStarted, error) {
	var out ProcessStarted
	body := map[string]any{"sessionId": c.opts.SessionID}
	if target != "" {
		body["target"] = target
	}
	if err := c.post(ctx, ProcessPath, body, &out); err != nil {
		return out, err
	}
	if !out.Success {
		return out, fmt.Errorf("starting process: %s", out.Error)
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, path string, req Request) (Response, error) {
	var resp Response
	if err := c.post(ctx, path, req, &resp); err != nil {
		return resp, err
	}
	if !resp.Success {
		return resp, fmt.Errorf("server error: %s", resp.Error)
	}
	return resp, nil
}

// post sends body as JSON and decodes the reply into out. Error envelopes
// come back with 4xx/5xx and are still decoded.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	limit := c.opts.MaxResponseSize
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if int64(len(raw)) > limit {
		return fmt.Errorf("POST %s: %w (over %d bytes)", path, ErrResponseTooLarge, limit)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("POST %s: status %d: decoding response: %w", path, resp.StatusCode, err)
	}
	return nil
}

func numberPtr(n int64) *json.Number {
	v := json.Number(fmt.Sprint(n))
	return &v
}
