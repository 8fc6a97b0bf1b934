package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/btouchard/courier/internal/message"
)

// StreamPath is where the SSE framing is served.
const StreamPath = "/api/stream"

// State of a Client connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Displayer renders messages as they arrive.
type Displayer interface {
	Display(msg message.Message)
}

// ServerError is an error event sent by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server: " + e.Message
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL           string
	SessionID         string
	Target            string
	NoReconnect       bool
	ReconnectInterval time.Duration // fixed, default 3s
	HTTPClient        *http.Client
	Display           Displayer

	MaxEventSize int // bytes per SSE line, default DefaultMaxEventSize

	OnConnect     func(Connected)
	OnMessage     func(message.Message)
	OnInfo        func(Info)
	OnError       func(error)
	OnStateChange func(State)
}

// DefaultMaxEventSize bounds one line of the event stream.
const DefaultMaxEventSize = 16 << 20

// ErrEventTooLarge is returned when an event line exceeds MaxEventSize.
var ErrEventTooLarge = errors.New("event too large")

// Client consumes the SSE stream and reconnects after a fixed delay when
// the connection drops. At most one connection is live at a time.
// Callbacks run on the connection goroutine and must not call Connect or
// Disconnect.
type Client struct {
	opts ClientOptions

	lifecycle sync.Mutex // serializes Connect/Disconnect

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a stream client. It does not connect.
func NewClient(opts ClientOptions) *Client {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 3 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.MaxEventSize <= 0 {
		opts.MaxEventSize = DefaultMaxEventSize
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{opts: opts, state: StateDisconnected}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect tears down any live connection and starts a new one in the
// background. It returns immediately.
func (c *Client) Connect(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.teardown()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.loop(ctx)
	}()
}

// Disconnect closes the live connection, if any, and cancels a pending
// reconnect.
func (c *Client) Disconnect() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.teardown()
}

func (c *Client) teardown() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.setState(StateDisconnected)
}

func (c *Client) loop(ctx context.Context) {
	for {
		err := c.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.setState(StateError)
			c.report(err)
		} else {
			c.setState(StateDisconnected)
		}

		if c.opts.NoReconnect {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.ReconnectInterval):
		}
	}
}

// stream runs one connection. It returns nil when the server closed the
// stream cleanly.
func (c *Client) stream(ctx context.Context) error {
	c.setState(StateConnecting)

	q := url.Values{}
	q.Set("sessionId", c.opts.SessionID)
	if c.opts.Target != "" {
		q.Set("target", c.opts.Target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+StreamPath+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("connecting: unexpected status %d", resp.StatusCode)
	}

	var failed error
	err = readEvents(resp.Body, c.opts.MaxEventSize, func(event, data string) {
		if ferr := c.dispatch(event, data); ferr != nil {
			failed = ferr
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return failed
}

// dispatch handles one event. A server error event is returned so the
// connection ends in the error state.
func (c *Client) dispatch(event, data string) error {
	switch event {
	case EventConnected:
		var ev Connected
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.report(fmt.Errorf("decoding connected event: %w", err))
			return nil
		}
		c.setState(StateConnected)
		if c.opts.OnConnect != nil {
			c.opts.OnConnect(ev)
		}

	case EventMessage, "":
		var m message.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			c.report(fmt.Errorf("decoding message event: %w", err))
			return nil
		}
		if c.opts.Display != nil {
			c.opts.Display.Display(m)
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(m)
		}

	case EventInfo:
		var ev Info
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.report(fmt.Errorf("decoding info event: %w", err))
			return nil
		}
		if c.opts.OnInfo != nil {
			c.opts.OnInfo(ev)
		}

	case EventError:
		var text string
		if err := json.Unmarshal([]byte(data), &text); err != nil {
			text = data
		}
		return &ServerError{Message: text}

	case EventPing:
	}
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed && c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

func (c *Client) report(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

// readEvents parses a text/event-stream body and calls fn for every
// dispatched event. retry fields and comments are consumed silently.
func readEvents(body io.Reader, maxLine int, fn func(event, data string)) error {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, min(64*1024, maxLine)), maxLine)

	var event string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if len(data) > 0 {
				fn(event, strings.Join(data, "\n"))
			}
			event, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	err := sc.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		return fmt.Errorf("%w (line over %d bytes)", ErrEventTooLarge, maxLine)
	}
	return err
}
