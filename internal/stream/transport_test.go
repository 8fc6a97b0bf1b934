package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/courier/internal/broker"
	"github.com/btouchard/courier/internal/message"
)

func newHTTPServer(t *testing.T, opts Options) (*httptest.Server, *broker.Manager) {
	t.Helper()
	s, b := newTestServer(t, opts)
	r := chi.NewRouter()
	r.Get(StreamPath, s.ServeSSE)
	r.Get("/api/ws", s.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, b
}

type sseEvent struct{ event, data string }

func collectSSE(t *testing.T, url string, n int) ([]sseEvent, http.Header) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out []sseEvent
	_ = readEvents(resp.Body, DefaultMaxEventSize, func(event, data string) {
		out = append(out, sseEvent{event, data})
		if len(out) == n {
			cancel()
		}
	})
	return out, resp.Header
}

func TestServeSSE_Handshake(t *testing.T) {
	t.Parallel()
	srv, _ := newHTTPServer(t, fastOptions())

	resp, err := http.Get(srv.URL + StreamPath + "?sessionId=abc")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	br := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 5 {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		lines = append(lines, strings.TrimRight(line, "\n"))
	}
	assert.Equal(t, []string{
		"retry: 1000",
		"",
		"event: connected",
		`data: {"status":"connected","sessionId":"abc"}`,
		"",
	}, lines)
}

func TestServeSSE_EmptySession(t *testing.T) {
	t.Parallel()
	srv, _ := newHTTPServer(t, fastOptions())

	events, _ := collectSSE(t, srv.URL+StreamPath, 10)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].event)
	assert.Equal(t, `"Session ID is required"`, events[0].data)
}

func TestServeSSE_DeliversMessages(t *testing.T) {
	t.Parallel()
	srv, b := newHTTPServer(t, fastOptions())
	add(t, b, "s1", "main", "hello")

	events, _ := collectSSE(t, srv.URL+StreamPath+"?sessionId=s1&target=main", 2)
	require.Len(t, events, 2)
	assert.Equal(t, EventConnected, events[0].event)
	assert.Equal(t, EventMessage, events[1].event)

	var m message.Message
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &m))
	assert.Equal(t, "hello", m.Message)
	assert.Equal(t, "main", m.Target)
}

func TestServeWS_FramesAndMessages(t *testing.T) {
	t.Parallel()
	srv, b := newHTTPServer(t, fastOptions())

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?sessionId=s1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	read := func() Frame {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	f := read()
	assert.Equal(t, "retry", f.Event)
	assert.JSONEq(t, `1000`, string(f.Data))

	f = read()
	assert.Equal(t, EventConnected, f.Event)
	assert.JSONEq(t, `{"status":"connected","sessionId":"s1"}`, string(f.Data))

	add(t, b, "s1", "", "over websocket")

	f = read()
	require.Equal(t, EventMessage, f.Event)
	var m message.Message
	require.NoError(t, json.Unmarshal(f.Data, &m))
	assert.Equal(t, "over websocket", m.Message)
}

func TestServeWS_EmptySessionClosesWithError(t *testing.T) {
	t.Parallel()
	srv, _ := newHTTPServer(t, fastOptions())

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, EventError, f.Event)

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), err.Error())
}

func TestClient_ReceivesMessagesAndReconnects(t *testing.T) {
	t.Parallel()
	opts := fastOptions()
	opts.MaxLifetime = 50 * time.Millisecond
	srv, b := newHTTPServer(t, opts)

	var mu sync.Mutex
	var connects int
	var infos []Info
	var got []string

	c := NewClient(ClientOptions{
		BaseURL:           srv.URL,
		SessionID:         "s1",
		ReconnectInterval: 10 * time.Millisecond,
		OnConnect: func(ev Connected) {
			mu.Lock()
			connects++
			mu.Unlock()
			assert.Equal(t, "s1", ev.SessionID)
		},
		OnInfo: func(ev Info) {
			mu.Lock()
			infos = append(infos, ev)
			mu.Unlock()
		},
		OnMessage: func(m message.Message) {
			mu.Lock()
			got = append(got, m.Message)
			mu.Unlock()
		},
	})
	c.Connect(context.Background())
	defer c.Disconnect()

	add(t, b, "s1", "", "first")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects >= 2 && len(infos) >= 1
	}, 3*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, got, "first")
	assert.Equal(t, "Connection timeout reached, reconnecting...", infos[0].Message)
}

func TestClient_ServerErrorReported(t *testing.T) {
	t.Parallel()
	srv, _ := newHTTPServer(t, fastOptions())

	errs := make(chan error, 4)
	c := NewClient(ClientOptions{
		BaseURL:     srv.URL,
		NoReconnect: true,
		OnError:     func(err error) { errs <- err },
	})
	c.Connect(context.Background())
	defer c.Disconnect()

	select {
	case err := <-errs:
		var serr *ServerError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "Session ID is required", serr.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}
	require.Eventually(t, func() bool { return c.State() == StateError }, time.Second, 5*time.Millisecond)
}

func TestClient_DisconnectStopsReconnecting(t *testing.T) {
	t.Parallel()
	srv, _ := newHTTPServer(t, fastOptions())

	var mu sync.Mutex
	var states []State
	c := NewClient(ClientOptions{
		BaseURL:   srv.URL,
		SessionID: "s1",
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return c.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states)
}

func TestClient_ConnectReplacesLiveConnection(t *testing.T) {
	t.Parallel()
	srv, _ := newHTTPServer(t, fastOptions())

	var mu sync.Mutex
	connects := 0
	c := NewClient(ClientOptions{
		BaseURL:   srv.URL,
		SessionID: "s1",
		OnConnect: func(Connected) {
			mu.Lock()
			connects++
			mu.Unlock()
		},
	})

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return c.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	c.Connect(context.Background())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects == 2
	}, 2*time.Second, 5*time.Millisecond)
	c.Disconnect()
}

func TestReadEvents_Parsing(t *testing.T) {
	t.Parallel()
	body := "retry: 1000\n\n: comment\nevent: info\ndata: {\"a\":\ndata: 1}\n\ndata: plain\n\n"

	var got []sseEvent
	require.NoError(t, readEvents(strings.NewReader(body), DefaultMaxEventSize, func(event, data string) {
		got = append(got, sseEvent{event, data})
	}))
	assert.Equal(t, []sseEvent{
		{"info", "{\"a\":\n1}"},
		{"", "plain"},
	}, got)
}

func TestReadEvents_LineOverLimit(t *testing.T) {
	t.Parallel()
	body := "event: message\ndata: " + strings.Repeat("x", 2048) + "\n\n"

	err := readEvents(strings.NewReader(body), 1024, func(string, string) {})
	require.ErrorIs(t, err, ErrEventTooLarge)
	assert.Contains(t, err.Error(), "1024 bytes")
}

func TestClient_OversizedEventReported(t *testing.T) {
	t.Parallel()
	srv, b := newHTTPServer(t, fastOptions())
	add(t, b, "s1", "", strings.Repeat("x", 4096))

	errs := make(chan error, 4)
	c := NewClient(ClientOptions{
		BaseURL:      srv.URL,
		SessionID:    "s1",
		NoReconnect:  true,
		MaxEventSize: 1024,
		OnError:      func(err error) { errs <- err },
	})
	c.Connect(context.Background())
	defer c.Disconnect()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrEventTooLarge)
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}
	require.Eventually(t, func() bool { return c.State() == StateError }, time.Second, 5*time.Millisecond)
}
