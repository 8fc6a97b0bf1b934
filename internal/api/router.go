package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/btouchard/courier/internal/broker"
	"github.com/btouchard/courier/internal/poll"
	"github.com/btouchard/courier/internal/stream"
	"github.com/btouchard/courier/internal/task"
)

// Deps holds the services exposed over HTTP. MCP may be nil.
type Deps struct {
	Broker *broker.Manager
	Tasks  *task.Manager
	Stream *stream.Server
	MCP    http.Handler
}

type health struct {
	Status           string `json:"status"`
	WatchedSessions  int    `json:"watchedSessions"`
	Streams          int    `json:"streams"`
	RunningProcesses int    `json:"runningProcesses"`
}

// Paths served by NewRouter besides the poll and process endpoints.
const (
	WebSocketPath = "/api/ws"
	HealthPath    = "/health"
	MCPPath       = "/mcp"
)

// NewRouter wires every transport onto one chi router.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		sessions, conns := deps.Broker.Watchers()
		writeJSON(w, http.StatusOK, health{
			Status:           "ok",
			WatchedSessions:  sessions,
			Streams:          conns,
			RunningProcesses: deps.Tasks.RunningCount(),
		})
	})

	r.Method(http.MethodPost, poll.MessagesPath, poll.NewHandler(deps.Broker))
	r.Get(stream.StreamPath, deps.Stream.ServeSSE)
	r.Get(WebSocketPath, deps.Stream.ServeWS)

	procs := &processHandler{tasks: deps.Tasks}
	r.Post(poll.ProcessPath, procs.start)
	r.Get(poll.ProcessPath+"/{taskID}", procs.get)

	if deps.MCP != nil {
		r.Handle(MCPPath, deps.MCP)
	}

	return r
}
