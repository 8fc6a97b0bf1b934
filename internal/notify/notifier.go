package notify

// Event types.
const (
	MessageAdded    = "message.added"
	MessagesCleared = "messages.cleared"
	TaskStarted     = "task.started"
	TaskProgress    = "task.progress"
	TaskCompleted   = "task.completed"
	TaskFailed      = "task.failed"
	TaskCancelled   = "task.cancelled"
)

// Event represents a change in a session's log or in a producer task.
type Event struct {
	Type      string
	SessionID string
	Target    string // empty on a whole-session clear
	TaskID    string
	Message   string

	// Level is the message type ("info", "success", "warning", "error")
	// for message.added events.
	Level string

	// Data is the full stored record for message.added events.
	Data map[string]any

	// MCPSessionID targets a specific MCP client session.
	// Empty means broadcast to all.
	MCPSessionID string
}

// Notifier receives change events.
type Notifier interface {
	Notify(event Event)
}

// Hub dispatches events to multiple notifiers.
type Hub struct {
	notifiers []Notifier
}

// NewHub creates a Hub with the given notifiers.
func NewHub(notifiers ...Notifier) *Hub {
	return &Hub{notifiers: notifiers}
}

// Add registers another notifier. Not safe to call once events flow.
func (h *Hub) Add(n Notifier) {
	h.notifiers = append(h.notifiers, n)
}

// Notify sends an event to all registered notifiers.
func (h *Hub) Notify(event Event) {
	for _, n := range h.notifiers {
		go n.Notify(event)
	}
}
