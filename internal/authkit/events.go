package authkit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	contextKeyEventName   = "session_event_name"
	contextKeyEventUserID = "session_event_user_id"
)

// Session event names announced by the auth handlers.
const (
	SessionEventSignIn  = "signin"
	SessionEventRefresh = "refresh"
	SessionEventLogout  = "logout"
)

// SessionEvent describes a completed auth operation. Events are published
// after the response has been written, never before.
type SessionEvent struct {
	Name       string
	UserID     string
	Path       string
	Status     int
	OccurredAt time.Time
}

// SessionEventSink receives session events.
type SessionEventSink interface {
	Publish(event SessionEvent)
}

// SessionEventBus is a buffered fan-in sink. Publish never blocks; events
// beyond capacity are dropped and counted.
type SessionEventBus struct {
	mutex   sync.Mutex
	events  chan SessionEvent
	closed  bool
	dropped atomic.Int64
}

// NewSessionEventBus constructs a bus holding up to capacity pending events.
func NewSessionEventBus(capacity int) *SessionEventBus {
	if capacity <= 0 {
		capacity = 64
	}
	return &SessionEventBus{events: make(chan SessionEvent, capacity)}
}

// Publish enqueues the event, dropping it when the buffer is full.
func (bus *SessionEventBus) Publish(event SessionEvent) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()
	if bus.closed {
		bus.dropped.Add(1)
		return
	}
	select {
	case bus.events <- event:
	default:
		bus.dropped.Add(1)
	}
}

// Events exposes the consumer side of the bus.
func (bus *SessionEventBus) Events() <-chan SessionEvent {
	return bus.events
}

// Dropped reports how many events did not fit the buffer.
func (bus *SessionEventBus) Dropped() int64 {
	return bus.dropped.Load()
}

// Close stops the bus; later publishes are counted as dropped.
func (bus *SessionEventBus) Close() {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()
	if bus.closed {
		return
	}
	bus.closed = true
	close(bus.events)
}

// AfterResponse publishes any event a handler announced once the handler
// chain has finished writing its response.
func AfterResponse(sink SessionEventSink, clock Clock) gin.HandlerFunc {
	if clock == nil {
		clock = NewSystemClock()
	}
	return func(contextGin *gin.Context) {
		contextGin.Next()

		if sink == nil {
			return
		}
		eventName := contextGin.GetString(contextKeyEventName)
		if eventName == "" {
			return
		}
		sink.Publish(SessionEvent{
			Name:       eventName,
			UserID:     contextGin.GetString(contextKeyEventUserID),
			Path:       contextGin.FullPath(),
			Status:     contextGin.Writer.Status(),
			OccurredAt: clock.Now(),
		})
	}
}

func announceSessionEvent(contextGin *gin.Context, eventName string, applicationUserID string) {
	contextGin.Set(contextKeyEventName, eventName)
	contextGin.Set(contextKeyEventUserID, applicationUserID)
}
