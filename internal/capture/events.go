package capture

import (
	"context"
	"sync"

	"github.com/galoko/PeopleWatcher/internal/hal"
)

// EventKind tags an Event.
type EventKind int

const (
	EventOpened EventKind = iota
	EventDisconnected
	EventDeviceError
	EventConfigured
	EventConfigureFailed
	EventCaptureCompleted
	EventCaptureFailed
	EventBufferLost
	EventStopRequested
	EventFinalized
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventDisconnected:
		return "disconnected"
	case EventDeviceError:
		return "device_error"
	case EventConfigured:
		return "configured"
	case EventConfigureFailed:
		return "configure_failed"
	case EventCaptureCompleted:
		return "capture_completed"
	case EventCaptureFailed:
		return "capture_failed"
	case EventBufferLost:
		return "buffer_lost"
	case EventStopRequested:
		return "stop_requested"
	case EventFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Event is one hardware notification or control input. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind    EventKind
	Device  hal.Device
	Session hal.Session
	Result  hal.CaptureResult
	Failure hal.CaptureFailure
	Code    int
	Reason  string
	Err     error
}

// eventQueue is an unbounded FIFO with a single consumer. push never
// blocks, so hardware callbacks cannot stall behind the event loop.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
	closed bool
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

// push appends ev. It reports false once the queue is closed.
func (q *eventQueue) push(ev Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// pop waits for the next event or for ctx to end.
func (q *eventQueue) pop(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// close rejects further pushes and returns the events left unprocessed.
func (q *eventQueue) close() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	left := q.items
	q.items = nil
	return left
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
