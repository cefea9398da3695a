// Package event is a small in-process publish/subscribe bus for scan
// lifecycle notifications.
package event

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies a category of event.
type Type string

// Scan lifecycle events.
const (
	ScanStarted   Type = "scan.started"
	ScanCompleted Type = "scan.completed"
	ScanFailed    Type = "scan.failed"
	FileVerified  Type = "file.verified"
	FileFailed    Type = "file.failed"
)

// AllTypes lists every event type the service emits.
var AllTypes = []Type{ScanStarted, ScanCompleted, ScanFailed, FileVerified, FileFailed}

// Event represents something that happened in the system.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler is a function that processes an event.
type Handler func(Event)

// Publisher is implemented by Bus; producers depend on this.
type Publisher interface {
	Publish(e Event)
}

// Bus is an in-process event bus backed by a buffered channel. Handlers
// run one at a time on the goroutine that called Start.
type Bus struct {
	ch       chan Event
	mu       sync.RWMutex
	subs     map[Type][]Handler
	all      []Handler
	logger   *slog.Logger
	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

// NewBus creates a new event bus with the given buffer size.
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{
		ch:       make(chan Event, bufSize),
		subs:     make(map[Type][]Handler),
		logger:   logger.With("component", "event"),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Subscribe registers a handler for the given event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish queues an event without blocking. When the buffer is full the
// event is dropped with a warning.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.ch <- e:
	default:
		b.logger.Warn("event bus full, dropping event", "type", string(e.Type))
	}
}

// Start dispatches queued events until Stop is called, then drains what is
// left and returns. Run it in its own goroutine.
func (b *Bus) Start() {
	defer close(b.finished)
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		case <-b.done:
			for {
				select {
				case e := <-b.ch:
					b.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

// Stop asks Start to drain and return. It does not wait; use Wait for that.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

// Wait blocks until Start has returned.
func (b *Bus) Wait() {
	<-b.finished
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Type])+len(b.all))
	handlers = append(handlers, b.subs[e.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "type", string(e.Type), "panic", r)
				}
			}()
			h(e)
		}()
	}
}
