// Package events provides the event bus connecting the batch orchestrator to
// its consumers (progress UI, CLI summary, tests).
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType defines the types of events that can be emitted.
type EventType string

const (
	EventItemStatus         EventType = "item_status"         // Item moved to a new status
	EventItemProgress       EventType = "item_progress"       // Upload or processing progress update
	EventResolutionRequired EventType = "resolution_required" // A consolidated decision is pending
	EventBatchSettled       EventType = "batch_settled"       // Every item reached a terminal state
	EventLog                EventType = "log"                 // Free-form log line
)

// Transfer stages reported by progress events.
const (
	StageUpload     = "upload"
	StageProcessing = "processing"
)

// Default buffer sizing for subscriber channels.
const (
	defaultBuffer = 1000
	maxBuffer     = 10000
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields.
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// ItemStatusEvent reports a status transition of one batch item.
type ItemStatusEvent struct {
	BaseEvent
	EntryKey  string
	FileName  string
	OldStatus string
	NewStatus string
	Message   string
}

// ItemProgressEvent reports upload or processing progress of one item.
// Percent is 0-100 within the given stage.
type ItemProgressEvent struct {
	BaseEvent
	EntryKey string
	FileName string
	Stage    string
	Percent  int
}

// ResolutionEvent announces that a consolidated decision request is open.
type ResolutionEvent struct {
	BaseEvent
	Kind    string
	Entries []string
}

// BatchSettledEvent reports the final tally once all items are terminal.
type BatchSettledEvent struct {
	BaseEvent
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// LogEvent carries a log line for consumers that render output themselves.
type LogEvent struct {
	BaseEvent
	Level   string
	Message string
	Error   error
}

// EventBus manages event subscriptions and publishing.
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64
}

// NewEventBus creates a new event bus with the specified buffer size.
// Sizes outside [1, maxBuffer] fall back to the default.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	if bufferSize > maxBuffer {
		bufferSize = maxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type.
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events.
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers. Publishing never blocks; events
// are dropped when a subscriber's buffer is full.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all subscriber channels.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// Unsubscribe removes a subscription channel from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from every event type and
// from the all-events list.
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// DroppedEventCount returns the number of events dropped due to full buffers.
func (eb *EventBus) DroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// PublishItemStatus is a convenience method for item status transitions.
func (eb *EventBus) PublishItemStatus(entryKey, fileName, oldStatus, newStatus, message string) {
	eb.Publish(&ItemStatusEvent{
		BaseEvent: BaseEvent{EventType: EventItemStatus, Time: time.Now()},
		EntryKey:  entryKey,
		FileName:  fileName,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Message:   message,
	})
}

// PublishItemProgress is a convenience method for progress updates.
func (eb *EventBus) PublishItemProgress(entryKey, fileName, stage string, percent int) {
	eb.Publish(&ItemProgressEvent{
		BaseEvent: BaseEvent{EventType: EventItemProgress, Time: time.Now()},
		EntryKey:  entryKey,
		FileName:  fileName,
		Stage:     stage,
		Percent:   percent,
	})
}
