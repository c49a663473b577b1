package bus

import (
	"context"
	"sync"
	"time"
)

const defaultBufferSize = 100

// EventType names one relay lifecycle event.
type EventType string

const (
	EventLinkReceived   EventType = "link_received"
	EventPostDelivered  EventType = "post_delivered"
	EventPostFallback   EventType = "post_fallback"
	EventPostFailed     EventType = "post_failed"
	EventDeliveryFailed EventType = "delivery_failed"
)

// Event is one published relay lifecycle notification.
type Event struct {
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	Channel   string            `json:"channel,omitempty"`
	ChatID    string            `json:"chat_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	PostID    string            `json:"post_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// EventBus fans relay lifecycle events out to subscribers without ever
// blocking the publisher.
type EventBus struct {
	subscribers      map[uint64]chan Event
	nextSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

// NewEventBus returns an open bus with no subscribers.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[uint64]chan Event),
		done:        make(chan struct{}),
	}
}

// Publish delivers event to every subscriber with buffer room. It returns
// false once the bus is closed. A nil bus accepts and discards events.
func (b *EventBus) Publish(event Event) bool {
	if b == nil {
		return false
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return false
	default:
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop.
		}
	}

	return true
}

// Subscribe registers a buffered listener. The channel is closed when ctx
// ends, the bus closes, or the returned function is called.
func (b *EventBus) Subscribe(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := b.nextSubscriberID
	b.nextSubscriberID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if eventCh, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(eventCh)
			}
			b.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		unsubscribe()
	}()

	return ch, unsubscribe
}

// Close shuts the bus and closes every subscriber channel. It is safe to call more than once.
func (b *EventBus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		close(b.done)
		for id, ch := range b.subscribers {
			close(ch)
			delete(b.subscribers, id)
		}
		b.mu.Unlock()
	})
}
