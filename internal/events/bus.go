// Package events provides the pub/sub bus that fans analysis alerts out to
// the WebSocket hub, the event store and the notifier.
package events

import (
	"sync"
	"time"

	"vigil/internal/stage"
)

// Event is one alert raised by a processed frame.
type Event struct {
	CameraID  int           `json:"camera_id"`
	Stage     string        `json:"stage"`
	Summary   stage.Summary `json:"summary"`
	Frame     []byte        `json:"-"`
	Timestamp time.Time     `json:"timestamp"`
}

// Bus delivers events to subscribers. Handlers run synchronously on the
// publishing goroutine and must be fast; channel subscribers are buffered
// and never block the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscription]bool
}

type subscription struct {
	cameraFilter int
	filtered     bool
	channel      chan Event
	handler      func(Event)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*subscription]bool),
	}
}

// Subscribe registers a synchronous handler for every event.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(handler func(Event)) func() {
	sub := &subscription{handler: handler}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel receiving every event and an
// unsubscribe function that also closes the channel.
func (b *Bus) SubscribeChannel(bufferSize int) (<-chan Event, func()) {
	return b.subscribeChannel(0, false, bufferSize)
}

// SubscribeCameraChannel is SubscribeChannel restricted to one camera.
func (b *Bus) SubscribeCameraChannel(cameraID, bufferSize int) (<-chan Event, func()) {
	return b.subscribeChannel(cameraID, true, bufferSize)
}

func (b *Bus) subscribeChannel(cameraID int, filtered bool, bufferSize int) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan Event, bufferSize)
	sub := &subscription{
		cameraFilter: cameraID,
		filtered:     filtered,
		channel:      ch,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish delivers an event to every matching subscriber. When a channel
// subscriber's buffer is full the oldest buffered event is dropped so the
// newest alert always lands.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.filtered && sub.cameraFilter != ev.CameraID {
			continue
		}
		if sub.handler != nil {
			sub.handler(ev)
			continue
		}
		if sub.channel == nil {
			continue
		}
		select {
		case sub.channel <- ev:
		default:
			select {
			case <-sub.channel:
			default:
			}
			select {
			case sub.channel <- ev:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes everyone and closes subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
