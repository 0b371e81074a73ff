// Package broadcast fans auth events out to every client instance sharing the same account state.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Kind names an event.
type Kind string

// KindLogout tells other instances the shared credentials were dropped.
const KindLogout Kind = "logout"

// Event is the wire payload of every backend.
type Event struct {
	ID     string    `json:"id"`
	Kind   Kind      `json:"kind"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(kind Kind, origin string) Event {
	return Event{ID: uuid.Must(uuid.NewV4()).String(), Kind: kind, Origin: origin, At: time.Now().UTC()}
}

func decode(b []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(b, &ev)
	return ev, err
}

// Broadcaster publishes events and delivers them to subscribers, including the publisher's own.
type Broadcaster interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe streams events until ctx is done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}

const subBuffer = 16

// Hub is an in-process broadcaster.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Publish delivers ev to every subscriber. A subscriber with a full buffer misses the event.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, subBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, nil
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.drop(ch)
	}()
	return ch, nil
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) drop(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Close ends every subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
	return nil
}
