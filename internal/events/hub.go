// Package events publishes engine activity to in-process subscribers such as
// the API event stream and the terminal monitor.
package events

import (
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// Event is one published occurrence. Data holds the JSON payload.
type Event struct {
	ID     int64     `json:"id"`
	Type   string    `json:"type"`
	Office string    `json:"office,omitempty"`
	At     time.Time `json:"at"`
	Data   []byte    `json:"data"`
}

// Filter selects events by office and type. Empty lists match everything.
type Filter struct {
	Offices []string
	Types   []string
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev Event) bool {
	if len(f.Offices) > 0 && !slices.Contains(f.Offices, ev.Office) {
		return false
	}
	return len(f.Types) == 0 || slices.Contains(f.Types, ev.Type)
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub fans events out to subscribers and keeps the most recent ones so
// reconnecting clients can catch up.
type Hub struct {
	mu     sync.Mutex
	lastID int64
	// recent is a ring: oldest at head, count entries in use.
	recent []Event
	head   int
	count  int

	subs   map[int]*subscriber
	nextID int
}

// NewHub creates a hub keeping the last capacity events, 100 when capacity is
// not positive.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		recent: make([]Event, capacity),
		subs:   make(map[int]*subscriber),
	}
}

// Publish records an event of office and offers it to every matching
// subscriber. Subscribers whose buffer is full miss it.
func (h *Hub) Publish(eventType, office string, data any) {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, Office: office, At: time.Now().UTC(), Data: payload}
	h.remember(ev)
	for _, sub := range h.subs {
		if !sub.filter.Match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribe registers a subscriber for events matching f. The returned
// cancel closes the channel.
func (h *Hub) Subscribe(f Filter) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	sub := &subscriber{ch: make(chan Event, 128), filter: f}
	h.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
}

// SnapshotSince returns the kept events newer than lastID that match f,
// oldest first.
func (h *Hub) SnapshotSince(lastID int64, f Filter) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.count)
	for i := range h.count {
		ev := h.recent[(h.head+i)%len(h.recent)]
		if ev.ID > lastID && f.Match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) remember(ev Event) {
	if h.count < len(h.recent) {
		h.recent[(h.head+h.count)%len(h.recent)] = ev
		h.count++
		return
	}
	h.recent[h.head] = ev
	h.head = (h.head + 1) % len(h.recent)
}
