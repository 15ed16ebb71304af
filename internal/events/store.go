package events

import (
	"sync"
	"time"
)

// EventType represents the type of bridge event
type EventType string

const (
	// Forward events
	EventForwarded     EventType = "forwarded"
	EventForwardFailed EventType = "forward_failed"

	// Reconciliation events
	EventResetPerformed EventType = "reset_performed"
	EventResetFailed    EventType = "reset_failed"

	// Feed events
	EventFeedError  EventType = "feed_error"
	EventDeviceSeen EventType = "device_seen"
)

// Event represents a single bridge event
type Event struct {
	ID              int64     `json:"id"`
	Type            EventType `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	Device          string    `json:"device,omitempty"`
	Power           float64   `json:"power,omitempty"`
	DurationSeconds float64   `json:"durationSeconds,omitempty"`
	Details         string    `json:"details,omitempty"`
}

// subscriberBuffer is the channel capacity of each live subscriber
const subscriberBuffer = 64

// Store holds events in memory with a fixed capacity (ring buffer)
// and fans new events out to live subscribers
type Store struct {
	mu      sync.RWMutex
	events  []Event
	maxSize int
	nextID  int64

	subMu     sync.Mutex
	subs      map[int]chan Event
	nextSubID int
}

// NewStore creates a new event store with specified max capacity
func NewStore(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Store{
		events:  make([]Event, 0, maxSize),
		maxSize: maxSize,
		subs:    make(map[int]chan Event),
	}
}

// Add stores an event, assigning its ID and timestamp if unset, and returns it
func (s *Store) Add(e Event) Event {
	s.mu.Lock()
	s.nextID++
	e.ID = s.nextID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	// Ring buffer: remove oldest if at max capacity
	if len(s.events) >= s.maxSize {
		s.events = s.events[1:]
	}
	s.events = append(s.events, e)
	s.mu.Unlock()

	s.broadcast(e)
	return e
}

// broadcast delivers an event to subscribers, dropping it for any that are full
func (s *Store) broadcast(e Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a live subscriber. The returned cancel function
// unregisters it and closes the channel.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of live subscribers
func (s *Store) SubscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

// GetLast returns the last N events (newest first)
func (s *Store) GetLast(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > len(s.events) {
		n = len(s.events)
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		result[i] = s.events[len(s.events)-1-i]
	}
	return result
}

// GetSince returns events newer than the given ID (newest first)
func (s *Store) GetSince(lastID int64) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ID > lastID {
			result = append(result, s.events[i])
		} else {
			break
		}
	}
	return result
}

// Count returns the number of events currently held
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// LastID returns the ID of the most recent event
func (s *Store) LastID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}
