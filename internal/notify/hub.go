package notify

import (
	"log"
	"sync"
	"time"
)

// Message is one event as delivered to a connected client.
type Message struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscriber is one live event-stream connection. Student subscribers
// receive their own events plus broadcasts; staff subscribers receive
// staff events plus broadcasts.
type Subscriber struct {
	studentID string
	staff     bool
	ch        chan Message
}

func (s *Subscriber) Events() <-chan Message {
	return s.ch
}

// Hub fans events out to connected subscribers. Delivery is at most
// once: a subscriber whose buffer is full misses the message rather
// than blocking the sender.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscriber]struct{}
	bufSize int
}

func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Hub{
		subs:    make(map[*Subscriber]struct{}),
		bufSize: bufSize,
	}
}

// SubscribeStudent registers a stream scoped to one student's events.
func (h *Hub) SubscribeStudent(studentID string) *Subscriber {
	return h.add(&Subscriber{studentID: studentID, ch: make(chan Message, h.bufSize)})
}

// SubscribeStaff registers a stream that sees all staff events.
func (h *Hub) SubscribeStaff() *Subscriber {
	return h.add(&Subscriber{staff: true, ch: make(chan Message, h.bufSize)})
}

func (h *Hub) add(sub *Subscriber) *Subscriber {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) NotifyStudent(studentID, event string, data interface{}) {
	h.deliver(event, data, func(s *Subscriber) bool {
		return !s.staff && s.studentID == studentID
	})
}

func (h *Hub) NotifyStaff(event string, data interface{}) {
	h.deliver(event, data, func(s *Subscriber) bool {
		return s.staff
	})
}

func (h *Hub) Broadcast(event string, data interface{}) {
	h.deliver(event, data, func(s *Subscriber) bool {
		return true
	})
}

func (h *Hub) deliver(event string, data interface{}, match func(*Subscriber) bool) {
	msg := Message{Event: event, Timestamp: time.Now(), Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !match(sub) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			log.Printf("[notify] slow subscriber, dropping event %s", event)
		}
	}
}
