package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// queueSize is the number of frames that can be queued per subscriber.
const queueSize = 16

// Subscriber receives the frames published to one room.
type Subscriber struct {
	room      string
	frames    chan []byte
	closeSlow func()
}

// Frames returns the subscriber's delivery channel.
func (s *Subscriber) Frames() <-chan []byte {
	return s.frames
}

// Hub fans accepted messages out to live subscribers grouped by room.
// Delivery is best-effort: a subscriber whose queue is full is closed
// rather than allowed to stall the publisher.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Subscriber]struct{}
	logger  *zap.Logger
	dropped atomic.Int64
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Subscriber]struct{}),
		logger: logger,
	}
}

// Subscribe registers a subscriber for a room. closeSlow is called once
// if the subscriber falls too far behind; it must tear down the
// subscriber's connection, which in turn unsubscribes it.
func (h *Hub) Subscribe(roomName string, closeSlow func()) *Subscriber {
	s := &Subscriber{
		room:      roomName,
		frames:    make(chan []byte, queueSize),
		closeSlow: closeSlow,
	}
	h.mu.Lock()
	if h.rooms[roomName] == nil {
		h.rooms[roomName] = make(map[*Subscriber]struct{})
	}
	h.rooms[roomName][s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber from its room.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	if subs, ok := h.rooms[s.room]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.rooms, s.room)
		}
	}
	h.mu.Unlock()
}

// Publish marshals v once and queues it for every subscriber of the
// room. Publish never blocks and never fails the caller.
func (h *Hub) Publish(roomName string, v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal frame failed", zap.String("room", roomName), zap.Error(err))
		return
	}

	h.mu.RLock()
	subs := h.rooms[roomName]
	// Copy the set so the lock is released before sending.
	targets := make([]*Subscriber, 0, len(subs))
	for s := range subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.frames <- frame:
		default:
			h.dropped.Add(1)
			h.logger.Warn("subscriber too slow, closing", zap.String("room", roomName))
			s.closeSlow()
		}
	}
}

// SubscriberCount returns the number of live subscribers in a room.
func (h *Hub) SubscriberCount(roomName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomName])
}

// Dropped returns the number of frames dropped on slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
