package logging

import "sync"

// UIObserver is the out-of-core sink a UIBridgeHandler forwards records
// to (the execution console), grounded on the teacher's websocket.Hub
// broadcaster. It must not be called with the handler's lock held.
type UIObserver interface {
	ObserveLogRecord(r Record)
}

// UIBridgeHandler forwards records to a UIObserver asynchronously so it
// never blocks the scheduler. On backpressure (observer slower than the
// producer) it drops the oldest buffered record rather than the newest,
// so the UI always shows the most recent state, and counts drops.
//
// Grounded on the teacher's websocket.Hub buffered broadcast channel,
// generalized from an unbounded-ish buffered channel to an explicit
// drop-oldest ring buffer, per spec §4.4/§5.
type UIBridgeHandler struct {
	observer UIObserver
	minLevel Level

	mu      sync.Mutex
	ring    []Record
	head    int
	size    int
	cap     int
	dropped uint64

	notify chan struct{}
	once   sync.Once
	stop   chan struct{}
}

// NewUIBridgeHandler builds a handler with the given ring capacity,
// starting its delivery goroutine immediately.
func NewUIBridgeHandler(observer UIObserver, capacity int, minLevel Level) *UIBridgeHandler {
	if capacity <= 0 {
		capacity = 256
	}
	h := &UIBridgeHandler{
		observer: observer,
		minLevel: minLevel,
		ring:     make([]Record, capacity),
		cap:      capacity,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	go h.pump()
	return h
}

func (h *UIBridgeHandler) Name() string    { return "ui-bridge" }
func (h *UIBridgeHandler) MinLevel() Level { return h.minLevel }

// Handle enqueues r without blocking. If the ring is full, the oldest
// entry is overwritten and the drop counter increments.
func (h *UIBridgeHandler) Handle(r Record) {
	h.mu.Lock()
	if h.size == h.cap {
		h.head = (h.head + 1) % h.cap
		h.dropped++
	} else {
		h.size++
	}
	idx := (h.head + h.size - 1) % h.cap
	h.ring[idx] = r
	h.mu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Dropped returns the number of records overwritten before delivery.
func (h *UIBridgeHandler) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close stops the delivery goroutine. Safe to call once.
func (h *UIBridgeHandler) Close() {
	h.once.Do(func() { close(h.stop) })
}

func (h *UIBridgeHandler) pump() {
	for {
		select {
		case <-h.stop:
			return
		case <-h.notify:
			for {
				rec, ok := h.dequeue()
				if !ok {
					break
				}
				h.observer.ObserveLogRecord(rec)
			}
		}
	}
}

func (h *UIBridgeHandler) dequeue() (Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size == 0 {
		return Record{}, false
	}
	rec := h.ring[h.head]
	h.head = (h.head + 1) % h.cap
	h.size--
	return rec, true
}
