package events

import (
	"sync"
	"time"

	logger "github.com/Bparsons0904/goLogger"
)

// Hub owns one Stream per job, keyed by job ID. Streams are opened when a job
// is accepted and released when a transport drains the terminal event. Jobs
// nobody ever watched are reaped by the scheduled cleanup instead.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]*Stream
	log     logger.Logger
}

func NewHub() *Hub {
	return &Hub{
		streams: make(map[string]*Stream),
		log:     logger.New("events"),
	}
}

// Open creates the stream for a job, returning the existing one if the job
// is already registered.
func (h *Hub) Open(jobID string) *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()

	if stream, ok := h.streams[jobID]; ok {
		return stream
	}

	stream := NewStream()
	h.streams[jobID] = stream
	return stream
}

// Get returns the stream for a job, if one is registered.
func (h *Hub) Get(jobID string) (*Stream, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stream, ok := h.streams[jobID]
	return stream, ok
}

// Release drops a job's stream. Called by transports after forwarding the
// terminal event.
func (h *Hub) Release(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streams, jobID)
}

// Count reports the number of registered streams.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}

// ReapIdle removes streams whose job finished before the cutoff and that no
// transport released, returning how many were dropped.
func (h *Hub) ReapIdle(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	h.mu.Lock()
	defer h.mu.Unlock()

	reaped := 0
	for jobID, stream := range h.streams {
		if stream.finishedBefore(cutoff) {
			delete(h.streams, jobID)
			reaped++
		}
	}

	if reaped > 0 {
		h.log.Info("Reaped unobserved finished streams", "count", reaped)
	}

	return reaped
}
