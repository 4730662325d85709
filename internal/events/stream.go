package events

import (
	"sync"
	"time"
)

// Sink receives progress events. Pipeline stages publish through it so tests
// can capture events without a full stream.
type Sink interface {
	Push(event ProgressEvent)
}

// Stream is the progress feed of a single job: an unbounded FIFO written by
// the job goroutine and drained by at most one transport at a time. Push
// never blocks the producer and never drops events; Next waits up to the
// given timeout so transports can emit keep-alives instead of hanging.
type Stream struct {
	mu     sync.Mutex
	queue  []ProgressEvent
	notify chan struct{}
	doneAt time.Time
}

func NewStream() *Stream {
	return &Stream{
		notify: make(chan struct{}, 1),
	}
}

// Push appends an event to the stream. Safe for concurrent producers.
func (s *Stream) Push(event ProgressEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	if event.Terminal() && s.doneAt.IsZero() {
		s.doneAt = time.Now()
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next pops the oldest event, waiting up to timeout for one to arrive.
// The second return is false when the wait expired with nothing queued.
func (s *Stream) Next(timeout time.Duration) (ProgressEvent, bool) {
	if event, ok := s.pop(); ok {
		return event, true
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-s.notify:
			if event, ok := s.pop(); ok {
				return event, true
			}
		case <-deadline.C:
			return ProgressEvent{}, false
		}
	}
}

func (s *Stream) pop() (ProgressEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return ProgressEvent{}, false
	}

	event := s.queue[0]
	s.queue = s.queue[1:]

	// Keep the wakeup token armed while events remain so the next call
	// does not sleep on a non-empty queue.
	if len(s.queue) > 0 {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}

	return event, true
}

// Len reports the number of queued, undrained events.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Finished reports whether the terminal event has been pushed.
func (s *Stream) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.doneAt.IsZero()
}

func (s *Stream) finishedBefore(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.doneAt.IsZero() && s.doneAt.Before(cutoff)
}
