package stream

import (
	"log/slog"
	"sync/atomic"

	"github.com/ashureev/chairwatch/internal/domain"
	"github.com/ashureev/chairwatch/internal/monitor"
)

const defaultQueueSize = 16

// viewQueue buffers views between the monitor actor and a slow socket.
// Push never blocks; when the queue is full the oldest view is dropped.
type viewQueue struct {
	ch      chan monitor.View
	dropped atomic.Int64
	logger  *slog.Logger
}

func newViewQueue(size int, logger *slog.Logger) *viewQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &viewQueue{
		ch:     make(chan monitor.View, size),
		logger: logger,
	}
}

// Push queues v, evicting the oldest view if needed.
func (q *viewQueue) Push(v monitor.View) {
	for {
		select {
		case q.ch <- v:
			return
		default:
		}

		// Full: drop the oldest and retry.
		select {
		case <-q.ch:
			if n := q.dropped.Add(1); n == 1 || n%100 == 0 {
				q.logger.Debug("Viewer queue full, dropped oldest view", "dropped", n)
			}
		default:
		}
	}
}

// C returns the receive side.
func (q *viewQueue) C() <-chan monitor.View {
	return q.ch
}

// Dropped returns how many views were evicted.
func (q *viewQueue) Dropped() int64 {
	return q.dropped.Load()
}

// stateSignal keeps only the latest persisted state that has not been sent yet.
type stateSignal struct {
	ch chan domain.ChairState
}

func newStateSignal() *stateSignal {
	return &stateSignal{ch: make(chan domain.ChairState, 1)}
}

// Push replaces any pending state with st. It never blocks.
func (s *stateSignal) Push(st domain.ChairState) {
	for {
		select {
		case s.ch <- st:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// C returns the receive side.
func (s *stateSignal) C() <-chan domain.ChairState {
	return s.ch
}
