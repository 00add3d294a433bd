package monitor

import (
	"context"
	"sync"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/model"
)

// queue is the unbounded FIFO of notifications pending delivery for one
// watch. The pump appends, the dispatcher peeks and then removes what it has
// handed over, so an event is never held twice.
type queue struct {
	mu     sync.Mutex
	items  []model.NotificationEvent
	ready  chan struct{}
	closed bool
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) push(e model.NotificationEvent) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// peek blocks until at least one event is queued and returns a copy of up to
// max queued events (all of them when max <= 0).
func (q *queue) peek(ctx context.Context, max int) ([]model.NotificationEvent, error) {
	for {
		q.mu.Lock()
		n := len(q.items)
		if n > 0 {
			if max > 0 && n > max {
				n = max
			}
			batch := make([]model.NotificationEvent, n)
			copy(batch, q.items[:n])
			q.mu.Unlock()
			return batch, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// remove drops the n oldest events.
func (q *queue) remove(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	clear(q.items[:n])
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close discards everything queued and refuses further pushes.
func (q *queue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	q.closed = true
	return n
}
