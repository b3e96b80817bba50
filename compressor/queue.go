package compressor

import (
	"context"
	"sync"
	"time"

	"golift.io/logrotor/archive"
)

// job is one archived file waiting for compression.
type job struct {
	dir      *archive.Dir
	id       uint64
	stream   string
	path     string
	enqueued time.Time
}

// queue is an unbounded FIFO. Pushing never blocks; popping blocks until a job
// arrives, the queue drains or the context ends.
type queue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	wake   chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

// push appends a job. It returns false once the queue is closed, so nothing
// lands after the consumers have been told to drain.
func (q *queue) push(j job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	q.jobs = append(q.jobs, j)
	q.mu.Unlock()
	q.signal()

	return true
}

// close refuses further pushes. Jobs already queued are still popped.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.jobs)
}

// pop returns the next job. ok is false when ctx ends, or when drain is
// closed and nothing is left.
func (q *queue) pop(ctx context.Context, drain <-chan struct{}) (job, bool) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			j := q.jobs[0]
			q.jobs[0] = job{}
			q.jobs = q.jobs[1:]
			more := len(q.jobs) > 0
			q.mu.Unlock()

			if more {
				q.signal() // wake another consumer.
			}

			return j, true
		}
		q.mu.Unlock()

		select {
		case <-drain:
			if q.len() == 0 {
				return job{}, false
			}
		case <-ctx.Done():
			return job{}, false
		case <-q.wake:
		}
	}
}
