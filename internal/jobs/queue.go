// Package jobs orchestrates durable parsing jobs: priority queues, a worker
// pool that streams evidence through the parser registry into the search
// index, progress reporting and cooperative cancellation.
package jobs

import (
	"context"
	"sync/atomic"

	"github.com/argus-soc/argus/internal/models"
)

// priorityQueue holds queued job ids across three priorities. High is
// strictly preferred; to prevent starvation, after promoteAfter consecutive
// dequeues that skipped a waiting low job, the next low job is taken first.
type priorityQueue struct {
	high         chan string
	def          chan string
	low          chan string
	promoteAfter int64
	lowSkips     atomic.Int64
}

func newPriorityQueue(depth int, promoteAfter int) *priorityQueue {
	if depth <= 0 {
		depth = 256
	}
	if promoteAfter <= 0 {
		promoteAfter = 100
	}
	return &priorityQueue{
		high:         make(chan string, depth),
		def:          make(chan string, depth),
		low:          make(chan string, depth),
		promoteAfter: int64(promoteAfter),
	}
}

// enqueue places a job id on its priority queue without blocking. It reports
// false when the queue is full.
func (q *priorityQueue) enqueue(id string, priority models.JobPriority) bool {
	var ch chan string
	switch priority {
	case models.PriorityHigh:
		ch = q.high
	case models.PriorityLow:
		ch = q.low
	default:
		ch = q.def
	}
	select {
	case ch <- id:
		return true
	default:
		return false
	}
}

// dequeue blocks until a job id is available or the context ends.
func (q *priorityQueue) dequeue(ctx context.Context) (string, bool) {
	for {
		if q.lowSkips.Load() >= q.promoteAfter {
			select {
			case id := <-q.low:
				q.lowSkips.Store(0)
				return id, true
			default:
			}
		}

		select {
		case id := <-q.high:
			q.noteLowSkip()
			return id, true
		default:
		}
		select {
		case id := <-q.def:
			q.noteLowSkip()
			return id, true
		default:
		}
		select {
		case id := <-q.low:
			q.lowSkips.Store(0)
			return id, true
		default:
		}

		select {
		case <-ctx.Done():
			return "", false
		case id := <-q.high:
			q.noteLowSkip()
			return id, true
		case id := <-q.def:
			q.noteLowSkip()
			return id, true
		case id := <-q.low:
			q.lowSkips.Store(0)
			return id, true
		}
	}
}

// noteLowSkip counts a higher-priority dequeue that bypassed a waiting low
// job.
func (q *priorityQueue) noteLowSkip() {
	if len(q.low) > 0 {
		q.lowSkips.Add(1)
	}
}
