// SPDX-License-Identifier: MIT

// Package worker runs the single-consumer job queue that serializes all
// compositor control traffic. Producers enqueue typed jobs from anywhere;
// one goroutine executes them in FIFO order with a minimum spacing between
// compositor-class jobs.
package worker

import (
	"sync"

	"github.com/onair-live/onair/internal/metrics"
)

// Queue is an unbounded FIFO of jobs. Enqueue never blocks.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []Job
	closed bool
}

// NewQueue creates an empty job queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a job. Jobs enqueued after Close are dropped.
func (q *Queue) Enqueue(t Type, payload map[string]any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.jobs = append(q.jobs, NewJob(t, payload))
	metrics.JobQueueDepth.Set(float64(len(q.jobs)))
	q.cond.Signal()
}

// Dequeue blocks until a job is available or the queue is closed and
// drained. The second return is false once the queue is exhausted.
func (q *Queue) Dequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.jobs) == 0 {
		return Job{}, false
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	metrics.JobQueueDepth.Set(float64(len(q.jobs)))
	return job, true
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops intake and unblocks the consumer once the backlog drains.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
