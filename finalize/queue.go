/*
DESCRIPTION
  queue.go provides an unbounded FIFO of finalization jobs with a timed
  receive.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package finalize

import (
	"sync"
	"time"
)

// Queue is an unbounded FIFO of Jobs. Submit never blocks and never drops a
// job. Ownership of a job passes to the queue on Submit and to the caller of
// Next when it is returned.
type Queue struct {
	mu     sync.Mutex
	jobs   []Job
	notify chan struct{}
}

// NewQueue returns a new, empty Queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Submit appends j to the queue.
func (q *Queue) Submit(j Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next removes and returns the oldest job, waiting up to timeout for one to
// be submitted. The boolean is false if the wait timed out.
func (q *Queue) Next(timeout time.Duration) (Job, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if j, ok := q.pop(); ok {
			return j, true
		}
		select {
		case <-q.notify:
		case <-timer.C:
			return q.pop()
		}
	}
}

func (q *Queue) pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return Job{}, false
	}
	j := q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	return j, true
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
