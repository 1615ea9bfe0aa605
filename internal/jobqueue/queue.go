// Package jobqueue runs jobs one at a time, in submission order, on a single goroutine.
package jobqueue

import (
	"log"
	"sync"
)

// Queue is an unbounded FIFO of jobs drained by one worker goroutine.
// Submit never blocks, so producers such as network readers are not held up by a
// slow job.
type Queue struct {
	name string

	mu      sync.Mutex
	jobs    []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

// New starts a queue. name is used in log lines.
func New(name string) *Queue {
	q := &Queue{
		name:    name,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// Submit appends a job. It reports false when the queue has been closed.
func (q *Queue) Submit(job func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, job)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return true
}

// Len returns the number of jobs waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops accepting jobs, drops the jobs not yet started and waits for the
// running job to return. Safe to call multiple times. Must not be called from a job.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.jobs = nil
		close(q.wake)
	}
	q.mu.Unlock()
	<-q.stopped
}

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			if _, ok := <-q.wake; !ok {
				return
			}
			continue
		}
		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		q.runJob(job)
	}
}

func (q *Queue) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] job panicked: %v", q.name, r)
		}
	}()
	job()
}
