// Package queue holds commands waiting for an actuator to come back to
// idle: one bounded FIFO per (actuator, level), drained highest level first.
package queue

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yasunorioi/uecs-actuatord/internal/actuator"
)

// Expired is invoked for jobs dropped past their TTL, so synchronous
// submitters can be notified. Auto-rule jobs are dropped silently by their
// callers ignoring it.
type Expired func(job actuator.Job)

// Queue is the per-actuator wait queue across all levels.
type Queue struct {
	mu      sync.Mutex
	depth   int
	ttl     time.Duration
	levels  map[actuator.Level][]actuator.Job
	expired Expired
}

// New creates a queue bounded to depth entries per level with the given TTL.
func New(depth int, ttl time.Duration, expired Expired) *Queue {
	if depth <= 0 {
		depth = 16
	}
	return &Queue{
		depth:   depth,
		ttl:     ttl,
		levels:  make(map[actuator.Level][]actuator.Job),
		expired: expired,
	}
}

// Push enqueues a job at its level. On overflow the oldest job of the same
// level is dropped with a warning.
func (q *Queue) Push(job actuator.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	fifo := q.levels[job.Level]
	if len(fifo) >= q.depth {
		dropped := fifo[0]
		fifo = fifo[1:]
		log.Warn().
			Str("actuator", dropped.ActuatorID).
			Str("job", dropped.ID).
			Int("level", int(dropped.Level)).
			Msg("Wait queue full, dropping oldest job")
	}
	q.levels[job.Level] = append(fifo, job)
}

// Pop returns the oldest job of the highest non-empty level, discarding
// entries past their TTL on the way. ok is false when nothing is runnable.
func (q *Queue) Pop(now time.Time) (actuator.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for level := actuator.LevelEmergency; level <= actuator.LevelAutomatic; level++ {
		fifo := q.levels[level]
		for len(fifo) > 0 {
			job := fifo[0]
			fifo = fifo[1:]
			q.levels[level] = fifo
			if q.stale(job, now) {
				q.notifyExpired(job)
				continue
			}
			return job, true
		}
	}
	return actuator.Job{}, false
}

// Sweep discards every queued job past its TTL.
func (q *Queue) Sweep(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for level, fifo := range q.levels {
		kept := fifo[:0]
		for _, job := range fifo {
			if q.stale(job, now) {
				q.notifyExpired(job)
				continue
			}
			kept = append(kept, job)
		}
		q.levels[level] = kept
	}
}

// Len reports the total number of waiting jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, fifo := range q.levels {
		n += len(fifo)
	}
	return n
}

func (q *Queue) stale(job actuator.Job, now time.Time) bool {
	return q.ttl > 0 && now.Sub(job.EnqueuedAt) > q.ttl
}

func (q *Queue) notifyExpired(job actuator.Job) {
	log.Debug().
		Str("actuator", job.ActuatorID).
		Str("job", job.ID).
		Str("origin", job.Origin).
		Msg("Queued job expired")
	if q.expired != nil {
		q.expired(job)
	}
}
