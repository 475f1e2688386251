package jobqueue

import (
	"context"
	"time"

	"github.com/veilcore/sessioncore/model"
)

// Start launches the single cooperative task that drains the deque
// (spec §4.5 "Execution loop", §4.5 "Isolation": this is the dedicated
// serial executor for cryptographic steps). Calling Start twice is a
// no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.closed = false
	q.loopDone = make(chan struct{})
	done := q.loopDone
	q.mu.Unlock()

	go q.run(ctx, done)
}

// Shutdown cancels the loop and waits for the currently executing job to
// finish before returning (spec §4.5 "Cancellation": "no cancellation
// mid-ratchet"). It does not cancel refill tasks; callers own that
// separately via identity.Refiller.Cancel.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.closed = true
	done := q.loopDone
	q.mu.Unlock()
	q.notify()
	<-done

	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
}

func (q *Queue) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		job, wait, stop := q.next(ctx)
		if stop {
			return
		}
		if job == nil {
			q.sleepUntilWoken(ctx, wait)
			continue
		}
		q.execute(ctx, *job)
	}
}

// next scans the deque from the front for the first job that is ready to
// run right now (spec §4.5 steps 1-2). It returns the job to execute, or
// a duration to wait before checking again (driven by the nearest
// delayedUntil), or stop=true once the context is done.
func (q *Queue) next(ctx context.Context) (job *model.JobModel, wait time.Duration, stop bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if ctx.Err() != nil || q.closed {
			return nil, 0, true
		}
		if !q.viable {
			return nil, -1, false
		}

		now := time.Now()
		earliestDelay := time.Duration(-1)
		for i, j := range q.deque {
			if j.DelayedUntil != nil && j.DelayedUntil.After(now) {
				remaining := j.DelayedUntil.Sub(now)
				if earliestDelay < 0 || remaining < earliestDelay {
					earliestDelay = remaining
				}
				continue
			}
			picked := j
			q.deque = append(q.deque[:i:i], q.deque[i+1:]...)
			return &picked, 0, false
		}

		if earliestDelay >= 0 {
			return nil, earliestDelay, false
		}
		return nil, -1, false
	}
}

// sleepUntilWoken blocks until woken by notify(), the nearest delayed
// job's deadline elapsing, or ctx cancellation. wait < 0 means there is
// nothing on the clock to wait for; it blocks on notify()/ctx alone.
func (q *Queue) sleepUntilWoken(ctx context.Context, wait time.Duration) {
	if wait < 0 {
		select {
		case <-q.wake:
		case <-ctx.Done():
		}
		return
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-q.wake:
	case <-ctx.Done():
	}
}

func (q *Queue) execute(ctx context.Context, job model.JobModel) {
	var err error
	switch job.Task.Kind {
	case model.TaskWriteMessage:
		err = q.handler.HandleWriteMessage(ctx, job.Task.WriteMessage)
	case model.TaskStreamMessage:
		err = q.handler.HandleStreamMessage(ctx, job.Task.StreamMessage)
	}

	if err == nil {
		if delErr := q.store.DeleteJob(ctx, job.ID); delErr != nil {
			q.logger.Printf("jobqueue: delete completed job %s: %v", job.ID, delErr)
		}
		return
	}

	job.Attempts++
	delay := backoffDuration(job.Attempts)
	delayedUntil := time.Now().Add(delay)
	job.DelayedUntil = &delayedUntil

	q.logger.Printf("jobqueue: job %s failed (attempt %d), retrying in %s: %v", job.ID, job.Attempts, delay, err)

	if persistErr := q.persistUpdated(ctx, job); persistErr != nil {
		q.logger.Printf("jobqueue: persist retried job %s: %v", job.ID, persistErr)
	}

	q.mu.Lock()
	insertSorted(&q.deque, job)
	q.mu.Unlock()
	q.notify()
}
