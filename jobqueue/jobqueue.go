// Package jobqueue implements the durable, ordered job queue that drains
// outstanding cryptographic work (spec §4.5). Jobs are rehydrated from
// the durable cache on restart and processed by a single cooperative
// loop, keeping message encryption isolated from the separate refill
// executor in package identity.
package jobqueue

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veilcore/sessioncore/model"
)

// backoffBase and backoffCap implement the capped-exponential retry
// curve picked for spec §9's open question on job retry backoff.
const (
	backoffBase = time.Second
	backoffCap  = 5 * time.Minute
)

// Store is the slice of cache.Cache the queue needs to persist jobs
// durably (spec §4.5 "Enqueue").
type Store interface {
	CreateJob(ctx context.Context, id string, encrypted []byte) error
	FetchAllJobs(ctx context.Context) (map[string][]byte, error)
	DeleteJob(ctx context.Context, id string) error
}

// Codec encrypts and decrypts a JobModel for storage (spec §4.5 "wraps it
// in an encrypted JobModel").
type Codec interface {
	Seal(job model.JobModel) ([]byte, error)
	Open(blob []byte) (model.JobModel, error)
}

// Handler performs the actual cryptographic work for a dequeued job
// (spec §4.5 step 3, backed by the ratchet engine in practice).
type Handler interface {
	HandleWriteMessage(ctx context.Context, msg model.OutboundTaskMessage) error
	HandleStreamMessage(ctx context.Context, msg model.InboundTaskMessage) error
}

// Queue is the single durable deque of outstanding crypto jobs plus the
// cooperative loop that drains it.
type Queue struct {
	store   Store
	codec   Codec
	handler Handler
	logger  *log.Logger

	mu           sync.Mutex
	deque        []model.JobModel
	nextSequence int64
	viable       bool
	closed       bool
	running      bool

	wake     chan struct{}
	loopDone chan struct{}
}

// New builds a Queue. logger defaults to log.Default() when nil, the way
// the rest of the ambient stack does (spec's ambient-logging convention).
func New(store Store, codec Codec, handler Handler, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.Default()
	}
	return &Queue{
		store:        store,
		codec:        codec,
		handler:      handler,
		logger:       logger,
		nextSequence: 1,
		viable:       true,
		wake:         make(chan struct{}, 1),
	}
}

// notify wakes the loop if it is currently sleeping, without blocking.
func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Rehydrate loads every durable job row in ascending sequenceId order and
// seeds the in-memory deque and sequence counter (spec §9 "rehydration
// from the durable row store in ascending sequenceId order on restart").
func (q *Queue) Rehydrate(ctx context.Context) error {
	rows, err := q.store.FetchAllJobs(ctx)
	if err != nil {
		return fmt.Errorf("jobqueue: fetch durable jobs: %w", err)
	}

	jobs := make([]model.JobModel, 0, len(rows))
	for _, blob := range rows {
		job, err := q.codec.Open(blob)
		if err != nil {
			return fmt.Errorf("jobqueue: decode durable job: %w", err)
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].SequenceID < jobs[j].SequenceID })

	q.mu.Lock()
	defer q.mu.Unlock()
	q.deque = jobs
	for _, j := range jobs {
		if j.SequenceID >= q.nextSequence {
			q.nextSequence = j.SequenceID + 1
		}
	}
	return nil
}

// Enqueue assigns a strictly monotonic sequenceId, persists the job
// durably, then inserts it into the in-memory deque (spec §4.5
// "Enqueue"). It returns as soon as the job is persisted; execution
// happens asynchronously on the queue's loop.
func (q *Queue) Enqueue(ctx context.Context, task model.TaskType, backgroundTask bool) (model.JobModel, error) {
	q.mu.Lock()
	sequenceID := q.nextSequence
	q.nextSequence++
	q.mu.Unlock()

	job := model.JobModel{
		ID:               uuid.NewString(),
		SequenceID:       sequenceID,
		Task:             task,
		IsBackgroundTask: backgroundTask,
		ScheduledAt:      time.Now(),
	}

	blob, err := q.codec.Seal(job)
	if err != nil {
		return model.JobModel{}, fmt.Errorf("jobqueue: encode job: %w", err)
	}
	if err := q.store.CreateJob(ctx, job.ID, blob); err != nil {
		return model.JobModel{}, fmt.Errorf("jobqueue: persist job: %w", err)
	}

	q.mu.Lock()
	insertSorted(&q.deque, job)
	q.mu.Unlock()
	q.notify()

	return job, nil
}

// insertSorted inserts job preserving ascending sequenceId order (spec
// §4.5 "the deque is an ordered sequence of T, not a set").
func insertSorted(deque *[]model.JobModel, job model.JobModel) {
	i := sort.Search(len(*deque), func(i int) bool { return (*deque)[i].SequenceID >= job.SequenceID })
	*deque = append(*deque, model.JobModel{})
	copy((*deque)[i+1:], (*deque)[i:])
	(*deque)[i] = job
}

// SetNetworkViable flips the queue's network-viability signal (spec §4.5
// step 1). Becoming viable wakes the loop.
func (q *Queue) SetNetworkViable(viable bool) {
	q.mu.Lock()
	q.viable = viable
	q.mu.Unlock()
	if viable {
		q.notify()
	}
}

func (q *Queue) persistUpdated(ctx context.Context, job model.JobModel) error {
	blob, err := q.codec.Seal(job)
	if err != nil {
		return fmt.Errorf("jobqueue: encode retried job: %w", err)
	}
	if err := q.store.CreateJob(ctx, job.ID, blob); err != nil {
		return fmt.Errorf("jobqueue: persist retried job: %w", err)
	}
	return nil
}

func backoffDuration(attempts int) time.Duration {
	shift := attempts
	if shift > 20 {
		shift = 20
	}
	d := backoffBase * time.Duration(int64(1)<<uint(shift))
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	return d
}
