package jobqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/veilcore/sessioncore/model"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string][]byte
}

func newMemStore() *memStore { return &memStore{rows: make(map[string][]byte)} }

func (s *memStore) CreateJob(ctx context.Context, id string, encrypted []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id] = encrypted
	return nil
}

func (s *memStore) FetchAllJobs(ctx context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.rows))
	for k, v := range s.rows {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// jsonCodec is a test-only stand-in; production seals jobs under the
// database key the way vault.Vault seals the session context.
type jsonCodec struct{}

func (jsonCodec) Seal(job model.JobModel) ([]byte, error)   { return json.Marshal(job) }
func (jsonCodec) Open(blob []byte) (model.JobModel, error) {
	var job model.JobModel
	err := json.Unmarshal(blob, &job)
	return job, err
}

type fakeHandler struct {
	mu       sync.Mutex
	handled  []string
	failNext int
}

func (h *fakeHandler) HandleWriteMessage(ctx context.Context, msg model.OutboundTaskMessage) error {
	return h.record(msg.SharedID)
}

func (h *fakeHandler) HandleStreamMessage(ctx context.Context, msg model.InboundTaskMessage) error {
	return h.record(msg.SharedMessageID)
}

func (h *fakeHandler) record(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failNext > 0 {
		h.failNext--
		return errTransient
	}
	h.handled = append(h.handled, id)
	return nil
}

var errTransient = &transientError{}

type transientError struct{}

func (e *transientError) Error() string { return "jobqueue test: transient failure" }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestEnqueueExecutesAndDeletesFromStore(t *testing.T) {
	store := newMemStore()
	handler := &fakeHandler{}
	q := New(store, jsonCodec{}, handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Shutdown()

	_, err := q.Enqueue(ctx, model.TaskType{
		Kind:         model.TaskWriteMessage,
		WriteMessage: model.OutboundTaskMessage{SharedID: "msg-1"},
	}, false)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, time.Second, func() bool { return store.count() == 0 })

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.handled) != 1 || handler.handled[0] != "msg-1" {
		t.Fatalf("handled = %v, want [msg-1]", handler.handled)
	}
}

func TestFailedJobRetriesAndEventuallySucceeds(t *testing.T) {
	store := newMemStore()
	handler := &fakeHandler{failNext: 1}
	q := New(store, jsonCodec{}, handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Shutdown()

	_, err := q.Enqueue(ctx, model.TaskType{
		Kind:         model.TaskWriteMessage,
		WriteMessage: model.OutboundTaskMessage{SharedID: "retry-me"},
	}, false)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// The job stays durably persisted across the first failed attempt,
	// then succeeds on the retry after backoffDuration(1) = 2s and is
	// removed from the store.
	waitFor(t, time.Second, func() bool { return store.count() == 1 })
	waitFor(t, 5*time.Second, func() bool { return store.count() == 0 })

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.handled) != 1 || handler.handled[0] != "retry-me" {
		t.Fatalf("handled = %v, want [retry-me]", handler.handled)
	}
}

func TestNonViableNetworkStopsExecution(t *testing.T) {
	store := newMemStore()
	handler := &fakeHandler{}
	q := New(store, jsonCodec{}, handler, nil)
	q.SetNetworkViable(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Shutdown()

	_, err := q.Enqueue(ctx, model.TaskType{
		Kind:         model.TaskWriteMessage,
		WriteMessage: model.OutboundTaskMessage{SharedID: "blocked"},
	}, false)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if store.count() != 1 {
		t.Fatalf("job must remain durable while network is non-viable, store.count() = %d", store.count())
	}

	q.SetNetworkViable(true)
	waitFor(t, time.Second, func() bool { return store.count() == 0 })
}

func TestRehydrateLoadsDurableJobsInSequenceOrder(t *testing.T) {
	store := newMemStore()
	codec := jsonCodec{}

	for i, sharedID := range []string{"a", "b", "c"} {
		job := model.JobModel{
			ID:         sharedID,
			SequenceID: int64(i + 1),
			Task: model.TaskType{
				Kind:         model.TaskWriteMessage,
				WriteMessage: model.OutboundTaskMessage{SharedID: sharedID},
			},
		}
		blob, err := codec.Seal(job)
		if err != nil {
			t.Fatal(err)
		}
		if err := store.CreateJob(context.Background(), job.ID, blob); err != nil {
			t.Fatal(err)
		}
	}

	handler := &fakeHandler{}
	q := New(store, codec, handler, nil)
	if err := q.Rehydrate(context.Background()); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}

	if len(q.deque) != 3 {
		t.Fatalf("len(deque) = %d, want 3", len(q.deque))
	}
	for i, job := range q.deque {
		if job.SequenceID != int64(i+1) {
			t.Fatalf("deque[%d].SequenceID = %d, want %d", i, job.SequenceID, i+1)
		}
	}
	if q.nextSequence != 4 {
		t.Fatalf("nextSequence = %d, want 4", q.nextSequence)
	}
}
