package provisioning_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	app "github.com/openassoc/account-provisioning/internal/application/provisioning"
	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

type fakeJobStore struct {
	mu        sync.Mutex
	completed []string
	requeued  []string
	failed    []string
	reasons   map[string]string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{reasons: make(map[string]string)}
}

func (s *fakeJobStore) ClaimNext(ctx context.Context, leaseDuration time.Duration) (*domain.QueuedJob, error) {
	return nil, nil
}

func (s *fakeJobStore) Heartbeat(ctx context.Context, jobID string, leaseDuration time.Duration) error {
	return nil
}

func (s *fakeJobStore) Complete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, jobID)
	return nil
}

func (s *fakeJobStore) Requeue(ctx context.Context, jobID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requeued = append(s.requeued, jobID)
	s.reasons[jobID] = reason
	return nil
}

func (s *fakeJobStore) Fail(ctx context.Context, jobID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, jobID)
	s.reasons[jobID] = reason
	return nil
}

type workerFixture struct {
	*batchFixture
	store  *fakeJobStore
	worker *app.Worker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	fx := newBatchFixture(t, 5)
	store := newFakeJobStore()
	worker := app.NewWorker(store, fx.pipeline, fx.processor, app.WorkerConfig{}, zap.NewNop())
	return &workerFixture{batchFixture: fx, store: store, worker: worker}
}

func requestJob(t *testing.T, id, requestID string, attempts int) domain.QueuedJob {
	t.Helper()
	payload, err := json.Marshal(domain.RequestJobPayload{
		RequestID: requestID,
		Principal: domain.PrincipalPayload(testPrincipal),
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return domain.QueuedJob{
		ID:          id,
		Kind:        domain.JobKindProcessRequest,
		Payload:     payload,
		Attempts:    attempts,
		MaxAttempts: 3,
	}
}

func TestRunJobProcessesRequestAndCompletes(t *testing.T) {
	t.Parallel()

	fx := newWorkerFixture(t)
	fx.requests.put(queuedRequest("req-1", "m@example.com", domain.RequestTypeMember,
		[]string{"Association Member"}, "Member"))

	if err := fx.worker.RunJob(context.Background(), requestJob(t, "job-1", "req-1", 1)); err != nil {
		t.Fatalf("run job failed: %v", err)
	}

	if fx.requests.get("req-1").Status != domain.StatusCompleted {
		t.Fatalf("expected request completed, got %s", fx.requests.get("req-1").Status)
	}
	if len(fx.store.completed) != 1 || fx.store.completed[0] != "job-1" {
		t.Fatalf("expected job-1 completed, got %v", fx.store.completed)
	}
}

func TestRunJobBusinessFailureStillCompletesJob(t *testing.T) {
	t.Parallel()

	fx := newWorkerFixture(t)
	fx.requests.put(queuedRequest("req-1", "m@example.com", domain.RequestTypeMember,
		[]string{"No Such Role"}, "Member"))

	if err := fx.worker.RunJob(context.Background(), requestJob(t, "job-1", "req-1", 1)); err != nil {
		t.Fatalf("run job failed: %v", err)
	}

	// The request failed, but request-level retry is the pipeline's
	// business; the job itself must not be requeued on top of it.
	if fx.requests.get("req-1").Status != domain.StatusFailed {
		t.Fatalf("expected request failed, got %s", fx.requests.get("req-1").Status)
	}
	if len(fx.store.requeued) != 0 {
		t.Fatalf("expected no requeue, got %v", fx.store.requeued)
	}
	if len(fx.store.completed) != 1 {
		t.Fatalf("expected job completed, got %v", fx.store.completed)
	}
}

func TestRunJobProcessesBatch(t *testing.T) {
	t.Parallel()

	fx := newWorkerFixture(t)
	ids := fx.seedBatch(t, 3)
	trackerID := fx.seedTracker(t, 3, 3)

	payload, err := json.Marshal(domain.BatchJobPayload{
		BatchID:     "batch-1",
		BatchNumber: 1,
		TrackerID:   trackerID,
		RequestIDs:  ids,
		Principal:   domain.PrincipalPayload(testPrincipal),
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	err = fx.worker.RunJob(context.Background(), domain.QueuedJob{
		ID:          "job-1",
		Kind:        domain.JobKindProcessBatch,
		Payload:     payload,
		Attempts:    1,
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("run job failed: %v", err)
	}

	tracker, _ := fx.trackers.Get(context.Background(), trackerID)
	if tracker.SuccessfulRecords != 3 {
		t.Fatalf("expected 3 successes recorded, got %d", tracker.SuccessfulRecords)
	}
	if len(fx.store.completed) != 1 {
		t.Fatalf("expected job completed, got %v", fx.store.completed)
	}
}

func TestRunJobMalformedPayloadRequeued(t *testing.T) {
	t.Parallel()

	fx := newWorkerFixture(t)

	err := fx.worker.RunJob(context.Background(), domain.QueuedJob{
		ID:          "job-1",
		Kind:        domain.JobKindProcessRequest,
		Payload:     []byte("{not json"),
		Attempts:    1,
		MaxAttempts: 3,
	})
	if err == nil {
		t.Fatal("expected decode error")
	}
	if len(fx.store.requeued) != 1 || fx.store.requeued[0] != "job-1" {
		t.Fatalf("expected job-1 requeued, got %v", fx.store.requeued)
	}
	if fx.store.reasons["job-1"] == "" {
		t.Fatal("expected a recorded failure reason")
	}
}

func TestRunJobFailsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	fx := newWorkerFixture(t)

	err := fx.worker.RunJob(context.Background(), domain.QueuedJob{
		ID:          "job-1",
		Kind:        "no-such-kind",
		Payload:     []byte("{}"),
		Attempts:    3,
		MaxAttempts: 3,
	})
	if err == nil {
		t.Fatal("expected unknown kind error")
	}
	if len(fx.store.failed) != 1 || fx.store.failed[0] != "job-1" {
		t.Fatalf("expected job-1 failed permanently, got %v", fx.store.failed)
	}
	if len(fx.store.requeued) != 0 {
		t.Fatalf("expected no requeue at the attempt cap, got %v", fx.store.requeued)
	}
}
