package provisioning_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	app "github.com/openassoc/account-provisioning/internal/application/provisioning"
	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

type batchFixture struct {
	*pipelineFixture
	trackers  *fakeTrackerStore
	processor *app.BatchProcessor
}

func newBatchFixture(t *testing.T, workers int) *batchFixture {
	t.Helper()
	fx := newPipelineFixture(t)
	trackers := newFakeTrackerStore()
	processor := app.NewBatchProcessor(fx.pipeline, trackers, workers, zap.NewNop())
	return &batchFixture{pipelineFixture: fx, trackers: trackers, processor: processor}
}

func (fx *batchFixture) seedBatch(t *testing.T, count int) []string {
	t.Helper()
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("req-%03d", i)
		req := queuedRequest(id, fmt.Sprintf("m%03d@example.com", i), domain.RequestTypeMember,
			[]string{"Association Member"}, "Member")
		fx.requests.put(req)
		ids = append(ids, id)
	}
	return ids
}

func (fx *batchFixture) seedTracker(t *testing.T, total, batchSize int) string {
	t.Helper()
	tracker, err := domain.NewBulkOperationTracker("trk-1", "Account Creation", total, batchSize, time.Now())
	if err != nil {
		t.Fatalf("new tracker failed: %v", err)
	}
	tracker.Start(time.Now())
	if err := fx.trackers.Create(context.Background(), tracker); err != nil {
		t.Fatalf("create tracker failed: %v", err)
	}
	return tracker.ID
}

func TestProcessBatchAllSucceed(t *testing.T) {
	t.Parallel()

	fx := newBatchFixture(t, 5)
	ids := fx.seedBatch(t, 10)
	trackerID := fx.seedTracker(t, 10, 10)

	result, err := fx.processor.ProcessBatch(context.Background(), testPrincipal, domain.BatchJob{
		BatchID:     "batch-1",
		BatchNumber: 1,
		TrackerID:   trackerID,
		RequestIDs:  ids,
	})
	if err != nil {
		t.Fatalf("process batch failed: %v", err)
	}

	if result.Completed != 10 || result.Failed != 0 {
		t.Fatalf("expected 10/0, got %d/%d", result.Completed, result.Failed)
	}
	if len(result.CompletedRequests) != 10 {
		t.Fatalf("expected 10 completed ids, got %d", len(result.CompletedRequests))
	}

	tracker, _ := fx.trackers.Get(context.Background(), trackerID)
	if tracker.ProcessedRecords != 10 || tracker.Status != domain.TrackerCompleted {
		t.Fatalf("tracker not updated: processed=%d status=%s", tracker.ProcessedRecords, tracker.Status)
	}
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	t.Parallel()

	fx := newBatchFixture(t, 5)
	ids := fx.seedBatch(t, 8)

	// Engineer exactly one request to fail validation.
	bad := queuedRequest("req-bad", "bad@example.com", domain.RequestTypeMember,
		[]string{"No Such Role"}, "Member")
	fx.requests.put(bad)
	ids = append(ids, "req-bad")

	trackerID := fx.seedTracker(t, len(ids), len(ids))

	result, err := fx.processor.ProcessBatch(context.Background(), testPrincipal, domain.BatchJob{
		BatchID:     "batch-1",
		BatchNumber: 1,
		TrackerID:   trackerID,
		RequestIDs:  ids,
	})
	if err != nil {
		t.Fatalf("process batch failed: %v", err)
	}

	if result.Completed != len(ids)-1 {
		t.Fatalf("expected %d completed, got %d", len(ids)-1, result.Completed)
	}
	if result.Failed != 1 {
		t.Fatalf("expected 1 failed, got %d", result.Failed)
	}
	if len(result.FailedRequests) != 1 || result.FailedRequests[0] != "req-bad" {
		t.Fatalf("expected req-bad failed, got %v", result.FailedRequests)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected one error line, got %v", result.Errors)
	}

	// No partial writes from the failing request may be visible.
	if _, ok := fx.directory.usersByEmail["bad@example.com"]; ok {
		t.Fatal("failing request leaked a user write")
	}
	// Its siblings all landed.
	if len(fx.directory.usersByEmail) != len(ids)-1 {
		t.Fatalf("expected %d accounts, got %d", len(ids)-1, len(fx.directory.usersByEmail))
	}

	tracker, _ := fx.trackers.Get(context.Background(), trackerID)
	if tracker.SuccessfulRecords != len(ids)-1 || tracker.FailedRecords != 1 {
		t.Fatalf("tracker mismatch: %d/%d", tracker.SuccessfulRecords, tracker.FailedRecords)
	}
	queue := tracker.RetryRequests()
	if len(queue) != 1 || queue[0] != "req-bad" {
		t.Fatalf("expected req-bad in retry queue, got %v", queue)
	}
}

func TestProcessBatchRedeliveryDoesNotDoubleCount(t *testing.T) {
	t.Parallel()

	fx := newBatchFixture(t, 5)
	ids := fx.seedBatch(t, 2)
	trackerID := fx.seedTracker(t, 4, 2)

	job := domain.BatchJob{
		BatchID:     "batch-1",
		BatchNumber: 1,
		TrackerID:   trackerID,
		RequestIDs:  ids,
	}
	if _, err := fx.processor.ProcessBatch(context.Background(), testPrincipal, job); err != nil {
		t.Fatalf("process batch failed: %v", err)
	}

	// The lease-based queue delivers at least once: a worker crash after
	// the tracker write re-claims the same job. The second run must
	// neither error (the job has to complete) nor move the counters.
	if _, err := fx.processor.ProcessBatch(context.Background(), testPrincipal, job); err != nil {
		t.Fatalf("redelivered batch must still complete: %v", err)
	}

	tracker, _ := fx.trackers.Get(context.Background(), trackerID)
	if tracker.SuccessfulRecords != 2 || tracker.ProcessedRecords != 2 {
		t.Fatalf("redelivery double-counted: successful=%d processed=%d",
			tracker.SuccessfulRecords, tracker.ProcessedRecords)
	}
	if tracker.Status != domain.TrackerProcessing {
		t.Fatalf("expected Processing with batch 2 outstanding, got %s", tracker.Status)
	}
}

func TestProcessBatchSmallerThanWorkerPool(t *testing.T) {
	t.Parallel()

	fx := newBatchFixture(t, 5)
	ids := fx.seedBatch(t, 2)
	trackerID := fx.seedTracker(t, 2, 2)

	result, err := fx.processor.ProcessBatch(context.Background(), testPrincipal, domain.BatchJob{
		BatchID:     "batch-1",
		BatchNumber: 1,
		TrackerID:   trackerID,
		RequestIDs:  ids,
	})
	if err != nil {
		t.Fatalf("process batch failed: %v", err)
	}
	if result.Completed != 2 {
		t.Fatalf("expected 2 completed, got %d", result.Completed)
	}
}

func TestProcessBatchTrackerUpdateFailureSurfaces(t *testing.T) {
	t.Parallel()

	fx := newBatchFixture(t, 5)
	ids := fx.seedBatch(t, 3)

	_, err := fx.processor.ProcessBatch(context.Background(), testPrincipal, domain.BatchJob{
		BatchID:     "batch-1",
		BatchNumber: 1,
		TrackerID:   "missing-tracker",
		RequestIDs:  ids,
	})
	if err == nil {
		t.Fatal("expected tracker update failure to surface for job retry")
	}
}
