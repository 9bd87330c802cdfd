package provisioning_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

func newTracker(t *testing.T, total, batchSize int) *domain.BulkOperationTracker {
	t.Helper()
	tracker, err := domain.NewBulkOperationTracker("trk-1", "Account Creation", total, batchSize, time.Now())
	if err != nil {
		t.Fatalf("new tracker failed: %v", err)
	}
	return tracker
}

func TestTrackerBatchPartitioning(t *testing.T) {
	t.Parallel()

	cases := []struct {
		total, batchSize, want int
	}{
		{50, 50, 1},
		{500, 50, 10},
		{4700, 50, 94},
		{1, 50, 1},
		{49, 50, 1},
		{51, 50, 2},
		{99, 50, 2},
		{101, 50, 3},
	}

	for _, tc := range cases {
		tracker := newTracker(t, tc.total, tc.batchSize)
		if tracker.TotalBatches != tc.want {
			t.Fatalf("total=%d batch=%d: expected %d batches, got %d", tc.total, tc.batchSize, tc.want, tracker.TotalBatches)
		}
	}
}

func TestTrackerProgressConservation(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tracker := newTracker(t, 100, 25)
	tracker.Start(now)

	for batch := 1; batch <= 4; batch++ {
		err := tracker.UpdateProgress(batch, domain.BatchResult{
			Completed: 20,
			Failed:    5,
		}, now.Add(time.Duration(batch)*time.Minute))
		if err != nil {
			t.Fatalf("update %d failed: %v", batch, err)
		}

		if tracker.ProcessedRecords != tracker.SuccessfulRecords+tracker.FailedRecords {
			t.Fatalf("conservation violated after batch %d", batch)
		}
		if tracker.ProcessedRecords > tracker.TotalRecords {
			t.Fatalf("processed %d exceeds total %d", tracker.ProcessedRecords, tracker.TotalRecords)
		}
	}

	if tracker.Status != domain.TrackerCompleted {
		t.Fatalf("expected Completed, got %s", tracker.Status)
	}
	if tracker.CompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}
}

func TestTrackerOverflowRejected(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tracker := newTracker(t, 10, 10)
	tracker.Start(now)

	if err := tracker.UpdateProgress(1, domain.BatchResult{Completed: 10}, now.Add(time.Minute)); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := tracker.UpdateProgress(2, domain.BatchResult{Completed: 1}, now.Add(2*time.Minute)); err == nil {
		t.Fatal("expected overflow to be rejected")
	}
}

func TestTrackerTerminalTransitionOnce(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tracker := newTracker(t, 10, 5)
	tracker.Start(now)

	if err := tracker.UpdateProgress(1, domain.BatchResult{Completed: 5}, now.Add(time.Minute)); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := tracker.UpdateProgress(2, domain.BatchResult{Completed: 5}, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if tracker.Status != domain.TrackerCompleted {
		t.Fatalf("expected Completed, got %s", tracker.Status)
	}

	if err := tracker.UpdateProgress(3, domain.BatchResult{Completed: 1}, now.Add(3*time.Minute)); err == nil {
		t.Fatal("expected update on terminal tracker to be rejected")
	}
}

func TestTrackerAllFailedMarksFailed(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tracker := newTracker(t, 5, 5)
	tracker.Start(now)

	err := tracker.UpdateProgress(1, domain.BatchResult{
		Failed:         5,
		FailedRequests: []string{"a", "b", "c", "d", "e"},
	}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if tracker.Status != domain.TrackerFailed {
		t.Fatalf("expected Failed, got %s", tracker.Status)
	}
}

func TestTrackerDuplicateBatchIgnored(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tracker := newTracker(t, 2, 1)
	tracker.Start(now)

	result := domain.BatchResult{
		BatchNumber:   1,
		TotalRequests: 1,
		Completed:     1,
	}
	if err := tracker.UpdateProgress(1, result, now.Add(time.Minute)); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	// The queue delivers at least once: a re-claimed batch job applies
	// the same result again and must change nothing.
	if err := tracker.UpdateProgress(1, result, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("duplicate update must be a no-op, got %v", err)
	}

	if tracker.SuccessfulRecords != 1 || tracker.ProcessedRecords != 1 {
		t.Fatalf("duplicate batch counted twice: successful=%d processed=%d",
			tracker.SuccessfulRecords, tracker.ProcessedRecords)
	}
	if tracker.Status != domain.TrackerProcessing {
		t.Fatalf("expected Processing with one batch outstanding, got %s", tracker.Status)
	}
	if len(tracker.BatchDetails) != 1 {
		t.Fatalf("expected one batch detail, got %d", len(tracker.BatchDetails))
	}

	// The outstanding batch can still complete the run.
	if err := tracker.UpdateProgress(2, domain.BatchResult{Completed: 1}, now.Add(3*time.Minute)); err != nil {
		t.Fatalf("second batch failed: %v", err)
	}
	if tracker.Status != domain.TrackerCompleted {
		t.Fatalf("expected Completed, got %s", tracker.Status)
	}
}

func TestTrackerRetryQueueDeduplication(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tracker := newTracker(t, 100, 10)
	tracker.Start(now)

	if err := tracker.UpdateProgress(1, domain.BatchResult{
		Completed:      7,
		Failed:         3,
		FailedRequests: []string{"req-1", "req-2", "req-3"},
	}, now.Add(time.Minute)); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := tracker.UpdateProgress(2, domain.BatchResult{
		Completed:      8,
		Failed:         2,
		FailedRequests: []string{"req-2", "req-4"},
	}, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	queue := tracker.RetryRequests()
	want := []string{"req-1", "req-2", "req-3", "req-4"}
	if len(queue) != len(want) {
		t.Fatalf("expected %d queued retries, got %d: %v", len(want), len(queue), queue)
	}
	for i, id := range want {
		if queue[i] != id {
			t.Fatalf("expected %s at %d, got %s", id, i, queue[i])
		}
	}

	tracker.RemoveFromRetryQueue([]string{"req-2", "req-3"})
	queue = tracker.RetryRequests()
	if len(queue) != 2 || queue[0] != "req-1" || queue[1] != "req-4" {
		t.Fatalf("unexpected queue after removal: %v", queue)
	}
}

func TestTrackerOutOfOrderBatches(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tracker := newTracker(t, 30, 10)
	tracker.Start(now)

	for _, batch := range []int{3, 1, 2} {
		if err := tracker.UpdateProgress(batch, domain.BatchResult{Completed: 10}, now.Add(time.Minute)); err != nil {
			t.Fatalf("update %d failed: %v", batch, err)
		}
	}

	if tracker.CurrentBatch != 3 {
		t.Fatalf("expected current batch 3, got %d", tracker.CurrentBatch)
	}
	if tracker.Status != domain.TrackerCompleted {
		t.Fatalf("expected Completed, got %s", tracker.Status)
	}
}

func TestTrackerErrorSummaryTruncation(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tracker := newTracker(t, 1000, 50)
	tracker.Start(now)

	errs := make([]string, 150)
	for i := range errs {
		errs[i] = fmt.Sprintf("req-%03d: simulated failure", i)
	}
	if err := tracker.UpdateProgress(1, domain.BatchResult{Completed: 10, Failed: 40, Errors: errs}, now.Add(time.Minute)); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	report := tracker.ErrorReport()
	if len(report) != 101 {
		t.Fatalf("expected 101 report lines, got %d", len(report))
	}
	if !strings.Contains(report[0], "last 100 errors") {
		t.Fatalf("expected truncation marker, got %q", report[0])
	}
	if report[len(report)-1] != "req-149: simulated failure" {
		t.Fatalf("expected newest error last, got %q", report[len(report)-1])
	}
}

func TestTrackerRateAndETA(t *testing.T) {
	t.Parallel()

	start := time.Now()
	tracker := newTracker(t, 1000, 50)
	tracker.Start(start)

	now := start.Add(10 * time.Minute)
	if err := tracker.UpdateProgress(1, domain.BatchResult{Completed: 180, Failed: 20}, now); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if tracker.ProcessingRatePerMinute < 19.9 || tracker.ProcessingRatePerMinute > 20.1 {
		t.Fatalf("expected ~20/min, got %f", tracker.ProcessingRatePerMinute)
	}
	if tracker.EstimatedCompletion == nil {
		t.Fatal("expected an ETA while incomplete")
	}

	// 800 remaining at 20/min is 40 more minutes.
	want := now.Add(40 * time.Minute)
	got := *tracker.EstimatedCompletion
	if got.Before(want.Add(-time.Minute)) || got.After(want.Add(time.Minute)) {
		t.Fatalf("expected ETA near %v, got %v", want, got)
	}

	if tracker.ProgressPercentage() != 20.0 {
		t.Fatalf("expected 20%%, got %f", tracker.ProgressPercentage())
	}
}
