package provisioning

import (
	"fmt"
	"time"
)

type TrackerStatus string

const (
	TrackerQueued     TrackerStatus = "Queued"
	TrackerProcessing TrackerStatus = "Processing"
	TrackerCompleted  TrackerStatus = "Completed"
	TrackerFailed     TrackerStatus = "Failed"
)

const maxErrorSummary = 100

// BatchResult is the aggregate outcome of one processed batch, handed
// to the tracker by the batch worker.
type BatchResult struct {
	BatchID           string
	BatchNumber       int
	TotalRequests     int
	Completed         int
	Failed            int
	CompletedRequests []string
	FailedRequests    []string
	Errors            []string
}

type BatchDetail struct {
	BatchNumber int
	Completed   int
	Failed      int
	FinishedAt  time.Time
}

// BulkOperationTracker aggregates batch results into overall progress
// for one bulk run and holds the cross-batch retry queue.
type BulkOperationTracker struct {
	ID            string
	OperationType string
	Status        TrackerStatus

	TotalRecords int
	BatchSize    int
	TotalBatches int

	CurrentBatch      int
	ProcessedRecords  int
	SuccessfulRecords int
	FailedRecords     int

	ProcessingRatePerMinute float64
	EstimatedCompletion     *time.Time

	RetryQueue      []string
	ErrorSummary    []string
	ErrorsTruncated bool
	BatchDetails    []BatchDetail

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

func NewBulkOperationTracker(id, operationType string, totalRecords, batchSize int, now time.Time) (*BulkOperationTracker, error) {
	if totalRecords <= 0 {
		return nil, Validationf("tracker needs at least one record")
	}
	if batchSize <= 0 {
		return nil, Validationf("batch size must be positive")
	}
	return &BulkOperationTracker{
		ID:            id,
		OperationType: operationType,
		Status:        TrackerQueued,
		TotalRecords:  totalRecords,
		BatchSize:     batchSize,
		TotalBatches:  (totalRecords + batchSize - 1) / batchSize,
		CreatedAt:     now,
	}, nil
}

func (t *BulkOperationTracker) Start(now time.Time) {
	if t.StartedAt != nil {
		return
	}
	startedAt := now
	t.StartedAt = &startedAt
	t.Status = TrackerProcessing
}

// UpdateProgress folds one batch result into the tracker. Batches may
// complete out of order; only monotonic accumulation is required. The
// caller must serialize invocations (one writer at a time). Batch
// delivery is at-least-once, so a batch number that has already been
// applied is ignored rather than counted twice.
func (t *BulkOperationTracker) UpdateProgress(batchNumber int, result BatchResult, now time.Time) error {
	for _, detail := range t.BatchDetails {
		if detail.BatchNumber == batchNumber {
			return nil
		}
	}
	if t.Status == TrackerCompleted || t.Status == TrackerFailed {
		return Validationf("tracker %s is already %s", t.ID, t.Status)
	}
	if t.ProcessedRecords+result.Completed+result.Failed > t.TotalRecords {
		return Validationf("batch %d would overflow tracker %s: %d processed of %d total",
			batchNumber, t.ID, t.ProcessedRecords+result.Completed+result.Failed, t.TotalRecords)
	}

	t.SuccessfulRecords += result.Completed
	t.FailedRecords += result.Failed
	t.ProcessedRecords = t.SuccessfulRecords + t.FailedRecords
	if batchNumber > t.CurrentBatch {
		t.CurrentBatch = batchNumber
	}

	t.enqueueRetries(result.FailedRequests)
	t.appendErrors(result.Errors)
	t.BatchDetails = append(t.BatchDetails, BatchDetail{
		BatchNumber: batchNumber,
		Completed:   result.Completed,
		Failed:      result.Failed,
		FinishedAt:  now,
	})

	t.recalculate(now)

	if t.ProcessedRecords == t.TotalRecords {
		if t.SuccessfulRecords == 0 {
			t.Status = TrackerFailed
		} else {
			t.Status = TrackerCompleted
		}
		completedAt := now
		t.CompletedAt = &completedAt
		t.EstimatedCompletion = nil
	}

	return nil
}

func (t *BulkOperationTracker) ProgressPercentage() float64 {
	if t.TotalRecords == 0 {
		return 0
	}
	return float64(t.ProcessedRecords) / float64(t.TotalRecords) * 100
}

// RetryRequests returns a copy of the retry queue.
func (t *BulkOperationTracker) RetryRequests() []string {
	queue := make([]string, len(t.RetryQueue))
	copy(queue, t.RetryQueue)
	return queue
}

func (t *BulkOperationTracker) RemoveFromRetryQueue(ids []string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := t.RetryQueue[:0]
	for _, id := range t.RetryQueue {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	t.RetryQueue = kept
}

// enqueueRetries appends failed request ids, deduplicated and
// order-preserving.
func (t *BulkOperationTracker) enqueueRetries(ids []string) {
	if len(ids) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(t.RetryQueue))
	for _, id := range t.RetryQueue {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		t.RetryQueue = append(t.RetryQueue, id)
	}
}

// appendErrors keeps only the last maxErrorSummary lines so a large
// failing run cannot grow the tracker without bound.
func (t *BulkOperationTracker) appendErrors(errs []string) {
	if len(errs) == 0 {
		return
	}
	t.ErrorSummary = append(t.ErrorSummary, errs...)
	if len(t.ErrorSummary) > maxErrorSummary {
		t.ErrorSummary = t.ErrorSummary[len(t.ErrorSummary)-maxErrorSummary:]
		t.ErrorsTruncated = true
	}
}

// ErrorReport renders the error summary, with a leading marker when
// older entries have been dropped.
func (t *BulkOperationTracker) ErrorReport() []string {
	if !t.ErrorsTruncated {
		return t.ErrorSummary
	}
	report := make([]string, 0, len(t.ErrorSummary)+1)
	report = append(report, fmt.Sprintf("[Showing last %d errors, older entries truncated]", maxErrorSummary))
	return append(report, t.ErrorSummary...)
}

func (t *BulkOperationTracker) recalculate(now time.Time) {
	if t.StartedAt == nil || t.ProcessedRecords == 0 {
		return
	}
	elapsed := now.Sub(*t.StartedAt).Minutes()
	if elapsed <= 0 {
		return
	}
	t.ProcessingRatePerMinute = float64(t.ProcessedRecords) / elapsed

	remaining := t.TotalRecords - t.ProcessedRecords
	if remaining <= 0 || t.ProcessingRatePerMinute <= 0 {
		t.EstimatedCompletion = nil
		return
	}
	eta := now.Add(time.Duration(float64(remaining)/t.ProcessingRatePerMinute) * time.Minute)
	t.EstimatedCompletion = &eta
}
