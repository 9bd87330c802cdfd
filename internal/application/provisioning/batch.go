package provisioning

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

const defaultBatchWorkers = 5

type trackerProgressStore interface {
	ApplyProgress(ctx context.Context, trackerID string, batchNumber int, result domain.BatchResult) (*domain.BulkOperationTracker, error)
}

// BatchProcessor runs the pipeline for every request in a batch with
// bounded parallelism. One request's failure never aborts its
// siblings or the batch.
type BatchProcessor struct {
	pipeline *Pipeline
	trackers trackerProgressStore
	workers  int
	logger   *zap.Logger
}

func NewBatchProcessor(pipeline *Pipeline, trackers trackerProgressStore, workers int, logger *zap.Logger) *BatchProcessor {
	if workers <= 0 {
		workers = defaultBatchWorkers
	}
	return &BatchProcessor{
		pipeline: pipeline,
		trackers: trackers,
		workers:  workers,
		logger:   logger,
	}
}

// ProcessBatch is the batch entry point invoked by the job queue.
// Workers feed a mutex-guarded accumulator; completion order across
// workers is unspecified.
func (b *BatchProcessor) ProcessBatch(ctx context.Context, principal domain.Principal, job domain.BatchJob) (domain.BatchResult, error) {
	result := domain.BatchResult{
		BatchID:       job.BatchID,
		BatchNumber:   job.BatchNumber,
		TotalRequests: len(job.RequestIDs),
	}

	var mu sync.Mutex
	processed := make(map[string]struct{}, len(job.RequestIDs))

	workers := min(b.workers, len(job.RequestIDs))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(workers)
	for _, requestID := range job.RequestIDs {
		requestID := requestID
		p.Go(func(ctx context.Context) error {
			outcome := b.pipeline.ProcessRequest(ctx, principal, requestID)

			mu.Lock()
			defer mu.Unlock()
			processed[requestID] = struct{}{}
			if outcome.Success {
				result.Completed++
				result.CompletedRequests = append(result.CompletedRequests, requestID)
			} else {
				result.Failed++
				result.FailedRequests = append(result.FailedRequests, requestID)
				result.Errors = append(result.Errors, requestID+": "+outcome.Error)
			}
			return nil
		})
	}
	waitErr := p.Wait()

	// Degraded mode: requests the pool never reached are marked failed
	// with a system-error reason instead of crashing the bulk run.
	if len(processed) < len(job.RequestIDs) {
		reason := "system error: batch aborted"
		if waitErr != nil {
			reason = "system error: " + waitErr.Error()
		}
		for _, requestID := range job.RequestIDs {
			if _, ok := processed[requestID]; ok {
				continue
			}
			result.Failed++
			result.FailedRequests = append(result.FailedRequests, requestID)
			result.Errors = append(result.Errors, requestID+": "+reason)
		}
	}

	b.logger.Info("batch processed",
		zap.String("batch_id", job.BatchID),
		zap.Int("batch_number", job.BatchNumber),
		zap.Int("completed", result.Completed),
		zap.Int("failed", result.Failed))

	// Progress must land even when the batch context has expired.
	if _, err := b.trackers.ApplyProgress(context.WithoutCancel(ctx), job.TrackerID, job.BatchNumber, result); err != nil {
		return result, fmt.Errorf("update tracker progress: %w", err)
	}
	return result, nil
}
