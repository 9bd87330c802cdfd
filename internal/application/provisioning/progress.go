package provisioning

import (
	"context"
	"time"

	"go.uber.org/zap"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

type trackerStore interface {
	trackerProgressStore
	Get(ctx context.Context, id string) (*domain.BulkOperationTracker, error)
	RemoveFromRetryQueue(ctx context.Context, trackerID string, ids []string) error
}

// TrackerService exposes the read-only progress view and the manual
// retry pass over a tracker's persisted retry queue.
type TrackerService struct {
	trackers trackerStore
	requests requestStore
	retries  *RetryScheduler
	policy   domain.PermissionPolicy
	logger   *zap.Logger
}

func NewTrackerService(trackers trackerStore, requests requestStore, retries *RetryScheduler, policy domain.PermissionPolicy, logger *zap.Logger) *TrackerService {
	return &TrackerService{
		trackers: trackers,
		requests: requests,
		retries:  retries,
		policy:   policy,
		logger:   logger,
	}
}

type Progress struct {
	TrackerID           string
	Status              domain.TrackerStatus
	Percentage          float64
	RatePerMinute       float64
	EstimatedCompletion *time.Time
	TotalRecords        int
	ProcessedRecords    int
	SuccessfulRecords   int
	FailedRecords       int
	CurrentBatch        int
	TotalBatches        int
	RetryQueueLength    int
	Errors              []string
}

func (s *TrackerService) GetProgress(ctx context.Context, trackerID string) (Progress, error) {
	tracker, err := s.trackers.Get(ctx, trackerID)
	if err != nil {
		return Progress{}, err
	}
	return Progress{
		TrackerID:           tracker.ID,
		Status:              tracker.Status,
		Percentage:          tracker.ProgressPercentage(),
		RatePerMinute:       tracker.ProcessingRatePerMinute,
		EstimatedCompletion: tracker.EstimatedCompletion,
		TotalRecords:        tracker.TotalRecords,
		ProcessedRecords:    tracker.ProcessedRecords,
		SuccessfulRecords:   tracker.SuccessfulRecords,
		FailedRecords:       tracker.FailedRecords,
		CurrentBatch:        tracker.CurrentBatch,
		TotalBatches:        tracker.TotalBatches,
		RetryQueueLength:    len(tracker.RetryQueue),
		Errors:              tracker.ErrorReport(),
	}, nil
}

type RetryPassResult struct {
	Processed int
	Succeeded int
	Failed    int
}

// RetryTracker walks the tracker's retry queue and resubmits every
// request that is still failed, under the retry cap, and past its
// backoff window. Everything else counts as failed in the pass result.
func (s *TrackerService) RetryTracker(ctx context.Context, principal domain.Principal, trackerID string) (RetryPassResult, error) {
	if !s.policy.CanCreateUsers(principal) {
		return RetryPassResult{}, domain.Permissionf("principal %s cannot retry account creation", principal.Email)
	}

	tracker, err := s.trackers.Get(ctx, trackerID)
	if err != nil {
		return RetryPassResult{}, err
	}

	now := time.Now()
	var result RetryPassResult
	var resubmitted []string
	for _, requestID := range tracker.RetryRequests() {
		result.Processed++

		req, err := s.requests.Get(ctx, requestID)
		if err != nil {
			s.logger.Warn("retry pass: request unavailable",
				zap.String("request_id", requestID), zap.Error(err))
			result.Failed++
			continue
		}
		if !s.retries.Eligible(req, now) {
			result.Failed++
			continue
		}
		if err := s.retries.Resubmit(ctx, req, principal); err != nil {
			s.logger.Warn("retry pass: resubmit failed",
				zap.String("request_id", requestID), zap.Error(err))
			result.Failed++
			continue
		}
		result.Succeeded++
		resubmitted = append(resubmitted, requestID)
	}

	if len(resubmitted) > 0 {
		if err := s.trackers.RemoveFromRetryQueue(ctx, trackerID, resubmitted); err != nil {
			s.logger.Error("retry pass: prune retry queue failed",
				zap.String("tracker_id", trackerID), zap.Error(err))
		}
	}

	s.logger.Info("retry pass finished",
		zap.String("tracker_id", trackerID),
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed))
	return result, nil
}

// RetrySingle resets one failed request and enqueues it immediately,
// the administrative single-request path.
func (s *TrackerService) RetrySingle(ctx context.Context, principal domain.Principal, requestID string) error {
	if !s.policy.CanCreateUsers(principal) {
		return domain.Permissionf("principal %s cannot retry account creation", principal.Email)
	}

	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != domain.StatusFailed {
		return domain.Validationf("request %s is not failed", requestID)
	}
	return s.retries.Resubmit(ctx, req, principal)
}
