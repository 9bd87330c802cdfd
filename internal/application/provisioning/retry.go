package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

const (
	retryBaseDelay = 5 * time.Minute
	retryMaxDelay  = 60 * time.Minute
)

// RetryScheduler re-enqueues retryable failures with exponential
// backoff, bounded by the request's retry cap.
type RetryScheduler struct {
	requests requestStore
	queue    domain.JobQueue
	logger   *zap.Logger
}

func NewRetryScheduler(requests requestStore, queue domain.JobQueue, logger *zap.Logger) *RetryScheduler {
	return &RetryScheduler{requests: requests, queue: queue, logger: logger}
}

// Delay returns the backoff before attempt retryCount+1. No jitter,
// so the schedule is deterministic: 5m, 10m, 20m, capped at 60m.
func (s *RetryScheduler) Delay(retryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryBaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = retryMaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < retryCount; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// Schedule enqueues a deferred reprocessing of the request. The retry
// count is incremented and persisted before the enqueue, so a crash in
// between cannot cause unbounded retries.
func (s *RetryScheduler) Schedule(ctx context.Context, req *domain.AccountCreationRequest, principal domain.Principal) error {
	return s.resubmit(ctx, req, principal, s.Delay(req.RetryCount))
}

// Resubmit is the manual retry-pass variant: the backoff age has
// already elapsed, so the request is enqueued without further delay.
func (s *RetryScheduler) Resubmit(ctx context.Context, req *domain.AccountCreationRequest, principal domain.Principal) error {
	return s.resubmit(ctx, req, principal, 0)
}

func (s *RetryScheduler) resubmit(ctx context.Context, req *domain.AccountCreationRequest, principal domain.Principal, delay time.Duration) error {
	if !req.CanRetry() {
		return fmt.Errorf("%w: request %s has used %d of %d attempts",
			ErrRetryLimitReached, req.ID, req.RetryCount, domain.MaxRetries)
	}

	req.RetryCount++
	now := time.Now()
	req.LastRetryAt = &now
	if err := s.requests.Save(ctx, req); err != nil {
		return fmt.Errorf("persist retry count: %w", err)
	}

	if err := s.queue.EnqueueRequest(ctx, req.ID, principal, delay); err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}

	// Once the job queue owns the request again it reads Queued; the
	// failure details stay on the record for the next attempt.
	if err := req.MarkQueued(); err != nil {
		return fmt.Errorf("mark retry queued: %w", err)
	}
	if err := s.requests.Save(ctx, req); err != nil {
		return fmt.Errorf("persist queued status: %w", err)
	}

	s.logger.Info("scheduled retry",
		zap.String("request_id", req.ID),
		zap.Int("retry_count", req.RetryCount),
		zap.Duration("delay", delay))
	return nil
}

// Eligible reports whether a failed request may be resubmitted by a
// manual retry pass: still failed, under the cap, and past the backoff
// window of its last attempt.
func (s *RetryScheduler) Eligible(req *domain.AccountCreationRequest, now time.Time) bool {
	if req.Status != domain.StatusFailed || !req.CanRetry() {
		return false
	}
	if req.RetryCount == 0 || req.LastRetryAt == nil {
		return true
	}
	return now.Sub(*req.LastRetryAt) >= s.Delay(req.RetryCount-1)
}
