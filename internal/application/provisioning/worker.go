package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

type workerJobStore interface {
	ClaimNext(ctx context.Context, leaseDuration time.Duration) (*domain.QueuedJob, error)
	Heartbeat(ctx context.Context, jobID string, leaseDuration time.Duration) error
	Complete(ctx context.Context, jobID string) error
	Requeue(ctx context.Context, jobID string, reason string) error
	Fail(ctx context.Context, jobID string, reason string) error
}

type WorkerConfig struct {
	Workers           int
	PollInterval      time.Duration
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
}

// Worker is the dispatch loop between the durable job queue and the
// pipeline/batch entry points. Jobs are claimed under a lease and
// heartbeated while running; a crashed worker's jobs become claimable
// again once the lease expires.
type Worker struct {
	jobs     workerJobStore
	pipeline *Pipeline
	batches  *BatchProcessor
	cfg      WorkerConfig
	logger   *zap.Logger

	once sync.Once
}

func NewWorker(jobs workerJobStore, pipeline *Pipeline, batches *BatchProcessor, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 60 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.LeaseDuration / 2
	}

	return &Worker{
		jobs:     jobs,
		pipeline: pipeline,
		batches:  batches,
		cfg:      cfg,
		logger:   logger,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.once.Do(func() {
		for i := 0; i < w.cfg.Workers; i++ {
			go w.workerLoop(ctx)
		}
	})
}

func (w *Worker) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.jobs.ClaimNext(ctx, w.cfg.LeaseDuration)
		if err != nil {
			w.logger.Error("claim next job failed", zap.Error(err))
			if !sleepWithContext(ctx, w.cfg.PollInterval) {
				return
			}
			continue
		}

		if job == nil {
			if !sleepWithContext(ctx, w.cfg.PollInterval) {
				return
			}
			continue
		}

		if err := w.RunJob(ctx, *job); err != nil {
			w.logger.Error("job failed",
				zap.String("job_id", job.ID),
				zap.String("kind", job.Kind),
				zap.Error(err))
		}
	}
}

func (w *Worker) RunJob(ctx context.Context, job domain.QueuedJob) error {
	done := make(chan error, 1)
	go func() {
		done <- w.dispatch(ctx, job)
	}()

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return w.finishJob(ctx, job, err)
		case <-ticker.C:
			if err := w.jobs.Heartbeat(ctx, job.ID, w.cfg.LeaseDuration); err != nil {
				w.logger.Warn("job heartbeat failed",
					zap.String("job_id", job.ID), zap.Error(err))
			}
		}
	}
}

// dispatch routes the job to its entry point. Business failures are
// handled inside the pipeline (request state + retry scheduler) and
// must not fail the job itself, or they would be retried twice.
func (w *Worker) dispatch(ctx context.Context, job domain.QueuedJob) error {
	switch job.Kind {
	case domain.JobKindProcessRequest:
		var payload domain.RequestJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode request payload: %w", err)
		}
		w.pipeline.ProcessRequest(ctx, payload.Principal.ToPrincipal(), payload.RequestID)
		return nil

	case domain.JobKindProcessBatch:
		var payload domain.BatchJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode batch payload: %w", err)
		}
		_, err := w.batches.ProcessBatch(ctx, payload.Principal.ToPrincipal(), domain.BatchJob{
			BatchID:     payload.BatchID,
			BatchNumber: payload.BatchNumber,
			TrackerID:   payload.TrackerID,
			RequestIDs:  payload.RequestIDs,
		})
		return err

	default:
		return fmt.Errorf("unknown job kind: %s", job.Kind)
	}
}

func (w *Worker) finishJob(ctx context.Context, job domain.QueuedJob, jobErr error) error {
	ctx = context.WithoutCancel(ctx)

	if jobErr == nil {
		if err := w.jobs.Complete(ctx, job.ID); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		return nil
	}

	reason := truncateReason(jobErr.Error())
	if job.Attempts < job.MaxAttempts {
		if requeueErr := w.jobs.Requeue(ctx, job.ID, reason); requeueErr != nil {
			return fmt.Errorf("%v; requeue failed: %w", jobErr, requeueErr)
		}
		return jobErr
	}

	if failErr := w.jobs.Fail(ctx, job.ID, reason); failErr != nil {
		return fmt.Errorf("%v; fail update failed: %w", jobErr, failErr)
	}
	return jobErr
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func truncateReason(reason string) string {
	const maxLen = 1000
	reason = strings.TrimSpace(reason)
	if len(reason) <= maxLen {
		return reason
	}
	return reason[:maxLen]
}
