package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
	"github.com/openassoc/account-provisioning/internal/infrastructure/db/models"
)

const defaultJobMaxAttempts = 3

// JobQueueRepository is the durable background queue: the enqueue side
// implements the application's JobQueue port, the claim side feeds the
// worker loop. Claims take a lease so a crashed worker's job becomes
// claimable again once the lease expires.
type JobQueueRepository struct {
	db *gorm.DB
}

func NewJobQueueRepository(db *gorm.DB) *JobQueueRepository {
	return &JobQueueRepository{db: db}
}

func (r *JobQueueRepository) EnqueueRequest(ctx context.Context, requestID string, principal domain.Principal, delay time.Duration) error {
	payload, err := json.Marshal(domain.RequestJobPayload{
		RequestID: requestID,
		Principal: domain.PrincipalPayload(principal),
	})
	if err != nil {
		return fmt.Errorf("encode request job payload: %w", err)
	}
	return r.enqueue(ctx, domain.JobKindProcessRequest, payload, delay)
}

func (r *JobQueueRepository) EnqueueBatch(ctx context.Context, batch domain.BatchJob, principal domain.Principal) error {
	payload, err := json.Marshal(domain.BatchJobPayload{
		BatchID:     batch.BatchID,
		BatchNumber: batch.BatchNumber,
		TrackerID:   batch.TrackerID,
		RequestIDs:  batch.RequestIDs,
		Principal:   domain.PrincipalPayload(principal),
	})
	if err != nil {
		return fmt.Errorf("encode batch job payload: %w", err)
	}
	return r.enqueue(ctx, domain.JobKindProcessBatch, payload, 0)
}

func (r *JobQueueRepository) enqueue(ctx context.Context, kind string, payload []byte, delay time.Duration) error {
	job := models.ProvisioningJob{
		Kind:        kind,
		Payload:     string(payload),
		Status:      "queued",
		MaxAttempts: defaultJobMaxAttempts,
		RunAt:       time.Now().Add(delay),
	}
	if err := r.db.WithContext(ctx).Create(&job).Error; err != nil {
		return fmt.Errorf("enqueue %s job: %w", kind, err)
	}
	return nil
}

// ClaimNext picks the oldest due job, marks it running under a lease,
// and returns it. It returns nil when nothing is due. SKIP LOCKED keeps
// concurrent workers from fighting over the same row.
func (r *JobQueueRepository) ClaimNext(ctx context.Context, leaseDuration time.Duration) (*domain.QueuedJob, error) {
	row := r.db.WithContext(ctx).Raw(`
UPDATE provisioning_jobs
SET status = 'running',
    attempts = attempts + 1,
    started_at = COALESCE(started_at, NOW()),
    heartbeat_at = NOW(),
    lease_expires_at = NOW() + (? * INTERVAL '1 second'),
    updated_at = NOW()
WHERE id = (
    SELECT id FROM provisioning_jobs
    WHERE run_at <= NOW()
      AND (status = 'queued' OR (status = 'running' AND lease_expires_at < NOW()))
    ORDER BY run_at, created_at
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING id, kind, payload, attempts, max_attempts, run_at
`, leaseDuration.Seconds()).Row()

	var job domain.QueuedJob
	var payload string
	err := row.Scan(&job.ID, &job.Kind, &payload, &job.Attempts, &job.MaxAttempts, &job.RunAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	job.Payload = []byte(payload)
	return &job, nil
}

func (r *JobQueueRepository) Heartbeat(ctx context.Context, jobID string, leaseDuration time.Duration) error {
	result := r.db.WithContext(ctx).Exec(`
UPDATE provisioning_jobs
SET heartbeat_at = NOW(),
    lease_expires_at = NOW() + (? * INTERVAL '1 second'),
    updated_at = NOW()
WHERE id = ? AND status = 'running'
`, leaseDuration.Seconds(), jobID)
	if result.Error != nil {
		return fmt.Errorf("heartbeat job %s: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("heartbeat job %s: job is no longer running", jobID)
	}
	return nil
}

func (r *JobQueueRepository) Complete(ctx context.Context, jobID string) error {
	err := r.db.WithContext(ctx).Exec(`
UPDATE provisioning_jobs
SET status = 'succeeded',
    finished_at = NOW(),
    lease_expires_at = NULL,
    updated_at = NOW()
WHERE id = ?
`, jobID).Error
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return nil
}

func (r *JobQueueRepository) Requeue(ctx context.Context, jobID string, reason string) error {
	err := r.db.WithContext(ctx).Exec(`
UPDATE provisioning_jobs
SET status = 'queued',
    error_message = ?,
    heartbeat_at = NULL,
    lease_expires_at = NULL,
    run_at = NOW(),
    updated_at = NOW()
WHERE id = ?
`, reason, jobID).Error
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", jobID, err)
	}
	return nil
}

func (r *JobQueueRepository) Fail(ctx context.Context, jobID string, reason string) error {
	err := r.db.WithContext(ctx).Exec(`
UPDATE provisioning_jobs
SET status = 'failed',
    error_message = ?,
    finished_at = NOW(),
    lease_expires_at = NULL,
    updated_at = NOW()
WHERE id = ?
`, reason, jobID).Error
	if err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return nil
}
