package repository_test

import (
	"context"
	"testing"
	"time"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
	"github.com/openassoc/account-provisioning/internal/infrastructure/repository"
)

const trackerTableSQL = `
    CREATE TABLE IF NOT EXISTS bulk_operation_trackers (
      id UUID PRIMARY KEY,
      operation_type TEXT NOT NULL,
      status TEXT NOT NULL,
      total_records INT NOT NULL,
      batch_size INT NOT NULL,
      total_batches INT NOT NULL,
      current_batch INT NOT NULL DEFAULT 0,
      processed_records INT NOT NULL DEFAULT 0,
      successful_records INT NOT NULL DEFAULT 0,
      failed_records INT NOT NULL DEFAULT 0,
      processing_rate_per_minute DOUBLE PRECISION NOT NULL DEFAULT 0,
      estimated_completion TIMESTAMPTZ,
      retry_queue TEXT NOT NULL DEFAULT '[]',
      error_summary TEXT NOT NULL DEFAULT '[]',
      errors_truncated BOOLEAN NOT NULL DEFAULT FALSE,
      batch_details TEXT NOT NULL DEFAULT '[]',
      started_at TIMESTAMPTZ,
      completed_at TIMESTAMPTZ,
      created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
      updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    `

func TestBulkTrackerRepositoryProgressIntegration(t *testing.T) {
	db := openTestDB(t)

	if err := db.Exec(trackerTableSQL).Error; err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	if err := db.Exec("DELETE FROM bulk_operation_trackers").Error; err != nil {
		t.Fatalf("failed to cleanup: %v", err)
	}

	repo := repository.NewBulkTrackerRepository(db)
	ctx := context.Background()

	tracker, err := domain.NewBulkOperationTracker(
		"b4b82c1e-0000-4000-8000-000000000001", "Account Creation", 100, 50, time.Now())
	if err != nil {
		t.Fatalf("new tracker failed: %v", err)
	}
	tracker.Start(time.Now())
	if err := repo.Create(ctx, tracker); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := repo.ApplyProgress(ctx, tracker.ID, 1, domain.BatchResult{
		Completed:      48,
		Failed:         2,
		FailedRequests: []string{"req-1", "req-2"},
		Errors:         []string{"req-1: timeout", "req-2: timeout"},
	})
	if err != nil {
		t.Fatalf("apply progress failed: %v", err)
	}
	if updated.ProcessedRecords != 50 || updated.SuccessfulRecords != 48 {
		t.Fatalf("unexpected counts: %+v", updated)
	}

	loaded, err := repo.Get(ctx, tracker.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.ProcessedRecords != 50 || len(loaded.RetryQueue) != 2 || len(loaded.ErrorSummary) != 2 {
		t.Fatalf("tracker did not round-trip: %+v", loaded)
	}

	if err := repo.RemoveFromRetryQueue(ctx, tracker.ID, []string{"req-1"}); err != nil {
		t.Fatalf("remove from retry queue failed: %v", err)
	}
	loaded, err = repo.Get(ctx, tracker.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(loaded.RetryQueue) != 1 || loaded.RetryQueue[0] != "req-2" {
		t.Fatalf("expected only req-2 queued, got %v", loaded.RetryQueue)
	}

	if _, err := repo.ApplyProgress(ctx, tracker.ID, 2, domain.BatchResult{
		Completed: 50,
	}); err != nil {
		t.Fatalf("apply final progress failed: %v", err)
	}
	loaded, err = repo.Get(ctx, tracker.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loaded.Status != domain.TrackerCompleted {
		t.Fatalf("expected completed tracker, got %s", loaded.Status)
	}
}
