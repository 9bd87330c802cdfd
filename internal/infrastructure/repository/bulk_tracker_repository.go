package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
	"github.com/openassoc/account-provisioning/internal/infrastructure/db/models"
)

type BulkTrackerRepository struct {
	db *gorm.DB
}

func NewBulkTrackerRepository(db *gorm.DB) *BulkTrackerRepository {
	return &BulkTrackerRepository{db: db}
}

func (r *BulkTrackerRepository) Create(ctx context.Context, tracker *domain.BulkOperationTracker) error {
	row, err := trackerToModel(tracker)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("create tracker %s: %w", tracker.ID, err)
	}
	return nil
}

func (r *BulkTrackerRepository) Get(ctx context.Context, id string) (*domain.BulkOperationTracker, error) {
	var row models.BulkOperationTracker
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundf("bulk operation tracker %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load tracker %s: %w", id, err)
	}
	return trackerFromModel(&row)
}

// ApplyProgress folds one batch result into the tracker under a row
// lock. Concurrent batches finishing at the same time serialize here,
// which is what keeps the tracker's accumulation monotonic.
func (r *BulkTrackerRepository) ApplyProgress(ctx context.Context, trackerID string, batchNumber int, result domain.BatchResult) (*domain.BulkOperationTracker, error) {
	var tracker *domain.BulkOperationTracker
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.BulkOperationTracker
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "id = ?", trackerID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NotFoundf("bulk operation tracker %s not found", trackerID)
		}
		if err != nil {
			return fmt.Errorf("lock tracker %s: %w", trackerID, err)
		}

		tracker, err = trackerFromModel(&row)
		if err != nil {
			return err
		}
		if err := tracker.UpdateProgress(batchNumber, result, time.Now()); err != nil {
			return err
		}

		updated, err := trackerToModel(tracker)
		if err != nil {
			return err
		}
		if err := tx.Save(updated).Error; err != nil {
			return fmt.Errorf("save tracker %s: %w", trackerID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tracker, nil
}

func (r *BulkTrackerRepository) RemoveFromRetryQueue(ctx context.Context, trackerID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.BulkOperationTracker
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "id = ?", trackerID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NotFoundf("bulk operation tracker %s not found", trackerID)
		}
		if err != nil {
			return fmt.Errorf("lock tracker %s: %w", trackerID, err)
		}

		tracker, err := trackerFromModel(&row)
		if err != nil {
			return err
		}
		tracker.RemoveFromRetryQueue(ids)

		updated, err := trackerToModel(tracker)
		if err != nil {
			return err
		}
		if err := tx.Save(updated).Error; err != nil {
			return fmt.Errorf("save tracker %s: %w", trackerID, err)
		}
		return nil
	})
}

func trackerToModel(tracker *domain.BulkOperationTracker) (*models.BulkOperationTracker, error) {
	retryQueue, err := json.Marshal(emptyIfNil(tracker.RetryQueue))
	if err != nil {
		return nil, fmt.Errorf("encode retry queue: %w", err)
	}
	errorSummary, err := json.Marshal(emptyIfNil(tracker.ErrorSummary))
	if err != nil {
		return nil, fmt.Errorf("encode error summary: %w", err)
	}
	details := tracker.BatchDetails
	if details == nil {
		details = []domain.BatchDetail{}
	}
	batchDetails, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode batch details: %w", err)
	}

	return &models.BulkOperationTracker{
		ID:                      tracker.ID,
		OperationType:           tracker.OperationType,
		Status:                  string(tracker.Status),
		TotalRecords:            tracker.TotalRecords,
		BatchSize:               tracker.BatchSize,
		TotalBatches:            tracker.TotalBatches,
		CurrentBatch:            tracker.CurrentBatch,
		ProcessedRecords:        tracker.ProcessedRecords,
		SuccessfulRecords:       tracker.SuccessfulRecords,
		FailedRecords:           tracker.FailedRecords,
		ProcessingRatePerMinute: tracker.ProcessingRatePerMinute,
		EstimatedCompletion:     cloneTime(tracker.EstimatedCompletion),
		RetryQueue:              string(retryQueue),
		ErrorSummary:            string(errorSummary),
		ErrorsTruncated:         tracker.ErrorsTruncated,
		BatchDetails:            string(batchDetails),
		StartedAt:               cloneTime(tracker.StartedAt),
		CompletedAt:             cloneTime(tracker.CompletedAt),
		CreatedAt:               tracker.CreatedAt,
	}, nil
}

func trackerFromModel(row *models.BulkOperationTracker) (*domain.BulkOperationTracker, error) {
	var retryQueue []string
	if row.RetryQueue != "" {
		if err := json.Unmarshal([]byte(row.RetryQueue), &retryQueue); err != nil {
			return nil, fmt.Errorf("decode retry queue for %s: %w", row.ID, err)
		}
	}
	var errorSummary []string
	if row.ErrorSummary != "" {
		if err := json.Unmarshal([]byte(row.ErrorSummary), &errorSummary); err != nil {
			return nil, fmt.Errorf("decode error summary for %s: %w", row.ID, err)
		}
	}
	var batchDetails []domain.BatchDetail
	if row.BatchDetails != "" {
		if err := json.Unmarshal([]byte(row.BatchDetails), &batchDetails); err != nil {
			return nil, fmt.Errorf("decode batch details for %s: %w", row.ID, err)
		}
	}

	return &domain.BulkOperationTracker{
		ID:                      row.ID,
		OperationType:           row.OperationType,
		Status:                  domain.TrackerStatus(row.Status),
		TotalRecords:            row.TotalRecords,
		BatchSize:               row.BatchSize,
		TotalBatches:            row.TotalBatches,
		CurrentBatch:            row.CurrentBatch,
		ProcessedRecords:        row.ProcessedRecords,
		SuccessfulRecords:       row.SuccessfulRecords,
		FailedRecords:           row.FailedRecords,
		ProcessingRatePerMinute: row.ProcessingRatePerMinute,
		EstimatedCompletion:     cloneTime(row.EstimatedCompletion),
		RetryQueue:              retryQueue,
		ErrorSummary:            errorSummary,
		ErrorsTruncated:         row.ErrorsTruncated,
		BatchDetails:            batchDetails,
		StartedAt:               cloneTime(row.StartedAt),
		CompletedAt:             cloneTime(row.CompletedAt),
		CreatedAt:               row.CreatedAt,
	}, nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
