package models

import "time"

type BulkOperationTracker struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	OperationType string `gorm:"type:text;not null"`
	Status        string `gorm:"type:text;not null"`

	TotalRecords int `gorm:"not null"`
	BatchSize    int `gorm:"not null"`
	TotalBatches int `gorm:"not null"`

	CurrentBatch      int `gorm:"not null;default:0"`
	ProcessedRecords  int `gorm:"not null;default:0"`
	SuccessfulRecords int `gorm:"not null;default:0"`
	FailedRecords     int `gorm:"not null;default:0"`

	ProcessingRatePerMinute float64 `gorm:"not null;default:0"`
	EstimatedCompletion     *time.Time

	RetryQueue      string `gorm:"type:text;not null;default:'[]'"`
	ErrorSummary    string `gorm:"type:text;not null;default:'[]'"`
	ErrorsTruncated bool   `gorm:"not null;default:false"`
	BatchDetails    string `gorm:"type:text;not null;default:'[]'"`

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (BulkOperationTracker) TableName() string {
	return "bulk_operation_trackers"
}
