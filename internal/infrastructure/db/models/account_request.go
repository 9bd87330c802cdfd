package models

import "time"

type AccountCreationRequest struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	RequestType     string `gorm:"type:text;not null"`
	SourceRecord    string `gorm:"type:text;not null;index"`
	Email           string `gorm:"type:text;not null"`
	FullName        string `gorm:"type:text;not null"`
	RequestedRoles  string `gorm:"type:text;not null;default:'[]'"`
	RoleProfile     string `gorm:"type:text"`
	Priority        string `gorm:"type:text;not null;default:'Normal'"`
	Status          string `gorm:"type:text;not null;index"`
	PipelineStage   string `gorm:"type:text"`
	CreatedUser     string `gorm:"type:text"`
	CreatedEmployee string `gorm:"type:text"`
	RetryCount      int    `gorm:"not null;default:0"`
	FailureReason   string `gorm:"type:text"`

	LastRetryAt         *time.Time
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time

	RequestedBy string `gorm:"type:text;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (AccountCreationRequest) TableName() string {
	return "account_creation_requests"
}
