package models

import "time"

type ProvisioningJob struct {
	ID           string  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	Kind         string  `gorm:"type:text;not null"`
	Payload      string  `gorm:"type:text;not null"`
	Status       string  `gorm:"type:text;not null"`
	Attempts     int     `gorm:"not null;default:0"`
	MaxAttempts  int     `gorm:"not null;default:3"`
	RunAt        time.Time
	ErrorMessage *string `gorm:"type:text"`

	HeartbeatAt    *time.Time
	LeaseExpiresAt *time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ProvisioningJob) TableName() string {
	return "provisioning_jobs"
}
