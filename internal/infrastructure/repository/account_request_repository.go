package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
	"github.com/openassoc/account-provisioning/internal/infrastructure/db/models"
)

// Statuses that count as an open request when checking for duplicates.
var outstandingStatuses = []string{
	string(domain.StatusRequested),
	string(domain.StatusQueued),
	string(domain.StatusProcessing),
	string(domain.StatusFailed),
}

type AccountRequestRepository struct {
	db *gorm.DB
}

func NewAccountRequestRepository(db *gorm.DB) *AccountRequestRepository {
	return &AccountRequestRepository{db: db}
}

func (r *AccountRequestRepository) Get(ctx context.Context, id string) (*domain.AccountCreationRequest, error) {
	var row models.AccountCreationRequest
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundf("account creation request %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", id, err)
	}
	return requestFromModel(&row)
}

func (r *AccountRequestRepository) Save(ctx context.Context, req *domain.AccountCreationRequest) error {
	row, err := requestToModel(req)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("save request %s: %w", req.ID, err)
	}
	return nil
}

func (r *AccountRequestRepository) Create(ctx context.Context, req *domain.AccountCreationRequest) error {
	row, err := requestToModel(req)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("create request %s: %w", req.ID, err)
	}
	return nil
}

// CreateGroup inserts a group of requests in one transaction with a
// savepoint per row: a single bad row is dropped without losing its
// group.
func (r *AccountRequestRepository) CreateGroup(ctx context.Context, reqs []*domain.AccountCreationRequest) ([]string, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	created := make([]string, 0, len(reqs))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, req := range reqs {
			row, err := requestToModel(req)
			if err != nil {
				continue
			}
			savepoint := fmt.Sprintf("req_%d", i)
			tx.SavePoint(savepoint)
			if err := tx.Create(row).Error; err != nil {
				tx.RollbackTo(savepoint)
				continue
			}
			created = append(created, req.ID)
		}
		if len(created) == 0 {
			return fmt.Errorf("no requests created in group of %d", len(reqs))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create request group: %w", err)
	}
	return created, nil
}

func (r *AccountRequestRepository) HasOutstanding(ctx context.Context, sourceRecord string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.AccountCreationRequest{}).
		Where("source_record = ? AND status IN ?", sourceRecord, outstandingStatuses).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count outstanding requests for %s: %w", sourceRecord, err)
	}
	return count > 0, nil
}

func (r *AccountRequestRepository) MarkQueued(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.AccountCreationRequest{}).
		Where("id IN ? AND status IN ?", ids, []string{string(domain.StatusRequested), string(domain.StatusFailed)}).
		Update("status", string(domain.StatusQueued)).Error
	if err != nil {
		return fmt.Errorf("mark requests queued: %w", err)
	}
	return nil
}

func (r *AccountRequestRepository) ListFailed(ctx context.Context, limit int) ([]*domain.AccountCreationRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.AccountCreationRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.StatusFailed)).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list failed requests: %w", err)
	}

	reqs := make([]*domain.AccountCreationRequest, 0, len(rows))
	for i := range rows {
		req, err := requestFromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func requestToModel(req *domain.AccountCreationRequest) (*models.AccountCreationRequest, error) {
	roles, err := json.Marshal(req.RequestedRoles)
	if err != nil {
		return nil, fmt.Errorf("encode requested roles: %w", err)
	}
	return &models.AccountCreationRequest{
		ID:                  req.ID,
		RequestType:         string(req.RequestType),
		SourceRecord:        req.SourceRecord,
		Email:               req.Email,
		FullName:            req.FullName,
		RequestedRoles:      string(roles),
		RoleProfile:         req.RoleProfile,
		Priority:            req.Priority,
		Status:              string(req.Status),
		PipelineStage:       string(req.PipelineStage),
		CreatedUser:         req.CreatedUser,
		CreatedEmployee:     req.CreatedEmployee,
		RetryCount:          req.RetryCount,
		FailureReason:       req.FailureReason,
		LastRetryAt:         cloneTime(req.LastRetryAt),
		ProcessingStartedAt: cloneTime(req.ProcessingStartedAt),
		CompletedAt:         cloneTime(req.CompletedAt),
		RequestedBy:         req.RequestedBy,
		CreatedAt:           req.CreatedAt,
	}, nil
}

func requestFromModel(row *models.AccountCreationRequest) (*domain.AccountCreationRequest, error) {
	var roles []string
	if row.RequestedRoles != "" {
		if err := json.Unmarshal([]byte(row.RequestedRoles), &roles); err != nil {
			return nil, fmt.Errorf("decode requested roles for %s: %w", row.ID, err)
		}
	}
	return &domain.AccountCreationRequest{
		ID:                  row.ID,
		RequestType:         domain.RequestType(row.RequestType),
		SourceRecord:        row.SourceRecord,
		Email:               row.Email,
		FullName:            row.FullName,
		RequestedRoles:      roles,
		RoleProfile:         row.RoleProfile,
		Priority:            row.Priority,
		Status:              domain.RequestStatus(row.Status),
		PipelineStage:       domain.PipelineStage(row.PipelineStage),
		CreatedUser:         row.CreatedUser,
		CreatedEmployee:     row.CreatedEmployee,
		RetryCount:          row.RetryCount,
		FailureReason:       row.FailureReason,
		LastRetryAt:         cloneTime(row.LastRetryAt),
		ProcessingStartedAt: cloneTime(row.ProcessingStartedAt),
		CompletedAt:         cloneTime(row.CompletedAt),
		RequestedBy:         row.RequestedBy,
		CreatedAt:           row.CreatedAt,
	}, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}
