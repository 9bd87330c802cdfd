package provisioning

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

type adminRequestStore interface {
	requestStore
	ListFailed(ctx context.Context, limit int) ([]*domain.AccountCreationRequest, error)
}

// RequestService covers the administrative request operations outside
// the processing pipeline: status reads, the failed-request review
// list, and cancellation.
type RequestService struct {
	requests adminRequestStore
	policy   domain.PermissionPolicy
	logger   *zap.Logger
}

func NewRequestService(requests adminRequestStore, policy domain.PermissionPolicy, logger *zap.Logger) *RequestService {
	return &RequestService{
		requests: requests,
		policy:   policy,
		logger:   logger,
	}
}

func (s *RequestService) GetRequest(ctx context.Context, requestID string) (*domain.AccountCreationRequest, error) {
	return s.requests.Get(ctx, requestID)
}

func (s *RequestService) ListFailed(ctx context.Context, principal domain.Principal, limit int) ([]*domain.AccountCreationRequest, error) {
	if !s.policy.CanCreateUsers(principal) {
		return nil, domain.Permissionf("principal %s cannot review account creation requests", principal.Email)
	}
	return s.requests.ListFailed(ctx, limit)
}

// Cancel withdraws a request that has not finished. Cancelled requests
// are never picked up again: the pipeline refuses non-processable
// statuses.
func (s *RequestService) Cancel(ctx context.Context, principal domain.Principal, requestID string) error {
	if !s.policy.CanCreateUsers(principal) {
		return domain.Permissionf("principal %s cannot cancel account creation requests", principal.Email)
	}

	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if err := req.Cancel(); err != nil {
		return err
	}
	if err := s.requests.Save(ctx, req); err != nil {
		return fmt.Errorf("save cancelled request: %w", err)
	}

	s.logger.Info("request cancelled",
		zap.String("request_id", requestID),
		zap.String("cancelled_by", principal.Email))
	return nil
}
