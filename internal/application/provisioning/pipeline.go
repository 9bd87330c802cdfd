package provisioning

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

const defaultRequestTimeout = 5 * time.Minute

type requestStore interface {
	Get(ctx context.Context, id string) (*domain.AccountCreationRequest, error)
	Save(ctx context.Context, req *domain.AccountCreationRequest) error
}

type PipelineConfig struct {
	RequestTimeout time.Duration
}

// Pipeline executes the ordered provisioning stages for a single
// request. Business writes (user, roles, employee) go through one
// directory transaction; status bookkeeping goes through the request
// store, which is a separate trusted channel and survives rollbacks.
type Pipeline struct {
	requests  requestStore
	directory domain.Directory
	policy    domain.PermissionPolicy
	notifier  domain.Notifier
	retries   *RetryScheduler
	logger    *zap.Logger
	timeout   time.Duration
}

func NewPipeline(requests requestStore, directory domain.Directory, policy domain.PermissionPolicy, notifier domain.Notifier, retries *RetryScheduler, logger *zap.Logger, cfg PipelineConfig) *Pipeline {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Pipeline{
		requests:  requests,
		directory: directory,
		policy:    policy,
		notifier:  notifier,
		retries:   retries,
		logger:    logger,
		timeout:   cfg.RequestTimeout,
	}
}

// ProcessOutcome is what a batch worker or job handler receives: a
// request failure is reported, never propagated.
type ProcessOutcome struct {
	RequestID string
	Success   bool
	Error     string
}

// ProcessRequest is the pipeline entry point invoked by the job queue.
// It never panics and never returns an error; failures are recorded on
// the request and reported in the outcome.
func (p *Pipeline) ProcessRequest(ctx context.Context, principal domain.Principal, requestID string) ProcessOutcome {
	err := p.process(ctx, principal, requestID)
	if err != nil {
		p.logger.Error("account provisioning failed",
			zap.String("request_id", requestID),
			zap.String("kind", domain.KindOf(err).String()),
			zap.Error(err))
		return ProcessOutcome{RequestID: requestID, Error: err.Error()}
	}

	p.logger.Info("account provisioning completed", zap.String("request_id", requestID))
	return ProcessOutcome{RequestID: requestID, Success: true}
}

func (p *Pipeline) process(ctx context.Context, principal domain.Principal, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during request %s: %v", requestID, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := p.requests.Get(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load request: %w", err)
	}

	if !req.Processable() {
		return domain.Validationf("request %s cannot be processed in status %s", req.ID, req.Status)
	}

	if err := p.runRecovering(ctx, principal, req); err != nil {
		p.fail(ctx, principal, req, err)
		return err
	}
	return nil
}

// runRecovering converts a panic inside the stage pipeline into an
// error, so it goes through the same failure bookkeeping as any other
// stage error instead of leaving the request stuck in Processing.
func (p *Pipeline) runRecovering(ctx context.Context, principal domain.Principal, req *domain.AccountCreationRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during request %s: %v", req.ID, r)
		}
	}()
	return p.run(ctx, principal, req)
}

func (p *Pipeline) run(ctx context.Context, principal domain.Principal, req *domain.AccountCreationRequest) error {
	if err := p.enterStage(ctx, req, domain.StagePermissionValidation); err != nil {
		return err
	}
	if !p.policy.CanCreateUsers(principal) {
		return domain.Permissionf("principal %s cannot create user accounts", principal.Email)
	}
	for _, role := range req.RequestedRoles {
		if !p.policy.CanGrantRole(principal, role) {
			return domain.Permissionf("principal %s cannot assign role: %s", principal.Email, role)
		}
	}

	var userID, employeeID string
	err := p.directory.WithinTx(ctx, func(tx domain.DirectoryTx) error {
		var stageErr error
		userID, stageErr = p.createOrReuseUser(ctx, req, tx)
		if stageErr != nil {
			return stageErr
		}
		if stageErr = p.assignRoles(ctx, req, tx, userID); stageErr != nil {
			return stageErr
		}
		employeeID, stageErr = p.ensureEmployee(ctx, req, tx, userID)
		if stageErr != nil {
			return stageErr
		}
		p.linkRecords(ctx, req, tx, userID, employeeID)
		return nil
	})
	if err != nil {
		return err
	}

	req.MarkCompleted(userID, employeeID, time.Now())
	if err := p.requests.Save(ctx, req); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}

	if req.RequestedBy != "" && req.RequestedBy != req.Email {
		p.notifier.RequestCompleted(ctx, req)
	}
	return nil
}

func (p *Pipeline) createOrReuseUser(ctx context.Context, req *domain.AccountCreationRequest, tx domain.DirectoryTx) (string, error) {
	if err := p.enterStage(ctx, req, domain.StageUserCreation); err != nil {
		return "", err
	}

	if req.CreatedUser != "" {
		return req.CreatedUser, nil
	}

	existing, err := tx.FindUserByEmail(ctx, req.Email)
	if err != nil {
		return "", fmt.Errorf("look up user by email: %w", err)
	}
	if existing != "" {
		p.logger.Info("user account already exists, reusing",
			zap.String("request_id", req.ID),
			zap.String("user_id", existing))
		return existing, nil
	}

	userID, err := tx.CreateUser(ctx, req.Email, req.FullName)
	if err != nil {
		return "", fmt.Errorf("create user account: %w", err)
	}
	p.notifier.AccountCreated(ctx, req.Email, req.FullName)
	return userID, nil
}

func (p *Pipeline) assignRoles(ctx context.Context, req *domain.AccountCreationRequest, tx domain.DirectoryTx, userID string) error {
	if err := p.enterStage(ctx, req, domain.StageRoleAssignment); err != nil {
		return err
	}

	existing, err := tx.UserRoles(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user roles: %w", err)
	}
	present := make(map[string]struct{}, len(existing))
	for _, role := range existing {
		present[role] = struct{}{}
	}

	var toAdd []string
	for _, role := range req.RequestedRoles {
		exists, err := tx.RoleExists(ctx, role)
		if err != nil {
			return fmt.Errorf("check role %s: %w", role, err)
		}
		if !exists {
			return domain.Validationf("role does not exist: %s", role)
		}
		if _, ok := present[role]; ok {
			continue
		}
		present[role] = struct{}{}
		toAdd = append(toAdd, role)
	}

	if req.RoleProfile != "" {
		exists, err := tx.RoleProfileExists(ctx, req.RoleProfile)
		if err != nil {
			return fmt.Errorf("check role profile %s: %w", req.RoleProfile, err)
		}
		if !exists {
			return domain.Validationf("role profile does not exist: %s", req.RoleProfile)
		}
	}

	if len(toAdd) == 0 && req.RoleProfile == "" {
		return nil
	}
	if err := tx.AssignRoles(ctx, userID, toAdd, req.RoleProfile); err != nil {
		return fmt.Errorf("assign roles: %w", err)
	}
	return nil
}

func (p *Pipeline) ensureEmployee(ctx context.Context, req *domain.AccountCreationRequest, tx domain.DirectoryTx, userID string) (string, error) {
	if !req.RequiresEmployee() || req.CreatedEmployee != "" {
		return req.CreatedEmployee, nil
	}

	if err := p.enterStage(ctx, req, domain.StageEmployeeCreation); err != nil {
		return "", err
	}

	company, err := tx.DefaultCompany(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve default company: %w", err)
	}
	if company == "" {
		return "", domain.Configf("no company configured for employee creation")
	}

	employeeID, err := tx.CreateEmployee(ctx, req.FullName, company, userID, req.Email)
	if err != nil {
		return "", fmt.Errorf("create employee record: %w", err)
	}
	return employeeID, nil
}

// linkRecords is deliberately lenient: core identity creation is
// strict, relationship bookkeeping is not.
func (p *Pipeline) linkRecords(ctx context.Context, req *domain.AccountCreationRequest, tx domain.DirectoryTx, userID, employeeID string) {
	if err := p.enterStage(ctx, req, domain.StageRecordLinking); err != nil {
		p.logger.Warn("record linking stage bookkeeping failed, continuing",
			zap.String("request_id", req.ID), zap.Error(err))
	}
	if err := tx.LinkRecords(ctx, req.SourceRecord, userID, employeeID); err != nil {
		p.logger.Warn("record linking failed, continuing",
			zap.String("request_id", req.ID), zap.Error(err))
	}
}

func (p *Pipeline) enterStage(ctx context.Context, req *domain.AccountCreationRequest, stage domain.PipelineStage) error {
	req.MarkProcessing(stage, time.Now())
	if err := p.requests.Save(ctx, req); err != nil {
		return fmt.Errorf("persist stage %s: %w", stage, err)
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, principal domain.Principal, req *domain.AccountCreationRequest, cause error) {
	// Bookkeeping must outlive a cancelled or timed-out request context.
	ctx = context.WithoutCancel(ctx)

	req.MarkFailed(cause.Error(), req.PipelineStage)
	if err := p.requests.Save(ctx, req); err != nil {
		p.logger.Error("persist failure state failed",
			zap.String("request_id", req.ID), zap.Error(err))
	}

	if !domain.IsRetryable(cause) {
		return
	}
	if !req.CanRetry() {
		p.logger.Warn("retry limit reached, leaving request failed",
			zap.String("request_id", req.ID),
			zap.Int("retry_count", req.RetryCount))
		return
	}
	if err := p.retries.Schedule(ctx, req, principal); err != nil {
		p.logger.Error("schedule retry failed",
			zap.String("request_id", req.ID), zap.Error(err))
	}
}
