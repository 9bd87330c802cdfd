package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

const (
	DefaultBatchSize = 50
	// Requests are inserted in transactional groups of this size to
	// bound memory and lock duration during large runs.
	createGroupSize = 100
)

var (
	defaultMemberRoles    = []string{"Association Member"}
	defaultVolunteerRoles = []string{"Association Volunteer", "Employee", "Employee Self Service"}
)

const (
	defaultMemberProfile    = "Member"
	defaultVolunteerProfile = "Volunteer"
)

type bulkRequestStore interface {
	requestStore
	Create(ctx context.Context, req *domain.AccountCreationRequest) error
	CreateGroup(ctx context.Context, reqs []*domain.AccountCreationRequest) ([]string, error)
	HasOutstanding(ctx context.Context, sourceRecord string) (bool, error)
	MarkQueued(ctx context.Context, ids []string) error
}

type bulkTrackerStore interface {
	trackerProgressStore
	Create(ctx context.Context, tracker *domain.BulkOperationTracker) error
}

// BulkCoordinator validates and partitions a list of source entities
// into batches, creates one durable request per valid entity, and
// fans the batches out to the job queue.
type BulkCoordinator struct {
	members  domain.SourceDirectory
	requests bulkRequestStore
	trackers bulkTrackerStore
	queue    domain.JobQueue
	policy   domain.PermissionPolicy
	logger   *zap.Logger
}

func NewBulkCoordinator(members domain.SourceDirectory, requests bulkRequestStore, trackers bulkTrackerStore, queue domain.JobQueue, policy domain.PermissionPolicy, logger *zap.Logger) *BulkCoordinator {
	return &BulkCoordinator{
		members:  members,
		requests: requests,
		trackers: trackers,
		queue:    queue,
		policy:   policy,
		logger:   logger,
	}
}

type SingleQueueInput struct {
	SourceRecord string
	RequestType  domain.RequestType
	Roles        []string
	RoleProfile  string
	Priority     string
}

// QueueSingle is the interactive single-entity path. Permission and
// validation failures surface synchronously.
func (c *BulkCoordinator) QueueSingle(ctx context.Context, principal domain.Principal, in SingleQueueInput) (string, error) {
	if !c.policy.CanCreateUsers(principal) {
		return "", domain.Permissionf("principal %s cannot create user accounts", principal.Email)
	}

	requestType := in.RequestType
	if requestType == "" {
		requestType = domain.RequestTypeMember
	}

	entity, err := c.validateEntity(ctx, in.SourceRecord)
	if err != nil {
		return "", err
	}

	roles, profile := applyRoleDefaults(requestType, in.Roles, in.RoleProfile)
	req := domain.NewAccountCreationRequest(
		uuid.NewString(),
		requestType,
		entity.ID,
		entity.Email,
		entity.FullName,
		roles,
		profile,
		priorityOrDefault(in.Priority),
		principal.Email,
		time.Now(),
	)

	if err := c.requests.Create(ctx, req); err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if err := c.requests.MarkQueued(ctx, []string{req.ID}); err != nil {
		return "", fmt.Errorf("queue request: %w", err)
	}
	if err := c.queue.EnqueueRequest(ctx, req.ID, principal, 0); err != nil {
		return "", fmt.Errorf("enqueue request: %w", err)
	}

	c.logger.Info("queued account creation",
		zap.String("request_id", req.ID),
		zap.String("source_record", entity.ID))
	return req.ID, nil
}

type BulkQueueInput struct {
	SourceRecords []string
	RequestType   domain.RequestType
	Roles         []string
	RoleProfile   string
	BatchSize     int
	Priority      string
}

type SkippedEntity struct {
	ID     string
	Reason string
}

type BulkQueueResult struct {
	Provided        int
	Valid           int
	RequestsCreated int
	BatchCount      int
	TrackerID       string
	RequestIDs      []string
	Skipped         []SkippedEntity
}

// QueueBulk never fails on partially bad input: invalid entities are
// collected into the skip list and the rest proceeds. It errors only
// when nothing usable remains.
func (c *BulkCoordinator) QueueBulk(ctx context.Context, principal domain.Principal, in BulkQueueInput) (*BulkQueueResult, error) {
	if !c.policy.CanCreateUsers(principal) {
		return nil, domain.Permissionf("principal %s cannot create user accounts", principal.Email)
	}

	requestType := in.RequestType
	if requestType == "" {
		requestType = domain.RequestTypeMember
	}
	batchSize := in.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	roles, profile := applyRoleDefaults(requestType, in.Roles, in.RoleProfile)
	priority := priorityOrDefault(in.Priority)

	result := &BulkQueueResult{Provided: len(in.SourceRecords)}

	now := time.Now()
	var pending []*domain.AccountCreationRequest
	for _, sourceRecord := range in.SourceRecords {
		entity, err := c.validateEntity(ctx, sourceRecord)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedEntity{ID: sourceRecord, Reason: err.Error()})
			continue
		}
		pending = append(pending, domain.NewAccountCreationRequest(
			uuid.NewString(),
			requestType,
			entity.ID,
			entity.Email,
			entity.FullName,
			roles,
			profile,
			priority,
			principal.Email,
			now,
		))
	}
	result.Valid = len(pending)

	if len(pending) == 0 {
		return nil, fmt.Errorf("%w: %d provided, %d skipped", ErrNoValidEntities, result.Provided, len(result.Skipped))
	}

	for start := 0; start < len(pending); start += createGroupSize {
		end := min(start+createGroupSize, len(pending))
		created, err := c.requests.CreateGroup(ctx, pending[start:end])
		if err != nil {
			// Best-effort: a failed group is logged, the rest proceeds.
			c.logger.Error("request group creation failed",
				zap.Int("group_start", start), zap.Error(err))
			continue
		}
		result.RequestIDs = append(result.RequestIDs, created...)
	}
	result.RequestsCreated = len(result.RequestIDs)

	if result.RequestsCreated == 0 {
		return nil, fmt.Errorf("%w: all %d request creations failed", ErrNoValidEntities, result.Valid)
	}

	// The tracker is sized to what was actually created, not to the
	// original input count.
	tracker, err := domain.NewBulkOperationTracker(
		uuid.NewString(), "Account Creation", result.RequestsCreated, batchSize, now)
	if err != nil {
		return nil, fmt.Errorf("create tracker: %w", err)
	}
	tracker.Start(time.Now())
	if err := c.trackers.Create(ctx, tracker); err != nil {
		return nil, fmt.Errorf("persist tracker: %w", err)
	}
	result.TrackerID = tracker.ID

	for start, number := 0, 1; start < len(result.RequestIDs); start, number = start+batchSize, number+1 {
		end := min(start+batchSize, len(result.RequestIDs))
		batchIDs := result.RequestIDs[start:end]

		if err := c.requests.MarkQueued(ctx, batchIDs); err != nil {
			c.logger.Error("mark batch queued failed",
				zap.Int("batch_number", number), zap.Error(err))
		}
		if err := c.queue.EnqueueBatch(ctx, domain.BatchJob{
			BatchID:     uuid.NewString(),
			BatchNumber: number,
			TrackerID:   tracker.ID,
			RequestIDs:  batchIDs,
		}, principal); err != nil {
			c.logger.Error("enqueue batch failed",
				zap.Int("batch_number", number), zap.Error(err))
			c.failBatch(ctx, tracker.ID, number, batchIDs, err)
			continue
		}
		result.BatchCount++
	}

	c.logger.Info("bulk account creation queued",
		zap.String("tracker_id", tracker.ID),
		zap.Int("provided", result.Provided),
		zap.Int("created", result.RequestsCreated),
		zap.Int("batches", result.BatchCount),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}

// failBatch records a batch that never made it onto the queue as
// all-failed: its requests are marked failed and land in the retry
// queue, and the tracker can still reach a terminal status.
func (c *BulkCoordinator) failBatch(ctx context.Context, trackerID string, batchNumber int, requestIDs []string, cause error) {
	ctx = context.WithoutCancel(ctx)

	reason := fmt.Sprintf("batch %d could not be enqueued: %v", batchNumber, cause)
	result := domain.BatchResult{
		BatchNumber:    batchNumber,
		TotalRequests:  len(requestIDs),
		Failed:         len(requestIDs),
		FailedRequests: append([]string(nil), requestIDs...),
	}
	for _, id := range requestIDs {
		result.Errors = append(result.Errors, id+": "+reason)
	}
	if _, err := c.trackers.ApplyProgress(ctx, trackerID, batchNumber, result); err != nil {
		c.logger.Error("record failed batch on tracker failed",
			zap.String("tracker_id", trackerID),
			zap.Int("batch_number", batchNumber), zap.Error(err))
	}

	for _, id := range requestIDs {
		req, err := c.requests.Get(ctx, id)
		if err != nil {
			c.logger.Warn("load request for failed batch failed",
				zap.String("request_id", id), zap.Error(err))
			continue
		}
		req.MarkFailed(reason, req.PipelineStage)
		if err := c.requests.Save(ctx, req); err != nil {
			c.logger.Warn("persist failed batch request failed",
				zap.String("request_id", id), zap.Error(err))
		}
	}
}

func (c *BulkCoordinator) validateEntity(ctx context.Context, sourceRecord string) (*domain.SourceEntity, error) {
	entity, err := c.members.Find(ctx, sourceRecord)
	if err != nil {
		return nil, err
	}
	if entity.Email == "" {
		return nil, domain.Validationf("entity %s has no email address", sourceRecord)
	}
	outstanding, err := c.requests.HasOutstanding(ctx, sourceRecord)
	if err != nil {
		return nil, fmt.Errorf("check outstanding requests: %w", err)
	}
	if outstanding {
		return nil, domain.Validationf("entity %s already has an open account creation request", sourceRecord)
	}
	return entity, nil
}

func applyRoleDefaults(requestType domain.RequestType, roles []string, profile string) ([]string, string) {
	if len(roles) == 0 {
		if requestType == domain.RequestTypeVolunteer || requestType == domain.RequestTypeBoth {
			roles = defaultVolunteerRoles
		} else {
			roles = defaultMemberRoles
		}
	}
	if profile == "" {
		if requestType == domain.RequestTypeVolunteer || requestType == domain.RequestTypeBoth {
			profile = defaultVolunteerProfile
		} else {
			profile = defaultMemberProfile
		}
	}
	return roles, profile
}

func priorityOrDefault(priority string) string {
	if priority == "" {
		return "Normal"
	}
	return priority
}
