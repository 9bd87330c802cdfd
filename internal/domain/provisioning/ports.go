package provisioning

import (
	"context"
	"time"
)

// PermissionPolicy answers whether the acting principal may create
// accounts and grant specific roles. Business rules live behind this
// interface, not in the pipeline.
type PermissionPolicy interface {
	CanCreateUsers(p Principal) bool
	CanGrantRole(p Principal, role string) bool
}

// BatchJob is the payload of one enqueued batch: the request ids it
// covers, its 1-indexed position in the partition, and the tracker
// aggregating the run.
type BatchJob struct {
	BatchID     string
	BatchNumber int
	TrackerID   string
	RequestIDs  []string
}

// JobQueue accepts work for eventual background execution. Delayed
// enqueue backs the retry scheduler.
type JobQueue interface {
	EnqueueRequest(ctx context.Context, requestID string, principal Principal, delay time.Duration) error
	EnqueueBatch(ctx context.Context, batch BatchJob, principal Principal) error
}

const (
	JobKindProcessRequest = "process_request"
	JobKindProcessBatch   = "process_batch"
)

// QueuedJob is one claimed unit of background work.
type QueuedJob struct {
	ID          string
	Kind        string
	Payload     []byte
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
}

// SourceEntity is the snapshot of an originating business record
// (member or volunteer) needed to provision an account for it.
type SourceEntity struct {
	ID       string
	Email    string
	FullName string
}

type SourceDirectory interface {
	Find(ctx context.Context, id string) (*SourceEntity, error)
}

// Notifier emits the side-channel notifications of the pipeline:
// a welcome on account creation and a completion notice to the
// requester. Both are best-effort.
type Notifier interface {
	AccountCreated(ctx context.Context, email, fullName string)
	RequestCompleted(ctx context.Context, req *AccountCreationRequest)
}

// Directory is the account store the pipeline provisions into. All
// business writes happen inside a single transaction per request so a
// failing request leaves no partial state behind.
type Directory interface {
	WithinTx(ctx context.Context, fn func(tx DirectoryTx) error) error
}

type DirectoryTx interface {
	FindUserByEmail(ctx context.Context, email string) (string, error)
	CreateUser(ctx context.Context, email, fullName string) (string, error)
	UserRoles(ctx context.Context, userID string) ([]string, error)
	RoleExists(ctx context.Context, role string) (bool, error)
	RoleProfileExists(ctx context.Context, profile string) (bool, error)
	AssignRoles(ctx context.Context, userID string, roles []string, profile string) error
	DefaultCompany(ctx context.Context) (string, error)
	CreateEmployee(ctx context.Context, fullName, company, userID, email string) (string, error)
	LinkRecords(ctx context.Context, sourceRecord, userID, employeeID string) error
}
