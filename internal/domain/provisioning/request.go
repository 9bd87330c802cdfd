package provisioning

import (
	"time"
)

type RequestType string

const (
	RequestTypeMember    RequestType = "Member"
	RequestTypeVolunteer RequestType = "Volunteer"
	RequestTypeBoth      RequestType = "Both"
)

type RequestStatus string

const (
	StatusRequested  RequestStatus = "Requested"
	StatusQueued     RequestStatus = "Queued"
	StatusProcessing RequestStatus = "Processing"
	StatusCompleted  RequestStatus = "Completed"
	StatusFailed     RequestStatus = "Failed"
	StatusCancelled  RequestStatus = "Cancelled"
)

type PipelineStage string

const (
	StagePermissionValidation PipelineStage = "Permission Validation"
	StageUserCreation         PipelineStage = "User Creation"
	StageRoleAssignment       PipelineStage = "Role Assignment"
	StageEmployeeCreation     PipelineStage = "Employee Creation"
	StageRecordLinking        PipelineStage = "Record Linking"
	StageCompleted            PipelineStage = "Completed"
)

const MaxRetries = 3

// Roles that imply an employee record even for plain member requests.
var employeeRoles = []string{"Employee", "Employee Self Service"}

// AccountCreationRequest is the durable unit of work: one entity's
// pending account provisioning, with a status state machine.
type AccountCreationRequest struct {
	ID              string
	RequestType     RequestType
	SourceRecord    string
	Email           string
	FullName        string
	RequestedRoles  []string
	RoleProfile     string
	Priority        string
	Status          RequestStatus
	PipelineStage   PipelineStage
	CreatedUser     string
	CreatedEmployee string
	RetryCount      int
	FailureReason   string

	LastRetryAt         *time.Time
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time

	RequestedBy string
	CreatedAt   time.Time
}

func NewAccountCreationRequest(id string, requestType RequestType, sourceRecord, email, fullName string, roles []string, roleProfile, priority, requestedBy string, now time.Time) *AccountCreationRequest {
	return &AccountCreationRequest{
		ID:             id,
		RequestType:    requestType,
		SourceRecord:   sourceRecord,
		Email:          email,
		FullName:       fullName,
		RequestedRoles: roles,
		RoleProfile:    roleProfile,
		Priority:       priority,
		Status:         StatusRequested,
		RequestedBy:    requestedBy,
		CreatedAt:      now,
	}
}

// Processable reports whether the pipeline may pick this request up.
// Failed is included so that retries can re-enter processing.
func (r *AccountCreationRequest) Processable() bool {
	return r.Status == StatusQueued || r.Status == StatusFailed
}

func (r *AccountCreationRequest) MarkQueued() error {
	if r.Status != StatusRequested && r.Status != StatusFailed {
		return Validationf("request %s cannot be queued in status %s", r.ID, r.Status)
	}
	r.Status = StatusQueued
	return nil
}

func (r *AccountCreationRequest) MarkProcessing(stage PipelineStage, now time.Time) {
	r.Status = StatusProcessing
	r.PipelineStage = stage
	if r.ProcessingStartedAt == nil {
		startedAt := now
		r.ProcessingStartedAt = &startedAt
	}
}

func (r *AccountCreationRequest) MarkCompleted(userID, employeeID string, now time.Time) {
	r.Status = StatusCompleted
	r.PipelineStage = StageCompleted
	r.FailureReason = ""
	if r.CreatedUser == "" {
		r.CreatedUser = userID
	}
	if r.CreatedEmployee == "" {
		r.CreatedEmployee = employeeID
	}
	completedAt := now
	r.CompletedAt = &completedAt
}

func (r *AccountCreationRequest) MarkFailed(reason string, stage PipelineStage) {
	r.Status = StatusFailed
	r.FailureReason = reason
	if stage != "" {
		r.PipelineStage = stage
	}
}

func (r *AccountCreationRequest) Cancel() error {
	if r.Status == StatusCompleted || r.Status == StatusCancelled {
		return Validationf("request %s cannot be cancelled in status %s", r.ID, r.Status)
	}
	r.Status = StatusCancelled
	return nil
}

func (r *AccountCreationRequest) CanRetry() bool {
	return r.RetryCount < MaxRetries
}

// RequiresEmployee reports whether an employee record must be created:
// volunteers always need one for expense reporting, and some roles
// imply one regardless of request type.
func (r *AccountCreationRequest) RequiresEmployee() bool {
	if r.RequestType == RequestTypeVolunteer || r.RequestType == RequestTypeBoth {
		return true
	}
	for _, requested := range r.RequestedRoles {
		for _, role := range employeeRoles {
			if requested == role {
				return true
			}
		}
	}
	return false
}
