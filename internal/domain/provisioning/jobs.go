package provisioning

// Wire payloads exchanged with the job queue. The acting principal
// travels inside the payload so background execution keeps running on
// behalf of the original requester.

type JobPrincipal struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

func (p JobPrincipal) ToPrincipal() Principal {
	return Principal{Email: p.Email, Roles: p.Roles}
}

func PrincipalPayload(p Principal) JobPrincipal {
	return JobPrincipal{Email: p.Email, Roles: p.Roles}
}

type RequestJobPayload struct {
	RequestID string       `json:"request_id"`
	Principal JobPrincipal `json:"principal"`
}

type BatchJobPayload struct {
	BatchID     string       `json:"batch_id"`
	BatchNumber int          `json:"batch_number"`
	TrackerID   string       `json:"tracker_id"`
	RequestIDs  []string     `json:"request_ids"`
	Principal   JobPrincipal `json:"principal"`
}
