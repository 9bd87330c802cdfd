package echo

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	app "github.com/openassoc/account-provisioning/internal/application/provisioning"
	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

type RequestHandler struct {
	coordinator *app.BulkCoordinator
	requests    *app.RequestService
	trackers    *app.TrackerService
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func NewRequestHandler(coordinator *app.BulkCoordinator, requests *app.RequestService, trackers *app.TrackerService) *RequestHandler {
	return &RequestHandler{
		coordinator: coordinator,
		requests:    requests,
		trackers:    trackers,
	}
}

type queueSingleRequest struct {
	SourceRecord string   `json:"source_record"`
	RequestType  string   `json:"request_type"`
	Roles        []string `json:"roles"`
	RoleProfile  string   `json:"role_profile"`
	Priority     string   `json:"priority"`
}

type queueSingleResponse struct {
	RequestID string `json:"request_id"`
}

func (h *RequestHandler) QueueSingle(c echo.Context) error {
	principal, ok := actingPrincipal(c)
	if !ok {
		return missingPrincipal(c)
	}

	var req queueSingleRequest
	if err := c.Bind(&req); err != nil {
		return badRequestBody(c)
	}

	requestID, err := h.coordinator.QueueSingle(c.Request().Context(), principal, app.SingleQueueInput{
		SourceRecord: req.SourceRecord,
		RequestType:  domain.RequestType(req.RequestType),
		Roles:        req.Roles,
		RoleProfile:  req.RoleProfile,
		Priority:     req.Priority,
	})
	if err != nil {
		return domainError(c, err, "failed to queue account creation")
	}

	return c.JSON(http.StatusAccepted, apiResponse{Data: queueSingleResponse{RequestID: requestID}})
}

type queueBulkRequest struct {
	SourceRecords []string `json:"source_records"`
	RequestType   string   `json:"request_type"`
	Roles         []string `json:"roles"`
	RoleProfile   string   `json:"role_profile"`
	BatchSize     int      `json:"batch_size"`
	Priority      string   `json:"priority"`
}

type skippedEntity struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type queueBulkResponse struct {
	TrackerID       string          `json:"tracker_id"`
	Provided        int             `json:"provided"`
	Valid           int             `json:"valid"`
	RequestsCreated int             `json:"requests_created"`
	BatchCount      int             `json:"batch_count"`
	Skipped         []skippedEntity `json:"skipped,omitempty"`
}

func (h *RequestHandler) QueueBulk(c echo.Context) error {
	principal, ok := actingPrincipal(c)
	if !ok {
		return missingPrincipal(c)
	}

	var req queueBulkRequest
	if err := c.Bind(&req); err != nil {
		return badRequestBody(c)
	}

	result, err := h.coordinator.QueueBulk(c.Request().Context(), principal, app.BulkQueueInput{
		SourceRecords: req.SourceRecords,
		RequestType:   domain.RequestType(req.RequestType),
		Roles:         req.Roles,
		RoleProfile:   req.RoleProfile,
		BatchSize:     req.BatchSize,
		Priority:      req.Priority,
	})
	if err != nil {
		if errors.Is(err, app.ErrNoValidEntities) {
			return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
				Code:    "no_valid_entities",
				Message: err.Error(),
			}})
		}
		return domainError(c, err, "failed to queue bulk account creation")
	}

	resp := queueBulkResponse{
		TrackerID:       result.TrackerID,
		Provided:        result.Provided,
		Valid:           result.Valid,
		RequestsCreated: result.RequestsCreated,
		BatchCount:      result.BatchCount,
	}
	for _, skipped := range result.Skipped {
		resp.Skipped = append(resp.Skipped, skippedEntity{ID: skipped.ID, Reason: skipped.Reason})
	}
	return c.JSON(http.StatusAccepted, apiResponse{Data: resp})
}

type requestResponse struct {
	ID              string     `json:"id"`
	RequestType     string     `json:"request_type"`
	SourceRecord    string     `json:"source_record"`
	Email           string     `json:"email"`
	FullName        string     `json:"full_name"`
	Status          string     `json:"status"`
	PipelineStage   string     `json:"pipeline_stage,omitempty"`
	CreatedUser     string     `json:"created_user,omitempty"`
	CreatedEmployee string     `json:"created_employee,omitempty"`
	RetryCount      int        `json:"retry_count"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	RequestedBy     string     `json:"requested_by"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func toRequestResponse(req *domain.AccountCreationRequest) requestResponse {
	return requestResponse{
		ID:              req.ID,
		RequestType:     string(req.RequestType),
		SourceRecord:    req.SourceRecord,
		Email:           req.Email,
		FullName:        req.FullName,
		Status:          string(req.Status),
		PipelineStage:   string(req.PipelineStage),
		CreatedUser:     req.CreatedUser,
		CreatedEmployee: req.CreatedEmployee,
		RetryCount:      req.RetryCount,
		FailureReason:   req.FailureReason,
		RequestedBy:     req.RequestedBy,
		CreatedAt:       req.CreatedAt,
		CompletedAt:     req.CompletedAt,
	}
}

func (h *RequestHandler) GetRequest(c echo.Context) error {
	req, err := h.requests.GetRequest(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(c, err, "failed to get request")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: toRequestResponse(req)})
}

func (h *RequestHandler) ListFailed(c echo.Context) error {
	principal, ok := actingPrincipal(c)
	if !ok {
		return missingPrincipal(c)
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
				Code:    "bad_request",
				Message: "limit must be a non-negative integer",
			}})
		}
		limit = parsed
	}

	failed, err := h.requests.ListFailed(c.Request().Context(), principal, limit)
	if err != nil {
		return domainError(c, err, "failed to list failed requests")
	}

	resp := make([]requestResponse, 0, len(failed))
	for _, req := range failed {
		resp = append(resp, toRequestResponse(req))
	}
	return c.JSON(http.StatusOK, apiResponse{Data: resp})
}

func (h *RequestHandler) RetryRequest(c echo.Context) error {
	principal, ok := actingPrincipal(c)
	if !ok {
		return missingPrincipal(c)
	}

	err := h.trackers.RetrySingle(c.Request().Context(), principal, c.Param("id"))
	if err != nil {
		if errors.Is(err, app.ErrRetryLimitReached) {
			return c.JSON(http.StatusConflict, apiResponse{Error: &errorBody{
				Code:    "retry_limit_reached",
				Message: err.Error(),
			}})
		}
		return domainError(c, err, "failed to retry request")
	}
	return c.JSON(http.StatusAccepted, apiResponse{Data: map[string]string{"status": "queued"}})
}

func (h *RequestHandler) CancelRequest(c echo.Context) error {
	principal, ok := actingPrincipal(c)
	if !ok {
		return missingPrincipal(c)
	}

	if err := h.requests.Cancel(c.Request().Context(), principal, c.Param("id")); err != nil {
		return domainError(c, err, "failed to cancel request")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: map[string]string{"status": "cancelled"}})
}

func missingPrincipal(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, apiResponse{Error: &errorBody{
		Code:    "missing_principal",
		Message: "acting user headers are required",
	}})
}

func badRequestBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
		Code:    "bad_request",
		Message: "invalid request body",
	}})
}

// domainError maps the error taxonomy onto HTTP statuses. Unclassified
// errors never leak details to the client.
func domainError(c echo.Context, err error, fallback string) error {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "validation_error",
			Message: err.Error(),
		}})
	case domain.KindPermission:
		return c.JSON(http.StatusForbidden, apiResponse{Error: &errorBody{
			Code:    "permission_denied",
			Message: err.Error(),
		}})
	case domain.KindNotFound:
		return c.JSON(http.StatusNotFound, apiResponse{Error: &errorBody{
			Code:    "not_found",
			Message: err.Error(),
		}})
	case domain.KindTransient:
		return c.JSON(http.StatusServiceUnavailable, apiResponse{Error: &errorBody{
			Code:    "temporarily_unavailable",
			Message: err.Error(),
		}})
	default:
		return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
			Code:    "internal_error",
			Message: fallback,
		}})
	}
}
