package echo

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	app "github.com/openassoc/account-provisioning/internal/application/provisioning"
)

type TrackerHandler struct {
	trackers *app.TrackerService
}

func NewTrackerHandler(trackers *app.TrackerService) *TrackerHandler {
	return &TrackerHandler{trackers: trackers}
}

type progressResponse struct {
	TrackerID           string     `json:"tracker_id"`
	Status              string     `json:"status"`
	Percentage          float64    `json:"percentage"`
	RatePerMinute       float64    `json:"rate_per_minute"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	TotalRecords        int        `json:"total_records"`
	ProcessedRecords    int        `json:"processed_records"`
	SuccessfulRecords   int        `json:"successful_records"`
	FailedRecords       int        `json:"failed_records"`
	CurrentBatch        int        `json:"current_batch"`
	TotalBatches        int        `json:"total_batches"`
	RetryQueueLength    int        `json:"retry_queue_length"`
	Errors              []string   `json:"errors,omitempty"`
}

func (h *TrackerHandler) GetProgress(c echo.Context) error {
	progress, err := h.trackers.GetProgress(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(c, err, "failed to get progress")
	}

	return c.JSON(http.StatusOK, apiResponse{Data: progressResponse{
		TrackerID:           progress.TrackerID,
		Status:              string(progress.Status),
		Percentage:          progress.Percentage,
		RatePerMinute:       progress.RatePerMinute,
		EstimatedCompletion: progress.EstimatedCompletion,
		TotalRecords:        progress.TotalRecords,
		ProcessedRecords:    progress.ProcessedRecords,
		SuccessfulRecords:   progress.SuccessfulRecords,
		FailedRecords:       progress.FailedRecords,
		CurrentBatch:        progress.CurrentBatch,
		TotalBatches:        progress.TotalBatches,
		RetryQueueLength:    progress.RetryQueueLength,
		Errors:              progress.Errors,
	}})
}

type retryPassResponse struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func (h *TrackerHandler) RetryTracker(c echo.Context) error {
	principal, ok := actingPrincipal(c)
	if !ok {
		return missingPrincipal(c)
	}

	result, err := h.trackers.RetryTracker(c.Request().Context(), principal, c.Param("id"))
	if err != nil {
		return domainError(c, err, "failed to retry tracker")
	}

	return c.JSON(http.StatusAccepted, apiResponse{Data: retryPassResponse{
		Processed: result.Processed,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
	}})
}
