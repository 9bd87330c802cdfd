package echo

import e "github.com/labstack/echo/v4"

func RegisterRoutes(server *e.Echo, requestHandler *RequestHandler, trackerHandler *TrackerHandler) {
	server.POST("/api/v1/account-requests", requestHandler.QueueSingle)
	server.POST("/api/v1/account-requests/bulk", requestHandler.QueueBulk)
	server.GET("/api/v1/account-requests/failed", requestHandler.ListFailed)
	server.GET("/api/v1/account-requests/:id", requestHandler.GetRequest)
	server.POST("/api/v1/account-requests/:id/retry", requestHandler.RetryRequest)
	server.POST("/api/v1/account-requests/:id/cancel", requestHandler.CancelRequest)

	server.GET("/api/v1/trackers/:id", trackerHandler.GetProgress)
	server.POST("/api/v1/trackers/:id/retry", trackerHandler.RetryTracker)
}
