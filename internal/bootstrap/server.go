package bootstrap

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	app "github.com/openassoc/account-provisioning/internal/application/provisioning"
	"github.com/openassoc/account-provisioning/internal/config"
	"github.com/openassoc/account-provisioning/internal/infrastructure/directory"
	"github.com/openassoc/account-provisioning/internal/infrastructure/notify"
	"github.com/openassoc/account-provisioning/internal/infrastructure/policy"
	"github.com/openassoc/account-provisioning/internal/infrastructure/repository"
	httpecho "github.com/openassoc/account-provisioning/internal/interfaces/http/echo"
)

// Application holds the wired HTTP server and the background job
// worker. Both share the same repositories and pipeline.
type Application struct {
	Server *echo.Echo
	Worker *app.Worker
}

func New(db *gorm.DB, pool *pgxpool.Pool, cfg config.Config, logger *zap.Logger) *Application {
	requests := repository.NewAccountRequestRepository(db)
	trackers := repository.NewBulkTrackerRepository(db)
	jobs := repository.NewJobQueueRepository(db)
	accounts := directory.NewPgxDirectory(pool)
	members := directory.NewMemberDirectory(pool)
	perms := policy.NewRolePolicy()
	notifier := notify.NewLogNotifier(logger)

	retries := app.NewRetryScheduler(requests, jobs, logger)
	pipeline := app.NewPipeline(requests, accounts, perms, notifier, retries, logger, app.PipelineConfig{
		RequestTimeout: cfg.RequestTimeout,
	})
	batches := app.NewBatchProcessor(pipeline, trackers, cfg.BatchWorkers, logger)
	coordinator := app.NewBulkCoordinator(members, requests, trackers, jobs, perms, logger)
	trackerService := app.NewTrackerService(trackers, requests, retries, perms, logger)
	requestService := app.NewRequestService(requests, perms, logger)

	worker := app.NewWorker(jobs, pipeline, batches, app.WorkerConfig{
		Workers:       cfg.JobWorkers,
		PollInterval:  cfg.JobPollInterval,
		LeaseDuration: cfg.JobLeaseDuration,
	}, logger)

	server := echo.New()
	server.HideBanner = true

	server.Use(middleware.Recover())
	server.Use(middleware.RequestID())
	server.Use(middleware.BodyLimit("10M"))

	httpecho.RegisterRoutes(server,
		httpecho.NewRequestHandler(coordinator, requestService, trackerService),
		httpecho.NewTrackerHandler(trackerService))

	server.GET("/healthz", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	return &Application{
		Server: server,
		Worker: worker,
	}
}
