package app

import (
	"context"

	"vidmill/config"
	"vidmill/internal/events"
	"vidmill/internal/handlers/middleware"
	"vidmill/internal/jobs"
	"vidmill/internal/services"
	"vidmill/internal/websockets"

	logger "github.com/Bparsons0904/goLogger"
)

type App struct {
	Middleware middleware.Middleware
	Websocket  *websockets.Manager
	EventHub   *events.Hub
	Config     config.Config

	// Services
	Runner             *services.Runner
	ProbeService       *services.ProbeService
	MetadataService    *services.MetadataService
	AcquireService     *services.AcquireService
	DownloadService    *services.DownloadService
	TranscodeService   *services.TranscodeService
	UploadService      *services.UploadService
	FileService        *services.FileService
	FileCleanupService *services.FileCleanupService
	SchedulerService   *services.SchedulerService

	JobManager *jobs.Manager
}

func New() (*App, error) {
	log := logger.New("app").Function("New")

	config, err := config.New()
	if err != nil {
		return &App{}, log.Err("failed to initialize config", err)
	}

	eventHub := events.NewHub()

	// Initialize services
	runner := services.NewRunner()
	probeService := services.NewProbeService(config, runner)
	metadataService := services.NewMetadataService(config, runner)
	acquireService := services.NewAcquireService(config, runner)
	downloadService := services.NewDownloadService(config)
	transcodeService := services.NewTranscodeService(config, runner, probeService)
	uploadService := services.NewUploadService(config)
	fileService := services.NewFileService(config)
	fileCleanupService := services.NewFileCleanupService(config)
	schedulerService := services.NewSchedulerService()

	jobManager := jobs.NewManager(
		config,
		eventHub,
		downloadService,
		acquireService,
		transcodeService,
		uploadService,
		fileService,
	)

	websocket, err := websockets.New(eventHub, config)
	if err != nil {
		return &App{}, log.Err("failed to create websocket manager", err)
	}

	middleware := middleware.New(config)

	// Register the maintenance sweep with the scheduler if enabled
	if config.CleanupEnabled {
		tempCleanupJob := jobs.NewTempCleanupJob(
			fileCleanupService,
			jobManager,
			eventHub,
			config,
			services.Hourly,
		)
		if err := schedulerService.AddJob(tempCleanupJob); err != nil {
			return &App{}, log.Err("failed to register temp cleanup job", err)
		}
		if err := schedulerService.Start(context.Background()); err != nil {
			return &App{}, log.Err("failed to start scheduler", err)
		}
		log.Info("Registered temp cleanup job with scheduler")
	}

	app := &App{
		Config:             config,
		Middleware:         middleware,
		Websocket:          websocket,
		EventHub:           eventHub,
		Runner:             runner,
		ProbeService:       probeService,
		MetadataService:    metadataService,
		AcquireService:     acquireService,
		DownloadService:    downloadService,
		TranscodeService:   transcodeService,
		UploadService:      uploadService,
		FileService:        fileService,
		FileCleanupService: fileCleanupService,
		SchedulerService:   schedulerService,
		JobManager:         jobManager,
	}

	if err := app.validate(); err != nil {
		return &App{}, log.Err("failed to validate app", err)
	}

	return app, nil
}

func (a *App) validate() error {
	log := logger.New("app").Function("validate")

	if a.Config == (config.Config{}) {
		return log.ErrMsg("config is nil")
	}

	nilChecks := []any{
		a.Websocket,
		a.EventHub,
		a.Runner,
		a.ProbeService,
		a.MetadataService,
		a.AcquireService,
		a.DownloadService,
		a.TranscodeService,
		a.UploadService,
		a.FileService,
		a.FileCleanupService,
		a.SchedulerService,
		a.JobManager,
	}

	for _, check := range nilChecks {
		if check == nil {
			return log.ErrMsg("nil check failed")
		}
	}

	return nil
}

func (a *App) Close() (err error) {
	if a.SchedulerService != nil {
		if closeErr := a.SchedulerService.Stop(context.Background()); closeErr != nil {
			err = closeErr
		}
	}

	return err
}
