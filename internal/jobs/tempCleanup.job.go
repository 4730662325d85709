package jobs

import (
	"context"
	"time"

	"vidmill/config"
	"vidmill/internal/events"
	"vidmill/internal/services"

	logger "github.com/Bparsons0904/goLogger"
)

// TempCleanupJob is the backstop for jobs that never got to clean up after
// themselves: it sweeps aged temp artifacts out of the download directory,
// evicts finished jobs past the retention window, and reaps their streams.
type TempCleanupJob struct {
	fileCleanup *services.FileCleanupService
	manager     *Manager
	hub         *events.Hub
	config      config.Config
	log         logger.Logger
	schedule    services.Schedule
}

func NewTempCleanupJob(
	fileCleanup *services.FileCleanupService,
	manager *Manager,
	hub *events.Hub,
	config config.Config,
	schedule services.Schedule,
) *TempCleanupJob {
	log := logger.New("tempCleanupJob")
	log.Info("Creating new temp cleanup job", "schedule", schedule)

	return &TempCleanupJob{
		fileCleanup: fileCleanup,
		manager:     manager,
		hub:         hub,
		config:      config,
		log:         log,
		schedule:    schedule,
	}
}

func (j *TempCleanupJob) Name() string {
	return "TempArtifactCleanup"
}

func (j *TempCleanupJob) Execute(ctx context.Context) error {
	log := j.log.Function("Execute")

	maxAge := time.Duration(j.config.TempMaxAgeHours) * time.Hour
	removed, err := j.fileCleanup.SweepTempArtifacts(ctx, maxAge)
	if err != nil {
		return log.Err("temp artifact sweep failed", err)
	}

	retention := time.Duration(j.config.JobRetentionMinutes) * time.Minute
	evicted := j.manager.EvictFinished(retention)
	reaped := j.hub.ReapIdle(retention)

	log.Info("Cleanup sweep completed",
		"removedTempFiles", removed,
		"evictedJobs", evicted,
		"reapedStreams", reaped)
	return nil
}

func (j *TempCleanupJob) Schedule() services.Schedule {
	return j.schedule
}
