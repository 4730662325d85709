package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vidmill/config"
	"vidmill/internal/events"
	"vidmill/internal/models"
	"vidmill/internal/services"

	logger "github.com/Bparsons0904/goLogger"
	"github.com/google/uuid"
)

// Job is one background pipeline run, from accepted trigger to terminal
// sentinel. It owns the processes it spawns and the temp files it creates.
type Job struct {
	ID        string
	Action    models.Action
	StartedAt time.Time

	mu         sync.Mutex
	status     models.JobStatus
	errMessage string
	finishedAt time.Time
	cancel     context.CancelFunc
}

func (j *Job) setStatus(status models.JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = status
}

func (j *Job) finish(status models.JobStatus, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = status
	j.errMessage = message
	j.finishedAt = time.Now()
}

// Info snapshots the job for the status endpoints.
func (j *Job) Info() models.JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()

	info := models.JobInfo{
		ID:        j.ID,
		Action:    j.Action,
		Status:    j.status,
		Error:     j.errMessage,
		StartedAt: j.StartedAt,
	}
	if !j.finishedAt.IsZero() {
		finished := j.finishedAt
		info.FinishedAt = &finished
	}
	return info
}

func (j *Job) finishedBefore(cutoff time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.finishedAt.IsZero() && j.finishedAt.Before(cutoff)
}

// Manager owns the in-memory job registry and composes the pipeline stages
// into runs. One run goroutine per accepted job; every run pushes its events
// into its own stream and always ends them with the terminal sentinel.
type Manager struct {
	config    config.Config
	hub       *events.Hub
	direct    *services.DownloadService
	acquire   *services.AcquireService
	transcode *services.TranscodeService
	upload    *services.UploadService
	files     *services.FileService
	log       logger.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewManager(
	config config.Config,
	hub *events.Hub,
	direct *services.DownloadService,
	acquire *services.AcquireService,
	transcode *services.TranscodeService,
	upload *services.UploadService,
	files *services.FileService,
) *Manager {
	return &Manager{
		config:    config,
		hub:       hub,
		direct:    direct,
		acquire:   acquire,
		transcode: transcode,
		upload:    upload,
		files:     files,
		log:       logger.New("jobManager"),
		jobs:      make(map[string]*Job),
	}
}

// Start validates the request for its pipeline and, if it holds up, registers
// the job and launches its run goroutine. Validation failures reject the
// trigger synchronously; no stream is opened and no process is spawned.
func (m *Manager) Start(req models.JobRequest) (string, error) {
	log := m.log.Function("Start")

	jobID := uuid.New().String()
	plan, err := m.buildPlan(jobID, req)
	if err != nil {
		log.Warn("Rejected job request", "action", req.Action, "error", err)
		return "", err
	}

	stream := m.hub.Open(jobID)

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        jobID,
		Action:    req.Action,
		StartedAt: time.Now(),
		status:    models.JobStatusInitializing,
		cancel:    cancel,
	}

	m.mu.Lock()
	m.jobs[jobID] = job
	m.mu.Unlock()

	log.Info("Job accepted", "jobId", jobID, "action", req.Action)
	go m.run(ctx, job, plan, stream)

	return jobID, nil
}

// Cancel stops a running job; the runner kills its child process when the
// context fires. Cancelling an already finished job is a no-op.
func (m *Manager) Cancel(jobID string) bool {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	m.log.Info("Cancelling job", "jobId", jobID)
	job.cancel()
	return true
}

// Status snapshots one job.
func (m *Manager) Status(jobID string) (models.JobInfo, bool) {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return models.JobInfo{}, false
	}
	return job.Info(), true
}

// ActiveCount reports how many jobs have not yet reached a terminal state.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := 0
	for _, job := range m.jobs {
		if !job.Info().Status.Terminal() {
			active++
		}
	}
	return active
}

// EvictFinished drops jobs that finished before the retention window along
// with their streams, returning the number evicted.
func (m *Manager) EvictFinished(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, job := range m.jobs {
		if job.finishedBefore(cutoff) {
			delete(m.jobs, id)
			m.hub.Release(id)
			evicted++
		}
	}
	return evicted
}

func (m *Manager) run(ctx context.Context, job *Job, plan *plan, stream *events.Stream) {
	log := m.log.Function("run")

	// Deferred LIFO: cleanup runs first so its warnings land on the stream,
	// then the sentinel goes out as the very last event on every path.
	defer stream.Push(events.DoneEvent())
	defer m.cleanupArtifacts(plan, stream)

	stream.Push(events.StageEvent("Initializing", 0))

	err := m.execute(ctx, job, plan, stream)
	switch {
	case err == nil:
		job.finish(models.JobStatusCompleted, "")
		stream.Push(events.StageEvent("Completed", 100))
		log.Info("Job completed", "jobId", job.ID, "action", job.Action)
	case errors.Is(err, context.Canceled):
		job.finish(models.JobStatusCancelled, "job cancelled")
		stream.Push(events.ErrorEvent("Job cancelled"))
		log.Info("Job cancelled", "jobId", job.ID, "action", job.Action)
	default:
		job.finish(models.JobStatusFailed, err.Error())
		stream.Push(events.ErrorEvent(err.Error()))
		_ = log.Err("job failed", err, "jobId", job.ID, "action", job.Action)
	}
}

// cleanupArtifacts removes the job's intermediate file if one is still
// around. A failed removal is surfaced as a warning line on the stream, never
// as a job failure.
func (m *Manager) cleanupArtifacts(plan *plan, sink events.Sink) {
	if plan.tempPath == "" {
		return
	}
	if _, err := os.Stat(plan.tempPath); os.IsNotExist(err) {
		return
	}
	if err := os.Remove(plan.tempPath); err != nil {
		m.log.Warn("failed to remove temp artifact", "path", plan.tempPath, "error", err)
		sink.Push(events.LogEvent("Warning: could not remove temp file " + filepath.Base(plan.tempPath)))
	}
}
