package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"time"

	"vidmill/internal/app"
	"vidmill/internal/events"
	"vidmill/internal/jobs"
	"vidmill/internal/models"
	"vidmill/internal/services"

	logger "github.com/Bparsons0904/goLogger"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

// sseKeepAlive bounds how long an event stream sits quiet before a comment
// frame goes out to keep intermediaries from closing the connection.
const sseKeepAlive = 15 * time.Second

type JobHandler struct {
	Handler
	manager  *jobs.Manager
	eventHub *events.Hub
}

func NewJobHandler(app app.App, router fiber.Router) *JobHandler {
	log := logger.New("handlers").File("job_handler")
	return &JobHandler{
		manager:  app.JobManager,
		eventHub: app.EventHub,
		Handler: Handler{
			log:        log,
			router:     router,
			middleware: app.Middleware,
		},
	}
}

func (h *JobHandler) Register() {
	jobs := h.router.Group("/jobs")

	jobs.Post("", h.createJob)
	jobs.Get("/:id", h.getJobStatus)
	jobs.Get("/:id/events", h.streamJobEvents)
	jobs.Post("/:id/cancel", h.cancelJob)
}

func (h *JobHandler) createJob(c *fiber.Ctx) error {
	log := logger.New("handlers").TraceFromContext(c.UserContext()).File("job_handler").Function("createJob")

	var req models.JobRequest
	if err := c.BodyParser(&req); err != nil {
		log.Warn("Invalid request body", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	jobID, err := h.manager.Start(req)
	if err != nil {
		var missingErr *services.MissingParameterError
		var unsupportedErr *services.UnsupportedInputError
		if errors.As(err, &missingErr) || errors.As(err, &unsupportedErr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		_ = log.Err("Failed to start job", err, "action", req.Action)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start job",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id": jobID,
	})
}

func (h *JobHandler) getJobStatus(c *fiber.Ctx) error {
	jobID := c.Params("id")

	info, ok := h.manager.Status(jobID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
		})
	}

	return c.JSON(info)
}

func (h *JobHandler) cancelJob(c *fiber.Ctx) error {
	log := logger.New("handlers").TraceFromContext(c.UserContext()).File("job_handler").Function("cancelJob")

	jobID := c.Params("id")
	if !h.manager.Cancel(jobID) {
		log.Warn("Cancel requested for unknown job", "jobID", jobID)
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
		})
	}

	log.Info("Cancellation requested", "jobID", jobID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
	})
}

// streamJobEvents replays a job's progress as server-sent events. The stream
// stays open until the terminal event has been delivered or the client goes
// away. Consumers that prefer a socket use /ws/jobs/:id instead.
func (h *JobHandler) streamJobEvents(c *fiber.Ctx) error {
	log := logger.New("handlers").TraceFromContext(c.UserContext()).File("job_handler").Function("streamJobEvents")

	jobID := c.Params("id")
	stream, ok := h.eventHub.Get(jobID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
		})
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	eventHub := h.eventHub
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		for {
			event, ok := stream.Next(sseKeepAlive)
			if !ok {
				if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
				continue
			}

			payload, err := json.Marshal(event)
			if err != nil {
				_ = log.Err("Failed to encode progress event", err, "jobID", jobID)
				return
			}
			if _, err := w.WriteString("data: "); err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := w.WriteString("\n\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}

			if event.Terminal() {
				eventHub.Release(jobID)
				return
			}
		}
	}))

	return nil
}
