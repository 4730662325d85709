package handlers

import (
	"errors"

	"vidmill/internal/app"
	"vidmill/internal/services"

	logger "github.com/Bparsons0904/goLogger"

	"github.com/gofiber/fiber/v2"
)

type MediaHandler struct {
	Handler
	metadata *services.MetadataService
}

type mediaFormatsRequest struct {
	URL string `json:"url"`
}

func NewMediaHandler(app app.App, router fiber.Router) *MediaHandler {
	log := logger.New("handlers").File("media_handler")
	return &MediaHandler{
		metadata: app.MetadataService,
		Handler: Handler{
			log:        log,
			router:     router,
			middleware: app.Middleware,
		},
	}
}

func (h *MediaHandler) Register() {
	media := h.router.Group("/media")

	media.Post("/formats", h.getFormats)
}

func (h *MediaHandler) getFormats(c *fiber.Ctx) error {
	log := logger.New("handlers").TraceFromContext(c.UserContext()).File("media_handler").Function("getFormats")

	var req mediaFormatsRequest
	if err := c.BodyParser(&req); err != nil {
		log.Warn("Invalid request body", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	info, err := h.metadata.Fetch(c.UserContext(), req.URL)
	if err != nil {
		var missingErr *services.MissingParameterError
		if errors.As(err, &missingErr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		_ = log.Err("Failed to fetch media formats", err, "url", req.URL)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch media formats",
		})
	}

	return c.JSON(info)
}
