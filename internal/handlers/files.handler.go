package handlers

import (
	"errors"
	"net/url"
	"os"
	"strings"

	"vidmill/internal/app"
	"vidmill/internal/services"

	logger "github.com/Bparsons0904/goLogger"

	"github.com/gofiber/fiber/v2"
)

type FileHandler struct {
	Handler
	files *services.FileService
}

type renameFileRequest struct {
	NewName string `json:"new_name"`
}

func NewFileHandler(app app.App, router fiber.Router) *FileHandler {
	log := logger.New("handlers").File("file_handler")
	return &FileHandler{
		files: app.FileService,
		Handler: Handler{
			log:        log,
			router:     router,
			middleware: app.Middleware,
		},
	}
}

func (h *FileHandler) Register() {
	files := h.router.Group("/files")

	files.Get("", h.listFiles)
	files.Delete("/:name", h.deleteFile)
	files.Patch("/:name", h.renameFile)
}

func (h *FileHandler) listFiles(c *fiber.Ctx) error {
	log := logger.New("handlers").TraceFromContext(c.UserContext()).File("file_handler").Function("listFiles")

	files, err := h.files.List(c.UserContext())
	if err != nil {
		_ = log.Err("Failed to list files", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list files",
		})
	}

	return c.JSON(fiber.Map{
		"files": files,
	})
}

func (h *FileHandler) deleteFile(c *fiber.Ctx) error {
	log := logger.New("handlers").TraceFromContext(c.UserContext()).File("file_handler").Function("deleteFile")

	name, err := url.PathUnescape(c.Params("name"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid filename",
		})
	}

	if err := h.files.Delete(c.UserContext(), name); err != nil {
		if os.IsNotExist(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "File not found",
			})
		}
		if strings.Contains(err.Error(), "path escapes") || strings.Contains(err.Error(), "empty path") {
			log.Warn("Rejected filename", "name", name)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid filename",
			})
		}
		_ = log.Err("Failed to delete file", err, "name", name)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete file",
		})
	}

	return c.Status(fiber.StatusNoContent).Send(nil)
}

func (h *FileHandler) renameFile(c *fiber.Ctx) error {
	log := logger.New("handlers").TraceFromContext(c.UserContext()).File("file_handler").Function("renameFile")

	name, err := url.PathUnescape(c.Params("name"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid filename",
		})
	}

	var req renameFileRequest
	if err := c.BodyParser(&req); err != nil {
		log.Warn("Invalid request body", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	renamed, err := h.files.Rename(c.UserContext(), name, req.NewName)
	if err != nil {
		var missingErr *services.MissingParameterError
		if errors.As(err, &missingErr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		if os.IsNotExist(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "File not found",
			})
		}
		if strings.Contains(err.Error(), "already exists") {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		if strings.Contains(err.Error(), "path escapes") || strings.Contains(err.Error(), "empty path") {
			log.Warn("Rejected filename", "name", name, "newName", req.NewName)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid filename",
			})
		}
		_ = log.Err("Failed to rename file", err, "name", name)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to rename file",
		})
	}

	return c.JSON(fiber.Map{
		"name": renamed,
	})
}
