package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/canvas-sync/internal/api/dto"
	"github.com/spec-kit/canvas-sync/internal/auth"
	"github.com/spec-kit/canvas-sync/internal/service"
	"github.com/spec-kit/canvas-sync/pkg/errorutil"
)

// UploadHandler accepts images referenced from canvas nodes.
type UploadHandler struct {
	uploads *service.UploadService
}

// NewUploadHandler constructs handler.
func NewUploadHandler(uploads *service.UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

// UploadImage POST /uploads/images with a multipart "file" field.
func (h *UploadHandler) UploadImage(c *fiber.Ctx) error {
	principal, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	if !h.uploads.Enabled() {
		return errorutil.NewUnavailable("image uploads are not configured")
	}

	header, err := c.FormFile("file")
	if err != nil {
		return errorutil.NewValidationError("file", "multipart field file required")
	}
	file, err := header.Open()
	if err != nil {
		return errorutil.NewValidationError("file", "unreadable upload")
	}
	defer file.Close()

	img, err := h.uploads.UploadImage(c.UserContext(), principal.User.ID, file, header.Size, header.Header.Get(fiber.HeaderContentType))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(dto.UploadResponse{URL: img.URL, Key: img.Key})
}
