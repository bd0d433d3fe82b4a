package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/canvas-sync/internal/api/dto"
	"github.com/spec-kit/canvas-sync/internal/auth"
	"github.com/spec-kit/canvas-sync/internal/domain"
	"github.com/spec-kit/canvas-sync/internal/service"
	"github.com/spec-kit/canvas-sync/pkg/errorutil"
)

// CanvasHandler manages canvas documents of the authenticated user.
type CanvasHandler struct {
	service *service.CanvasService
}

// NewCanvasHandler constructs handler.
func NewCanvasHandler(canvasService *service.CanvasService) *CanvasHandler {
	return &CanvasHandler{service: canvasService}
}

// List GET /documents.
func (h *CanvasHandler) List(c *fiber.Ctx) error {
	principal, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	list, err := h.service.List(c.UserContext(), principal.User.ID)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewDocumentSummaries(list))
}

// Create POST /documents.
func (h *CanvasHandler) Create(c *fiber.Ctx) error {
	principal, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	var req dto.CreateDocumentRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorutil.NewValidationError("", "invalid payload")
		}
	}
	nodes, edges, err := req.Records()
	if err != nil {
		return err
	}

	canvas, err := h.service.Create(c.UserContext(), principal.User.ID, service.CreateCanvasInput{
		Name:  req.Name,
		Nodes: nodes,
		Edges: edges,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(dto.NewDocument(canvas))
}

// Get GET /documents/:id.
func (h *CanvasHandler) Get(c *fiber.Ctx) error {
	principal, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	canvas, err := h.service.Get(c.UserContext(), principal.User.ID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.NewDocument(canvas))
}

// Save PUT /documents/:id.
func (h *CanvasHandler) Save(c *fiber.Ctx) error {
	principal, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	attempt, err := parseSaveRequest(c)
	if err != nil {
		return err
	}
	result, err := h.service.Save(c.UserContext(), principal.User.ID, c.Params("id"), attempt)
	if err != nil {
		return err
	}
	return writeSaveResult(c, result)
}

// Delete DELETE /documents/:id.
func (h *CanvasHandler) Delete(c *fiber.Ctx) error {
	principal, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.UserContext(), principal.User.ID, c.Params("id")); err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{Success: true})
}

// GetUniverse GET /universe returns the default canvas.
func (h *CanvasHandler) GetUniverse(c *fiber.Ctx) error {
	principal, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	canvas, err := h.service.GetDefault(c.UserContext(), principal.User.ID)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewDocument(canvas))
}

// SaveUniverse POST /universe saves the default canvas.
func (h *CanvasHandler) SaveUniverse(c *fiber.Ctx) error {
	principal, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	attempt, err := parseSaveRequest(c)
	if err != nil {
		return err
	}
	result, err := h.service.SaveDefault(c.UserContext(), principal.User.ID, attempt)
	if err != nil {
		return err
	}
	return writeSaveResult(c, result)
}

func parseSaveRequest(c *fiber.Ctx) (domain.SyncAttempt, error) {
	var req dto.SaveDocumentRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.SyncAttempt{}, errorutil.NewValidationError("", "invalid payload")
	}
	return req.Attempt()
}

func writeSaveResult(c *fiber.Ctx, result *service.SaveResult) error {
	if result.Conflict {
		return c.Status(http.StatusConflict).JSON(dto.NewConflictResponse(result.Canvas))
	}
	return c.JSON(dto.NewDocument(result.Canvas))
}
