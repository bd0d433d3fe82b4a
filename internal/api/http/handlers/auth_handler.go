package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/canvas-sync/internal/api/dto"
	"github.com/spec-kit/canvas-sync/internal/auth"
	"github.com/spec-kit/canvas-sync/internal/observability"
	"github.com/spec-kit/canvas-sync/internal/service"
	"github.com/spec-kit/canvas-sync/pkg/errorutil"
)

// AuthHandler exposes account endpoints.
type AuthHandler struct {
	auth    *service.AuthService
	metrics *observability.Metrics
}

// NewAuthHandler constructs handler. metrics may be nil.
func NewAuthHandler(authService *service.AuthService, metrics *observability.Metrics) *AuthHandler {
	return &AuthHandler{auth: authService, metrics: metrics}
}

// Signup handles POST /auth/signup.
func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var req dto.SignupRequest
	if err := c.BodyParser(&req); err != nil {
		return errorutil.NewValidationError("", "invalid payload")
	}

	res, err := h.auth.Signup(c.UserContext(), req.Name, req.Email, req.Password)
	if err != nil {
		h.metrics.RecordAuth("signup", false)
		return err
	}
	return c.Status(http.StatusCreated).JSON(dto.NewAuthResponse(res.User, res.Token, res.ExpiresAt, res.DefaultCanvasID))
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return errorutil.NewValidationError("", "invalid payload")
	}

	res, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	h.metrics.RecordAuth("login", err == nil)
	if err != nil {
		return err
	}
	return c.JSON(dto.NewAuthResponse(res.User, res.Token, res.ExpiresAt, ""))
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	principal, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	return c.JSON(dto.MeResponse{Profile: dto.NewProfile(principal.User)})
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	principal, err := auth.RequireUser(c)
	if err != nil {
		return err
	}
	err = h.auth.Logout(c.UserContext(), principal.Claims)
	h.metrics.RecordAuth("logout", err == nil)
	if err != nil {
		return err
	}
	return c.JSON(dto.SuccessResponse{Success: true})
}
