package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/service-portal/internal/api/dto"
	"github.com/spec-kit/service-portal/internal/service"
)

// AuthHandler exposes the sign-in endpoints.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// AdminLogin handles POST /auth/admin/login.
func (h *AuthHandler) AdminLogin(c *fiber.Ctx) error {
	var req dto.AdminLoginPayload
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.auth.AdminLogin(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewLoginResponse(res))
}

// CodeLogin handles POST /auth/login.
func (h *AuthHandler) CodeLogin(c *fiber.Ctx) error {
	var req dto.CodeLoginPayload
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.auth.CodeLogin(c.UserContext(), req.LoginCode)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewLoginResponse(res))
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	companies := principal.AgentCompanyIDs
	if companies == nil {
		companies = []string{}
	}
	return data(c, http.StatusOK, fiber.Map{
		"user":            dto.NewUserResponse(principal.User, false),
		"manager":         principal.Manager,
		"agentCompanyIds": companies,
	})
}
