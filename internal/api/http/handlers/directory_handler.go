package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/service-portal/internal/api/dto"
	"github.com/spec-kit/service-portal/internal/service"
)

// DirectoryHandler serves companies, users and agents.
type DirectoryHandler struct {
	directory *service.DirectoryService
}

// NewDirectoryHandler constructs handler.
func NewDirectoryHandler(directory *service.DirectoryService) *DirectoryHandler {
	return &DirectoryHandler{directory: directory}
}

// CreateCompany handles POST /companies.
func (h *DirectoryHandler) CreateCompany(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateCompanyPayload
	if err := parseBody(c, &req); err != nil {
		return err
	}
	company, err := h.directory.CreateCompany(c.UserContext(), principal, service.CompanyInput{
		Name:           req.Name,
		Code:           req.Code,
		PrimaryContact: req.PrimaryContact,
		Email:          req.Email,
		Phone:          req.Phone,
	})
	if err != nil {
		return err
	}
	return data(c, http.StatusCreated, dto.NewCompanyResponse(company))
}

// ListCompanies handles GET /companies.
func (h *DirectoryHandler) ListCompanies(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	companies, err := h.directory.ListCompanies(c.UserContext(), principal)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewCompanyResponses(companies))
}

// GetCompany handles GET /companies/:id.
func (h *DirectoryHandler) GetCompany(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	company, err := h.directory.GetCompany(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewCompanyResponse(company))
}

// UpdateCompany handles PATCH /companies/:id.
func (h *DirectoryHandler) UpdateCompany(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.UpdateCompanyPayload
	if err := parseBody(c, &req); err != nil {
		return err
	}
	company, err := h.directory.UpdateCompany(c.UserContext(), principal, c.Params("id"), service.CompanyUpdateInput{
		Name:           req.Name,
		PrimaryContact: req.PrimaryContact,
		Email:          req.Email,
		Phone:          req.Phone,
	})
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewCompanyResponse(company))
}

// AssigneeCandidates handles GET /companies/:id/assignees.
func (h *DirectoryHandler) AssigneeCandidates(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	users, err := h.directory.AssigneeCandidates(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewUserResponses(users))
}

// CreateUser handles POST /users. The login code is returned once, here.
func (h *DirectoryHandler) CreateUser(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateUserPayload
	if err := parseBody(c, &req); err != nil {
		return err
	}
	user, err := h.directory.CreateUser(c.UserContext(), principal, service.UserInput{
		Name:      req.Name,
		Email:     req.Email,
		Role:      req.Role,
		CompanyID: req.CompanyID,
		Password:  req.Password,
		Timezone:  req.Timezone,
	})
	if err != nil {
		return err
	}
	return data(c, http.StatusCreated, dto.NewUserResponse(user, true))
}

// ListUsers handles GET /users.
func (h *DirectoryHandler) ListUsers(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	users, err := h.directory.ListUsers(c.UserContext(), principal, optionalQuery(c, "companyId"))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewUserResponses(users))
}

// UpdateUser handles PATCH /users/:id.
func (h *DirectoryHandler) UpdateUser(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.UpdateUserPayload
	if err := parseBody(c, &req); err != nil {
		return err
	}
	user, err := h.directory.UpdateUser(c.UserContext(), principal, c.Params("id"), service.UserUpdateInput{
		Name:     req.Name,
		Active:   req.Active,
		Timezone: req.Timezone,
	})
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewUserResponse(user, false))
}

// ListAgents handles GET /agents.
func (h *DirectoryHandler) ListAgents(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	views, err := h.directory.ListAgents(c.UserContext(), principal)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewAgentResponses(views))
}

// SetAgentCompanies handles PUT /agents/:id/companies.
func (h *DirectoryHandler) SetAgentCompanies(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.SetAgentCompaniesPayload
	if err := parseBody(c, &req); err != nil {
		return err
	}
	view, err := h.directory.SetAgentCompanies(c.UserContext(), principal, c.Params("id"), req.CompanyIDs)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewAgentResponse(view))
}

// Promote handles POST /agents/:id/promote.
func (h *DirectoryHandler) Promote(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	user, err := h.directory.Promote(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewUserResponse(user, false))
}

// Demote handles POST /agents/:id/demote.
func (h *DirectoryHandler) Demote(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	user, err := h.directory.Demote(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewUserResponse(user, false))
}
