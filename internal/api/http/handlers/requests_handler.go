package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/service-portal/internal/api/dto"
	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/service"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// RequestsHandler serves the service request lifecycle endpoints.
type RequestsHandler struct {
	service *service.RequestService
}

// NewRequestsHandler constructs handler.
func NewRequestsHandler(requestService *service.RequestService) *RequestsHandler {
	return &RequestsHandler{service: requestService}
}

// Create handles POST /requests. Accepts JSON or multipart with a JSON
// "data" part and "attachments" files.
func (h *RequestsHandler) Create(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateRequestPayload
	var files []service.FileUpload
	if isMultipart(c) {
		uploads, closeAll, err := parseMultipart(c, &req)
		defer closeAll()
		if err != nil {
			return err
		}
		files = uploads
		if err := dto.Validate(&req); err != nil {
			return err
		}
	} else if err := parseBody(c, &req); err != nil {
		return err
	}

	res, err := h.service.Create(c.UserContext(), principal, service.RequestCreateInput{
		Insured:      req.Insured,
		Narrative:    req.Narrative,
		Category:     req.Category,
		CompanyID:    req.CompanyID,
		AssignedByID: req.AssignedByID,
		AssignedToID: req.AssignedToID,
		DueDate:      req.DueDate,
		DueTime:      req.DueTime,
		Attachments:  files,
	})
	if err != nil {
		return err
	}
	return data(c, http.StatusCreated, dto.NewMutationResponse(res, principal.User.Location()))
}

// Update handles PATCH /requests/:id.
func (h *RequestsHandler) Update(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.UpdateRequestPayload
	var files []service.FileUpload
	if isMultipart(c) {
		uploads, closeAll, err := parseMultipart(c, &req)
		defer closeAll()
		if err != nil {
			return err
		}
		files = uploads
	} else if err := parseBody(c, &req); err != nil {
		return err
	}

	res, err := h.service.Update(c.UserContext(), principal, c.Params("id"), service.RequestUpdateInput{
		Insured:      req.Insured,
		Narrative:    req.Narrative,
		Category:     req.Category,
		AssignedByID: req.AssignedByID,
		AssignedToID: req.AssignedToID,
		TaskStatus:   req.TaskStatus,
		TimeSpent:    req.TimeSpent,
		DueDate:      req.DueDate,
		DueTime:      req.DueTime,
		ClosedAt:     req.ClosedAt,
		Attachments:  files,
	})
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewMutationResponse(res, principal.User.Location()))
}

// Get handles GET /requests/:id.
func (h *RequestsHandler) Get(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	detail, err := h.service.Get(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewRequestDetailResponse(detail))
}

// List handles GET /requests.
func (h *RequestsHandler) List(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	input, err := parseRequestQuery(c)
	if err != nil {
		return err
	}
	page, err := h.service.List(c.UserContext(), principal, input)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewRequestPageResponse(page))
}

// Export handles GET /requests/export.
func (h *RequestsHandler) Export(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	input, err := parseRequestQuery(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := h.service.Export(c.UserContext(), principal, input, &buf); err != nil {
		return err
	}
	name := fmt.Sprintf("service-requests-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Set(fiber.HeaderContentType, xlsxMIME)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
	return c.Send(buf.Bytes())
}

// Assign handles POST /requests/:id/assign.
func (h *RequestsHandler) Assign(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.AssignPayload
	if err := parseBody(c, &req); err != nil {
		return err
	}
	request, err := h.service.Assign(c.UserContext(), principal, c.Params("id"), req.AssignedToID)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewRequestResponse(request, principal.User.Location()))
}

// Close handles POST /requests/:id/close.
func (h *RequestsHandler) Close(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	request, err := h.service.Close(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewRequestResponse(request, principal.User.Location()))
}

func parseRequestQuery(c *fiber.Ctx) (service.RequestListInput, error) {
	input := service.RequestListInput{
		Insured:      strings.TrimSpace(c.Query("insured")),
		AssignedToID: optionalQuery(c, "assignedTo"),
		CompanyID:    optionalQuery(c, "companyId"),
		Page:         parseInt(c.Query("page"), 1),
		PageSize:     parseInt(c.Query("page_size"), 20),
	}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			if part = strings.TrimSpace(part); part != "" {
				input.Statuses = append(input.Statuses, domain.TaskStatus(part))
			}
		}
	}
	if category := optionalQuery(c, "category"); category != nil {
		cat := domain.Category(*category)
		input.Category = &cat
	}
	var err error
	if input.CreatedFrom, err = parseDay("createdFrom", c.Query("createdFrom"), false); err != nil {
		return input, err
	}
	if input.CreatedTo, err = parseDay("createdTo", c.Query("createdTo"), true); err != nil {
		return input, err
	}
	return input, nil
}
