package handlers

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/service-portal/internal/api/dto"
	"github.com/spec-kit/service-portal/internal/service"
	apperrors "github.com/spec-kit/service-portal/pkg/util"
)

// WorkflowHandler serves everything hanging off a request: sub-tasks,
// assignment changes, notes, attachments and the activity log.
type WorkflowHandler struct {
	subTasks    *service.SubTaskService
	changes     *service.AssignmentChangeService
	notes       *service.NoteService
	attachments *service.AttachmentService
	activity    *service.ActivityService
}

// WorkflowServices bundles the services behind WorkflowHandler.
type WorkflowServices struct {
	SubTasks    *service.SubTaskService
	Changes     *service.AssignmentChangeService
	Notes       *service.NoteService
	Attachments *service.AttachmentService
	Activity    *service.ActivityService
}

// NewWorkflowHandler constructs handler.
func NewWorkflowHandler(svc WorkflowServices) *WorkflowHandler {
	return &WorkflowHandler{
		subTasks:    svc.SubTasks,
		changes:     svc.Changes,
		notes:       svc.Notes,
		attachments: svc.Attachments,
		activity:    svc.Activity,
	}
}

// CreateSubTask handles POST /requests/:id/subtasks.
func (h *WorkflowHandler) CreateSubTask(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateSubTaskPayload
	if err := parseBody(c, &req); err != nil {
		return err
	}
	task, err := h.subTasks.Create(c.UserContext(), principal, c.Params("id"), service.SubTaskCreateInput{
		Description:  req.Description,
		AssignedToID: req.AssignedToID,
		DueDate:      req.DueDate,
	})
	if err != nil {
		return err
	}
	return data(c, http.StatusCreated, dto.NewSubTaskResponse(task))
}

// ListSubTasks handles GET /requests/:id/subtasks.
func (h *WorkflowHandler) ListSubTasks(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	tasks, err := h.subTasks.List(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewSubTaskResponses(tasks))
}

// UpdateSubTaskStatus handles PATCH /subtasks/:id.
func (h *WorkflowHandler) UpdateSubTaskStatus(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.UpdateSubTaskStatusPayload
	if err := parseBody(c, &req); err != nil {
		return err
	}
	task, err := h.subTasks.UpdateStatus(c.UserContext(), principal, c.Params("id"), req.TaskStatus)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewSubTaskResponse(task))
}

// RequestChange handles POST /requests/:id/assignment-changes.
func (h *WorkflowHandler) RequestChange(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateChangeRequestPayload
	if err := parseBody(c, &req); err != nil {
		return err
	}
	change, err := h.changes.Request(c.UserContext(), principal, c.Params("id"), service.ChangeRequestInput{
		Reason:              req.Reason,
		RequestedAssigneeID: req.RequestedAssigneeID,
	})
	if err != nil {
		return err
	}
	return data(c, http.StatusCreated, dto.NewChangeRequestResponse(change))
}

// ListChanges handles GET /requests/:id/assignment-changes.
func (h *WorkflowHandler) ListChanges(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	changes, err := h.changes.ListForRequest(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewChangeRequestResponses(changes))
}

// ListPendingChanges handles GET /assignment-changes/pending.
func (h *WorkflowHandler) ListPendingChanges(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	changes, err := h.changes.ListPending(c.UserContext(), principal)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewChangeRequestResponses(changes))
}

// ReviewChange handles POST /assignment-changes/:id/review.
func (h *WorkflowHandler) ReviewChange(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.ReviewChangeRequestPayload
	if err := parseBody(c, &req); err != nil {
		return err
	}
	change, request, err := h.changes.Review(c.UserContext(), principal, c.Params("id"), service.ReviewInput{
		Approve:    req.Decision == "approve",
		Comment:    req.Comment,
		AssigneeID: req.AssigneeID,
	})
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, fiber.Map{
		"changeRequest": dto.NewChangeRequestResponse(change),
		"request":       dto.NewRequestResponse(request, principal.User.Location()),
	})
}

// AddNote handles POST /requests/:id/notes.
func (h *WorkflowHandler) AddNote(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateNotePayload
	if err := parseBody(c, &req); err != nil {
		return err
	}
	note, err := h.notes.Add(c.UserContext(), principal, c.Params("id"), req.Content, req.RecipientEmail)
	if err != nil {
		return err
	}
	return data(c, http.StatusCreated, dto.NewNoteResponse(note))
}

// ListNotes handles GET /requests/:id/notes.
func (h *WorkflowHandler) ListNotes(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	notes, err := h.notes.List(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewNoteResponses(notes))
}

// UploadAttachments handles POST /requests/:id/attachments (multipart).
func (h *WorkflowHandler) UploadAttachments(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return apperrors.NewValidationError("multipart form required", nil)
	}
	files, closeAll, err := openUploads(form.File["attachments"])
	defer closeAll()
	if err != nil {
		return err
	}
	stored, err := h.attachments.Upload(c.UserContext(), principal, c.Params("id"), files)
	if err != nil {
		return err
	}
	return data(c, http.StatusCreated, dto.NewAttachmentResponses(stored))
}

// ListAttachments handles GET /requests/:id/attachments.
func (h *WorkflowHandler) ListAttachments(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	items, err := h.attachments.List(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewAttachmentResponses(items))
}

// DownloadAttachment handles GET /attachments/:id.
func (h *WorkflowHandler) DownloadAttachment(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	attachment, body, err := h.attachments.Open(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, attachment.MimeType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, attachment.FileName))
	return c.SendStream(body, int(attachment.SizeBytes))
}

// DeleteAttachment handles DELETE /attachments/:id.
func (h *WorkflowHandler) DeleteAttachment(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	if err := h.attachments.Delete(c.UserContext(), principal, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// ListActivity handles GET /requests/:id/activity.
func (h *WorkflowHandler) ListActivity(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	limit := parseInt(c.Query("limit"), 100)
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	entries, err := h.activity.ListForRequest(c.UserContext(), principal, c.Params("id"), limit, offset)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewActivityResponses(entries))
}
