package service

import "github.com/spec-kit/service-portal/internal/domain"

// RequestField names an editable service request field as it appears on the wire.
type RequestField string

const (
	FieldInsured     RequestField = "insured"
	FieldNarrative   RequestField = "serviceRequestNarrative"
	FieldCategory    RequestField = "serviceQueueCategory"
	FieldAssignedBy  RequestField = "assignedById"
	FieldAssignedTo  RequestField = "assignedToId"
	FieldTaskStatus  RequestField = "taskStatus"
	FieldTimeSpent   RequestField = "timeSpent"
	FieldDueDate     RequestField = "dueDate"
	FieldDueTime     RequestField = "dueTime"
	FieldClosedAt    RequestField = "closedAt"
	FieldAttachments RequestField = "attachments"
)

// fieldCapabilities is the single source of truth for who may write which
// request field. Anything absent is denied.
var fieldCapabilities = map[domain.Role]map[RequestField]bool{
	domain.RoleCustomer:      customerFields,
	domain.RoleCustomerAdmin: customerFields,
	domain.RoleAgent: {
		FieldInsured:     true,
		FieldNarrative:   true,
		FieldCategory:    true,
		FieldAssignedBy:  true,
		FieldAssignedTo:  true,
		FieldTaskStatus:  true,
		FieldTimeSpent:   true,
		FieldAttachments: true,
	},
	domain.RoleAgentManager: allFields,
	domain.RoleSuperAdmin:   allFields,
}

var customerFields = map[RequestField]bool{
	FieldInsured:     true,
	FieldNarrative:   true,
	FieldCategory:    true,
	FieldAssignedBy:  true,
	FieldTaskStatus:  true,
	FieldDueDate:     true,
	FieldDueTime:     true,
	FieldAttachments: true,
}

var allFields = map[RequestField]bool{
	FieldInsured:     true,
	FieldNarrative:   true,
	FieldCategory:    true,
	FieldAssignedBy:  true,
	FieldAssignedTo:  true,
	FieldTaskStatus:  true,
	FieldTimeSpent:   true,
	FieldDueDate:     true,
	FieldDueTime:     true,
	FieldClosedAt:    true,
	FieldAttachments: true,
}

// CanEditField reports whether role may write field.
func CanEditField(role domain.Role, field RequestField) bool {
	return fieldCapabilities[role][field]
}

// fieldGate accumulates fields dropped for the caller's role.
type fieldGate struct {
	role    domain.Role
	ignored []string
}

// allow reports whether a present field may be applied and records it otherwise.
func (g *fieldGate) allow(field RequestField, present bool) bool {
	if !present {
		return false
	}
	if CanEditField(g.role, field) {
		return true
	}
	g.ignored = append(g.ignored, string(field))
	return false
}
