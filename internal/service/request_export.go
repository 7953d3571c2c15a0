package service

import (
	"context"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/spec-kit/service-portal/internal/auth"
	apperrors "github.com/spec-kit/service-portal/pkg/util"
)

const exportSheet = "Service Requests"

var exportHeaders = []interface{}{
	"Queue ID", "Insured", "Category", "Status", "Overdue", "Due Date", "Due Time",
	"Assigned To", "Assigned By", "Time Spent", "Created", "Closed",
}

// Export writes the caller's filtered requests as an XLSX workbook.
func (s *RequestService) Export(ctx context.Context, p *auth.Principal, input RequestListInput, w io.Writer) error {
	filter := s.filterFor(p, input)
	filter.Limit = maxExportRows
	requests, _, err := s.requests.List(ctx, filter)
	if err != nil {
		return mapRepoErr(err, "service request")
	}

	names := map[string]string{}
	nameOf := func(id *string) string {
		if id == nil {
			return ""
		}
		if name, ok := names[*id]; ok {
			return name
		}
		name := ""
		if u := s.summary(ctx, id); u != nil {
			name = u.Name
		}
		names[*id] = name
		return name
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeaders); err != nil {
		return apperrors.NewInternalError(err)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetCellStyle(exportSheet, "A1", "L1", style)
	}

	loc := p.User.Location()
	for i := range requests {
		r := &requests[i]
		v := s.view(p, r)
		row := []interface{}{
			r.ServiceQueueID,
			r.Insured,
			string(r.Category),
			string(v.EffectiveStatus),
			yesNo(v.Overdue),
			formatDate(r.DueDate),
			deref(r.DueTime),
			nameOf(r.AssignedToID),
			nameOf(&r.AssignedByID),
			v.TimeSpent,
			r.CreatedAt.In(loc).Format("2006-01-02 15:04"),
			formatTimestamp(r.ClosedAt, loc),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return apperrors.NewInternalError(err)
		}
	}
	_ = f.SetColWidth(exportSheet, "A", "A", 14)
	_ = f.SetColWidth(exportSheet, "B", "B", 30)
	_ = f.SetColWidth(exportSheet, "H", "I", 24)

	if err := f.Write(w); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}
