package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/service-portal/internal/auth"
	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/repository"
	"github.com/spec-kit/service-portal/internal/storage"
	apperrors "github.com/spec-kit/service-portal/pkg/util"
)

// FileUpload is one incoming file. Size is the declared size from the
// multipart header and is checked before anything is written.
type FileUpload struct {
	FileName string
	MimeType string
	Size     int64
	Content  io.Reader
}

// AttachmentService stores request attachments.
type AttachmentService struct {
	attachments repository.AttachmentRepository
	requests    repository.ServiceRequestRepository
	files       storage.FileStore
	activity    *ActivityService
	tx          repository.TxManager
	maxBytes    int64
	logger      *zap.Logger
}

// AttachmentDependencies bundles collaborators for the attachment service.
type AttachmentDependencies struct {
	AttachmentRepo repository.AttachmentRepository
	RequestRepo    repository.ServiceRequestRepository
	Files          storage.FileStore
	Activity       *ActivityService
	TxManager      repository.TxManager
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// NewAttachmentService constructs the service.
func NewAttachmentService(deps AttachmentDependencies) *AttachmentService {
	maxBytes := deps.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &AttachmentService{
		attachments: deps.AttachmentRepo,
		requests:    deps.RequestRepo,
		files:       deps.Files,
		activity:    deps.Activity,
		tx:          deps.TxManager,
		maxBytes:    maxBytes,
		logger:      nopLogger(deps.Logger),
	}
}

// CanUpload reports whether the caller may attach files to a visible request.
func (s *AttachmentService) CanUpload(p *auth.Principal, request *domain.ServiceRequest) bool {
	return CanEditField(p.Role, FieldAttachments) && p.CanSeeCompany(request.CompanyID)
}

// CanDelete reports whether the caller may remove the attachment.
func (s *AttachmentService) CanDelete(p *auth.Principal, attachment *domain.RequestAttachment) bool {
	return attachment.UploadedBy == p.UserID() || p.ManagerOrAdmin()
}

// Validate rejects oversized or unnamed files. It performs no I/O.
func (s *AttachmentService) Validate(files []FileUpload) error {
	for _, f := range files {
		if strings.TrimSpace(f.FileName) == "" {
			return apperrors.NewValidationError("attachment file name is required", nil)
		}
		if f.Size > s.maxBytes {
			return apperrors.NewValidationError(
				fmt.Sprintf("attachment %q exceeds the %d MB limit", f.FileName, s.maxBytes>>20),
				map[string]any{"fileName": f.FileName, "size": f.Size, "maxBytes": s.maxBytes},
			)
		}
	}
	return nil
}

// Upload attaches files to a request.
func (s *AttachmentService) Upload(ctx context.Context, p *auth.Principal, requestID string, files []FileUpload) ([]domain.RequestAttachment, error) {
	request, err := loadVisibleRequest(ctx, s.requests, p, requestID)
	if err != nil {
		return nil, err
	}
	if !s.CanUpload(p, request) {
		return nil, apperrors.NewPermissionError("uploading attachments is not permitted")
	}
	if len(files) == 0 {
		return nil, apperrors.NewValidationError("at least one file is required", nil)
	}
	if err := s.Validate(files); err != nil {
		return nil, err
	}
	staged, err := s.stage(files, request.ID)
	if err != nil {
		return nil, err
	}
	var stored []domain.RequestAttachment
	err = s.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		stored, err = s.record(ctx, p, request.ID, staged)
		return err
	})
	if err != nil {
		s.discard(staged)
		return nil, err
	}
	s.logUploads(ctx, p, request, stored)
	return stored, nil
}

// stagedFile is an upload already in the file store but not yet recorded.
type stagedFile struct {
	name string
	path string
	size int64
	mime string
}

// stage writes validated files under prefix before any row is inserted. On
// failure the files written so far are removed.
func (s *AttachmentService) stage(files []FileUpload, prefix string) ([]stagedFile, error) {
	staged := make([]stagedFile, 0, len(files))
	for _, f := range files {
		// The declared size may lie; cap the stream and re-check.
		counter := &countingReader{r: io.LimitReader(f.Content, s.maxBytes+1)}
		path, err := s.files.Save(counter, f.FileName, prefix)
		if err != nil {
			s.discard(staged)
			return nil, apperrors.NewStorageError("failed to store attachment", err)
		}
		staged = append(staged, stagedFile{
			name: filepath.Base(f.FileName),
			path: path,
			size: counter.n,
			mime: detectMime(f),
		})
		if counter.n > s.maxBytes {
			s.discard(staged)
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("attachment %q exceeds the %d MB limit", f.FileName, s.maxBytes>>20),
				map[string]any{"fileName": f.FileName},
			)
		}
	}
	return staged, nil
}

// discard removes staged files whose rows were never committed.
func (s *AttachmentService) discard(staged []stagedFile) {
	for _, f := range staged {
		if err := s.files.Delete(f.path); err != nil {
			s.logger.Warn("failed to remove orphaned upload", zap.String("path", f.path), zap.Error(err))
		}
	}
}

// record inserts metadata rows for staged files. Callers run it in the
// transaction that writes the parent request.
func (s *AttachmentService) record(ctx context.Context, p *auth.Principal, requestID string, staged []stagedFile) ([]domain.RequestAttachment, error) {
	stored := make([]domain.RequestAttachment, 0, len(staged))
	for _, f := range staged {
		attachment := &domain.RequestAttachment{
			RequestID:   requestID,
			FileName:    f.name,
			StoragePath: f.path,
			SizeBytes:   f.size,
			MimeType:    f.mime,
			UploadedBy:  p.UserID(),
		}
		if err := s.attachments.Create(ctx, attachment); err != nil {
			return nil, mapRepoErr(err, "attachment")
		}
		stored = append(stored, *attachment)
	}
	return stored, nil
}

func (s *AttachmentService) logUploads(ctx context.Context, p *auth.Principal, request *domain.ServiceRequest, stored []domain.RequestAttachment) {
	for _, attachment := range stored {
		s.activity.recordForRequest(ctx, p, request, domain.ActivityAttachmentUploaded,
			fmt.Sprintf("%s uploaded %s", p.User.Name, attachment.FileName),
			map[string]any{"attachmentId": attachment.ID, "fileName": attachment.FileName, "size": attachment.SizeBytes})
	}
}

// List returns a visible request's attachments.
func (s *AttachmentService) List(ctx context.Context, p *auth.Principal, requestID string) ([]domain.RequestAttachment, error) {
	if _, err := loadVisibleRequest(ctx, s.requests, p, requestID); err != nil {
		return nil, err
	}
	attachments, err := s.attachments.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, mapRepoErr(err, "attachment")
	}
	return attachments, nil
}

// Open streams an attachment. The caller closes the reader.
func (s *AttachmentService) Open(ctx context.Context, p *auth.Principal, attachmentID string) (*domain.RequestAttachment, io.ReadCloser, error) {
	attachment, _, err := s.loadVisible(ctx, p, attachmentID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.files.Open(attachment.StoragePath)
	if err != nil {
		return nil, nil, apperrors.NewStorageError("failed to read attachment", err)
	}
	return attachment, rc, nil
}

// Delete removes the file and its metadata row.
func (s *AttachmentService) Delete(ctx context.Context, p *auth.Principal, attachmentID string) error {
	attachment, request, err := s.loadVisible(ctx, p, attachmentID)
	if err != nil {
		return err
	}
	if !s.CanDelete(p, attachment) {
		return apperrors.NewPermissionError("only the uploader or a manager may delete this attachment")
	}
	if err := s.files.Delete(attachment.StoragePath); err != nil {
		return apperrors.NewStorageError("failed to delete attachment", err)
	}
	if err := s.attachments.Delete(ctx, attachment.ID); err != nil {
		return mapRepoErr(err, "attachment")
	}
	s.activity.recordForRequest(ctx, p, request, domain.ActivityAttachmentDeleted,
		fmt.Sprintf("%s deleted %s", p.User.Name, attachment.FileName),
		map[string]any{"attachmentId": attachment.ID, "fileName": attachment.FileName})
	return nil
}

func (s *AttachmentService) loadVisible(ctx context.Context, p *auth.Principal, attachmentID string) (*domain.RequestAttachment, *domain.ServiceRequest, error) {
	attachment, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		return nil, nil, mapRepoErr(err, "attachment")
	}
	request, err := s.requests.GetByID(ctx, attachment.RequestID)
	if err != nil || !p.CanSeeCompany(request.CompanyID) {
		return nil, nil, apperrors.NewNotFound("attachment", nil)
	}
	return attachment, request, nil
}

func detectMime(f FileUpload) string {
	if mt := strings.TrimSpace(f.MimeType); mt != "" && mt != "application/octet-stream" {
		return mt
	}
	if seeker, ok := f.Content.(io.ReadSeeker); ok {
		buf := make([]byte, 512)
		if _, err := seeker.Seek(0, io.SeekStart); err == nil {
			n, _ := io.ReadFull(seeker, buf)
			_, _ = seeker.Seek(0, io.SeekStart)
			return http.DetectContentType(buf[:n])
		}
	}
	return "application/octet-stream"
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
