// Package documents implements the tenant-facing document operations: upload,
// listing, review, reprocess, and deletion. The service owns the coupling
// between durable state (blob + row) and the best-effort pipeline trigger.
package documents

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/taxbinder/taxbinder/internal/auth"
	"github.com/taxbinder/taxbinder/internal/blob"
	"github.com/taxbinder/taxbinder/internal/domain"
	"github.com/taxbinder/taxbinder/internal/pipeline"
	"github.com/taxbinder/taxbinder/internal/repository"

	"github.com/google/uuid"
)

// Dispatcher is the trigger boundary the service schedules pipeline runs
// through. Dispatch never returns an error: an upload whose trigger is lost
// still leaves a reprocessable document.
type Dispatcher interface {
	DocumentUploaded(pipeline.Uploaded)
	DocumentReprocess(pipeline.Reprocess)
	BulkReprocess(pipeline.BulkReprocess)
}

// Service coordinates document storage, persistence, auditing, and pipeline
// triggers.
type Service struct {
	documents    repository.DocumentRepository
	clients      repository.ClientRepository
	audits       repository.AuditLogRepository
	blobs        blob.Store
	dispatcher   Dispatcher
	signedURLTTL time.Duration
}

// NewService wires the document service.
func NewService(
	documents repository.DocumentRepository,
	clients repository.ClientRepository,
	audits repository.AuditLogRepository,
	blobs blob.Store,
	dispatcher Dispatcher,
	signedURLTTL time.Duration,
) *Service {
	if signedURLTTL <= 0 {
		signedURLTTL = 15 * time.Minute
	}
	return &Service{
		documents:    documents,
		clients:      clients,
		audits:       audits,
		blobs:        blobs,
		dispatcher:   dispatcher,
		signedURLTTL: signedURLTTL,
	}
}

// UploadRequest carries one multipart upload.
type UploadRequest struct {
	OrganizationID uuid.UUID
	ClientID       uuid.UUID
	UploadedBy     uuid.UUID
	FileName       string
	MimeType       string
	Data           io.Reader

	// Optional caller-provided metadata, applied before the pipeline runs.
	Category    *domain.Category
	Subcategory *string
	TaxYear     *int
}

// Upload stores the payload, inserts the document in pending_ocr, and
// schedules a pipeline run. Blob and row writes are mandatory; the trigger
// and the audit entry are best-effort.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (domain.Document, error) {
	if err := auth.EnforceOrganizationScope(ctx, req.OrganizationID); err != nil {
		return domain.Document{}, err
	}
	if req.FileName == "" {
		return domain.Document{}, fmt.Errorf("file name is required")
	}
	if req.ClientID == uuid.Nil {
		return domain.Document{}, fmt.Errorf("clientId is required")
	}

	// Ownership check: the client must belong to the uploading organization.
	if _, err := s.clients.GetByID(ctx, req.OrganizationID, req.ClientID); err != nil {
		return domain.Document{}, fmt.Errorf("client %s: %w", req.ClientID, err)
	}

	key := blobKey(req.OrganizationID, req.ClientID, req.FileName)
	size, err := s.blobs.Put(ctx, key, req.Data)
	if err != nil {
		return domain.Document{}, fmt.Errorf("store upload payload: %w", err)
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	doc := domain.NewDocument(req.OrganizationID, req.ClientID, req.UploadedBy, key, req.FileName, mimeType, size)
	doc.Category = req.Category
	doc.Subcategory = req.Subcategory
	doc.TaxYear = req.TaxYear

	created, err := s.documents.Create(ctx, doc)
	if err != nil {
		// The row is the source of truth; without it the stored payload
		// is orphaned, so clean it up.
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			log.Printf("[documents] orphaned payload %s could not be removed: %v", key, delErr)
		}
		return domain.Document{}, fmt.Errorf("create document: %w", err)
	}

	s.recordAudit(ctx, created, domain.AuditActionUpload, &req.UploadedBy, map[string]any{
		"fileName": created.FileName,
		"fileSize": created.FileSize,
	})

	s.dispatcher.DocumentUploaded(pipeline.Uploaded{
		DocumentID:     created.ID,
		OrganizationID: created.OrganizationID,
		FilePath:       created.FilePath,
		FileName:       created.FileName,
		MimeType:       created.MimeType,
	})

	return created, nil
}

// Get returns one document within the organization scope.
func (s *Service) Get(ctx context.Context, organizationID, id uuid.UUID) (domain.Document, error) {
	if err := auth.EnforceOrganizationScope(ctx, organizationID); err != nil {
		return domain.Document{}, err
	}
	return s.documents.GetByID(ctx, organizationID, id)
}

// List returns documents matching the filter, plus the unpaginated total.
func (s *Service) List(ctx context.Context, organizationID uuid.UUID, filter *repository.DocumentFilter, limit, offset int) ([]domain.Document, int, error) {
	if err := auth.EnforceOrganizationScope(ctx, organizationID); err != nil {
		return nil, 0, err
	}
	return s.documents.List(ctx, organizationID, filter, limit, offset)
}

// Review applies a human verdict, optionally correcting category metadata as
// part of the same transition.
func (s *Service) Review(ctx context.Context, organizationID, id uuid.UUID, decision repository.ReviewDecision) (domain.Document, error) {
	if err := auth.EnforceOrganizationScope(ctx, organizationID); err != nil {
		return domain.Document{}, err
	}

	doc, err := s.documents.Review(ctx, organizationID, id, decision)
	if err != nil {
		return domain.Document{}, err
	}

	action := domain.AuditActionVerify
	if decision.Status == domain.DocumentStatusRejected {
		action = domain.AuditActionReject
	}
	s.recordAudit(ctx, doc, action, &decision.VerifiedBy, map[string]any{
		"status": string(decision.Status),
	})
	return doc, nil
}

// UpdateMetadata corrects category, subcategory, or tax year outside of a
// review transition.
func (s *Service) UpdateMetadata(ctx context.Context, organizationID, id uuid.UUID, category *domain.Category, subcategory *string, taxYear *int) (domain.Document, error) {
	if err := auth.EnforceOrganizationScope(ctx, organizationID); err != nil {
		return domain.Document{}, err
	}

	doc, err := s.documents.UpdateMetadata(ctx, organizationID, id, category, subcategory, taxYear)
	if err != nil {
		return domain.Document{}, err
	}
	s.recordAudit(ctx, doc, domain.AuditActionUpdate, nil, nil)
	return doc, nil
}

// Delete removes the payload and then the row.
func (s *Service) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	if err := auth.EnforceOrganizationScope(ctx, organizationID); err != nil {
		return err
	}

	doc, err := s.documents.GetByID(ctx, organizationID, id)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, doc.FilePath); err != nil {
		return fmt.Errorf("delete payload %s: %w", doc.FilePath, err)
	}
	if err := s.documents.Delete(ctx, organizationID, id); err != nil {
		return err
	}
	s.recordAudit(ctx, doc, domain.AuditActionDelete, nil, map[string]any{
		"fileName": doc.FileName,
	})
	return nil
}

// SignedURL mints a fresh expiring URL for the document payload.
func (s *Service) SignedURL(ctx context.Context, organizationID, id uuid.UUID) (string, error) {
	if err := auth.EnforceOrganizationScope(ctx, organizationID); err != nil {
		return "", err
	}

	doc, err := s.documents.GetByID(ctx, organizationID, id)
	if err != nil {
		return "", err
	}
	return s.blobs.SignedURL(doc.FilePath, s.signedURLTTL)
}

// Reprocess rewinds a document to pending_ocr and schedules a fresh run.
// Previously extracted data stays in place until the new run overwrites it.
func (s *Service) Reprocess(ctx context.Context, organizationID, id uuid.UUID) (domain.Document, error) {
	if err := auth.EnforceOrganizationScope(ctx, organizationID); err != nil {
		return domain.Document{}, err
	}

	if err := s.documents.UpdateStatus(ctx, organizationID, id, domain.DocumentStatusPendingOCR); err != nil {
		return domain.Document{}, err
	}
	doc, err := s.documents.GetByID(ctx, organizationID, id)
	if err != nil {
		return domain.Document{}, err
	}

	s.recordAudit(ctx, doc, domain.AuditActionReprocess, nil, nil)
	s.dispatcher.DocumentReprocess(pipeline.Reprocess{
		DocumentID:     id,
		OrganizationID: organizationID,
	})
	return doc, nil
}

// BulkReprocess rewinds each document that exists and fans the batch out to
// the pipeline. Documents that cannot be rewound are skipped, not fatal.
func (s *Service) BulkReprocess(ctx context.Context, organizationID uuid.UUID, ids []uuid.UUID) (int, error) {
	if err := auth.EnforceOrganizationScope(ctx, organizationID); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("documentIds is required")
	}

	var accepted []uuid.UUID
	for _, id := range ids {
		if err := s.documents.UpdateStatus(ctx, organizationID, id, domain.DocumentStatusPendingOCR); err != nil {
			log.Printf("[documents] bulk reprocess skipping %s: %v", id, err)
			continue
		}
		accepted = append(accepted, id)
		s.recordAudit(ctx, domain.Document{ID: id, OrganizationID: organizationID}, domain.AuditActionReprocess, nil, map[string]any{
			"bulk": true,
		})
	}

	if len(accepted) > 0 {
		s.dispatcher.BulkReprocess(pipeline.BulkReprocess{
			DocumentIDs:    accepted,
			OrganizationID: organizationID,
		})
	}
	return len(accepted), nil
}

// AuditTrail lists the recorded actions for one document.
func (s *Service) AuditTrail(ctx context.Context, organizationID, id uuid.UUID, limit, offset int) ([]domain.AuditLogEntry, error) {
	if err := auth.EnforceOrganizationScope(ctx, organizationID); err != nil {
		return nil, err
	}
	return s.audits.List(ctx, organizationID, domain.ResourceTypeDocument, id, limit, offset)
}

// recordAudit is best-effort and never fails the calling operation.
func (s *Service) recordAudit(ctx context.Context, doc domain.Document, action string, userID *uuid.UUID, details map[string]any) {
	if s.audits == nil {
		return
	}
	entry := domain.AuditLogEntry{
		OrganizationID: doc.OrganizationID,
		UserID:         userID,
		Action:         action,
		ResourceType:   domain.ResourceTypeDocument,
		ResourceID:     doc.ID,
		Details:        details,
	}
	if err := s.audits.Record(ctx, entry); err != nil {
		log.Printf("[documents] audit write failed for document %s: %v", doc.ID, err)
	}
}

// blobKey builds the storage key for an upload. The timestamp prefix keeps
// repeated uploads of the same file name from colliding.
func blobKey(organizationID, clientID uuid.UUID, fileName string) string {
	name := filepath.Base(strings.TrimSpace(fileName))
	name = strings.ReplaceAll(name, " ", "_")
	return fmt.Sprintf("%s/%s/%d-%s", organizationID, clientID, time.Now().UnixNano(), name)
}
