package repository

import (
	"context"
	"errors"

	"github.com/taxbinder/taxbinder/internal/domain"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist within the caller's
// organization scope. A row that exists under another tenant is
// indistinguishable from one that does not exist at all.
var ErrNotFound = errors.New("record not found")

// ErrInvalidTransition is returned when a status update violates the
// document state machine.
var ErrInvalidTransition = errors.New("invalid document status transition")

// DocumentFilter narrows document listings.
type DocumentFilter struct {
	ClientID *uuid.UUID
	Status   *domain.DocumentStatus
	Category *domain.Category
	TaxYear  *int
}

// ReviewDecision carries a human reviewer's verdict, with optional
// corrections applied as part of the same transition.
type ReviewDecision struct {
	Status      domain.DocumentStatus // verified or rejected
	VerifiedBy  uuid.UUID
	Category    *domain.Category
	Subcategory *string
	TaxYear     *int
}

// DocumentRepository defines the interface for document operations. Every
// method is scoped by organization id; cross-tenant access is impossible at
// this boundary.
type DocumentRepository interface {
	Create(ctx context.Context, doc domain.Document) (domain.Document, error)
	GetByID(ctx context.Context, organizationID, id uuid.UUID) (domain.Document, error)
	GetByIDs(ctx context.Context, organizationID uuid.UUID, ids []uuid.UUID) ([]domain.Document, error)
	List(ctx context.Context, organizationID uuid.UUID, filter *DocumentFilter, limit, offset int) ([]domain.Document, int, error)
	// UpdateStatus moves the document along the state machine. The
	// transition is validated against the currently stored status;
	// re-applying the same status is a no-op, not an error.
	UpdateStatus(ctx context.Context, organizationID, id uuid.UUID, status domain.DocumentStatus) error
	// ApplyProcessingResults merges a pipeline run's outputs into the
	// document in one statement. Nil fields leave stored values untouched,
	// so a failed step can never erase a previous run's contribution.
	ApplyProcessingResults(ctx context.Context, organizationID, id uuid.UUID, results domain.ProcessingResults) error
	Review(ctx context.Context, organizationID, id uuid.UUID, decision ReviewDecision) (domain.Document, error)
	UpdateMetadata(ctx context.Context, organizationID, id uuid.UUID, category *domain.Category, subcategory *string, taxYear *int) (domain.Document, error)
	Delete(ctx context.Context, organizationID, id uuid.UUID) error
}

// AuditLogRepository stores the append-only action trail.
type AuditLogRepository interface {
	Record(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, organizationID uuid.UUID, resourceType string, resourceID uuid.UUID, limit, offset int) ([]domain.AuditLogEntry, error)
}

// ClientRepository defines the interface for client operations.
type ClientRepository interface {
	Create(ctx context.Context, client domain.Client) (domain.Client, error)
	GetByID(ctx context.Context, organizationID, id uuid.UUID) (domain.Client, error)
	List(ctx context.Context, organizationID uuid.UUID) ([]domain.Client, error)
}

// OrganizationRepository defines the interface for organization operations.
type OrganizationRepository interface {
	Create(ctx context.Context, org domain.Organization) (domain.Organization, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Organization, error)
}
