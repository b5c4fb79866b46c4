// Package pipeline runs the asynchronous intake sequence for uploaded tax
// documents: OCR, classification, structured extraction, and a single merged
// persistence step. Runs are triggered by the dispatcher and are safe to
// re-deliver; every step records an explicit outcome instead of panicking.
package pipeline

import "github.com/google/uuid"

// Uploaded is dispatched when a document upload has been durably stored.
type Uploaded struct {
	DocumentID     uuid.UUID
	OrganizationID uuid.UUID
	FilePath       string
	FileName       string
	MimeType       string
}

// Reprocess is dispatched when a human requests a fresh run for one document.
type Reprocess struct {
	DocumentID     uuid.UUID
	OrganizationID uuid.UUID
}

// BulkReprocess fans out one independent run per document id. A failing
// document never aborts its siblings.
type BulkReprocess struct {
	DocumentIDs    []uuid.UUID
	OrganizationID uuid.UUID
}
