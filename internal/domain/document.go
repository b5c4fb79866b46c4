package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus tracks a document through the intake pipeline.
type DocumentStatus string

const (
	DocumentStatusPendingUpload DocumentStatus = "pending_upload"
	DocumentStatusPendingOCR    DocumentStatus = "pending_ocr"
	DocumentStatusProcessing    DocumentStatus = "processing"
	DocumentStatusPendingReview DocumentStatus = "pending_review"
	DocumentStatusVerified      DocumentStatus = "verified"
	DocumentStatusRejected      DocumentStatus = "rejected"
	DocumentStatusError         DocumentStatus = "error"
)

// ParseDocumentStatus validates a raw status string.
func ParseDocumentStatus(raw string) (DocumentStatus, bool) {
	switch DocumentStatus(raw) {
	case DocumentStatusPendingUpload, DocumentStatusPendingOCR, DocumentStatusProcessing,
		DocumentStatusPendingReview, DocumentStatusVerified, DocumentStatusRejected,
		DocumentStatusError:
		return DocumentStatus(raw), true
	}
	return "", false
}

// CanTransition reports whether a document may move from one status to
// another. Transitions are monotonic along
// pending_upload -> pending_ocr -> processing -> pending_review -> verified/rejected,
// with error reachable from processing. The single sanctioned rewind is an
// explicit reprocess, which re-enters pending_ocr from any status.
func CanTransition(from, to DocumentStatus) bool {
	if to == DocumentStatusPendingOCR {
		// Reprocess entry point.
		return true
	}
	switch from {
	case DocumentStatusPendingUpload:
		return to == DocumentStatusPendingOCR
	case DocumentStatusPendingOCR:
		return to == DocumentStatusProcessing
	case DocumentStatusProcessing:
		return to == DocumentStatusProcessing ||
			to == DocumentStatusPendingReview ||
			to == DocumentStatusError
	case DocumentStatusPendingReview:
		return to == DocumentStatusVerified || to == DocumentStatusRejected
	case DocumentStatusVerified, DocumentStatusRejected, DocumentStatusError:
		return false
	}
	return false
}

// Document is the central record the pipeline mutates. It belongs to exactly
// one organization and one client; both are immutable after creation.
// FilePath is a blob-store key, never a public URL.
type Document struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	ClientID       uuid.UUID       `json:"client_id"`
	FilePath       string          `json:"file_path"`
	FileName       string          `json:"file_name"`
	FileSize       int64           `json:"file_size"`
	MimeType       string          `json:"mime_type"`
	Status         DocumentStatus  `json:"status"`
	Category       *Category       `json:"category,omitempty"`
	Subcategory    *string         `json:"subcategory,omitempty"`
	TaxYear        *int            `json:"tax_year,omitempty"`
	OCRText        *string         `json:"ocr_text,omitempty"`
	ExtractedData  *ExtractedData  `json:"extracted_data,omitempty"`
	UploadedBy     uuid.UUID       `json:"uploaded_by"`
	VerifiedBy     *uuid.UUID      `json:"verified_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewDocument creates a document record for a freshly stored upload. The
// status is pending_ocr immediately: even if the processing trigger is never
// delivered, the record stays valid and reprocessable.
func NewDocument(organizationID, clientID, uploadedBy uuid.UUID, filePath, fileName, mimeType string, fileSize int64) Document {
	now := time.Now().UTC()
	return Document{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		ClientID:       clientID,
		FilePath:       filePath,
		FileName:       fileName,
		FileSize:       fileSize,
		MimeType:       mimeType,
		Status:         DocumentStatusPendingOCR,
		UploadedBy:     uploadedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ExtractedData is the additive processing-output blob stored on a document.
// Later runs augment it; a failed step must never erase contributions from a
// previous successful step.
type ExtractedData struct {
	Classification  *ClassificationResult `json:"classification,omitempty"`
	ExtractedFields []ExtractedField      `json:"extractedFields,omitempty"`
	FormFields      map[string]any        `json:"formFields,omitempty"`
	OCRMetadata     *OCRMetadata          `json:"ocrMetadata,omitempty"`
	ProcessedAt     time.Time             `json:"processedAt"`
}

// OCRMetadata summarizes the layout analysis that backed an extraction.
type OCRMetadata struct {
	PageCount         int `json:"pageCount"`
	TableCount        int `json:"tableCount"`
	KeyValuePairCount int `json:"keyValuePairCount"`
}

// ProcessingResults carries the subset of pipeline outputs a run produced.
// Nil fields were not produced and must leave the stored value untouched.
type ProcessingResults struct {
	Status        DocumentStatus
	OCRText       *string
	Category      *Category
	Subcategory   *string
	TaxYear       *int
	ExtractedData *ExtractedData
}
