package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditLogEntry is one append-only record of an action taken on a resource.
type AuditLogEntry struct {
	ID             uuid.UUID      `json:"id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	UserID         *uuid.UUID     `json:"user_id,omitempty"`
	Action         string         `json:"action"`
	ResourceType   string         `json:"resource_type"`
	ResourceID     uuid.UUID      `json:"resource_id"`
	Details        map[string]any `json:"details,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Audit actions recorded by the intake service.
const (
	AuditActionUpload    = "upload"
	AuditActionProcess   = "process"
	AuditActionReprocess = "reprocess"
	AuditActionUpdate    = "update"
	AuditActionVerify    = "verify"
	AuditActionReject    = "reject"
	AuditActionDelete    = "delete"
)

// ResourceTypeDocument is the resource type for document audit entries.
const ResourceTypeDocument = "document"
