package domain

import (
	"time"

	"github.com/google/uuid"
)

// ClientStatus tracks where a client sits in the engagement lifecycle.
type ClientStatus string

const (
	ClientStatusActive    ClientStatus = "active"
	ClientStatusPending   ClientStatus = "pending"
	ClientStatusCompleted ClientStatus = "completed"
	ClientStatusArchived  ClientStatus = "archived"
)

// Client is a firm's customer whose documents are collected for a tax year.
type Client struct {
	ID             uuid.UUID    `json:"id"`
	OrganizationID uuid.UUID    `json:"organization_id"`
	Name           string       `json:"name"`
	Email          *string      `json:"email,omitempty"`
	TaxYear        int          `json:"tax_year"`
	Status         ClientStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NewClient creates an active client for the given organization and tax year.
func NewClient(organizationID uuid.UUID, name string, taxYear int) Client {
	now := time.Now().UTC()
	return Client{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		Name:           name,
		TaxYear:        taxYear,
		Status:         ClientStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
