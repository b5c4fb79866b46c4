package domain

import (
	"time"

	"github.com/google/uuid"
)

// Organization represents a tenant firm; it is the unit of data isolation.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewOrganization creates a new organization.
func NewOrganization(name, slug string) Organization {
	now := time.Now().UTC()
	return Organization{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
