// Package clients manages the firm and client records documents hang off.
package clients

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taxbinder/taxbinder/internal/auth"
	"github.com/taxbinder/taxbinder/internal/domain"
	"github.com/taxbinder/taxbinder/internal/repository"

	"github.com/google/uuid"
)

// Service manages organizations and their clients.
type Service struct {
	organizations repository.OrganizationRepository
	clients       repository.ClientRepository
}

// NewService wires the client service.
func NewService(organizations repository.OrganizationRepository, clients repository.ClientRepository) *Service {
	return &Service{organizations: organizations, clients: clients}
}

// CreateOrganization registers a new tenant firm.
func (s *Service) CreateOrganization(ctx context.Context, name, slug string) (domain.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Organization{}, fmt.Errorf("name is required")
	}
	slug = strings.TrimSpace(slug)
	if slug == "" {
		slug = slugify(name)
	}
	return s.organizations.Create(ctx, domain.NewOrganization(name, slug))
}

// CreateClient registers a client under an organization for a tax year.
func (s *Service) CreateClient(ctx context.Context, organizationID uuid.UUID, name string, email *string, taxYear int) (domain.Client, error) {
	if err := auth.EnforceOrganizationScope(ctx, organizationID); err != nil {
		return domain.Client{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Client{}, fmt.Errorf("name is required")
	}
	if taxYear == 0 {
		taxYear = time.Now().UTC().Year() - 1
	}

	// The organization must exist; a typo'd id should fail loudly here, not
	// surface later as an orphaned client.
	if _, err := s.organizations.GetByID(ctx, organizationID); err != nil {
		return domain.Client{}, fmt.Errorf("organization %s: %w", organizationID, err)
	}

	client := domain.NewClient(organizationID, name, taxYear)
	client.Email = email
	return s.clients.Create(ctx, client)
}

// ListClients returns the organization's clients.
func (s *Service) ListClients(ctx context.Context, organizationID uuid.UUID) ([]domain.Client, error) {
	if err := auth.EnforceOrganizationScope(ctx, organizationID); err != nil {
		return nil, err
	}
	return s.clients.List(ctx, organizationID)
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Join(strings.Fields(slug), "-")
	return slug
}
