// Package export produces the document register: a spreadsheet of every
// intake document for an organization, used by preparers to track what has
// arrived and what is still pending review.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/taxbinder/taxbinder/internal/auth"
	"github.com/taxbinder/taxbinder/internal/domain"
	"github.com/taxbinder/taxbinder/internal/repository"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const (
	registerSheet = "Documents"
	pageSize      = 500
)

// Service builds document-register workbooks.
type Service struct {
	documents repository.DocumentRepository
	clients   repository.ClientRepository
}

// NewService wires the export service.
func NewService(documents repository.DocumentRepository, clients repository.ClientRepository) *Service {
	return &Service{documents: documents, clients: clients}
}

// Request narrows the register to a client, status, or tax year.
type Request struct {
	OrganizationID uuid.UUID
	ClientID       *uuid.UUID
	Status         *domain.DocumentStatus
	TaxYear        *int
}

// Register builds the workbook for one organization. The caller owns closing
// the returned file.
func (s *Service) Register(ctx context.Context, req Request) (*excelize.File, error) {
	if err := auth.EnforceOrganizationScope(ctx, req.OrganizationID); err != nil {
		return nil, err
	}

	clientNames, err := s.clientNames(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	file := excelize.NewFile()
	file.SetSheetName(file.GetSheetName(0), registerSheet)

	header := []any{"File name", "Client", "Status", "Category", "Subcategory", "Tax year", "Uploaded", "Verified by"}
	if err := file.SetSheetRow(registerSheet, "A1", &header); err != nil {
		file.Close()
		return nil, fmt.Errorf("write register header: %w", err)
	}

	filter := &repository.DocumentFilter{
		ClientID: req.ClientID,
		Status:   req.Status,
		TaxYear:  req.TaxYear,
	}

	row := 2
	for offset := 0; ; offset += pageSize {
		docs, _, err := s.documents.List(ctx, req.OrganizationID, filter, pageSize, offset)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("list documents for register: %w", err)
		}
		for _, doc := range docs {
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				file.Close()
				return nil, err
			}
			values := registerRow(doc, clientNames)
			if err := file.SetSheetRow(registerSheet, cell, &values); err != nil {
				file.Close()
				return nil, fmt.Errorf("write register row %d: %w", row, err)
			}
			row++
		}
		if len(docs) < pageSize {
			break
		}
	}

	return file, nil
}

// FileName names the downloaded workbook.
func FileName(organizationID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("document-register-%s-%s.xlsx", organizationID, now.UTC().Format("20060102-150405"))
}

func registerRow(doc domain.Document, clientNames map[uuid.UUID]string) []any {
	clientName := clientNames[doc.ClientID]
	if clientName == "" {
		clientName = doc.ClientID.String()
	}

	category := ""
	if doc.Category != nil {
		category = string(*doc.Category)
	}
	subcategory := ""
	if doc.Subcategory != nil {
		subcategory = *doc.Subcategory
	}
	taxYear := any("")
	if doc.TaxYear != nil {
		taxYear = *doc.TaxYear
	}
	verifiedBy := ""
	if doc.VerifiedBy != nil {
		verifiedBy = doc.VerifiedBy.String()
	}

	return []any{
		doc.FileName,
		clientName,
		string(doc.Status),
		category,
		subcategory,
		taxYear,
		doc.CreatedAt.UTC().Format(time.RFC3339),
		verifiedBy,
	}
}

func (s *Service) clientNames(ctx context.Context, organizationID uuid.UUID) (map[uuid.UUID]string, error) {
	clients, err := s.clients.List(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list clients for register: %w", err)
	}
	names := make(map[uuid.UUID]string, len(clients))
	for _, client := range clients {
		names[client.ID] = client.Name
	}
	return names, nil
}
