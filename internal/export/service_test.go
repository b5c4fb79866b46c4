package export

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/taxbinder/taxbinder/internal/domain"
	"github.com/taxbinder/taxbinder/internal/repository"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

type stubDocRepo struct {
	docs []domain.Document
}

func (s *stubDocRepo) Create(ctx context.Context, doc domain.Document) (domain.Document, error) {
	return doc, nil
}

func (s *stubDocRepo) GetByID(ctx context.Context, organizationID, id uuid.UUID) (domain.Document, error) {
	return domain.Document{}, repository.ErrNotFound
}

func (s *stubDocRepo) GetByIDs(ctx context.Context, organizationID uuid.UUID, ids []uuid.UUID) ([]domain.Document, error) {
	return nil, nil
}

func (s *stubDocRepo) List(ctx context.Context, organizationID uuid.UUID, filter *repository.DocumentFilter, limit, offset int) ([]domain.Document, int, error) {
	var matched []domain.Document
	for _, doc := range s.docs {
		if doc.OrganizationID != organizationID {
			continue
		}
		if filter != nil && filter.Status != nil && doc.Status != *filter.Status {
			continue
		}
		matched = append(matched, doc)
	}
	if offset >= len(matched) {
		return nil, len(matched), nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], len(matched), nil
}

func (s *stubDocRepo) UpdateStatus(ctx context.Context, organizationID, id uuid.UUID, status domain.DocumentStatus) error {
	return nil
}

func (s *stubDocRepo) ApplyProcessingResults(ctx context.Context, organizationID, id uuid.UUID, results domain.ProcessingResults) error {
	return nil
}

func (s *stubDocRepo) Review(ctx context.Context, organizationID, id uuid.UUID, decision repository.ReviewDecision) (domain.Document, error) {
	return domain.Document{}, repository.ErrNotFound
}

func (s *stubDocRepo) UpdateMetadata(ctx context.Context, organizationID, id uuid.UUID, category *domain.Category, subcategory *string, taxYear *int) (domain.Document, error) {
	return domain.Document{}, repository.ErrNotFound
}

func (s *stubDocRepo) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	return nil
}

type stubClientRepo struct {
	clients []domain.Client
}

func (s *stubClientRepo) Create(ctx context.Context, client domain.Client) (domain.Client, error) {
	return client, nil
}

func (s *stubClientRepo) GetByID(ctx context.Context, organizationID, id uuid.UUID) (domain.Client, error) {
	return domain.Client{}, repository.ErrNotFound
}

func (s *stubClientRepo) List(ctx context.Context, organizationID uuid.UUID) ([]domain.Client, error) {
	return s.clients, nil
}

func registerFixture() (*Service, uuid.UUID) {
	orgID := uuid.New()
	client := domain.NewClient(orgID, "Jordan Reyes", 2024)

	category := domain.CategoryIncome
	subcategory := "W-2"
	year := 2024

	doc1 := domain.NewDocument(orgID, client.ID, uuid.New(), "key/w2.pdf", "w2.pdf", "application/pdf", 100)
	doc1.Status = domain.DocumentStatusPendingReview
	doc1.Category = &category
	doc1.Subcategory = &subcategory
	doc1.TaxYear = &year

	doc2 := domain.NewDocument(orgID, client.ID, uuid.New(), "key/statement.pdf", "statement.pdf", "application/pdf", 200)

	service := NewService(
		&stubDocRepo{docs: []domain.Document{doc1, doc2}},
		&stubClientRepo{clients: []domain.Client{client}},
	)
	return service, orgID
}

func TestRegister_BuildsWorkbook(t *testing.T) {
	service, orgID := registerFixture()

	file, err := service.Register(context.Background(), Request{OrganizationID: orgID})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer file.Close()

	rows, err := file.GetRows(registerSheet)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "File name" || rows[0][2] != "Status" {
		t.Fatalf("unexpected header row: %v", rows[0])
	}

	var names []string
	for _, row := range rows[1:] {
		names = append(names, row[0])
	}
	sort.Strings(names)
	if names[0] != "statement.pdf" || names[1] != "w2.pdf" {
		t.Fatalf("unexpected register contents: %v", names)
	}

	for _, row := range rows[1:] {
		if row[1] != "Jordan Reyes" {
			t.Fatalf("client name not resolved: %v", row)
		}
		if row[0] == "w2.pdf" && (row[3] != "income" || row[4] != "W-2") {
			t.Fatalf("classification columns wrong: %v", row)
		}
	}
}

func TestRegister_StatusFilter(t *testing.T) {
	service, orgID := registerFixture()
	status := domain.DocumentStatusPendingReview

	file, err := service.Register(context.Background(), Request{OrganizationID: orgID, Status: &status})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer file.Close()

	rows, err := file.GetRows(registerSheet)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header plus 1 filtered row, got %d", len(rows))
	}
	if rows[1][0] != "w2.pdf" {
		t.Fatalf("unexpected filtered row: %v", rows[1])
	}
}

func TestHandler_DownloadsWorkbook(t *testing.T) {
	service, orgID := registerFixture()
	handler := NewHTTPHandler(service)

	req := httptest.NewRequest(http.MethodGet, "/api/exports/documents?organizationId="+orgID.String(), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != xlsxContentType {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "document-register-") {
		t.Fatalf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}

	file, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("response is not a readable workbook: %v", err)
	}
	defer file.Close()
	rows, err := file.GetRows(registerSheet)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
}

func TestHandler_RejectsUnknownStatus(t *testing.T) {
	service, orgID := registerFixture()
	handler := NewHTTPHandler(service)

	req := httptest.NewRequest(http.MethodGet, "/api/exports/documents?organizationId="+orgID.String()+"&status=bogus", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
