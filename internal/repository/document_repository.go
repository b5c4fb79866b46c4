package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/taxbinder/taxbinder/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const documentColumns = `id, organization_id, client_id, file_path, file_name, file_size, mime_type,
	status, category, subcategory, tax_year, ocr_text, extracted_data,
	uploaded_by, verified_by, created_at, updated_at`

type documentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository wires a repository backed by pgxpool.
func NewDocumentRepository(pool *pgxpool.Pool) DocumentRepository {
	return &documentRepository{pool: pool}
}

func (r *documentRepository) Create(ctx context.Context, doc domain.Document) (domain.Document, error) {
	if r.pool == nil {
		return domain.Document{}, fmt.Errorf("document repository not initialized")
	}

	extracted, err := marshalExtractedData(doc.ExtractedData)
	if err != nil {
		return domain.Document{}, err
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO documents (id, organization_id, client_id, file_path, file_name, file_size, mime_type,
			status, category, subcategory, tax_year, ocr_text, extracted_data, uploaded_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING `+documentColumns,
		doc.ID,
		doc.OrganizationID,
		doc.ClientID,
		doc.FilePath,
		doc.FileName,
		doc.FileSize,
		doc.MimeType,
		doc.Status,
		categoryValue(doc.Category),
		doc.Subcategory,
		doc.TaxYear,
		doc.OCRText,
		extracted,
		doc.UploadedBy,
		doc.CreatedAt,
		doc.UpdatedAt,
	)

	created, err := scanDocument(row)
	if err != nil {
		return domain.Document{}, fmt.Errorf("failed to create document: %w", err)
	}
	return created, nil
}

func (r *documentRepository) GetByID(ctx context.Context, organizationID, id uuid.UUID) (domain.Document, error) {
	if r.pool == nil {
		return domain.Document{}, fmt.Errorf("document repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT `+documentColumns+`
		 FROM documents
		 WHERE id = $1 AND organization_id = $2`,
		id,
		organizationID,
	)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Document{}, ErrNotFound
		}
		return domain.Document{}, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) GetByIDs(ctx context.Context, organizationID uuid.UUID, ids []uuid.UUID) ([]domain.Document, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("document repository not initialized")
	}
	if len(ids) == 0 {
		return []domain.Document{}, nil
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+documentColumns+`
		 FROM documents
		 WHERE organization_id = $1 AND id = ANY($2)`,
		organizationID,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

func (r *documentRepository) List(ctx context.Context, organizationID uuid.UUID, filter *DocumentFilter, limit, offset int) ([]domain.Document, int, error) {
	if r.pool == nil {
		return nil, 0, fmt.Errorf("document repository not initialized")
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	conditions := []string{"organization_id = $1"}
	args := []any{organizationID}

	if filter != nil {
		if filter.ClientID != nil {
			args = append(args, *filter.ClientID)
			conditions = append(conditions, fmt.Sprintf("client_id = $%d", len(args)))
		}
		if filter.Status != nil {
			args = append(args, *filter.Status)
			conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
		}
		if filter.Category != nil {
			args = append(args, *filter.Category)
			conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
		}
		if filter.TaxYear != nil {
			args = append(args, *filter.TaxYear)
			conditions = append(conditions, fmt.Sprintf("tax_year = $%d", len(args)))
		}
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.pool.Query(
		ctx,
		fmt.Sprintf(`SELECT %s FROM documents WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			documentColumns, where, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (r *documentRepository) UpdateStatus(ctx context.Context, organizationID, id uuid.UUID, status domain.DocumentStatus) error {
	if r.pool == nil {
		return fmt.Errorf("document repository not initialized")
	}

	// Optimistic guard on the read status: if a concurrent run moved the
	// document in between, re-read and re-validate rather than overwrite.
	for attempt := 0; attempt < 3; attempt++ {
		current, err := r.GetByID(ctx, organizationID, id)
		if err != nil {
			return err
		}
		if current.Status == status {
			// Setting the same status twice is a no-op.
			return nil
		}
		if !domain.CanTransition(current.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
		}

		tag, err := r.pool.Exec(
			ctx,
			`UPDATE documents SET status = $1, updated_at = now()
			 WHERE id = $2 AND organization_id = $3 AND status = $4`,
			status,
			id,
			organizationID,
			current.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to update document status: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
	}
	return fmt.Errorf("failed to update document status: too many concurrent updates")
}

func (r *documentRepository) ApplyProcessingResults(ctx context.Context, organizationID, id uuid.UUID, results domain.ProcessingResults) error {
	if r.pool == nil {
		return fmt.Errorf("document repository not initialized")
	}

	extracted, err := marshalExtractedData(results.ExtractedData)
	if err != nil {
		return err
	}

	// One statement for the whole merge: readers see either the pre-run or
	// the post-run document, never an interleaving. COALESCE keeps stored
	// values when this run produced nothing for a field.
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE documents SET
			status = $1,
			ocr_text = COALESCE($2, ocr_text),
			category = COALESCE($3, category),
			subcategory = COALESCE($4, subcategory),
			tax_year = COALESCE($5, tax_year),
			extracted_data = COALESCE($6, extracted_data),
			updated_at = now()
		 WHERE id = $7 AND organization_id = $8`,
		results.Status,
		results.OCRText,
		categoryValue(results.Category),
		results.Subcategory,
		results.TaxYear,
		extracted,
		id,
		organizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to apply processing results: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepository) Review(ctx context.Context, organizationID, id uuid.UUID, decision ReviewDecision) (domain.Document, error) {
	if r.pool == nil {
		return domain.Document{}, fmt.Errorf("document repository not initialized")
	}
	if decision.Status != domain.DocumentStatusVerified && decision.Status != domain.DocumentStatusRejected {
		return domain.Document{}, fmt.Errorf("%w: review must end in verified or rejected", ErrInvalidTransition)
	}

	current, err := r.GetByID(ctx, organizationID, id)
	if err != nil {
		return domain.Document{}, err
	}
	if !domain.CanTransition(current.Status, decision.Status) {
		return domain.Document{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, decision.Status)
	}

	row := r.pool.QueryRow(
		ctx,
		`UPDATE documents SET
			status = $1,
			verified_by = $2,
			category = COALESCE($3, category),
			subcategory = COALESCE($4, subcategory),
			tax_year = COALESCE($5, tax_year),
			updated_at = now()
		 WHERE id = $6 AND organization_id = $7
		 RETURNING `+documentColumns,
		decision.Status,
		decision.VerifiedBy,
		categoryValue(decision.Category),
		decision.Subcategory,
		decision.TaxYear,
		id,
		organizationID,
	)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Document{}, ErrNotFound
		}
		return domain.Document{}, fmt.Errorf("failed to review document: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) UpdateMetadata(ctx context.Context, organizationID, id uuid.UUID, category *domain.Category, subcategory *string, taxYear *int) (domain.Document, error) {
	if r.pool == nil {
		return domain.Document{}, fmt.Errorf("document repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`UPDATE documents SET
			category = COALESCE($1, category),
			subcategory = COALESCE($2, subcategory),
			tax_year = COALESCE($3, tax_year),
			updated_at = now()
		 WHERE id = $4 AND organization_id = $5
		 RETURNING `+documentColumns,
		categoryValue(category),
		subcategory,
		taxYear,
		id,
		organizationID,
	)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Document{}, ErrNotFound
		}
		return domain.Document{}, fmt.Errorf("failed to update document: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	if r.pool == nil {
		return fmt.Errorf("document repository not initialized")
	}

	tag, err := r.pool.Exec(
		ctx,
		`DELETE FROM documents WHERE id = $1 AND organization_id = $2`,
		id,
		organizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc         domain.Document
		category    pgtype.Text
		subcategory pgtype.Text
		taxYear     pgtype.Int4
		ocrText     pgtype.Text
		extracted   []byte
		verifiedBy  pgtype.UUID
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)

	if err := row.Scan(
		&doc.ID,
		&doc.OrganizationID,
		&doc.ClientID,
		&doc.FilePath,
		&doc.FileName,
		&doc.FileSize,
		&doc.MimeType,
		&doc.Status,
		&category,
		&subcategory,
		&taxYear,
		&ocrText,
		&extracted,
		&doc.UploadedBy,
		&verifiedBy,
		&createdAt,
		&updatedAt,
	); err != nil {
		return domain.Document{}, err
	}

	if category.Valid {
		value, _ := domain.ParseCategory(category.String)
		doc.Category = &value
	}
	if subcategory.Valid {
		doc.Subcategory = &subcategory.String
	}
	if taxYear.Valid {
		value := int(taxYear.Int32)
		doc.TaxYear = &value
	}
	if ocrText.Valid {
		doc.OCRText = &ocrText.String
	}
	if len(extracted) > 0 {
		var data domain.ExtractedData
		if err := json.Unmarshal(extracted, &data); err != nil {
			return domain.Document{}, fmt.Errorf("failed to decode extracted data: %w", err)
		}
		doc.ExtractedData = &data
	}
	if verifiedBy.Valid {
		value := uuid.UUID(verifiedBy.Bytes)
		doc.VerifiedBy = &value
	}
	if createdAt.Valid {
		doc.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		doc.UpdatedAt = updatedAt.Time
	}

	return doc, nil
}

func scanDocuments(rows pgx.Rows) ([]domain.Document, error) {
	docs := []domain.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

func marshalExtractedData(data *domain.ExtractedData) (any, error) {
	if data == nil {
		return nil, nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extracted data: %w", err)
	}
	return payload, nil
}

func categoryValue(category *domain.Category) any {
	if category == nil {
		return nil
	}
	return string(*category)
}
