package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/taxbinder/taxbinder/internal/ai"
	"github.com/taxbinder/taxbinder/internal/blob"
	"github.com/taxbinder/taxbinder/internal/domain"
	"github.com/taxbinder/taxbinder/internal/ocr"
	"github.com/taxbinder/taxbinder/internal/repository"

	"github.com/google/uuid"
)

// StepStatus is the explicit outcome of one pipeline step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// Step names in execution order.
const (
	StepMarkProcessing = "mark_processing"
	StepOCR            = "ocr"
	StepClassify       = "classify"
	StepExtract        = "extract_form_fields"
	StepPersist        = "persist_results"
	StepAudit          = "record_audit"
)

// StepResult records what one step did. Failures of optional steps are
// recorded here and absorbed; they degrade output, not availability.
type StepResult struct {
	Name   string
	Status StepStatus
	Err    error
}

// RunReport summarizes one pipeline run for one document.
type RunReport struct {
	DocumentID  uuid.UUID
	FinalStatus domain.DocumentStatus
	Steps       []StepResult
}

func (r *RunReport) record(name string, status StepStatus, err error) {
	r.Steps = append(r.Steps, StepResult{Name: name, Status: status, Err: err})
}

// Runner executes the ordered step sequence for one document. All
// collaborators are injected; the runner holds no mutable state across runs,
// so concurrent runs for different documents share nothing.
type Runner struct {
	documents    repository.DocumentRepository
	audits       repository.AuditLogRepository
	blobs        blob.Store
	engine       ocr.Engine
	classifier   ai.Classifier
	signedURLTTL time.Duration
}

// NewRunner wires a pipeline runner.
func NewRunner(
	documents repository.DocumentRepository,
	audits repository.AuditLogRepository,
	blobs blob.Store,
	engine ocr.Engine,
	classifier ai.Classifier,
	signedURLTTL time.Duration,
) *Runner {
	if signedURLTTL <= 0 {
		signedURLTTL = 15 * time.Minute
	}
	return &Runner{
		documents:    documents,
		audits:       audits,
		blobs:        blobs,
		engine:       engine,
		classifier:   classifier,
		signedURLTTL: signedURLTTL,
	}
}

// Run executes the full step sequence for one document. A returned error
// means the run as a whole should be retried by the dispatcher; the document
// is left in a recoverable state either way. Re-running the sequence for the
// same inputs is safe: step one is a no-op when the status is already set,
// and the final persist merges rather than overwrites.
func (r *Runner) Run(ctx context.Context, organizationID, documentID uuid.UUID) (*RunReport, error) {
	report := &RunReport{DocumentID: documentID}

	doc, err := r.documents.GetByID(ctx, organizationID, documentID)
	if err != nil {
		return report, fmt.Errorf("load document %s: %w", documentID, err)
	}

	// Step 1: mark processing before any capability call. A duplicate
	// delivery whose run already completed hits an invalid transition here
	// (e.g. pending_review -> processing) and simply stops.
	if err := r.documents.UpdateStatus(ctx, organizationID, documentID, domain.DocumentStatusProcessing); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			log.Printf("[pipeline] document %s not runnable (%s), skipping duplicate trigger", documentID, doc.Status)
			report.record(StepMarkProcessing, StepSkipped, err)
			report.FinalStatus = doc.Status
			return report, nil
		}
		return report, fmt.Errorf("mark document %s processing: %w", documentID, err)
	}
	report.record(StepMarkProcessing, StepSuccess, nil)

	// Step 2: OCR. The blob is probed first; a payload that cannot be
	// fetched at all is the one condition that drives the document to
	// error instead of pending_review.
	ocrResult, fatal := r.runOCR(ctx, report, doc)
	if fatal != nil {
		if err := r.documents.UpdateStatus(ctx, organizationID, documentID, domain.DocumentStatusError); err != nil {
			return report, fmt.Errorf("mark document %s errored: %w", documentID, err)
		}
		report.FinalStatus = domain.DocumentStatusError
		r.recordAudit(ctx, report, organizationID, documentID, domain.AuditActionProcess, map[string]any{
			"outcome": "error",
			"reason":  fatal.Error(),
		})
		log.Printf("[pipeline] document %s unreadable: %v", documentID, fatal)
		return report, nil
	}

	classification := r.runClassify(ctx, report, ocrResult)
	formFields := r.runExtract(ctx, report, ocrResult, classification)

	// Step 5: one merged write. Nil fields keep whatever a previous run
	// stored, so a failed step can never regress a populated field.
	results := buildResults(doc.ExtractedData, ocrResult, classification, formFields)
	if err := r.documents.ApplyProcessingResults(ctx, organizationID, documentID, results); err != nil {
		report.record(StepPersist, StepFailed, err)
		return report, fmt.Errorf("persist results for document %s: %w", documentID, err)
	}
	report.record(StepPersist, StepSuccess, nil)
	report.FinalStatus = domain.DocumentStatusPendingReview

	r.recordAudit(ctx, report, organizationID, documentID, domain.AuditActionProcess, auditDetails(report, classification))
	return report, nil
}

// runOCR probes the blob and runs layout analysis. The second return value is
// non-nil only for fatal input failures; capability failures are absorbed.
func (r *Runner) runOCR(ctx context.Context, report *RunReport, doc domain.Document) (*ocr.Result, error) {
	if r.engine == nil || !r.engine.Configured() {
		report.record(StepOCR, StepSkipped, nil)
		return nil, nil
	}

	rc, err := r.blobs.Open(ctx, doc.FilePath)
	if err != nil {
		report.record(StepOCR, StepFailed, err)
		return nil, fmt.Errorf("fetch payload %s: %w", doc.FilePath, err)
	}
	rc.Close()

	// Signed references expire, so each run mints a fresh one instead of
	// reusing a URL from an earlier attempt.
	url, err := r.blobs.SignedURL(doc.FilePath, r.signedURLTTL)
	if err != nil {
		report.record(StepOCR, StepFailed, err)
		log.Printf("[pipeline] document %s signed url failed: %v", doc.ID, err)
		return nil, nil
	}

	result, err := r.engine.Analyze(ctx, url)
	if err != nil {
		report.record(StepOCR, StepFailed, err)
		log.Printf("[pipeline] document %s ocr failed: %v", doc.ID, err)
		return nil, nil
	}
	report.record(StepOCR, StepSuccess, nil)
	return result, nil
}

func (r *Runner) runClassify(ctx context.Context, report *RunReport, ocrResult *ocr.Result) *domain.ClassificationResult {
	if r.classifier == nil || !r.classifier.Configured() ||
		ocrResult == nil || strings.TrimSpace(ocrResult.Text) == "" {
		report.record(StepClassify, StepSkipped, nil)
		return nil
	}

	classification, err := r.classifier.Classify(ctx, ocrResult.Text)
	if err != nil {
		report.record(StepClassify, StepFailed, err)
		log.Printf("[pipeline] classification failed: %v", err)
		return nil
	}
	report.record(StepClassify, StepSuccess, nil)
	return classification
}

// runExtract calls the structured extractor only for known form types;
// otherwise (and on extractor failure) it falls back to the field list the
// classification pass already produced, without an extra capability call.
func (r *Runner) runExtract(ctx context.Context, report *RunReport, ocrResult *ocr.Result, classification *domain.ClassificationResult) map[string]any {
	if classification == nil || ocrResult == nil || !domain.IsStructuredFormType(classification.Subcategory) {
		report.record(StepExtract, StepSkipped, nil)
		return nil
	}

	fields, err := r.classifier.ExtractFormFields(ctx, ocrResult.Text, classification.Subcategory)
	if err != nil {
		report.record(StepExtract, StepFailed, err)
		log.Printf("[pipeline] form field extraction failed for %s: %v", classification.Subcategory, err)
		return nil
	}
	report.record(StepExtract, StepSuccess, nil)
	return fields
}

// buildResults merges this run's outputs over the previously stored
// extracted-data blob. Sub-fields a failed step did not produce keep the
// contribution of the last successful run.
func buildResults(prior *domain.ExtractedData, ocrResult *ocr.Result, classification *domain.ClassificationResult, formFields map[string]any) domain.ProcessingResults {
	results := domain.ProcessingResults{Status: domain.DocumentStatusPendingReview}

	var extracted *domain.ExtractedData
	if prior != nil {
		merged := *prior
		extracted = &merged
	}
	ensure := func() *domain.ExtractedData {
		if extracted == nil {
			extracted = &domain.ExtractedData{}
		}
		extracted.ProcessedAt = time.Now().UTC()
		return extracted
	}

	if ocrResult != nil {
		text := ocrResult.Text
		results.OCRText = &text
		ensure().OCRMetadata = &domain.OCRMetadata{
			PageCount:         len(ocrResult.Pages),
			TableCount:        len(ocrResult.Tables),
			KeyValuePairCount: len(ocrResult.KeyValuePairs),
		}
	}

	if classification != nil {
		category := classification.Category
		subcategory := classification.Subcategory
		results.Category = &category
		results.Subcategory = &subcategory
		results.TaxYear = classification.TaxYear

		data := ensure()
		data.Classification = classification
		data.ExtractedFields = classification.ExtractedFields
	}

	if formFields != nil {
		ensure().FormFields = formFields
	}

	results.ExtractedData = extracted
	return results
}

func auditDetails(report *RunReport, classification *domain.ClassificationResult) map[string]any {
	details := map[string]any{"outcome": string(report.FinalStatus)}
	steps := make(map[string]string, len(report.Steps))
	for _, step := range report.Steps {
		steps[step.Name] = string(step.Status)
	}
	details["steps"] = steps
	if classification != nil {
		details["category"] = string(classification.Category)
		details["subcategory"] = classification.Subcategory
	}
	return details
}

// recordAudit is best-effort: a failed audit write never affects the run.
func (r *Runner) recordAudit(ctx context.Context, report *RunReport, organizationID, documentID uuid.UUID, action string, details map[string]any) {
	if r.audits == nil {
		report.record(StepAudit, StepSkipped, nil)
		return
	}
	entry := domain.AuditLogEntry{
		OrganizationID: organizationID,
		Action:         action,
		ResourceType:   domain.ResourceTypeDocument,
		ResourceID:     documentID,
		Details:        details,
	}
	if err := r.audits.Record(ctx, entry); err != nil {
		report.record(StepAudit, StepFailed, err)
		log.Printf("[pipeline] audit write failed for document %s: %v", documentID, err)
		return
	}
	report.record(StepAudit, StepSuccess, nil)
}
