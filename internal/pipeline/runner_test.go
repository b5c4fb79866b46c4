package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/taxbinder/taxbinder/internal/blob"
	"github.com/taxbinder/taxbinder/internal/domain"
	"github.com/taxbinder/taxbinder/internal/ocr"
	"github.com/taxbinder/taxbinder/internal/repository"

	"github.com/google/uuid"
)

// fakeDocumentRepo is an in-memory DocumentRepository that mirrors the
// production transition and merge semantics.
type fakeDocumentRepo struct {
	mu   sync.Mutex
	docs map[uuid.UUID]domain.Document
}

func newFakeDocumentRepo(docs ...domain.Document) *fakeDocumentRepo {
	repo := &fakeDocumentRepo{docs: make(map[uuid.UUID]domain.Document)}
	for _, doc := range docs {
		repo.docs[doc.ID] = doc
	}
	return repo
}

func (f *fakeDocumentRepo) Create(ctx context.Context, doc domain.Document) (domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	return doc, nil
}

func (f *fakeDocumentRepo) GetByID(ctx context.Context, organizationID, id uuid.UUID) (domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.OrganizationID != organizationID {
		return domain.Document{}, repository.ErrNotFound
	}
	return doc, nil
}

func (f *fakeDocumentRepo) GetByIDs(ctx context.Context, organizationID uuid.UUID, ids []uuid.UUID) ([]domain.Document, error) {
	var out []domain.Document
	for _, id := range ids {
		if doc, err := f.GetByID(ctx, organizationID, id); err == nil {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeDocumentRepo) List(ctx context.Context, organizationID uuid.UUID, filter *repository.DocumentFilter, limit, offset int) ([]domain.Document, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Document
	for _, doc := range f.docs {
		if doc.OrganizationID == organizationID {
			out = append(out, doc)
		}
	}
	return out, len(out), nil
}

func (f *fakeDocumentRepo) UpdateStatus(ctx context.Context, organizationID, id uuid.UUID, status domain.DocumentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.OrganizationID != organizationID {
		return repository.ErrNotFound
	}
	if doc.Status == status {
		return nil
	}
	if !domain.CanTransition(doc.Status, status) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, doc.Status, status)
	}
	doc.Status = status
	f.docs[id] = doc
	return nil
}

func (f *fakeDocumentRepo) ApplyProcessingResults(ctx context.Context, organizationID, id uuid.UUID, results domain.ProcessingResults) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.OrganizationID != organizationID {
		return repository.ErrNotFound
	}
	doc.Status = results.Status
	if results.OCRText != nil {
		doc.OCRText = results.OCRText
	}
	if results.Category != nil {
		doc.Category = results.Category
	}
	if results.Subcategory != nil {
		doc.Subcategory = results.Subcategory
	}
	if results.TaxYear != nil {
		doc.TaxYear = results.TaxYear
	}
	if results.ExtractedData != nil {
		doc.ExtractedData = results.ExtractedData
	}
	f.docs[id] = doc
	return nil
}

func (f *fakeDocumentRepo) Review(ctx context.Context, organizationID, id uuid.UUID, decision repository.ReviewDecision) (domain.Document, error) {
	return domain.Document{}, errors.New("not implemented")
}

func (f *fakeDocumentRepo) UpdateMetadata(ctx context.Context, organizationID, id uuid.UUID, category *domain.Category, subcategory *string, taxYear *int) (domain.Document, error) {
	return domain.Document{}, errors.New("not implemented")
}

func (f *fakeDocumentRepo) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func (f *fakeDocumentRepo) get(t *testing.T, id uuid.UUID) domain.Document {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		t.Fatalf("document %s not found", id)
	}
	return doc
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLogEntry
	err     error
}

func (f *fakeAuditRepo) Record(ctx context.Context, entry domain.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditRepo) List(ctx context.Context, organizationID uuid.UUID, resourceType string, resourceID uuid.UUID, limit, offset int) ([]domain.AuditLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AuditLogEntry(nil), f.entries...), nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobStore(keys ...string) *fakeBlobStore {
	store := &fakeBlobStore{objects: make(map[string][]byte)}
	for _, key := range keys {
		store.objects[key] = []byte("payload")
	}
	return store
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return int64(len(data)), nil
}

func (f *fakeBlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobStore) SignedURL(key string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

type fakeEngine struct {
	configured bool
	result     *ocr.Result
	err        error
	calls      int
	mu         sync.Mutex
}

func (f *fakeEngine) Configured() bool { return f.configured }

func (f *fakeEngine) Analyze(ctx context.Context, url string) (*ocr.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeClassifier struct {
	configured     bool
	classification *domain.ClassificationResult
	classifyErr    error
	formFields     map[string]any
	extractErr     error
	extractCalls   int
	mu             sync.Mutex
}

func (f *fakeClassifier) Configured() bool { return f.configured }

func (f *fakeClassifier) Classify(ctx context.Context, text string) (*domain.ClassificationResult, error) {
	if f.classifyErr != nil {
		return nil, f.classifyErr
	}
	return f.classification, nil
}

func (f *fakeClassifier) ExtractFormFields(ctx context.Context, text, formType string) (map[string]any, error) {
	f.mu.Lock()
	f.extractCalls++
	f.mu.Unlock()
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return f.formFields, nil
}

func testDocument(orgID uuid.UUID) domain.Document {
	return domain.NewDocument(orgID, uuid.New(), uuid.New(), "org/client/w2.pdf", "w2.pdf", "application/pdf", 1024)
}

func w2Classification() *domain.ClassificationResult {
	year := 2024
	return &domain.ClassificationResult{
		Category:    domain.CategoryIncome,
		Subcategory: "W-2",
		Confidence:  95,
		TaxYear:     &year,
		ExtractedFields: []domain.ExtractedField{
			{FieldName: "Wages", Value: "85000.00", Confidence: 92},
		},
		Summary: "W-2 wage statement",
	}
}

func TestRun_HappyPathStructuredForm(t *testing.T) {
	orgID := uuid.New()
	doc := testDocument(orgID)
	docs := newFakeDocumentRepo(doc)
	audits := &fakeAuditRepo{}
	blobs := newFakeBlobStore(doc.FilePath)
	engine := &fakeEngine{configured: true, result: &ocr.Result{
		Text:  "Form W-2 Wage and Tax Statement",
		Pages: []ocr.Page{{PageNumber: 1}},
	}}
	classifier := &fakeClassifier{
		configured:     true,
		classification: w2Classification(),
		formFields:     map[string]any{"Employer name": "Acme Corp"},
	}

	runner := NewRunner(docs, audits, blobs, engine, classifier, time.Minute)
	report, err := runner.Run(context.Background(), orgID, doc.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.FinalStatus != domain.DocumentStatusPendingReview {
		t.Fatalf("expected pending_review, got %s", report.FinalStatus)
	}

	stored := docs.get(t, doc.ID)
	if stored.Status != domain.DocumentStatusPendingReview {
		t.Fatalf("stored status = %s", stored.Status)
	}
	if stored.OCRText == nil || *stored.OCRText != "Form W-2 Wage and Tax Statement" {
		t.Fatalf("ocr text not persisted: %v", stored.OCRText)
	}
	if stored.Category == nil || *stored.Category != domain.CategoryIncome {
		t.Fatalf("category not persisted: %v", stored.Category)
	}
	if stored.Subcategory == nil || *stored.Subcategory != "W-2" {
		t.Fatalf("subcategory not persisted: %v", stored.Subcategory)
	}
	if stored.ExtractedData == nil || stored.ExtractedData.Classification == nil {
		t.Fatalf("classification blob not persisted: %+v", stored.ExtractedData)
	}
	if stored.ExtractedData.FormFields["Employer name"] != "Acme Corp" {
		t.Fatalf("form fields not persisted: %+v", stored.ExtractedData.FormFields)
	}
	if classifier.extractCalls != 1 {
		t.Fatalf("expected one extraction call, got %d", classifier.extractCalls)
	}
	if len(audits.entries) != 1 || audits.entries[0].Action != domain.AuditActionProcess {
		t.Fatalf("expected one process audit entry, got %+v", audits.entries)
	}
}

func TestRun_ClassificationFailureStillReachesReview(t *testing.T) {
	orgID := uuid.New()
	doc := testDocument(orgID)
	docs := newFakeDocumentRepo(doc)
	blobs := newFakeBlobStore(doc.FilePath)
	engine := &fakeEngine{configured: true, result: &ocr.Result{Text: "statement text"}}
	classifier := &fakeClassifier{configured: true, classifyErr: errors.New("provider down")}

	runner := NewRunner(docs, &fakeAuditRepo{}, blobs, engine, classifier, time.Minute)
	report, err := runner.Run(context.Background(), orgID, doc.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.FinalStatus != domain.DocumentStatusPendingReview {
		t.Fatalf("expected pending_review, got %s", report.FinalStatus)
	}

	stored := docs.get(t, doc.ID)
	if stored.OCRText == nil || *stored.OCRText != "statement text" {
		t.Fatalf("ocr text missing: %v", stored.OCRText)
	}
	if stored.Category != nil {
		t.Fatalf("category should be absent, got %v", *stored.Category)
	}
	if stepStatus(report, StepClassify) != StepFailed {
		t.Fatalf("classify step should be failed: %+v", report.Steps)
	}
	if stepStatus(report, StepExtract) != StepSkipped {
		t.Fatalf("extract step should be skipped: %+v", report.Steps)
	}
}

func TestRun_MissingBlobIsFatal(t *testing.T) {
	orgID := uuid.New()
	doc := testDocument(orgID)
	docs := newFakeDocumentRepo(doc)
	blobs := newFakeBlobStore() // no payload stored
	engine := &fakeEngine{configured: true, result: &ocr.Result{Text: "never reached"}}

	runner := NewRunner(docs, &fakeAuditRepo{}, blobs, engine, &fakeClassifier{}, time.Minute)
	report, err := runner.Run(context.Background(), orgID, doc.ID)
	if err != nil {
		t.Fatalf("fatal input failure should not request a retry: %v", err)
	}
	if report.FinalStatus != domain.DocumentStatusError {
		t.Fatalf("expected error status, got %s", report.FinalStatus)
	}
	if docs.get(t, doc.ID).Status != domain.DocumentStatusError {
		t.Fatalf("stored status not error")
	}
	if engine.calls != 0 {
		t.Fatalf("engine must not be called for an unreadable payload")
	}
}

func TestRun_OCRFailureIsNonFatal(t *testing.T) {
	orgID := uuid.New()
	doc := testDocument(orgID)
	docs := newFakeDocumentRepo(doc)
	blobs := newFakeBlobStore(doc.FilePath)
	engine := &fakeEngine{configured: true, err: errors.New("analysis timed out")}

	runner := NewRunner(docs, &fakeAuditRepo{}, blobs, engine, &fakeClassifier{configured: true}, time.Minute)
	report, err := runner.Run(context.Background(), orgID, doc.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.FinalStatus != domain.DocumentStatusPendingReview {
		t.Fatalf("expected pending_review, got %s", report.FinalStatus)
	}
	if stepStatus(report, StepClassify) != StepSkipped {
		t.Fatalf("classify should be skipped without ocr text")
	}
}

func TestRun_UnconfiguredCapabilitiesSkip(t *testing.T) {
	orgID := uuid.New()
	doc := testDocument(orgID)
	docs := newFakeDocumentRepo(doc)
	blobs := newFakeBlobStore(doc.FilePath)

	runner := NewRunner(docs, &fakeAuditRepo{}, blobs, &fakeEngine{}, &fakeClassifier{}, time.Minute)
	report, err := runner.Run(context.Background(), orgID, doc.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.FinalStatus != domain.DocumentStatusPendingReview {
		t.Fatalf("expected pending_review, got %s", report.FinalStatus)
	}
	if stepStatus(report, StepOCR) != StepSkipped || stepStatus(report, StepClassify) != StepSkipped {
		t.Fatalf("optional steps should be skipped when unconfigured: %+v", report.Steps)
	}
}

func TestRun_FailedRunPreservesPreviousOutputs(t *testing.T) {
	orgID := uuid.New()
	doc := testDocument(orgID)
	category := domain.CategoryIncome
	subcategory := "W-2"
	text := "previous run text"
	doc.Status = domain.DocumentStatusPendingOCR
	doc.Category = &category
	doc.Subcategory = &subcategory
	doc.OCRText = &text
	doc.ExtractedData = &domain.ExtractedData{Classification: w2Classification()}

	docs := newFakeDocumentRepo(doc)
	blobs := newFakeBlobStore(doc.FilePath)
	engine := &fakeEngine{configured: true, result: &ocr.Result{Text: "fresh text"}}
	classifier := &fakeClassifier{configured: true, classifyErr: errors.New("provider down")}

	runner := NewRunner(docs, &fakeAuditRepo{}, blobs, engine, classifier, time.Minute)
	if _, err := runner.Run(context.Background(), orgID, doc.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	stored := docs.get(t, doc.ID)
	if stored.Category == nil || *stored.Category != domain.CategoryIncome {
		t.Fatalf("failed classification must not erase prior category: %v", stored.Category)
	}
	if stored.Subcategory == nil || *stored.Subcategory != "W-2" {
		t.Fatalf("failed classification must not erase prior subcategory: %v", stored.Subcategory)
	}
	if stored.OCRText == nil || *stored.OCRText != "fresh text" {
		t.Fatalf("new ocr text should replace the old one: %v", stored.OCRText)
	}
	if stored.ExtractedData == nil || stored.ExtractedData.Classification == nil {
		t.Fatalf("failed classification must not erase the prior classification blob: %+v", stored.ExtractedData)
	}
}

func TestRun_ReprocessVerifiedDocument(t *testing.T) {
	orgID := uuid.New()
	doc := testDocument(orgID)
	category := domain.CategoryIncome
	doc.Status = domain.DocumentStatusVerified
	doc.Category = &category

	docs := newFakeDocumentRepo(doc)
	// Reprocess rewinds to pending_ocr before the run is dispatched.
	if err := docs.UpdateStatus(context.Background(), orgID, doc.ID, domain.DocumentStatusPendingOCR); err != nil {
		t.Fatalf("rewind: %v", err)
	}

	blobs := newFakeBlobStore(doc.FilePath)
	engine := &fakeEngine{configured: true, result: &ocr.Result{Text: "bank statement"}}
	newClassification := &domain.ClassificationResult{Category: domain.CategoryBanking, Subcategory: "Bank statement", Confidence: 80}
	classifier := &fakeClassifier{configured: true, classification: newClassification}

	runner := NewRunner(docs, &fakeAuditRepo{}, blobs, engine, classifier, time.Minute)
	report, err := runner.Run(context.Background(), orgID, doc.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.FinalStatus != domain.DocumentStatusPendingReview {
		t.Fatalf("expected pending_review, got %s", report.FinalStatus)
	}
	stored := docs.get(t, doc.ID)
	if stored.Category == nil || *stored.Category != domain.CategoryBanking {
		t.Fatalf("new run should overwrite the category: %v", stored.Category)
	}
}

func TestRun_DuplicateTriggerAfterCompletionIsNoOp(t *testing.T) {
	orgID := uuid.New()
	doc := testDocument(orgID)
	docs := newFakeDocumentRepo(doc)
	blobs := newFakeBlobStore(doc.FilePath)
	engine := &fakeEngine{configured: true, result: &ocr.Result{Text: "text"}}
	classifier := &fakeClassifier{configured: true, classification: w2Classification(), formFields: map[string]any{"Wages (Box 1)": "85000.00"}}

	runner := NewRunner(docs, &fakeAuditRepo{}, blobs, engine, classifier, time.Minute)
	if _, err := runner.Run(context.Background(), orgID, doc.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := docs.get(t, doc.ID)

	// Re-delivery of the same trigger after the run finished.
	report, err := runner.Run(context.Background(), orgID, doc.ID)
	if err != nil {
		t.Fatalf("duplicate run: %v", err)
	}
	if stepStatus(report, StepMarkProcessing) != StepSkipped {
		t.Fatalf("duplicate trigger should stop at mark_processing: %+v", report.Steps)
	}
	second := docs.get(t, doc.ID)
	if second.Status != first.Status || second.Category == nil || *second.Category != *first.Category {
		t.Fatalf("duplicate delivery mutated the document: %+v vs %+v", first, second)
	}
}

func TestRun_TenantScopeEnforced(t *testing.T) {
	orgA := uuid.New()
	orgB := uuid.New()
	doc := testDocument(orgA)
	docs := newFakeDocumentRepo(doc)

	runner := NewRunner(docs, &fakeAuditRepo{}, newFakeBlobStore(doc.FilePath), &fakeEngine{}, &fakeClassifier{}, time.Minute)
	if _, err := runner.Run(context.Background(), orgB, doc.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not-found for foreign tenant, got %v", err)
	}
	if docs.get(t, doc.ID).Status != domain.DocumentStatusPendingOCR {
		t.Fatalf("foreign tenant run must not mutate the document")
	}
}

func TestRun_AuditFailureDoesNotFailRun(t *testing.T) {
	orgID := uuid.New()
	doc := testDocument(orgID)
	docs := newFakeDocumentRepo(doc)
	audits := &fakeAuditRepo{err: errors.New("audit store down")}

	runner := NewRunner(docs, audits, newFakeBlobStore(doc.FilePath), &fakeEngine{}, &fakeClassifier{}, time.Minute)
	report, err := runner.Run(context.Background(), orgID, doc.ID)
	if err != nil {
		t.Fatalf("audit failure must not fail the run: %v", err)
	}
	if report.FinalStatus != domain.DocumentStatusPendingReview {
		t.Fatalf("expected pending_review, got %s", report.FinalStatus)
	}
	if stepStatus(report, StepAudit) != StepFailed {
		t.Fatalf("audit step should be recorded as failed: %+v", report.Steps)
	}
}

func stepStatus(report *RunReport, name string) StepStatus {
	for _, step := range report.Steps {
		if step.Name == name {
			return step.Status
		}
	}
	return ""
}
