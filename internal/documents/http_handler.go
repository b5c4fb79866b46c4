package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/taxbinder/taxbinder/internal/domain"
	"github.com/taxbinder/taxbinder/internal/repository"

	"github.com/google/uuid"
)

// Handler exposes the document service over HTTP. Mounted at /api/documents.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with the document endpoints.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/documents"), "/")

	switch {
	case rest == "" && r.Method == http.MethodPost:
		h.handleUpload(w, r)
	case rest == "" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case rest == "bulk-reprocess" && r.Method == http.MethodPost:
		h.handleBulkReprocess(w, r)
	default:
		h.routeDocument(w, r, rest)
	}
}

func (h *Handler) routeDocument(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	id, err := uuid.Parse(parts[0])
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid document id: %v", err), http.StatusBadRequest)
		return
	}

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.handleGet(w, r, id)
	case action == "" && r.Method == http.MethodPatch:
		h.handleUpdate(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		h.handleDelete(w, r, id)
	case action == "review" && r.Method == http.MethodPost:
		h.handleReview(w, r, id)
	case action == "reprocess" && r.Method == http.MethodPost:
		h.handleReprocess(w, r, id)
	case action == "signed-url" && r.Method == http.MethodGet:
		h.handleSignedURL(w, r, id)
	case action == "audit" && r.Method == http.MethodGet:
		h.handleAuditTrail(w, r, id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	orgID, err := uuid.Parse(strings.TrimSpace(r.FormValue("organizationId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid organization id: %v", err), http.StatusBadRequest)
		return
	}
	clientID, err := uuid.Parse(strings.TrimSpace(r.FormValue("clientId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid client id: %v", err), http.StatusBadRequest)
		return
	}
	uploadedBy, err := uuid.Parse(strings.TrimSpace(r.FormValue("uploadedBy")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid uploadedBy: %v", err), http.StatusBadRequest)
		return
	}

	req := UploadRequest{
		OrganizationID: orgID,
		ClientID:       clientID,
		UploadedBy:     uploadedBy,
		FileName:       header.Filename,
		MimeType:       header.Header.Get("Content-Type"),
		Data:           file,
	}

	if raw := strings.TrimSpace(r.FormValue("category")); raw != "" {
		category, ok := domain.ParseCategory(raw)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown category %q", raw), http.StatusBadRequest)
			return
		}
		req.Category = &category
	}
	if raw := strings.TrimSpace(r.FormValue("subcategory")); raw != "" {
		req.Subcategory = &raw
	}
	if raw := strings.TrimSpace(r.FormValue("taxYear")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid taxYear: %v", err), http.StatusBadRequest)
			return
		}
		req.TaxYear = &year
	}

	doc, err := h.service.Upload(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("organizationId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid organization id: %v", err), http.StatusBadRequest)
		return
	}

	filter := &repository.DocumentFilter{}
	query := r.URL.Query()
	if raw := query.Get("clientId"); raw != "" {
		clientID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid client id: %v", err), http.StatusBadRequest)
			return
		}
		filter.ClientID = &clientID
	}
	if raw := query.Get("status"); raw != "" {
		status, ok := domain.ParseDocumentStatus(raw)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown status %q", raw), http.StatusBadRequest)
			return
		}
		filter.Status = &status
	}
	if raw := query.Get("category"); raw != "" {
		category, ok := domain.ParseCategory(raw)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown category %q", raw), http.StatusBadRequest)
			return
		}
		filter.Category = &category
	}
	if raw := query.Get("taxYear"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid taxYear: %v", err), http.StatusBadRequest)
			return
		}
		filter.TaxYear = &year
	}

	limit := parseIntOr(query.Get("limit"), 50)
	offset := parseIntOr(query.Get("offset"), 0)

	docs, total, err := h.service.List(r.Context(), orgID, filter, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     total,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	orgID, err := parseOrgQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	doc, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type updatePayload struct {
	OrganizationID string  `json:"organizationId"`
	Category       *string `json:"category"`
	Subcategory    *string `json:"subcategory"`
	TaxYear        *int    `json:"taxYear"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	defer r.Body.Close()
	var payload updatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	orgID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid organization id: %v", err), http.StatusBadRequest)
		return
	}

	var category *domain.Category
	if payload.Category != nil {
		parsed, ok := domain.ParseCategory(*payload.Category)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown category %q", *payload.Category), http.StatusBadRequest)
			return
		}
		category = &parsed
	}

	doc, err := h.service.UpdateMetadata(r.Context(), orgID, id, category, payload.Subcategory, payload.TaxYear)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type reviewPayload struct {
	OrganizationID string  `json:"organizationId"`
	Status         string  `json:"status"`
	VerifiedBy     string  `json:"verifiedBy"`
	Category       *string `json:"category"`
	Subcategory    *string `json:"subcategory"`
	TaxYear        *int    `json:"taxYear"`
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	defer r.Body.Close()
	var payload reviewPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}

	orgID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid organization id: %v", err), http.StatusBadRequest)
		return
	}
	verifiedBy, err := uuid.Parse(payload.VerifiedBy)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid verifiedBy: %v", err), http.StatusBadRequest)
		return
	}
	status, ok := domain.ParseDocumentStatus(payload.Status)
	if !ok || (status != domain.DocumentStatusVerified && status != domain.DocumentStatusRejected) {
		http.Error(w, fmt.Sprintf("status must be verified or rejected, got %q", payload.Status), http.StatusBadRequest)
		return
	}

	decision := repository.ReviewDecision{
		Status:      status,
		VerifiedBy:  verifiedBy,
		Subcategory: payload.Subcategory,
		TaxYear:     payload.TaxYear,
	}
	if payload.Category != nil {
		parsed, ok := domain.ParseCategory(*payload.Category)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown category %q", *payload.Category), http.StatusBadRequest)
			return
		}
		decision.Category = &parsed
	}

	doc, err := h.service.Review(r.Context(), orgID, id, decision)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	orgID, err := parseOrgQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.service.Delete(r.Context(), orgID, id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reprocessPayload struct {
	OrganizationID string `json:"organizationId"`
}

func (h *Handler) handleReprocess(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	defer r.Body.Close()
	var payload reprocessPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	orgID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid organization id: %v", err), http.StatusBadRequest)
		return
	}

	doc, err := h.service.Reprocess(r.Context(), orgID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

type bulkReprocessPayload struct {
	OrganizationID string   `json:"organizationId"`
	DocumentIDs    []string `json:"documentIds"`
}

func (h *Handler) handleBulkReprocess(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload bulkReprocessPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	orgID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid organization id: %v", err), http.StatusBadRequest)
		return
	}

	ids := make([]uuid.UUID, 0, len(payload.DocumentIDs))
	for _, raw := range payload.DocumentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid document id %q: %v", raw, err), http.StatusBadRequest)
			return
		}
		ids = append(ids, id)
	}

	accepted, err := h.service.BulkReprocess(r.Context(), orgID, ids)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": accepted,
	})
}

func (h *Handler) handleSignedURL(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	orgID, err := parseOrgQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	url, err := h.service.SignedURL(r.Context(), orgID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	orgID, err := parseOrgQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	query := r.URL.Query()
	entries, err := h.service.AuditTrail(r.Context(), orgID, id, parseIntOr(query.Get("limit"), 50), parseIntOr(query.Get("offset"), 0))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func parseOrgQuery(r *http.Request) (uuid.UUID, error) {
	orgID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("organizationId")))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid organization id: %v", err)
	}
	return orgID, nil
}

func parseIntOr(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, repository.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
