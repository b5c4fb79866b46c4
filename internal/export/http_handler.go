package export

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/taxbinder/taxbinder/internal/domain"

	"github.com/google/uuid"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler exposes the document register download. Mounted at /api/exports.
type Handler struct {
	service *Service
	now     func() time.Time
}

// NewHTTPHandler wraps the export service with a GET endpoint.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service, now: time.Now}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || !strings.HasSuffix(r.URL.Path, "/documents") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	orgID, err := uuid.Parse(strings.TrimSpace(query.Get("organizationId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid organization id: %v", err), http.StatusBadRequest)
		return
	}

	req := Request{OrganizationID: orgID}
	if raw := query.Get("clientId"); raw != "" {
		clientID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid client id: %v", err), http.StatusBadRequest)
			return
		}
		req.ClientID = &clientID
	}
	if raw := query.Get("status"); raw != "" {
		status, ok := domain.ParseDocumentStatus(raw)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown status %q", raw), http.StatusBadRequest)
			return
		}
		req.Status = &status
	}
	if raw := query.Get("taxYear"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid taxYear: %v", err), http.StatusBadRequest)
			return
		}
		req.TaxYear = &year
	}

	file, err := h.service.Register(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", FileName(orgID, h.now())))
	if err := file.Write(w); err != nil {
		log.Printf("[export] register write failed for organization %s: %v", orgID, err)
	}
}
