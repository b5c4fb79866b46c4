package clients

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/taxbinder/taxbinder/internal/repository"

	"github.com/google/uuid"
)

// Handler exposes organization and client management. Mounted at
// /api/organizations and /api/clients.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the client service.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/organizations") && r.Method == http.MethodPost:
		h.handleCreateOrganization(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/clients") && r.Method == http.MethodPost:
		h.handleCreateClient(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/clients") && r.Method == http.MethodGet:
		h.handleListClients(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type organizationPayload struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func (h *Handler) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload organizationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}

	org, err := h.service.CreateOrganization(r.Context(), payload.Name, payload.Slug)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

type clientPayload struct {
	OrganizationID string  `json:"organizationId"`
	Name           string  `json:"name"`
	Email          *string `json:"email"`
	TaxYear        int     `json:"taxYear"`
}

func (h *Handler) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload clientPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	orgID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid organization id: %v", err), http.StatusBadRequest)
		return
	}

	client, err := h.service.CreateClient(r.Context(), orgID, payload.Name, payload.Email, payload.TaxYear)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

func (h *Handler) handleListClients(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("organizationId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid organization id: %v", err), http.StatusBadRequest)
		return
	}

	list, err := h.service.ListClients(r.Context(), orgID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": list})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
