package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/database"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/zoho"
)

type mappingRequest struct {
	ID                int64  `json:"id"`
	Module            string `json:"module"`
	WCField           string `json:"wc_field"`
	CustomKey         string `json:"custom_key"`
	WCFieldLabel      string `json:"wc_field_label"`
	ZohoModule        string `json:"zoho_module"`
	ZohoField         string `json:"zoho_field"`
	ZohoFieldLabel    string `json:"zoho_field_label"`
	Direction         string `json:"direction"`
	TransformFunction string `json:"transform_function"`
	DefaultValue      string `json:"default_value"`
	IsActive          *bool  `json:"is_active"`
}

func (req mappingRequest) toMapping() *models.FieldMapping {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &models.FieldMapping{
		ID:                req.ID,
		Module:            strings.TrimSpace(req.Module),
		WCField:           strings.TrimSpace(req.WCField),
		CustomKey:         strings.TrimSpace(req.CustomKey),
		WCFieldLabel:      req.WCFieldLabel,
		ZohoModule:        strings.TrimSpace(req.ZohoModule),
		ZohoField:         strings.TrimSpace(req.ZohoField),
		ZohoFieldLabel:    req.ZohoFieldLabel,
		Direction:         strings.TrimSpace(req.Direction),
		TransformFunction: strings.TrimSpace(req.TransformFunction),
		DefaultValue:      req.DefaultValue,
		IsActive:          active,
	}
}

func (s *HTTPServer) handleMappings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Mappings == nil {
		writeError(w, http.StatusNotFound, "mappings are not enabled")
		return
	}

	switch r.Method {
	case http.MethodGet:
		module := strings.TrimSpace(r.URL.Query().Get("module"))
		if module == "" {
			writeError(w, http.StatusBadRequest, "module is required")
			return
		}
		direction := strings.TrimSpace(r.URL.Query().Get("direction"))
		if direction != "" && !models.IsValidDirection(direction) {
			writeError(w, http.StatusBadRequest, "unknown direction "+direction)
			return
		}
		mappings, err := s.deps.Mappings.GetMappings(r.Context(), module, direction)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if mappings == nil {
			mappings = []*models.FieldMapping{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"mappings": mappings})

	case http.MethodPost:
		var req mappingRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		m := req.toMapping()
		if err := s.deps.Mappings.SaveMapping(r.Context(), m); err != nil {
			s.writeDomainError(w, err)
			return
		}
		status := http.StatusOK
		if req.ID == 0 {
			status = http.StatusCreated
		}
		writeJSON(w, status, m)

	case http.MethodDelete:
		id, ok := queryID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		if err := s.deps.Mappings.DeleteMapping(r.Context(), id); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": id})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Schema == nil {
		writeError(w, http.StatusNotFound, "schema discovery is not enabled")
		return
	}

	svc := strings.TrimSpace(r.URL.Query().Get("service"))
	module := strings.TrimSpace(r.URL.Query().Get("module"))
	if svc == "" {
		svc = models.ServiceCRM
	}
	if !models.IsValidService(svc) || module == "" {
		writeError(w, http.StatusBadRequest, "service and module are required")
		return
	}

	fields, err := s.deps.Schema.Fields(r.Context(), svc, module)
	if errors.Is(err, zoho.ErrDiscoveryUnsupported) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"service": svc, "module": module, "fields": fields})
}

func (s *HTTPServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Logs == nil {
		writeError(w, http.StatusNotFound, "logs are not enabled")
		return
	}

	limit, ok := queryInt(r, "limit", 100)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	q := r.URL.Query()
	entries, err := s.deps.Logs.ListLogs(r.Context(), database.LogFilter{
		Level:      strings.TrimSpace(q.Get("level")),
		Source:     strings.TrimSpace(q.Get("source")),
		ObjectType: strings.TrimSpace(q.Get("object_type")),
		Limit:      limit,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.SyncLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}
