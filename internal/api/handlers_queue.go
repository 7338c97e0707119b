package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/export"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/queue"

	"github.com/spf13/cast"
)

const maxListLimit = 1000

// queryInt reads a positive integer query parameter. A missing value yields def.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, true
	}
	n, err := cast.ToIntE(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

func queryID(r *http.Request) (int64, bool) {
	id, err := cast.ToInt64E(strings.TrimSpace(r.URL.Query().Get("id")))
	return id, err == nil && id > 0
}

func isValidStatus(s string) bool {
	switch s {
	case "", models.StatusPending, models.StatusProcessing, models.StatusFailed, models.StatusCompleted:
		return true
	}
	return false
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Trigger == nil {
		writeError(w, http.StatusNotFound, "queue is not enabled")
		return
	}

	var req queue.EnqueueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.deps.Trigger.Trigger(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *HTTPServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Processor == nil {
		writeError(w, http.StatusNotFound, "queue is not enabled")
		return
	}

	limit, ok := queryInt(r, "limit", models.DefaultBatchSize)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	types := splitCSV(r.URL.Query().Get("types"))
	for _, t := range types {
		if !models.IsValidObjectType(t) {
			writeError(w, http.StatusBadRequest, "unknown object type "+t)
			return
		}
	}

	res, err := s.deps.Processor.ProcessBatch(r.Context(), limit, types...)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	errs := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		errs = append(errs, e.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"leased":    res.Leased,
		"completed": res.Completed,
		"retried":   res.Retried,
		"failed":    res.Failed,
		"skipped":   res.Skipped,
		"errors":    errs,
	})
}

func (s *HTTPServer) handleCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Queue == nil {
		writeError(w, http.StatusNotFound, "queue is not enabled")
		return
	}

	counts, err := s.deps.Queue.Counts(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts, "total": counts.Total()})
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Queue == nil {
		writeError(w, http.StatusNotFound, "queue is not enabled")
		return
	}

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if !isValidStatus(status) {
		writeError(w, http.StatusBadRequest, "unknown status "+status)
		return
	}
	limit, ok := queryInt(r, "limit", 100)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	tasks, err := s.deps.Queue.List(r.Context(), status, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*models.SyncTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Queue == nil {
		writeError(w, http.StatusNotFound, "queue is not enabled")
		return
	}

	id, ok := queryID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	taskID, err := s.deps.Queue.Retry(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": taskID, "merged": taskID != id})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Reports == nil {
		writeError(w, http.StatusNotFound, "export is not enabled")
		return
	}

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if !isValidStatus(status) {
		writeError(w, http.StatusBadRequest, "unknown status "+status)
		return
	}
	opts := export.Options{TaskStatus: status, LogLevel: strings.TrimSpace(r.URL.Query().Get("level"))}

	var buf bytes.Buffer
	if err := s.deps.Reports.Write(r.Context(), &buf, opts); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="sync_report.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.DeadLetters == nil {
		writeError(w, http.StatusNotFound, "dead letters need redis")
		return
	}

	limit, ok := queryInt(r, "limit", 50)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	raw, err := s.deps.DeadLetters.List(r.Context(), int64(limit))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	letters := make([]json.RawMessage, 0, len(raw))
	for _, item := range raw {
		if json.Valid([]byte(item)) {
			letters = append(letters, json.RawMessage(item))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters})
}
