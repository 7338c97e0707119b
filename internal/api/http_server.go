package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/database"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/export"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/metrics"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/queue"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type OAuthManager interface {
	AuthorizationURL(ctx context.Context, sessionID string, services []string) (string, error)
	ExchangeCode(ctx context.Context, sessionID, code, state string) ([]*models.Token, error)
	Revoke(ctx context.Context, service string) error
	Status(ctx context.Context) ([]models.TokenStatus, error)
}

type Triggerer interface {
	Trigger(ctx context.Context, req queue.EnqueueRequest) (service.TriggerResult, error)
}

type BatchProcessor interface {
	ProcessBatch(ctx context.Context, limit int, types ...string) (models.SyncResult, error)
}

type QueueAdmin interface {
	Counts(ctx context.Context) (models.QueueCounts, error)
	List(ctx context.Context, status string, limit int) ([]*models.SyncTask, error)
	Retry(ctx context.Context, id int64) (int64, error)
}

type MappingAdmin interface {
	GetMappings(ctx context.Context, module, direction string) ([]*models.FieldMapping, error)
	SaveMapping(ctx context.Context, m *models.FieldMapping) error
	DeleteMapping(ctx context.Context, id int64) error
}

type SchemaLookup interface {
	Fields(ctx context.Context, service, module string) ([]models.RemoteField, error)
}

type LogReader interface {
	ListLogs(ctx context.Context, f database.LogFilter) ([]*models.SyncLogEntry, error)
}

type ReportWriter interface {
	Write(ctx context.Context, w io.Writer, opts export.Options) error
}

type DeadLetterReader interface {
	List(ctx context.Context, limit int64) ([]string, error)
}

// Dependencies are the collaborators behind the endpoints. A nil dependency disables the
// endpoints that need it.
type Dependencies struct {
	OAuth       OAuthManager
	Trigger     Triggerer
	Processor   BatchProcessor
	Queue       QueueAdmin
	Mappings    MappingAdmin
	Schema      SchemaLookup
	Logs        LogReader
	Reports     ReportWriter
	DeadLetters DeadLetterReader
	Hooks       domain.EventPublisher
}

// HTTPServer exposes the admin API, the OAuth flow and the WooCommerce webhook intake.
type HTTPServer struct {
	cfg           config.APIConfig
	deps          Dependencies
	webhookSecret string
	server        *http.Server
	auth          *HTTPAuth
	logger        *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, webhookSecret string, deps Dependencies, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()

	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, deps: deps, webhookSecret: webhookSecret, logger: &l}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/oauth/authorize", srv.handleAuthorize)
	mux.HandleFunc("/oauth/callback", srv.handleCallback)
	mux.HandleFunc("/api/v1/oauth/revoke", srv.handleRevoke)
	mux.HandleFunc("/api/v1/oauth/status", srv.handleOAuthStatus)
	mux.HandleFunc("/api/v1/queue", srv.handleEnqueue)
	mux.HandleFunc("/api/v1/queue/process", srv.handleProcess)
	mux.HandleFunc("/api/v1/queue/counts", srv.handleCounts)
	mux.HandleFunc("/api/v1/queue/tasks", srv.handleTasks)
	mux.HandleFunc("/api/v1/queue/retry", srv.handleRetry)
	mux.HandleFunc("/api/v1/queue/export", srv.handleExport)
	mux.HandleFunc("/api/v1/queue/dead-letters", srv.handleDeadLetters)
	mux.HandleFunc("/api/v1/mappings", srv.handleMappings)
	mux.HandleFunc("/api/v1/schema", srv.handleSchema)
	mux.HandleFunc("/api/v1/logs", srv.handleLogs)
	mux.HandleFunc("/webhooks/woocommerce", srv.handleWebhook)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

const requestIDHeader = "X-Request-ID"

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.IncHTTP(r.URL.Path)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeDomainError maps typed errors onto status codes.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	var (
		verr *domain.ValidationError
		aerr *domain.AuthError
		cerr *domain.ConfigError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrMappingNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &aerr):
		switch aerr.Reason {
		case domain.AuthInvalidState:
			writeError(w, http.StatusBadRequest, err.Error())
		case domain.AuthReauthorizationNeeded:
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
	case errors.As(err, &cerr):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case domain.IsRecoverable(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
