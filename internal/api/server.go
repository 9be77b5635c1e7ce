// Package api exposes the ingest service HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentra/internal/anomaly"
	"sentra/internal/event"
	"sentra/internal/pipeline"
	"sentra/internal/tenant"
	"sentra/pkg/metrics"
	otelobs "sentra/pkg/observability/otel"
	"sentra/pkg/structlog"
)

const apiKeyHeader = "X-Api-Key"

// Ingestor runs one submission through the pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, apiKey string, sub event.Submission) (*pipeline.Receipt, error)
}

// TenantDirectory authenticates read requests.
type TenantDirectory interface {
	Resolve(ctx context.Context, apiKey string) (string, error)
}

// EventReader fetches stored events.
type EventReader interface {
	Get(ctx context.Context, tenantID, id string) (*event.Event, error)
}

// AnomalyDirectory serves the alert-management surface.
type AnomalyDirectory interface {
	ListByTenant(ctx context.Context, tenantID string) ([]anomaly.Anomaly, error)
	SetStatus(ctx context.Context, id, status string) error
}

// Server routes ingest, alert, and ops endpoints.
type Server struct {
	orchestrator Ingestor
	tenants      TenantDirectory
	events       EventReader
	anomalies    AnomalyDirectory
	logger       *structlog.Logger
}

// NewServer wires the HTTP surface.
func NewServer(orchestrator Ingestor, tenants TenantDirectory,
	events EventReader, anomalies AnomalyDirectory, logger *structlog.Logger) *Server {
	return &Server{
		orchestrator: orchestrator,
		tenants:      tenants,
		events:       events,
		anomalies:    anomalies,
		logger:       logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/ingest/logs", s.handleIngest)
	mux.HandleFunc("GET /api/v1/ingest/logs/{id}", s.handleGetEvent)
	mux.HandleFunc("GET /api/alerts", s.handleListAlerts)
	mux.HandleFunc("PATCH /api/alerts/{id}/resolve", s.handleResolveAlert)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	h := s.correlate(mux)
	h = otelobs.HTTPTraceLogMiddleware(s.logger, h)
	return otelobs.WrapHTTPHandler("sentra-ingest", h)
}

// correlate stamps every request with a correlation id for log tracing.
func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := structlog.ContextWithCorrelationID(r.Context(), uuid.New().String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ingestRequest is the wire form of an event submission. Timestamp arrives as
// an ISO-8601 string; an unparseable value falls back to receipt time, the
// same leniency the scorer applies.
type ingestRequest struct {
	EventType string                 `json:"eventType"`
	UserID    string                 `json:"userId"`
	IP        string                 `json:"ip"`
	Location  string                 `json:"location"`
	Timestamp string                 `json:"timestamp"`
	Resource  string                 `json:"resource"`
	Metadata  map[string]interface{} `json:"metadata"`
}

func (r ingestRequest) submission() event.Submission {
	sub := event.Submission{
		EventType: r.EventType,
		UserID:    r.UserID,
		IP:        r.IP,
		Location:  r.Location,
		Resource:  r.Resource,
		Metadata:  r.Metadata,
	}
	if r.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
			sub.Timestamp = ts
		}
	}
	return sub
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	receipt, err := s.orchestrator.Ingest(r.Context(), r.Header.Get(apiKeyHeader), req.submission())
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "Log ingested",
		"logId":   receipt.EventID,
	})
}

// writeIngestError maps pipeline failures onto the response contract: 401 for
// credentials, 429 for plan limits, 500 for storage. Nothing else can
// surface here.
func (s *Server) writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenant.ErrUnauthenticated):
		metrics.RequestsRejected.WithLabelValues("missing_key").Inc()
		writeError(w, http.StatusUnauthorized, "Missing API Key")
	case errors.Is(err, tenant.ErrInvalidCredential):
		metrics.RequestsRejected.WithLabelValues("invalid_key").Inc()
		writeError(w, http.StatusUnauthorized, "Invalid API Key")
	case errors.Is(err, pipeline.ErrRateLimited):
		metrics.RequestsRejected.WithLabelValues("rate_limited").Inc()
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
	default:
		metrics.RequestsRejected.WithLabelValues("storage").Inc()
		s.logger.WithContext(r.Context()).Error("ingestion failed", structlog.Fields{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.tenants.Resolve(r.Context(), r.Header.Get(apiKeyHeader))
	if err != nil {
		if errors.Is(err, tenant.ErrUnauthenticated) || errors.Is(err, tenant.ErrInvalidCredential) {
			writeError(w, http.StatusUnauthorized, "Invalid API Key")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	ev, err := s.events.Get(r.Context(), tenantID, r.PathValue("id"))
	if errors.Is(err, event.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Event not found")
		return
	}
	if err != nil {
		s.logger.WithContext(r.Context()).Error("event lookup failed", structlog.Fields{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("orgId")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "orgId required")
		return
	}

	anomalies, err := s.anomalies.ListByTenant(r.Context(), orgID)
	if err != nil {
		s.logger.WithContext(r.Context()).Error("anomaly list failed", structlog.Fields{
			"tenant_id": orgID, "error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "DB Error")
		return
	}
	if anomalies == nil {
		anomalies = []anomaly.Anomaly{}
	}
	writeJSON(w, http.StatusOK, anomalies)
}

type resolveRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	status := anomaly.StatusSafe
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Status != "" {
		status = req.Status
	}
	if status != anomaly.StatusSafe && status != anomaly.StatusResolved {
		writeError(w, http.StatusBadRequest, "status must be safe or resolved")
		return
	}

	err := s.anomalies.SetStatus(r.Context(), r.PathValue("id"), status)
	if errors.Is(err, anomaly.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Anomaly not found")
		return
	}
	if err != nil {
		s.logger.WithContext(r.Context()).Error("anomaly resolve failed", structlog.Fields{
			"anomaly_id": r.PathValue("id"), "error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "DB Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Resolved"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Status is already out; an encode failure here has no recovery path.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
