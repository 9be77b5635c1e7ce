// Package pipeline sequences one ingestion request: authenticate, persist,
// score, and on a qualifying score materialize an anomaly and publish an
// alert.
//
// The failure contract is asymmetric and deliberate: an invalid credential
// rejects the request, a storage failure fails it, and every step after the
// event is durable degrades instead of failing. Ingestion availability is
// prioritized over anomaly-detection completeness.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentra/internal/alert"
	"sentra/internal/event"
	"sentra/internal/scoring"
	"sentra/pkg/metrics"
	"sentra/pkg/structlog"
)

// ErrRateLimited means the tenant exceeded its ingest allowance. Rejected
// before any write, like an auth failure.
var ErrRateLimited = errors.New("tenant rate limit exceeded")

// TenantResolver maps an opaque credential to a tenant id.
type TenantResolver interface {
	Resolve(ctx context.Context, apiKey string) (string, error)
}

// EventAppender durably stores one event and returns its id.
type EventAppender interface {
	Append(ctx context.Context, tenantID string, sub event.Submission) (string, error)
}

// Scorer asks the external classifier for a verdict on one event.
type Scorer interface {
	Score(ctx context.Context, ec scoring.EventContext) (*scoring.Result, error)
}

// AnomalyMaterializer persists an anomaly record referencing an event.
type AnomalyMaterializer interface {
	Materialize(ctx context.Context, eventID, tenantID string, score float64, severity, explanation string) (string, error)
}

// AlertPublisher pushes a best-effort notification for a materialized anomaly.
type AlertPublisher interface {
	Publish(ctx context.Context, msg alert.Message) error
}

// RateLimiter gates per-tenant ingest volume. Optional.
type RateLimiter interface {
	Allow(ctx context.Context, tenantID string) (bool, int64, error)
}

// StepError tags a pipeline step failure as fatal or degradable. Fatal errors
// surface to the caller; degradable ones are logged and swallowed so the
// already-persisted event still acknowledges as accepted.
type StepError struct {
	Step  string
	Fatal bool
	Err   error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Receipt acknowledges a persisted event. The caller never learns whether
// scoring or anomaly detection succeeded; that surfaces through logs and the
// alert stream only.
type Receipt struct {
	EventID string `json:"logId"`
}

// Orchestrator owns the ingest state machine. All collaborators are injected
// so the failure contract is testable with fakes.
type Orchestrator struct {
	tenants   TenantResolver
	events    EventAppender
	scorer    Scorer
	anomalies AnomalyMaterializer
	alerts    AlertPublisher
	limiter   RateLimiter

	threshold float64
	logger    *structlog.Logger
}

// New creates an orchestrator. limiter may be nil to disable plan gating.
// threshold is the anomaly decision policy: scores strictly above it
// materialize.
func New(tenants TenantResolver, events EventAppender, scorer Scorer,
	anomalies AnomalyMaterializer, alerts AlertPublisher, limiter RateLimiter,
	threshold float64, logger *structlog.Logger) *Orchestrator {
	return &Orchestrator{
		tenants:   tenants,
		events:    events,
		scorer:    scorer,
		anomalies: anomalies,
		alerts:    alerts,
		limiter:   limiter,
		threshold: threshold,
		logger:    logger,
	}
}

// Ingest runs one request through the pipeline. Each call is independent; no
// state is shared across requests outside the stores and the alert stream.
func (o *Orchestrator) Ingest(ctx context.Context, apiKey string, sub event.Submission) (*Receipt, error) {
	start := time.Now()
	defer func() { metrics.IngestDuration.Observe(time.Since(start).Seconds()) }()

	log := o.logger.WithContext(ctx)

	// Authenticating: must succeed before anything is written.
	tenantID, err := o.tenants.Resolve(ctx, apiKey)
	if err != nil {
		return nil, &StepError{Step: "authenticate", Fatal: true, Err: err}
	}

	if o.limiter != nil {
		allowed, _, err := o.limiter.Allow(ctx, tenantID)
		if err != nil {
			// Fail open: a broken limiter must not take down ingestion.
			log.Warn("rate limit check failed, allowing request", structlog.Fields{
				"tenant_id": tenantID, "error": err.Error(),
			})
		} else if !allowed {
			return nil, &StepError{Step: "ratelimit", Fatal: true, Err: ErrRateLimited}
		}
	}

	// Persisting: the single fatal path after auth. No partial state with a
	// scored-but-unstored event is permitted, so scoring never runs on failure.
	eventID, err := o.events.Append(ctx, tenantID, sub)
	if err != nil {
		return nil, &StepError{Step: "persist", Fatal: true, Err: err}
	}
	metrics.EventsIngested.WithLabelValues(tenantID).Inc()

	// Scoring and everything downstream is advisory. The event is durable;
	// from here every failure degrades to "no anomaly detected".
	o.detect(ctx, tenantID, eventID, sub, log)

	return &Receipt{EventID: eventID}, nil
}

// detect runs the score → materialize → publish tail. It never returns an
// error; degraded steps are logged with enough context to diagnose.
func (o *Orchestrator) detect(ctx context.Context, tenantID, eventID string, sub event.Submission, log *structlog.Logger) {
	result, err := o.scorer.Score(ctx, scoring.EventContext{
		EventType: sub.EventType,
		UserID:    sub.UserID,
		IP:        sub.IP,
		Location:  sub.Location,
		Timestamp: sub.Timestamp,
		Metadata:  sub.Metadata,
	})
	if err != nil {
		metrics.ScoringFailures.Inc()
		o.degrade(log, &StepError{Step: "score", Err: err}, tenantID, eventID)
		return
	}

	if result.Score <= o.threshold {
		return
	}

	anomalyID, err := o.anomalies.Materialize(ctx, eventID, tenantID, result.Score, result.Severity, result.Explanation)
	if err != nil {
		metrics.AnomalyPersistFailures.Inc()
		o.degrade(log, &StepError{Step: "materialize", Err: err}, tenantID, eventID)
		return
	}
	metrics.AnomaliesCreated.WithLabelValues(result.Severity).Inc()

	if err := o.alerts.Publish(ctx, alert.Message{
		TenantID:    tenantID,
		EventID:     eventID,
		AnomalyID:   anomalyID,
		EventType:   sub.EventType,
		Severity:    result.Severity,
		Explanation: result.Explanation,
		PublishedAt: time.Now().UTC(),
	}); err != nil {
		o.degrade(log, &StepError{Step: "publish", Err: err}, tenantID, eventID)
	}
}

func (o *Orchestrator) degrade(log *structlog.Logger, stepErr *StepError, tenantID, eventID string) {
	log.Warn("pipeline step degraded, event remains accepted", structlog.Fields{
		"step":      stepErr.Step,
		"tenant_id": tenantID,
		"event_id":  eventID,
		"error":     stepErr.Err.Error(),
	})
}
