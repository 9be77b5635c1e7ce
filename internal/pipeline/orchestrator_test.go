package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentra/internal/alert"
	"sentra/internal/event"
	"sentra/internal/scoring"
	"sentra/internal/tenant"
	"sentra/pkg/structlog"
)

type fakeResolver struct {
	tenantID string
	err      error
	calls    int
}

func (f *fakeResolver) Resolve(_ context.Context, apiKey string) (string, error) {
	f.calls++
	if apiKey == "" {
		return "", tenant.ErrUnauthenticated
	}
	if f.err != nil {
		return "", f.err
	}
	return f.tenantID, nil
}

type fakeAppender struct {
	nextID string
	err    error
	calls  int
	subs   []event.Submission
}

func (f *fakeAppender) Append(_ context.Context, _ string, sub event.Submission) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.subs = append(f.subs, sub)
	return f.nextID, nil
}

type fakeScorer struct {
	result *scoring.Result
	err    error
	calls  int
	got    scoring.EventContext
}

func (f *fakeScorer) Score(_ context.Context, ec scoring.EventContext) (*scoring.Result, error) {
	f.calls++
	f.got = ec
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeMaterializer struct {
	nextID string
	err    error
	calls  int
}

func (f *fakeMaterializer) Materialize(_ context.Context, _, _ string, _ float64, _, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.nextID, nil
}

type fakePublisher struct {
	err  error
	msgs []alert.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg alert.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

type fakeLimiter struct {
	allowed bool
	err     error
}

func (f *fakeLimiter) Allow(_ context.Context, _ string) (bool, int64, error) {
	return f.allowed, 0, f.err
}

type fixture struct {
	resolver     *fakeResolver
	appender     *fakeAppender
	scorer       *fakeScorer
	materializer *fakeMaterializer
	publisher    *fakePublisher
}

func newFixture() *fixture {
	return &fixture{
		resolver:     &fakeResolver{tenantID: "org-1"},
		appender:     &fakeAppender{nextID: "evt-1"},
		scorer:       &fakeScorer{result: &scoring.Result{Score: 0.2, Severity: "low", Explanation: "Normal activity detected."}},
		materializer: &fakeMaterializer{nextID: "anom-1"},
		publisher:    &fakePublisher{},
	}
}

func (fx *fixture) orchestrator(limiter RateLimiter) *Orchestrator {
	logger := structlog.New("test", structlog.LevelFatal, io.Discard)
	return New(fx.resolver, fx.appender, fx.scorer, fx.materializer, fx.publisher, limiter, 0.6, logger)
}

func TestIngestLowScoreAccepted(t *testing.T) {
	fx := newFixture()
	o := fx.orchestrator(nil)

	receipt, err := o.Ingest(context.Background(), "key-1", event.Submission{EventType: "LOGIN_SUCCESS"})

	require.NoError(t, err)
	assert.Equal(t, "evt-1", receipt.EventID)
	assert.Equal(t, 1, fx.scorer.calls)
	assert.Equal(t, 0, fx.materializer.calls, "no anomaly below threshold")
	assert.Empty(t, fx.publisher.msgs, "no alert below threshold")
}

func TestIngestHighScoreMaterializesAndPublishes(t *testing.T) {
	fx := newFixture()
	fx.scorer.result = &scoring.Result{Score: 0.92, Severity: "critical", Explanation: "unusual login hour"}
	o := fx.orchestrator(nil)

	receipt, err := o.Ingest(context.Background(), "key-1", event.Submission{EventType: "LOGIN_FAILED"})

	require.NoError(t, err)
	assert.Equal(t, "evt-1", receipt.EventID)
	assert.Equal(t, 1, fx.materializer.calls)
	require.Len(t, fx.publisher.msgs, 1)

	msg := fx.publisher.msgs[0]
	assert.Equal(t, "org-1", msg.TenantID)
	assert.Equal(t, "evt-1", msg.EventID)
	assert.Equal(t, "anom-1", msg.AnomalyID)
	assert.Equal(t, "LOGIN_FAILED", msg.EventType)
	assert.Equal(t, "critical", msg.Severity)
	assert.False(t, msg.PublishedAt.IsZero())
}

func TestIngestScoreAtThresholdDoesNotMaterialize(t *testing.T) {
	fx := newFixture()
	fx.scorer.result = &scoring.Result{Score: 0.6, Severity: "high"}
	o := fx.orchestrator(nil)

	_, err := o.Ingest(context.Background(), "key-1", event.Submission{EventType: "LOGIN_FAILED"})

	require.NoError(t, err)
	assert.Equal(t, 0, fx.materializer.calls, "threshold is strictly exceeded, not met")
}

func TestIngestScoringFailureStillAccepted(t *testing.T) {
	fx := newFixture()
	fx.scorer.err = scoring.ErrScoringUnavailable
	o := fx.orchestrator(nil)

	receipt, err := o.Ingest(context.Background(), "key-1", event.Submission{EventType: "LOGIN_SUCCESS"})

	require.NoError(t, err, "scorer failure must never fail ingestion")
	assert.Equal(t, "evt-1", receipt.EventID)
	assert.Equal(t, 1, fx.appender.calls)
	assert.Equal(t, 0, fx.materializer.calls)
	assert.Empty(t, fx.publisher.msgs)
}

func TestIngestMaterializeFailureStillAccepted(t *testing.T) {
	fx := newFixture()
	fx.scorer.result = &scoring.Result{Score: 0.95, Severity: "critical"}
	fx.materializer.err = errors.New("insert failed")
	o := fx.orchestrator(nil)

	receipt, err := o.Ingest(context.Background(), "key-1", event.Submission{EventType: "LOGIN_FAILED"})

	require.NoError(t, err)
	assert.Equal(t, "evt-1", receipt.EventID)
	assert.Empty(t, fx.publisher.msgs, "no alert without a materialized anomaly")
}

func TestIngestPublishFailureStillAccepted(t *testing.T) {
	fx := newFixture()
	fx.scorer.result = &scoring.Result{Score: 0.95, Severity: "critical"}
	fx.publisher.err = alert.ErrPublishFailed
	o := fx.orchestrator(nil)

	receipt, err := o.Ingest(context.Background(), "key-1", event.Submission{EventType: "LOGIN_FAILED"})

	require.NoError(t, err)
	assert.Equal(t, "evt-1", receipt.EventID)
	assert.Equal(t, 1, fx.materializer.calls, "anomaly row stays even when the alert is lost")
}

func TestIngestMissingCredentialWritesNothing(t *testing.T) {
	fx := newFixture()
	o := fx.orchestrator(nil)

	_, err := o.Ingest(context.Background(), "", event.Submission{EventType: "LOGIN_SUCCESS"})

	require.Error(t, err)
	assert.ErrorIs(t, err, tenant.ErrUnauthenticated)
	assert.Equal(t, 0, fx.appender.calls, "auth must run before any write")
	assert.Equal(t, 0, fx.scorer.calls)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.True(t, stepErr.Fatal)
	assert.Equal(t, "authenticate", stepErr.Step)
}

func TestIngestInvalidCredentialWritesNothing(t *testing.T) {
	fx := newFixture()
	fx.resolver.err = tenant.ErrInvalidCredential
	o := fx.orchestrator(nil)

	_, err := o.Ingest(context.Background(), "bad-key", event.Submission{EventType: "LOGIN_SUCCESS"})

	assert.ErrorIs(t, err, tenant.ErrInvalidCredential)
	assert.Equal(t, 0, fx.appender.calls)
}

func TestIngestStorageFailureIsFatalAndSkipsScoring(t *testing.T) {
	fx := newFixture()
	fx.appender.err = event.ErrStorageUnavailable
	o := fx.orchestrator(nil)

	_, err := o.Ingest(context.Background(), "key-1", event.Submission{EventType: "LOGIN_SUCCESS"})

	require.Error(t, err)
	assert.ErrorIs(t, err, event.ErrStorageUnavailable)
	assert.Equal(t, 0, fx.scorer.calls, "no scoring call after a storage failure")
	assert.Equal(t, 0, fx.materializer.calls)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.True(t, stepErr.Fatal)
	assert.Equal(t, "persist", stepErr.Step)
}

func TestIngestNoDeduplication(t *testing.T) {
	fx := newFixture()
	fx.scorer.result = &scoring.Result{Score: 0.9, Severity: "high"}
	o := fx.orchestrator(nil)

	sub := event.Submission{EventType: "LOGIN_FAILED", UserID: "u1", IP: "10.0.0.1"}
	_, err := o.Ingest(context.Background(), "key-1", sub)
	require.NoError(t, err)
	_, err = o.Ingest(context.Background(), "key-1", sub)
	require.NoError(t, err)

	assert.Equal(t, 2, fx.appender.calls, "identical submissions are distinct events")
	assert.Equal(t, 2, fx.materializer.calls, "identical submissions yield distinct anomalies")
}

func TestIngestTenantIdentityNeverCrossesScoringBoundary(t *testing.T) {
	fx := newFixture()
	o := fx.orchestrator(nil)

	sub := event.Submission{
		EventType: "FILE_ACCESS",
		UserID:    "u1",
		IP:        "203.0.113.9",
		Location:  "DE",
		Metadata:  map[string]interface{}{"path": "/etc/passwd"},
	}
	_, err := o.Ingest(context.Background(), "key-1", sub)
	require.NoError(t, err)

	assert.Equal(t, "FILE_ACCESS", fx.scorer.got.EventType)
	assert.Equal(t, "u1", fx.scorer.got.UserID)
	assert.Equal(t, "203.0.113.9", fx.scorer.got.IP)
	assert.Equal(t, "DE", fx.scorer.got.Location)
	assert.Equal(t, sub.Metadata, fx.scorer.got.Metadata)
}

func TestIngestRateLimitDenialWritesNothing(t *testing.T) {
	fx := newFixture()
	o := fx.orchestrator(&fakeLimiter{allowed: false})

	_, err := o.Ingest(context.Background(), "key-1", event.Submission{EventType: "LOGIN_SUCCESS"})

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 0, fx.appender.calls)
}

func TestIngestRateLimiterErrorFailsOpen(t *testing.T) {
	fx := newFixture()
	o := fx.orchestrator(&fakeLimiter{allowed: false, err: errors.New("redis down")})

	receipt, err := o.Ingest(context.Background(), "key-1", event.Submission{EventType: "LOGIN_SUCCESS"})

	require.NoError(t, err, "a broken limiter must not block ingestion")
	assert.Equal(t, "evt-1", receipt.EventID)
}
