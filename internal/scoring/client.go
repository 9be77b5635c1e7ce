// Package scoring is the client for the external anomaly scoring service.
// The call is purely advisory: any failure here must degrade, never block
// ingestion.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"sentra/pkg/circuitbreaker"
	otelobs "sentra/pkg/observability/otel"
)

// ErrScoringUnavailable covers timeouts, network failures, malformed
// responses, and an open circuit. Callers treat all of them the same way.
var ErrScoringUnavailable = errors.New("scoring service unavailable")

// EventContext is what crosses the scoring boundary. Tenant identity is
// deliberately absent: the scorer is a stateless classifier and gets only the
// model context it needs.
type EventContext struct {
	EventType string
	UserID    string
	IP        string
	Location  string
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Result is the transient outcome of one scoring call.
type Result struct {
	Score       float64
	Severity    string
	Explanation string
}

type scoreRequest struct {
	EventType string                 `json:"eventType"`
	UserID    string                 `json:"userId"`
	IP        string                 `json:"ip"`
	Location  string                 `json:"location"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type scoreResponse struct {
	AnomalyScore float64 `json:"anomalyScore"`
	Severity     string  `json:"severity"`
	Explanation  string  `json:"explanation"`
}

// Client calls the scorer over HTTP with its own timeout, independent of the
// request deadline, and a circuit breaker so a dead scorer fails fast instead
// of burning the timeout on every ingest.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewClient creates a scoring client. timeout bounds each call.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelobs.WrapHTTPTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New(circuitbreaker.DefaultSettings()),
	}
}

// Score submits the event context and returns the scorer's verdict. Every
// failure mode maps to ErrScoringUnavailable.
func (c *Client) Score(ctx context.Context, ec EventContext) (*Result, error) {
	var result *Result
	err := c.breaker.Execute(func() error {
		r, err := c.score(ctx, ec)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScoringUnavailable, err)
	}
	return result, nil
}

func (c *Client) score(ctx context.Context, ec EventContext) (*Result, error) {
	payload := scoreRequest{
		EventType: ec.EventType,
		UserID:    ec.UserID,
		IP:        ec.IP,
		Location:  ec.Location,
		Metadata:  ec.Metadata,
	}
	if !ec.Timestamp.IsZero() {
		payload.Timestamp = ec.Timestamp.UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ai/score", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("score request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("score failed with status %d: %s", resp.StatusCode, string(body))
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode score response: %w", err)
	}
	if sr.AnomalyScore < 0 || sr.AnomalyScore > 1 {
		return nil, fmt.Errorf("score %v out of range", sr.AnomalyScore)
	}

	severity := sr.Severity
	if severity == "" {
		severity = SeverityForScore(sr.AnomalyScore)
	}

	return &Result{Score: sr.AnomalyScore, Severity: severity, Explanation: sr.Explanation}, nil
}

// SeverityForScore maps a score onto the scorer's severity bands.
func SeverityForScore(score float64) string {
	switch {
	case score > 0.8:
		return "critical"
	case score > 0.6:
		return "high"
	case score > 0.4:
		return "medium"
	default:
		return "low"
	}
}
