// Package alert publishes real-time anomaly notifications to a shared redis
// stream. Alerts are best-effort: the durable record is the anomaly row.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sentra/pkg/metrics"
)

// ErrPublishFailed means the stream append failed. Never fatal to ingestion.
var ErrPublishFailed = errors.New("alert publish failed")

// Message is the fire-and-forget notification for one materialized anomaly.
// All tenants share one stream; tenant identity travels inside the message
// for downstream filtering.
type Message struct {
	TenantID    string
	EventID     string
	AnomalyID   string
	EventType   string
	Severity    string
	Explanation string
	PublishedAt time.Time
}

// Publisher appends alert messages to a redis stream. A nil client disables
// publishing entirely: the publish step is skipped rather than errored.
type Publisher struct {
	rdb    *redis.Client
	stream string
}

// NewPublisher creates a stream publisher. rdb may be nil when redis is not
// configured.
func NewPublisher(rdb *redis.Client, stream string) *Publisher {
	return &Publisher{rdb: rdb, stream: stream}
}

// Enabled reports whether a live stream connection was configured.
func (p *Publisher) Enabled() bool {
	return p != nil && p.rdb != nil
}

// Publish appends one message to the stream. At most one attempt is made per
// anomaly; ordering across concurrent publishers is not guaranteed and not
// required.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	if !p.Enabled() {
		metrics.AlertsSkipped.Inc()
		return nil
	}

	publishedAt := msg.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}

	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"tenantId":    msg.TenantID,
			"eventId":     msg.EventID,
			"anomalyId":   msg.AnomalyID,
			"eventType":   msg.EventType,
			"severity":    msg.Severity,
			"explanation": msg.Explanation,
			"publishedAt": publishedAt.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		metrics.AlertsSkipped.Inc()
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	metrics.AlertsPublished.Inc()
	return nil
}
