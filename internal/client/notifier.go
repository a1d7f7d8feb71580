// Package client holds the outbound integrations of the promotion panel.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/miladahmadkhan/promotion-panel/internal/platform/logger"
)

const (
	// StreamName is the JetStream stream notification events are stored in.
	StreamName = "PROMOTION_NOTIFICATIONS"
	// SubjectPrefix prefixes every notification subject.
	SubjectPrefix = "notifications.promotion"
)

// publisher is the part of jetstream.JetStream the notifier uses.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NotificationPublisher publishes evaluation workflow events to NATS
// JetStream for the notifications service.
//
// Subject convention: notifications.promotion.<event_type>
// Event types: evaluation_assigned, evaluation_ready_for_approver,
// evaluation_closed
//
// Publishing never fails the caller. Errors are logged and dropped.
type NotificationPublisher struct {
	js  publisher
	log *logger.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Category     string         `json:"category"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher on an existing JetStream handle.
func NewNotificationPublisher(js publisher, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{js: js, log: log}
}

// Connect dials NATS, makes sure the notification stream exists and returns
// a publisher on it. The caller closes the returned connection.
func Connect(ctx context.Context, url string, log *logger.Logger) (*NotificationPublisher, *nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("promotion-panel"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("open JetStream: %w", err)
	}
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrefix + ".>"},
		MaxAge:   7 * 24 * time.Hour,
	}); err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create stream %s: %w", StreamName, err)
	}

	return NewNotificationPublisher(js, log), nc, nil
}

// PublishEvaluationEvent publishes an evaluation event to
// notifications.promotion.<eventType>. Events without recipients are skipped.
func (p *NotificationPublisher) PublishEvaluationEvent(ctx context.Context, eventType, evaluationID, actorID string, recipients []string, payload map[string]any) {
	if p == nil || p.js == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "evaluation",
		ResourceID:   evaluationID,
		IsActionable: eventType != "evaluation_closed",
		Category:     "promotion_panel",
		OccurredAt:   time.Now().UTC(),
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := SubjectPrefix + "." + eventType
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("evaluation_id", evaluationID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("evaluation_id", evaluationID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
