// Package bus publishes device state-change events to NATS so other
// backend services (analytics, alerting) can consume fleet changes without
// polling.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/droidfleet/fleetsync/pkg/fleet"
	"github.com/droidfleet/fleetsync/pkg/logger"
	"github.com/droidfleet/fleetsync/pkg/models"
)

const defaultSubjectPrefix = "fleet.devices"

// Conn is the subset of a NATS connection the publisher needs; satisfied
// by *nats.Conn.
type Conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// Publisher emits one event per device change.
type Publisher struct {
	conn   Conn
	prefix string
	log    logger.Logger
}

// Connect dials NATS and returns a publisher.
func Connect(cfg models.NATSConfig, log logger.Logger) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("fleetsync"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", cfg.URL, err)
	}

	return NewPublisher(nc, cfg.SubjectPrefix, log), nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, prefix string, log logger.Logger) *Publisher {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}

	return &Publisher{
		conn:   conn,
		prefix: prefix,
		log:    log,
	}
}

// changeEvent is the published payload.
type changeEvent struct {
	Kind      fleet.ChangeKind `json:"kind"`
	Device    models.Device    `json:"device"`
	Timestamp time.Time        `json:"timestamp"`
}

// PublishChange emits the change on <prefix>.<device_id>.<kind>. Publish
// failures are logged, not propagated: the bus is an observer, never a
// blocker of store mutations.
func (p *Publisher) PublishChange(c fleet.Change) {
	payload, err := json.Marshal(changeEvent{
		Kind:      c.Kind,
		Device:    c.Device,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.log.Error().Err(err).Str("device_id", c.Device.ID).Msg("Failed to encode change event")
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", p.prefix, c.Device.ID, c.Kind)

	if err := p.conn.Publish(subject, payload); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish change event")
	}
}

// Close drains the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
