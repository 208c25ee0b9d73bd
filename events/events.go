package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is where batch notifications go unless configured otherwise.
const DefaultSubject = "transactions.synced"

// BatchSynced is emitted after a batch commits.
type BatchSynced struct {
	UserID     string    `json:"user_id"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Failed     int       `json:"failed"`
	AccountIDs []string  `json:"account_ids"`
	SyncedAt   time.Time `json:"synced_at"`
}

// Publisher delivers batch notifications to interested services.
type Publisher interface {
	Publish(ctx context.Context, event BatchSynced) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, BatchSynced) error { return nil }

// NATSPublisher publishes JSON-encoded events on a NATS subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// Connect dials url and returns a publisher for subject.
func Connect(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("finance-sync-be"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return NewNATSPublisher(nc, subject), nil
}

// NewNATSPublisher wraps an existing connection. An empty subject means DefaultSubject.
func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

// Publish sends event as JSON on the configured subject.
func (p *NATSPublisher) Publish(ctx context.Context, event BatchSynced) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}
