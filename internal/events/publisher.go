package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Queue event routing keys. The notification/sound layer subscribes to
// these to decide when to alert; the core never depends on delivery, the
// polling contract stays authoritative.
const (
	KeyQueued   = "handoff.queued"
	KeyClaimed  = "handoff.claimed"
	KeyStatus   = "handoff.status"
	KeyReleased = "handoff.released"
	KeyMessage  = "handoff.message"
)

// QueueEvent is the body published on every handoff mutation.
type QueueEvent struct {
	TenantID  uuid.UUID  `json:"tenant_id"`
	RequestID uuid.UUID  `json:"request_id"`
	Status    string     `json:"status,omitempty"`
	AgentID   *uuid.UUID `json:"agent_id,omitempty"`
	Version   int64      `json:"version,omitempty"`
	At        time.Time  `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, key string, ev QueueEvent) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

// New connects to RabbitMQ and declares a durable topic exchange.
func New(url, exchange string, logger *slog.Logger) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &rmqPublisher{conn: conn, exchange: exchange, log: logger}, nil
}

func (p *rmqPublisher) Publish(ctx context.Context, key string, ev QueueEvent) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err == nil {
		p.log.Debug("published queue event", "key", key, "request_id", ev.RequestID)
	}
	return err
}

func (p *rmqPublisher) Close() error {
	return p.conn.Close()
}

// Nop is the publisher used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, QueueEvent) error { return nil }
func (Nop) Close() error                                      { return nil }
