package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultExchange is the topic exchange events are published on
const DefaultExchange = "swarm.events"

// RoutingKey is "<source>.<event type>", e.g. "coordinator.task_completed"
func RoutingKey(ev domain.Event) string {
	source := ev.Source
	if source == "" {
		source = "unknown"
	}
	return source + "." + string(ev.Type)
}

// Publisher implements port.EventPublisher on an AMQP topic exchange
type Publisher struct {
	exchange string
	log      *zap.Logger

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection, exchange string, log *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, err
	}
	return &Publisher{exchange: exchange, ch: ch, log: log.Named("events")}, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
}

func (p *Publisher) Publish(ctx context.Context, ev domain.Event) error {
	body, err := codec.Marshal(ev)
	if err != nil {
		return err
	}
	key := RoutingKey(ev)

	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx,
		p.exchange, // Exchange
		key,        // Routing key
		false,      // Mandatory
		false,      // Immediate
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   ev.ID,
			Timestamp:   ev.Timestamp,
			Body:        body,
		})
	p.mu.Unlock()

	if err != nil {
		p.log.Error("Failed to publish event", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("publish %s: %w", key, err)
	}
	p.log.Debug("Published event", zap.String("id", ev.ID), zap.String("key", key))
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
