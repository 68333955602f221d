package rabbitmq

import (
	"context"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DecodeEvent parses one delivery body
func DecodeEvent(body []byte) (domain.Event, error) {
	var ev domain.Event
	err := codec.Unmarshal(body, &ev)
	return ev, err
}

// Subscribe binds a private queue to the exchange with bindingKey (e.g. "#" or
// "*.health_alert") and calls handler for every event until ctx is done.
func Subscribe(ctx context.Context, conn *amqp.Connection, exchange, bindingKey string, handler func(domain.Event), log *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		return err
	}

	q, err := ch.QueueDeclare(
		"",    // name, broker generated
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return err
	}
	if err := ch.QueueBind(q.Name, bindingKey, exchange, false, nil); err != nil {
		ch.Close()
		return err
	}

	msgs, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // auto-ack, events are fire-and-forget
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		ch.Close()
		return err
	}

	log.Info("Started consuming events", zap.String("exchange", exchange), zap.String("binding", bindingKey))

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := DecodeEvent(d.Body)
				if err != nil {
					log.Error("Failed to unmarshal event", zap.Error(err))
					continue
				}
				handler(ev)
			}
		}
	}()
	return nil
}
