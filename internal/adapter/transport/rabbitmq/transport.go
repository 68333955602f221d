// Package rabbitmq carries peer envelopes over an AMQP direct exchange: every
// node consumes a queue bound with its own id as routing key.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultExchange is the direct exchange peers talk through
const DefaultExchange = "swarm.peers"

// QueueName returns the queue a node consumes from
func QueueName(nodeID string) string { return "peer." + nodeID }

// Transport implements port.Transport on RabbitMQ
type Transport struct {
	id       string
	exchange string
	log      *zap.Logger

	pubMu sync.Mutex
	pub   *amqp.Channel
	sub   *amqp.Channel
	msgs  <-chan amqp.Delivery

	mu      sync.RWMutex
	handler func(ctx context.Context, env domain.Envelope)
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New declares the exchange and this node's queue. Delivery starts on OnReceive.
func New(conn *amqp.Connection, nodeID, exchange string, log *zap.Logger) (*Transport, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	pub, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	sub, err := conn.Channel()
	if err != nil {
		pub.Close()
		return nil, err
	}
	fail := func(err error) (*Transport, error) {
		pub.Close()
		sub.Close()
		return nil, err
	}

	if err := pub.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return fail(err)
	}
	q, err := sub.QueueDeclare(
		QueueName(nodeID), // name
		false,             // durable, peer traffic is transient
		true,              // delete when unused
		false,             // exclusive
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return fail(err)
	}
	if err := sub.QueueBind(q.Name, nodeID, exchange, false, nil); err != nil {
		return fail(err)
	}
	msgs, err := sub.Consume(q.Name, "", true, false, false, false, nil)
	if err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		id:       nodeID,
		exchange: exchange,
		log:      log.Named("amqp-transport").With(zap.String("node_id", nodeID)),
		pub:      pub,
		sub:      sub,
		msgs:     msgs,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Send(ctx context.Context, peerID string, env domain.Envelope) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return domain.ErrTransportClosed
	}

	env.From = t.id
	env.To = peerID
	body, err := codec.Marshal(env)
	if err != nil {
		return err
	}

	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	err = t.pub.PublishWithContext(ctx, t.exchange, peerID, false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        env.Kind,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", env.Kind, peerID, err)
	}
	return nil
}

// OnReceive installs the handler and starts delivery in arrival order
func (t *Transport) OnReceive(handler func(ctx context.Context, env domain.Envelope)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
	if t.started || t.closed {
		return
	}
	t.started = true
	t.wg.Add(1)
	go t.loop()
}

func (t *Transport) loop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case d, ok := <-t.msgs:
			if !ok {
				t.log.Warn("delivery channel closed")
				return
			}
			env, err := decode(d.Body)
			if err != nil {
				t.log.Warn("dropping undecodable envelope", zap.Error(err))
				continue
			}
			t.mu.RLock()
			h := t.handler
			t.mu.RUnlock()
			if h != nil {
				h(t.ctx, env)
			}
		}
	}
}

func decode(body []byte) (domain.Envelope, error) {
	var env domain.Envelope
	if err := codec.Unmarshal(body, &env); err != nil {
		return env, err
	}
	if env.Kind == "" || env.From == "" {
		return env, errors.New("envelope without kind or sender")
	}
	return env, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	t.sub.Close()
	return t.pub.Close()
}
