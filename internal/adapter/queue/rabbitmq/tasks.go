package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	TasksExchange = "tasks.direct"
	TasksQueue    = "tasks.swarm"
)

// TaskRoutingKey routes by priority so operators can shard intake later
func TaskRoutingKey(t *domain.Task) string {
	switch t.Priority {
	case domain.PriorityCritical, domain.PriorityHigh:
		return "task.high"
	case domain.PriorityLow:
		return "task.low"
	default:
		return "task.normal"
	}
}

func amqpPriority(t *domain.Task) uint8 {
	switch t.Priority {
	case domain.PriorityCritical:
		return 9
	case domain.PriorityHigh:
		return 7
	case domain.PriorityLow:
		return 1
	default:
		return 4
	}
}

// TaskQueue submits tasks to the coordinator and delivers them to it
type TaskQueue struct {
	log *zap.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

// NewTaskQueue declares the direct exchange and one priority queue bound to every task routing key
func NewTaskQueue(conn *amqp.Connection, log *zap.Logger) (*TaskQueue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(TasksExchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}
	_, err = ch.QueueDeclare(
		TasksQueue, // name
		true,       // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		amqp.Table{"x-max-priority": 10},
	)
	if err != nil {
		ch.Close()
		return nil, err
	}
	for _, key := range []string{"task.high", "task.normal", "task.low"} {
		if err := ch.QueueBind(TasksQueue, key, TasksExchange, false, nil); err != nil {
			ch.Close()
			return nil, err
		}
	}
	return &TaskQueue{ch: ch, log: log.Named("tasks")}, nil
}

func (q *TaskQueue) PublishTask(ctx context.Context, task *domain.Task) error {
	body, err := codec.Marshal(task)
	if err != nil {
		return err
	}
	routingKey := TaskRoutingKey(task)

	q.mu.Lock()
	err = q.ch.PublishWithContext(ctx,
		TasksExchange, // Exchange
		routingKey,    // Routing key
		false,         // Mandatory
		false,         // Immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Priority:     amqpPriority(task),
		})
	q.mu.Unlock()

	if err != nil {
		q.log.Error("Failed to publish task", zap.Error(err))
		return fmt.Errorf("publish task %s: %w", task.ID, err)
	}

	q.log.Info("Published task to RabbitMQ", zap.String("id", task.ID), zap.String("key", routingKey))
	return nil
}

// ConsumeTasks delivers tasks to handler until ctx is done. A handler error
// requeues the task unless the task itself is malformed.
func (q *TaskQueue) ConsumeTasks(ctx context.Context, handler func(ctx context.Context, task *domain.Task) error) error {
	q.mu.Lock()
	msgs, err := q.ch.Consume(
		TasksQueue, // queue
		"",         // consumer
		false,      // auto-ack (We want to ack manually after work is done)
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	q.mu.Unlock()
	if err != nil {
		return err
	}

	q.log.Info("Started consuming tasks", zap.String("queue", TasksQueue))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				var task domain.Task
				if err := codec.Unmarshal(d.Body, &task); err != nil {
					q.log.Error("Failed to unmarshal task", zap.Error(err))
					d.Nack(false, false) // discard invalid message
					continue
				}

				q.log.Info("Received task", zap.String("id", task.ID))
				if err := handler(ctx, &task); err != nil {
					q.log.Error("Task handling failed", zap.String("id", task.ID), zap.Error(err))
					d.Nack(false, requeue(err))
					continue
				}
				d.Ack(false)
			}
		}
	}()

	return nil
}

func (q *TaskQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ch.Close()
}
