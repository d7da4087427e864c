package queue

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/unclebandit/reminder-mailer/internal/model"
)

// AMQPQueue publishes JSON payloads to durable RabbitMQ queues named after the topic.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex
	log  zerolog.Logger
}

func NewAMQPQueue(url string, log zerolog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, log: log.With().Str("component", "amqp").Logger()}, nil
}

func (q *AMQPQueue) declare(topic string) (amqp.Queue, error) {
	return q.ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	dq, err := q.declare(topic)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	return q.ch.Publish("", dq.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Subscribe consumes the topic's queue in the background. A failed handler
// gets the delivery requeued once; after that it is dropped.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	dq, err := q.declare(topic)
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	msgs, err := q.ch.Consume(
		dq.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		for d := range msgs {
			payload, err := decodeBody(topic, d.Body)
			if err != nil {
				q.log.Warn().Err(err).Str("topic", topic).Msg("invalid message")
				_ = d.Ack(false)
				continue
			}
			if err := handler(payload); err != nil {
				q.log.Warn().Err(err).Str("topic", topic).Bool("redelivered", d.Redelivered).Msg("handler failed")
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
		q.log.Info().Str("topic", topic).Msg("consumer stopped")
	}()
	return nil
}

func (q *AMQPQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}

// decodeBody turns a delivery body into the payload type the topic carries.
func decodeBody(topic string, body []byte) (any, error) {
	switch topic {
	case TopicDispatchEvents:
		var ev model.DispatchEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return json.RawMessage(body), nil
	}
}

var _ Queue = (*AMQPQueue)(nil)
