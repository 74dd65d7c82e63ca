package queue

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// WakeHint tells workers that new work may exist. It is a wake-up signal
// only: the coordinator re-derives eligibility from storage, so losing,
// duplicating, or reordering hints never affects correctness.
type WakeHint struct {
	MessageID string `json:"message_id"`
}

type Client struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   zerolog.Logger
}

func NewClient(url, queueName string, log zerolog.Logger) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Client{conn: conn, ch: ch, queue: queueName, log: log}, nil
}

func (c *Client) Publish(ctx context.Context, messageID string) error {
	body, err := json.Marshal(WakeHint{MessageID: messageID})
	if err != nil {
		return err
	}
	return c.ch.PublishWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Consume delivers wake callbacks until the context is cancelled. Hints are
// acked after the callback; a redelivered hint just triggers another sweep.
func (c *Client) Consume(ctx context.Context, wake func()) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					c.log.Warn().Msg("wake hint channel closed")
					return
				}
				var hint WakeHint
				if err := json.Unmarshal(d.Body, &hint); err != nil {
					c.log.Warn().Err(err).Msg("discarding malformed wake hint")
					_ = d.Nack(false, false)
					continue
				}
				wake()
				_ = d.Ack(false)
			}
		}
	}()
	return nil
}

func (c *Client) Close() error {
	if err := c.ch.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}
