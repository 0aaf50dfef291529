// Package rabbitmq adapts an AMQP broker to the pipeline's Transport
// interface, for deployments that relay envelopes through a queue instead
// of a direct websocket. Publisher confirms provide the delivery
// acknowledgment.
package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Transport publishes envelope frames to a single AMQP queue.
type Transport struct {
	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
}

// Dial connects to the broker, puts the channel into confirm mode, and
// declares a durable queue.
func Dial(url, queueName string) (*Transport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if err := channel.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: enable confirms: %w", err)
	}
	if _, err := channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: declare queue %s: %w", queueName, err)
	}

	return &Transport{
		conn:      conn,
		channel:   channel,
		queueName: queueName,
	}, nil
}

// Send publishes one frame and waits for the broker confirm.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	confirm, err := t.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		"",          // default exchange
		t.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         data,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq: await confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("rabbitmq: broker nacked publish to %s", t.queueName)
	}
	return nil
}

// Close closes the channel and connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.channel.Close(); err != nil {
		t.conn.Close()
		return fmt.Errorf("rabbitmq: close channel: %w", err)
	}
	return t.conn.Close()
}
