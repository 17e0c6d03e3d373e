// Package queue is the durable topic transport between the webhook gateway and
// the topic consumers.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	TopicDraftCreate  = "shopify-draft-create"
	TopicDraftUpdate  = "shopify-draft-update"
	TopicOrders       = "shopify-orders"
	TopicSyncOnDemand = "sync-on-demand"
	TopicDesignLead   = "design-lead-form"
	TopicInboundSMS   = "inbound-sms"
)

func Topics() []string {
	return []string{
		TopicDraftCreate, TopicDraftUpdate, TopicOrders,
		TopicSyncOnDemand, TopicDesignLead, TopicInboundSMS,
	}
}

type Message struct {
	Topic string
	Body  string
	Tag   uint64
}

type Handler func(ctx context.Context, msg Message) error

// Connection and Channel are the slice of the broker client the runtime uses.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

type Channel interface {
	QueueDeclare(name string) error
	Qos(prefetch int) error
	Consume(queue, consumer string) (<-chan amqp.Delivery, error)
	Confirm() error
	// Publish sends body to queue and reports whether the broker acked it.
	Publish(ctx context.Context, queue string, body []byte) (bool, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type Dialer func(url string) (Connection, error)

func DialAMQP(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &amqpChannel{ch: ch}, nil
}

func (c *amqpConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

func (c *amqpConnection) IsClosed() bool { return c.conn.IsClosed() }

func (c *amqpConnection) Close() error { return c.conn.Close() }

type amqpChannel struct {
	ch *amqp.Channel
}

func (a *amqpChannel) QueueDeclare(name string) error {
	_, err := a.ch.QueueDeclare(name, true, false, false, false, nil)
	return err
}

func (a *amqpChannel) Qos(prefetch int) error { return a.ch.Qos(prefetch, 0, false) }

func (a *amqpChannel) Consume(queue, consumer string) (<-chan amqp.Delivery, error) {
	return a.ch.Consume(queue, consumer, false, false, false, false, nil)
}

func (a *amqpChannel) Confirm() error { return a.ch.Confirm(false) }

func (a *amqpChannel) Publish(ctx context.Context, queue string, body []byte) (bool, error) {
	dc, err := a.ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return false, err
	}
	if dc == nil {
		return true, nil
	}
	return dc.WaitContext(ctx)
}

func (a *amqpChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return a.ch.NotifyClose(receiver)
}

func (a *amqpChannel) Close() error { return a.ch.Close() }

func sleepOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
