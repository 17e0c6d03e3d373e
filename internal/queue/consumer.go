package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"retail-integration/internal/errsink"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrConnectionLost = errors.New("broker connection lost")
	ErrChannelClosed  = errors.New("broker channel closed")
	ErrStreamLost     = errors.New("delivery stream lost")
)

type ConsumerConfig struct {
	URL            string
	ReconnectDelay time.Duration
	MaxBackoff     time.Duration
}

// Consumer delivers one topic's messages to its handler, one at a time.
type Consumer struct {
	topic   string
	handler Handler
	dial    Dialer
	cfg     ConsumerConfig
	sink    errsink.Sink
	logger  *slog.Logger
}

func NewConsumer(topic string, handler Handler, dial Dialer, cfg ConsumerConfig, sink errsink.Sink, logger *slog.Logger) *Consumer {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxBackoff < cfg.ReconnectDelay {
		cfg.MaxBackoff = cfg.ReconnectDelay
	}
	return &Consumer{
		topic:   topic,
		handler: handler,
		dial:    dial,
		cfg:     cfg,
		sink:    sink,
		logger:  logger.With("topic", topic),
	}
}

func (c *Consumer) Topic() string { return c.topic }

// Run consumes until ctx is done. Transport loss is retried here with
// backoff; a broker-closed channel or a lost delivery stream is returned to
// the caller.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := c.cfg.ReconnectDelay
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, ErrConnectionLost) {
			return err
		}

		if connected {
			backoff = c.cfg.ReconnectDelay
		}
		c.logger.Warn("broker connection lost, reconnecting", "err", err, "backoff", backoff)
		if sleepOrDone(ctx, backoff) != nil {
			return nil
		}
		backoff = nextBackoff(backoff, c.cfg.MaxBackoff)
	}
}

func (c *Consumer) session(ctx context.Context) (bool, error) {
	conn, err := c.dial(c.cfg.URL)
	if err != nil {
		return false, fmt.Errorf("%w: dial: %w", ErrConnectionLost, err)
	}
	defer conn.Close()
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))

	ch, err := conn.Channel()
	if err != nil {
		return false, fmt.Errorf("%w: open channel: %w", ErrConnectionLost, err)
	}
	defer ch.Close()
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	if err := ch.QueueDeclare(c.topic); err != nil {
		return false, fmt.Errorf("declare queue %s: %w", c.topic, err)
	}
	if err := ch.Qos(1); err != nil {
		return false, fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := ch.Consume(c.topic, "")
	if err != nil {
		return false, fmt.Errorf("consume %s: %w", c.topic, err)
	}
	c.logger.Info("consumer connected")

	for {
		select {
		case <-ctx.Done():
			return true, nil

		case e := <-connClosed:
			return true, fmt.Errorf("%w: %v", ErrConnectionLost, e)

		case e := <-chClosed:
			if conn.IsClosed() {
				return true, fmt.Errorf("%w: %v", ErrConnectionLost, e)
			}
			return true, fmt.Errorf("%w: %v", ErrChannelClosed, e)

		case d, ok := <-deliveries:
			if !ok {
				if conn.IsClosed() {
					return true, ErrConnectionLost
				}
				return true, ErrStreamLost
			}
			c.handle(ctx, d)
		}
	}
}

// handle runs the handler outside ctx's cancellation so a stop signal lets the
// current message finish. Errors and panics go to the sink; the message is
// acked either way.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	hctx := context.WithoutCancel(ctx)
	origin := "consumer." + c.topic
	msg := Message{Topic: c.topic, Body: string(d.Body), Tag: d.DeliveryTag}

	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.sink.RecordPanic(hctx, origin, r)
			}
		}()
		if err := c.handler(hctx, msg); err != nil {
			c.sink.Record(hctx, origin, err)
		}
	}()

	if err := d.Ack(false); err != nil {
		c.logger.Error("ack failed", "tag", d.DeliveryTag, "err", err)
		return
	}
	c.logger.Debug("message handled", "tag", d.DeliveryTag, "elapsed", time.Since(start))
}
