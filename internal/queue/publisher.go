package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"retail-integration/internal/apperr"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher holds one confirm-mode channel, reopened on the next publish after
// any failure.
type Publisher struct {
	dial   Dialer
	url    string
	logger *slog.Logger

	mu       sync.Mutex
	conn     Connection
	ch       Channel
	closed   chan *amqp.Error
	declared map[string]bool
}

func NewPublisher(dial Dialer, url string, logger *slog.Logger) *Publisher {
	return &Publisher{
		dial:     dial,
		url:      url,
		logger:   logger,
		declared: make(map[string]bool),
	}
}

// Publish returns once the broker has confirmed the message.
func (p *Publisher) Publish(ctx context.Context, topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return fmt.Errorf("publish to %s: %w: %w", topic, apperr.ErrTransient, err)
	}

	if !p.declared[topic] {
		if err := ch.QueueDeclare(topic); err != nil {
			p.reset()
			return fmt.Errorf("declare queue %s: %w: %w", topic, apperr.ErrTransient, err)
		}
		p.declared[topic] = true
	}

	acked, err := ch.Publish(ctx, topic, body)
	if err != nil {
		p.reset()
		return fmt.Errorf("publish to %s: %w: %w", topic, apperr.ErrTransient, err)
	}
	if !acked {
		return fmt.Errorf("publish to %s: broker nack: %w", topic, apperr.ErrTransient)
	}
	return nil
}

func (p *Publisher) channel() (Channel, error) {
	if p.ch != nil {
		select {
		case <-p.closed:
			p.logger.Warn("publisher channel closed, reopening")
			p.reset()
		default:
			return p.ch, nil
		}
	}

	conn, err := p.dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	p.conn = conn
	p.ch = ch
	p.closed = ch.NotifyClose(make(chan *amqp.Error, 1))
	p.declared = make(map[string]bool)
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.ch, p.conn, p.closed = nil, nil, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
