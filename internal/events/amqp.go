package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"liquidity-pool/internal/observability"
)

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a durable topic exchange, routed by event type.
type AMQPPublisher struct {
	mu       sync.Mutex
	channel  amqpChannel
	conn     io.Closer
	exchange string
	logger   *zap.Logger
}

// DialAMQP connects to url, opens a channel and declares exchange.
func DialAMQP(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	p, err := newAMQPPublisher(ch, conn, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, conn io.Closer, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{
		channel:  ch,
		conn:     conn,
		exchange: exchange,
		logger:   logger.Named("events"),
	}, nil
}

var _ Publisher = (*AMQPPublisher)(nil)

// Publish sends ev as a persistent JSON message with routing key ev.Type.
func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) (err error) {
	defer func() { observability.RecordEventPublished(err) }()

	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.Publish(p.exchange, ev.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Type,
		Timestamp:    time.UnixMilli(ev.OccurredAt),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	p.logger.Debug("event published", zap.String("type", ev.Type), zap.String("id", ev.ID))
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.Close()
	if err != nil && err != amqp.ErrClosed {
		p.logger.Warn("close amqp channel", zap.Error(err))
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && cerr != amqp.ErrClosed {
			return fmt.Errorf("close amqp connection: %w", cerr)
		}
	}
	return nil
}
