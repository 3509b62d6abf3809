package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "esim.orders"

// Message is one broker publication. Headers must hold amqp-compatible values.
type Message struct {
	RoutingKey string
	ID         string
	Type       string
	Body       []byte
	Headers    map[string]any
	Timestamp  time.Time
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// RabbitPublisher publishes persistent JSON messages to a durable topic
// exchange. A channel is opened per publish; the connection is shared.
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	exchange string
}

func NewRabbitPublisher(url string, exchange string) (*RabbitPublisher, error) {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp091.Dial(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("messaging: connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("messaging: open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("messaging: declare exchange %q: %w", exchange, err)
	}

	return &RabbitPublisher{conn: conn, exchange: exchange}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return fmt.Errorf("messaging: rabbitmq connection is closed")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("messaging: open channel: %w", err)
	}
	defer ch.Close()

	headers := amqp091.Table{}
	for key, value := range msg.Headers {
		headers[key] = value
	}
	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	return ch.PublishWithContext(ctx, p.exchange, msg.RoutingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    msg.ID,
		Type:         msg.Type,
		Timestamp:    timestamp,
		Headers:      headers,
		Body:         msg.Body,
	})
}

func (p *RabbitPublisher) Exchange() string {
	if p == nil {
		return ""
	}
	return p.exchange
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
