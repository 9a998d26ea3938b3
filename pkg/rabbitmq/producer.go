/**
 * @description
 * This package publishes campaign and donation events to a RabbitMQ topic exchange.
 * The producer declares the exchange on first use and reopens its channel once when
 * a publish fails, so a broker restart does not require a service restart.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	declared bool
}

// EventProducerFallback is a no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct {
	Exchange string
}

func (p *EventProducerFallback) Publish(ctx context.Context, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", p.Exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer dials RabbitMQ and returns a producer bound to exchange.
func NewEventProducer(amqpURL, exchange string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(exchange) == "" {
		return nil, errors.New("exchange name is required")
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *EventProducer) reopenChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	p.declared = false
	return nil
}

func (p *EventProducer) declareExchange() error {
	if p.declared {
		return nil
	}
	if err := p.channel.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	); err != nil {
		return err
	}
	p.declared = true
	return nil
}

// Publish marshals body as JSON and sends it with the given routing key.
func (p *EventProducer) Publish(ctx context.Context, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", p.exchange, routingKey, err)
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.declareExchange()
	if err == nil {
		err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	}
	if err == nil {
		return nil
	}

	log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", p.exchange, routingKey, err)
	if reopenErr := p.reopenChannel(); reopenErr != nil {
		return reopenErr
	}
	if err := p.declareExchange(); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
