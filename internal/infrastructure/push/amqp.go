package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quantstream/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 2 * time.Second

// AMQPPublisher mirrors pushed events onto a RabbitMQ fanout exchange so
// out-of-process consumers see the same stream browser clients do.
// Publishing is best effort: a broken broker connection drops events and
// never blocks ingestion.
type AMQPPublisher struct {
	cfg     config.AMQPConfig
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *logrus.Entry
}

// NewAMQPPublisher connects and declares the fanout exchange.
func NewAMQPPublisher(cfg config.AMQPConfig, logger *logrus.Logger) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(cfg.EventsExchange, "fanout", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.EventsExchange, err)
	}
	return &AMQPPublisher{
		cfg:     cfg,
		conn:    conn,
		channel: channel,
		logger:  logger.WithField("component", "amqp_publisher"),
	}, nil
}

// Emit publishes the event envelope to the fanout exchange.
func (p *AMQPPublisher) Emit(event string, payload any) {
	body, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		p.logger.WithError(err).WithField("event", event).Warn("marshal event failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err = p.channel.PublishWithContext(ctx, p.cfg.EventsExchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        event,
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		p.logger.WithError(err).WithField("event", event).Warn("publish failed")
	}
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

// Multi fans one Emit out to several sinks.
type Multi []interface{ Emit(event string, payload any) }

func (m Multi) Emit(event string, payload any) {
	for _, sink := range m {
		sink.Emit(event, payload)
	}
}
