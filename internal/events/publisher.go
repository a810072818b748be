package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/entgraph/discovery/internal/scheduler"
	"github.com/entgraph/discovery/internal/util"
	"github.com/entgraph/discovery/pkg/logger"
)

const (
	defaultExchange = "discovery"
	dialAttempts    = 3
)

// Publisher emits pass summaries to a RabbitMQ topic exchange so downstream
// consumers (dashboards, alerting) can observe reconciliation activity
// without polling the graph.
type Publisher struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	exchange string
}

// NewPublisher connects to the broker and declares the exchange. Brokers
// are often still starting when we are, so the dial is retried.
func NewPublisher(ctx context.Context, url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = defaultExchange
	}

	var conn *amqp091.Connection
	err := util.RetryErrWithContext(ctx, dialAttempts, func(context.Context) error {
		var dialErr error
		conn, dialErr = amqp091.Dial(url)
		if dialErr != nil {
			logger.Warn("message broker not reachable, retrying", "err", dialErr)
		}
		return dialErr
	})
	if err != nil {
		return nil, fmt.Errorf("connect to message broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	logger.Info("connected pass-summary publisher", "exchange", exchange)
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// PublishPassSummary emits one summary with routing key pass.<provider>.
func (p *Publisher) PublishPassSummary(ctx context.Context, summary scheduler.PassSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode pass summary: %w", err)
	}

	return p.ch.PublishWithContext(ctx,
		p.exchange,
		"pass."+summary.Provider,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// Close tears down the channel and connection.
func (p *Publisher) Close() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
