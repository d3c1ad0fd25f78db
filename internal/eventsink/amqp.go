package eventsink

import (
	"context"
	"errors"
	"fmt"

	"github.com/streadway/amqp"
)

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// DialAMQP connects and declares a durable topic exchange.
func DialAMQP(cfg Config) (Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", cfg.Exchange, err)
	}
	return &amqpPublisher{conn: conn, ch: ch, exchange: cfg.Exchange}, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, key string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.ch.Publish(p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         msg.Type,
		Timestamp:    msg.Timestamp,
		AppId:        "castbot",
		Body:         msg.Body,
	})
}

func (p *amqpPublisher) Close() error {
	return errors.Join(p.ch.Close(), p.conn.Close())
}
