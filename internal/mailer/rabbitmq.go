package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type connectFunc func() (channel, func() error, error)

// RabbitSender publishes email jobs as persistent JSON messages onto a durable
// queue through the default exchange. A separate worker performs delivery.
type RabbitSender struct {
	queue   string
	connect connectFunc

	mu        sync.Mutex
	ch        channel
	closeConn func() error
}

// NewRabbitSender dials url and declares queue.
func NewRabbitSender(url, queue string) (*RabbitSender, error) {
	s := newRabbitSender(queue, func() (channel, func() error, error) {
		return dialQueue(url, queue)
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureConnected(); err != nil {
		return nil, err
	}
	return s, nil
}

func newRabbitSender(queue string, connect connectFunc) *RabbitSender {
	return &RabbitSender{queue: queue, connect: connect}
}

func dialQueue(url, queue string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	// Durable so queued emails survive broker restarts.
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("queue declare: %w", err)
	}

	return ch, conn.Close, nil
}

func (s *RabbitSender) Name() string { return "rabbitmq" }

func (s *RabbitSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConnected(); err != nil {
		return err
	}

	if err := s.ch.PublishWithContext(ctx,
		"",      // default exchange
		s.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	); err != nil {
		// drop the channel so the next send reconnects
		s.reset()
		return fmt.Errorf("publish email: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (s *RabbitSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

func (s *RabbitSender) ensureConnected() error {
	if s.ch != nil {
		return nil
	}
	ch, closeConn, err := s.connect()
	if err != nil {
		return err
	}
	s.ch = ch
	s.closeConn = closeConn
	return nil
}

func (s *RabbitSender) reset() {
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.closeConn != nil {
		_ = s.closeConn()
		s.closeConn = nil
	}
}
