// Package service publishes security events to RabbitMQ.  Publishing is
// best effort: errors are logged and returned so callers can ignore them
// without interrupting the request.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/agency-api/internal/queue"
)

// ErrUnavailable is returned without touching the network while a dial is
// already in progress or the broker is in its retry backoff.
var ErrUnavailable = errors.New("rabbitmq: broker unavailable")

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

type dialFunc func(url, queue string, timeout time.Duration) (*amqp.Connection, *amqp.Channel, error)

// Publisher keeps one broker connection and channel, opened on first use
// and reopened after the broker drops them.  Dialing happens outside the
// lock; after a failed dial further attempts wait out a doubling backoff.
type Publisher struct {
	url     string
	queue   string
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
	dial    dialFunc

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	dialing bool
	closed  bool
	backoff time.Duration
	retryAt time.Time
}

func NewPublisher(url, queueName string, log *zap.Logger) *Publisher {
	if queueName == "" {
		queueName = queue.SecurityQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{url: url, queue: queueName, timeout: 2 * time.Second, log: log, now: time.Now, dial: dialBroker}
}

// Publish sends ev as a persistent JSON message to the security queue.
func (p *Publisher) Publish(ctx context.Context, ev queue.SecurityEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal event: %w", err)
	}

	ch, err := p.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Kind,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
	if err != nil {
		p.log.Warn("rabbitmq: publish failed", zap.String("kind", ev.Kind), zap.Error(err))
		p.mu.Lock()
		if p.ch == ch {
			p.reset()
		}
		p.mu.Unlock()
		return err
	}
	return nil
}

// channel returns the open channel, dialing when needed.  Only one caller
// dials at a time; the others get ErrUnavailable at once.
func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	if p.ch != nil && !p.ch.IsClosed() {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	if p.closed || p.dialing || p.now().Before(p.retryAt) {
		p.mu.Unlock()
		return nil, ErrUnavailable
	}
	p.reset()
	p.dialing = true
	p.mu.Unlock()

	conn, ch, err := p.dial(p.url, p.queue, p.timeout)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialing = false
	if err != nil {
		p.backoff = min(max(2*p.backoff, minBackoff), maxBackoff)
		p.retryAt = p.now().Add(p.backoff)
		p.log.Warn("rabbitmq: channel unavailable", zap.Duration("retry_in", p.backoff), zap.Error(err))
		return nil, err
	}
	if p.closed {
		_ = ch.Close()
		_ = conn.Close()
		return nil, ErrUnavailable
	}
	p.backoff, p.retryAt = 0, time.Time{}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func dialBroker(url, queueName string, timeout time.Duration) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: channel open: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: queue declare: %w", err)
	}
	return conn, ch, nil
}

// reset drops the current connection.  Callers hold mu.
func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.  Publish fails afterwards.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.reset()
	return nil
}

// LogPublisher writes events to the application log instead of a broker.
// It is used when security events are disabled.
type LogPublisher struct{ Log *zap.Logger }

func (l LogPublisher) Publish(_ context.Context, ev queue.SecurityEvent) error {
	if l.Log != nil {
		l.Log.Info("security event",
			zap.String("kind", ev.Kind),
			zap.String("user_id", ev.UserID),
			zap.String("ip", ev.IP),
			zap.String("detail", ev.Detail))
	}
	return nil
}
