package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/rentdesk-portal/internal/session"
)

// ErrBufferFull is returned by Publish when the worker has fallen behind.
var ErrBufferFull = errors.New("queue: event buffer full")

// Channel is the part of an AMQP channel the publisher uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer opens a channel to the broker.  The returned closer releases the
// underlying connection.
type Dialer func() (Channel, func() error, error)

// DialURL returns a Dialer for a broker URL.
func DialURL(url string) Dialer {
	return func() (Channel, func() error, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return ch, conn.Close, nil
	}
}

// Publisher is a session.EventSink that hands events to a background worker.
// Publish never blocks on the broker; Run does the sending.
type Publisher struct {
	dial   Dialer
	events chan session.Event
	log    zerolog.Logger
}

var _ session.EventSink = (*Publisher)(nil)

// NewPublisher buffers up to size events.
func NewPublisher(dial Dialer, size int, log zerolog.Logger) *Publisher {
	if size <= 0 {
		size = 256
	}
	return &Publisher{
		dial:   dial,
		events: make(chan session.Event, size),
		log:    log.With().Str("component", "session-publisher").Logger(),
	}
}

// Publish queues ev for the worker.
func (p *Publisher) Publish(_ context.Context, ev session.Event) error {
	select {
	case p.events <- ev:
		return nil
	default:
		return ErrBufferFull
	}
}

// Run sends queued events until ctx is done.  A failed send drops the event
// and the connection; the next event redials.
func (p *Publisher) Run(ctx context.Context) {
	var (
		ch      Channel
		closeFn func() error
	)
	release := func() {
		if ch != nil {
			_ = ch.Close()
		}
		if closeFn != nil {
			_ = closeFn()
		}
		ch, closeFn = nil, nil
	}
	defer release()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			if ch == nil {
				var err error
				if ch, closeFn, err = p.open(); err != nil {
					p.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("broker unavailable, event dropped")
					release()
					continue
				}
			}
			if err := p.send(ctx, ch, ev); err != nil {
				p.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("publish failed, event dropped")
				release()
			}
		}
	}
}

func (p *Publisher) open() (Channel, func() error, error) {
	ch, closeFn, err := p.dial()
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(SessionQueue, true, false, false, false, nil); err != nil {
		return ch, closeFn, fmt.Errorf("queue declare: %w", err)
	}
	return ch, closeFn, nil
}

func (p *Publisher) send(ctx context.Context, ch Channel, ev session.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ch.PublishWithContext(ctx, "", SessionQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		Type:         string(ev.Type),
		Body:         body,
	})
}
