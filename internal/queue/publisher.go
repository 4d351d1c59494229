package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Publisher delivers audit events to a broker.
type Publisher interface {
	Publish(ctx context.Context, ev AuditEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, AuditEvent) error { return nil }
func (NopPublisher) Close() error { return nil }

// AMQPPublisher sends events to a durable RabbitMQ queue through the default
// exchange. The connection is opened lazily and re-dialled after a failure.
type AMQPPublisher struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url, queue string) *AMQPPublisher {
	return &AMQPPublisher{url: url, queue: queue}
}

// Publish marshals ev and sends it as a persistent message.
func (p *AMQPPublisher) Publish(ctx context.Context, ev AuditEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("amqp: marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Type,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		p.resetLocked()
		return fmt.Errorf("amqp: publish: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) channelLocked() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.resetLocked()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: channel open: %w", err)
	}
	// durable so messages survive broker restarts
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}

// KafkaPublisher writes events to a Kafka topic, keyed by account id so one
// account's events stay ordered within a partition.
type KafkaPublisher struct {
	w *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev AuditEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(ev.AccountID, 10)),
		Value: body,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// AsyncPublisher queues events in memory and hands them to the wrapped
// Publisher from one background goroutine, so request handlers never wait on
// the broker. When the buffer is full the event is dropped and logged.
type AsyncPublisher struct {
	next    Publisher
	timeout time.Duration
	events  chan AuditEvent
	done    chan struct{}
	once    sync.Once
}

func NewAsyncPublisher(next Publisher, buffer int) *AsyncPublisher {
	if buffer < 1 {
		buffer = 256
	}
	p := &AsyncPublisher{
		next:    next,
		timeout: 5 * time.Second,
		events:  make(chan AuditEvent, buffer),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for ev := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.next.Publish(ctx, ev); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"event_id": ev.ID, "type": ev.Type}).
				Warn("audit event not delivered")
		}
		cancel()
	}
}

// Publish enqueues ev. It never blocks and never fails.
func (p *AsyncPublisher) Publish(_ context.Context, ev AuditEvent) error {
	select {
	case p.events <- ev:
	default:
		logrus.WithFields(logrus.Fields{"event_id": ev.ID, "type": ev.Type}).Warn("audit buffer full, event dropped")
	}
	return nil
}

// Close drains pending events, then closes the wrapped publisher. Publish
// must not be called after Close.
func (p *AsyncPublisher) Close() error {
	var err error
	p.once.Do(func() {
		close(p.events)
		<-p.done
		err = p.next.Close()
	})
	return err
}
