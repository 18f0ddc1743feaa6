// Package messaging publishes cleanup and sweep events to Kafka so that the
// pool's stats and accounting services can react to a run.
package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bardlex/poolclean/pkg/circuit"
	"github.com/bardlex/poolclean/pkg/errors"
	"github.com/bardlex/poolclean/pkg/log"
	"github.com/bardlex/poolclean/pkg/retry"
)

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON events to Kafka, one writer per topic
type Publisher struct {
	brokers        []string
	logger         *log.Logger
	writers        map[string]messageWriter
	writersMu      sync.Mutex
	newWriter      func(topic string) messageWriter
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// NewPublisher creates a publisher for brokers. No connection is made until
// the first event is published.
func NewPublisher(brokers []string, logger *log.Logger) *Publisher {
	p := &Publisher{
		brokers:        brokers,
		logger:         logger.WithComponent("kafka"),
		writers:        make(map[string]messageWriter),
		circuitBreaker: circuit.New(circuit.SinkConfig("kafka")),
		retryConfig:    retry.PublishConfig(),
	}
	p.newWriter = p.kafkaWriter
	return p
}

func (p *Publisher) kafkaWriter(topic string) messageWriter {
	return &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		BatchTimeout:           10 * time.Millisecond,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
}

// writer gets or creates the writer for topic
func (p *Publisher) writer(topic string) messageWriter {
	p.writersMu.Lock()
	defer p.writersMu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := p.newWriter(topic)
	p.writers[topic] = w
	p.logger.Debug("created Kafka producer", "topic", topic)
	return w
}

// PublishJSON marshals v and publishes it under key
func (p *Publisher) PublishJSON(ctx context.Context, topic, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "json_marshal",
			"failed to marshal event").
			WithContext("topic", topic)
	}

	return p.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, p.retryConfig, func() error {
			msg := kafka.Message{Key: []byte(key), Value: data, Time: time.Now()}
			if err := p.writer(topic).WriteMessages(ctx, msg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, "publish_json",
					"failed to publish event to Kafka").
					WithContext("topic", topic).
					WithContext("key", key).
					WithContext("message_size", len(data))
			}
			p.logger.Debug("published event", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// PublishCleanup publishes a run summary keyed by run id
func (p *Publisher) PublishCleanup(ctx context.Context, ev CleanupEvent) error {
	return p.PublishJSON(ctx, TopicCleanup, ev.RunID, ev)
}

// PublishSweep publishes a sweep keyed by pool wallet, so sweeps into the
// same wallet stay ordered on one partition
func (p *Publisher) PublishSweep(ctx context.Context, ev SweepEvent) error {
	return p.PublishJSON(ctx, TopicSweep, ev.PoolWallet, ev)
}

// Close closes every writer
func (p *Publisher) Close() error {
	p.writersMu.Lock()
	defer p.writersMu.Unlock()

	var lastErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.logger.WithError(err).Error("failed to close producer", "topic", topic)
			lastErr = err
		}
	}
	p.writers = make(map[string]messageWriter)
	return lastErr
}
