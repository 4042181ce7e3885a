/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package librd

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	librdKafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

type librdProducer struct {
	config       *ProducerConfig
	baseProducer *librdKafka.Producer
	logger       log.Logger
	pending      int64
	events       chan struct{}

	metrics struct {
		produceLatency metrics.Observer
		produceErrors  metrics.Counter
	}
}

// NewProducerBuilder returns a kafka.ProducerBuilder creating librdkafka
// producers from a copy of the adaptor config.
func NewProducerBuilder(configure func(config *ProducerConfig)) kafka.ProducerBuilder {
	adptConf := NewProducerConfig()
	configure(adptConf)
	return func(configure func(*kafka.ProducerConfig)) (kafka.Producer, error) {
		confCopy := adptConf.copy()
		configure(confCopy.ProducerConfig)

		return NewProducer(confCopy)
	}
}

func NewProducer(configs *ProducerConfig) (kafka.Producer, error) {
	if err := configs.validate(); err != nil {
		return nil, errors.Wrap(err, `invalid producer configs`)
	}

	if err := configs.setUp(); err != nil {
		return nil, errors.Wrap(err, `producer configs setup failed`)
	}

	logger := configs.Logger.NewLog(log.Prefixed(`Producer(librdkafka)`))
	logger.Info(`Producer initiating...`)
	producer, err := librdKafka.NewProducer(configs.Librd)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf(`Producer(%s) init failed`, configs.Id))
	}

	p := &librdProducer{
		config:       configs,
		baseProducer: producer,
		logger:       logger,
		events:       make(chan struct{}),
	}

	p.metrics.produceLatency = configs.MetricsReporter.Observer(metrics.MetricConf{
		Path:        `producer_produced_latency_microseconds`,
		Labels:      []string{`topic`},
		ConstLabels: map[string]string{`producer_id`: configs.Id},
	})

	p.metrics.produceErrors = configs.MetricsReporter.Counter(metrics.MetricConf{
		Path:        `producer_error_count`,
		Labels:      []string{`error`},
		ConstLabels: map[string]string{`producer_id`: configs.Id},
	})

	go p.handleEvents()
	go p.printLogs()

	logger.Info(`Producer initiated`)

	return p, nil
}

// handleEvents routes delivery reports to the handler carried in the message
// Opaque. librdkafka closes the channel on Close.
func (p *librdProducer) handleEvents() {
	defer close(p.events)
	for ev := range p.baseProducer.Events() {
		switch e := ev.(type) {
		case librdKafka.Error:
			p.metrics.produceErrors.Count(1, map[string]string{`error`: e.Code().String()})
			if e.IsFatal() || e.Code() == librdKafka.ErrAllBrokersDown {
				p.logger.Error(fmt.Sprintf(`Event [%s]%s`, e.Code(), e))
				continue
			}
			p.logger.Warn(fmt.Sprintf(`Event [%s]%s`, e.Code(), e))

		case *librdKafka.Message:
			p.deliver(e)
		}
	}
}

func (p *librdProducer) deliver(msg *librdKafka.Message) {
	defer atomic.AddInt64(&p.pending, -1)

	topic := ``
	if msg.TopicPartition.Topic != nil {
		topic = *msg.TopicPartition.Topic
	}

	err := msg.TopicPartition.Error
	if err != nil {
		p.metrics.produceErrors.Count(1, map[string]string{`error`: errorCode(err)})
		err = deliveryErr(errors.Wrapf(err, `message %s[%d] delivery failed`, topic, msg.TopicPartition.Partition), err)
	} else {
		p.metrics.produceLatency.Observe(float64(time.Since(msg.Timestamp).Microseconds()), map[string]string{
			`topic`: topic,
		})
		p.logger.Trace(fmt.Sprintf(`Delivered message to topic %s[%d]@%d`,
			topic, msg.TopicPartition.Partition, msg.TopicPartition.Offset))
	}

	handler, ok := msg.Opaque.(kafka.DeliveryHandler)
	if !ok || handler == nil {
		return
	}

	handler(kafka.NewDeliveryReport(topic, msg.TopicPartition.Partition, int64(msg.TopicPartition.Offset), err))
}

func (p *librdProducer) ProduceAsync(ctx context.Context, message kafka.Record, handler kafka.DeliveryHandler) error {
	kMessage := p.prepareMessage(message)
	kMessage.Opaque = handler

	atomic.AddInt64(&p.pending, 1)
	if err := p.baseProducer.Produce(kMessage, nil); err != nil {
		atomic.AddInt64(&p.pending, -1)
		p.metrics.produceErrors.Count(1, map[string]string{`error`: errorCode(err)})
		return deliveryErr(errors.Wrapf(err, `cannot enqueue message %s`, message), err)
	}

	return nil
}

// Flush waits until every enqueued message got its delivery report handled.
func (p *librdProducer) Flush(ctx context.Context) error {
	for {
		remaining := p.baseProducer.Flush(100)
		if remaining == 0 && atomic.LoadInt64(&p.pending) <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), `flush interrupted with %d messages pending`, atomic.LoadInt64(&p.pending))
		default:
		}
	}
}

func (p *librdProducer) Close() error {
	p.logger.Info(`Producer closing...`)
	defer p.logger.Info(`Producer closed`)

	// anything still queued at this point was given up by Flush
	if err := p.baseProducer.Purge(
		librdKafka.PurgeInFlight |
			librdKafka.PurgeNonBlocking | librdKafka.PurgeQueue); err != nil {
		p.logger.Error(err)
	}

	p.baseProducer.Close()
	<-p.events

	return nil
}

func (p *librdProducer) printLogs() {
	logger := p.logger.NewLog(log.Prefixed(`LibrdLogs`))
	for lg := range p.baseProducer.Logs() {
		switch lg.Level {
		case 0, 1, 2:
			logger.Error(lg.String(), `level`, lg.Level)
		case 3, 4, 5:
			logger.Warn(lg.String(), `level`, lg.Level)
		case 6:
			logger.Info(lg.String(), `level`, lg.Level)
		case 7:
			logger.Debug(lg.String(), `level`, lg.Level)
		}
	}
}

func (p *librdProducer) prepareMessage(message kafka.Record) *librdKafka.Message {
	topic := message.Topic()
	m := &librdKafka.Message{
		TopicPartition: librdKafka.TopicPartition{
			Topic:     &topic,
			Partition: librdKafka.PartitionAny,
		},
		Key:           message.Key(),
		Value:         message.Value(),
		Timestamp:     time.Now(),
		TimestampType: librdKafka.TimestampCreateTime,
	}

	if message.Partition() >= 0 {
		m.TopicPartition.Partition = message.Partition()
	}

	for _, header := range message.Headers() {
		m.Headers = append(m.Headers, librdKafka.Header{
			Key:   string(header.Key),
			Value: header.Value,
		})
	}

	if !message.Timestamp().IsZero() {
		m.Timestamp = message.Timestamp()
	}

	return m
}

func errorCode(err error) string {
	var kErr librdKafka.Error
	if errors.As(err, &kErr) {
		return kErr.Code().String()
	}

	return `unknown`
}

// deliveryErr marks err as kafka.ErrUnavailable when librdkafka could not reach the cluster.
func deliveryErr(err, cause error) error {
	var kErr librdKafka.Error
	if !errors.As(cause, &kErr) {
		return err
	}

	switch kErr.Code() {
	case librdKafka.ErrAllBrokersDown, librdKafka.ErrTransport, librdKafka.ErrMsgTimedOut, librdKafka.ErrQueueFull:
		return errors.WrapWithFrameSkip(kafka.ErrUnavailable, err.Error(), 2)
	}

	return err
}
