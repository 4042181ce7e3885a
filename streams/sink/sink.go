// Package sink publishes pipeline output without waiting for broker acknowledgement.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/gmbyapa/kenrich/streams/encoding"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

// Topic is an output destination with its encoders.
type Topic struct {
	Name       string
	KeyEncoder encoding.Encoder
	ValEncoder encoding.Encoder
}

// Callback receives the delivery result of a published record.
type Callback func(report kafka.DeliveryReport)

type Sink struct {
	producer kafka.Producer
	logger   log.Logger
	metrics  struct {
		published metrics.Counter
		failed    metrics.Counter
		latency   metrics.Observer
	}
}

func New(producer kafka.Producer, logger log.Logger, reporter metrics.Reporter) *Sink {
	s := &Sink{
		producer: producer,
		logger:   logger.NewLog(log.Prefixed(`Sink`)),
	}

	s.metrics.published = reporter.Counter(metrics.MetricConf{Path: `sink_published_records`, Labels: []string{`topic`}})
	s.metrics.failed = reporter.Counter(metrics.MetricConf{Path: `sink_publish_errors`, Labels: []string{`topic`}})
	s.metrics.latency = reporter.Observer(metrics.MetricConf{Path: `sink_delivery_latency_microseconds`, Labels: []string{`topic`}})

	return s
}

// Publish encodes key and value and hands the record to the producer. It does not
// wait for delivery. Encode and enqueue failures are returned; broker failures
// reach cb (and the logs) asynchronously. A nil value publishes a tombstone.
func (s *Sink) Publish(ctx context.Context, topic Topic, key, value interface{}, timestamp time.Time, cb Callback) error {
	var k, v []byte
	var err error

	if key != nil {
		k, err = topic.KeyEncoder.Encode(key)
		if err != nil {
			s.fail(topic.Name)
			return errors.Wrapf(err, `key encode failed for topic %s`, topic.Name)
		}
	}

	if value != nil {
		v, err = topic.ValEncoder.Encode(value)
		if err != nil {
			s.fail(topic.Name)
			return errors.Wrapf(err, `value encode failed for topic %s`, topic.Name)
		}
	}

	record := kafka.NewRecord(ctx, k, v, topic.Name, kafka.PartitionAny, 0, timestamp, nil)
	begin := time.Now()

	err = s.producer.ProduceAsync(ctx, record, func(report kafka.DeliveryReport) {
		lbs := map[string]string{`topic`: topic.Name}
		s.metrics.latency.Observe(float64(time.Since(begin).Microseconds()), lbs)

		if report.Error() != nil {
			s.fail(topic.Name)
			s.logger.Error(fmt.Sprintf(`Delivery failed for key [%s] on %s: %s`, k, topic.Name, report.Error()))
		} else {
			s.metrics.published.Count(1, lbs)
		}

		if cb != nil {
			cb(report)
		}
	})
	if err != nil {
		s.fail(topic.Name)
		return errors.Wrapf(err, `enqueue failed for topic %s`, topic.Name)
	}

	return nil
}

func (s *Sink) fail(topic string) {
	s.metrics.failed.Count(1, map[string]string{`topic`: topic})
}

// Flush waits for outstanding deliveries until ctx is done.
func (s *Sink) Flush(ctx context.Context) error {
	if err := s.producer.Flush(ctx); err != nil {
		return errors.Wrap(err, `sink flush failed`)
	}

	return nil
}

func (s *Sink) Close() error {
	return s.producer.Close()
}
