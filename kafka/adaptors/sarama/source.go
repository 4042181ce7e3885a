package sarama

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shopify/sarama"
	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

type SourceConfig struct {
	*kafka.SourceConfig
	Sarama *sarama.Config
}

func NewSourceConfig() *SourceConfig {
	conf := &SourceConfig{
		SourceConfig: kafka.NewSourceConfig(),
		Sarama:       sarama.NewConfig(),
	}
	conf.Sarama.Version = sarama.V2_4_0_0

	return conf
}

// NewSourceBuilder returns a kafka.SourceBuilder which reads every partition
// of the configured topic through a sarama client.
func NewSourceBuilder(configure func(config *SourceConfig)) kafka.SourceBuilder {
	adptConf := NewSourceConfig()
	configure(adptConf)
	return func(configure func(*kafka.SourceConfig)) (kafka.RecordSource, error) {
		conf := &SourceConfig{
			SourceConfig: adptConf.SourceConfig.Copy(),
			Sarama:       adptConf.Sarama,
		}
		configure(conf.SourceConfig)

		return NewSource(conf)
	}
}

type source struct {
	id      string
	topic   string
	config  *SourceConfig
	client  sarama.Client
	offsets sarama.OffsetManager

	consumer   sarama.Consumer
	partitions map[int32]*partitionState
	managed    map[int32]sarama.PartitionOffsetManager

	records chan *sarama.ConsumerMessage
	errs    chan error

	mu        sync.Mutex
	startOnce sync.Once
	startErr  error
	closing   chan struct{}
	wg        sync.WaitGroup

	logger  log.Logger
	metrics struct {
		endToEndLatency metrics.Observer
		buffer          metrics.Gauge
	}
}

type partitionState struct {
	pc sarama.PartitionConsumer
	// next offset to hand out, -1 until known
	next int64
	// records taken from pc but not returned by Poll yet
	buffered int64
}

func NewSource(conf *SourceConfig) (kafka.RecordSource, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	conf.Sarama.ClientID = conf.Id
	conf.Sarama.Consumer.Return.Errors = true
	conf.Sarama.Consumer.Offsets.AutoCommit.Enable = false
	conf.Sarama.ChannelBufferSize = conf.ChannelBufferSize
	conf.Sarama.Metadata.Timeout = conf.MetaRefreshTimeout

	client, err := sarama.NewClient(conf.BootstrapServers, conf.Sarama)
	if err != nil {
		return nil, unavailable(errors.Wrapf(err, `cannot initiate client for %s`, conf.Topic), err)
	}

	s := &source{
		id:         conf.Id,
		topic:      conf.Topic,
		config:     conf,
		client:     client,
		partitions: map[int32]*partitionState{},
		managed:    map[int32]sarama.PartitionOffsetManager{},
		records:    make(chan *sarama.ConsumerMessage, conf.ChannelBufferSize),
		errs:       make(chan error, 10),
		closing:    make(chan struct{}),
		logger:     conf.Logger.NewLog(log.Prefixed(fmt.Sprintf(`source(%s)`, conf.Topic))),
	}

	if conf.GroupId != `` {
		s.offsets, err = sarama.NewOffsetManagerFromClient(conf.GroupId, client)
		if err != nil {
			s.closeClient()
			return nil, errors.Wrapf(err, `cannot initiate offset manager for group %s`, conf.GroupId)
		}
	}

	s.metrics.endToEndLatency = conf.MetricsReporter.Observer(metrics.MetricConf{
		Path:   `source_end_to_end_latency_microseconds`,
		Labels: []string{`topic`, `partition`},
	})
	s.metrics.buffer = conf.MetricsReporter.Gauge(metrics.MetricConf{
		Path:   `source_buffer`,
		Labels: []string{`topic`},
	})

	return s, nil
}

func (s *source) Topic() string {
	return s.topic
}

// start subscribes to every partition. It runs on the first Poll so that
// building a source never touches partition leaders.
func (s *source) start() error {
	s.startOnce.Do(func() {
		s.startErr = s.subscribe()
	})

	return s.startErr
}

func (s *source) subscribe() error {
	partitions, err := s.client.Partitions(s.topic)
	if err != nil {
		return unavailable(errors.Wrapf(err, `cannot fetch partitions for %s`, s.topic), err)
	}

	s.consumer, err = sarama.NewConsumerFromClient(s.client)
	if err != nil {
		return errors.Wrap(err, `new consumer failed`)
	}

	for _, partition := range partitions {
		tp := kafka.TopicPartition{Topic: s.topic, Partition: partition}
		offset, err := s.startOffset(tp)
		if err != nil {
			return err
		}

		pc, err := s.consumer.ConsumePartition(s.topic, partition, offset)
		if errors.Is(err, sarama.ErrOffsetOutOfRange) {
			s.logger.Warn(fmt.Sprintf(`Offset %d out of range for %s, starting from the oldest`, offset, tp))
			offset = sarama.OffsetOldest
			pc, err = s.consumer.ConsumePartition(s.topic, partition, offset)
		}
		if err != nil {
			return unavailable(errors.Wrapf(err, `cannot initiate partition consumer for %s`, tp), err)
		}

		pt := &partitionState{pc: pc, next: -1}
		if offset >= 0 {
			pt.next = offset
		}

		s.mu.Lock()
		s.partitions[partition] = pt
		s.mu.Unlock()

		s.wg.Add(2)
		go s.consumeRecords(pt)
		go s.consumeErrors(pc)

		s.logger.Info(fmt.Sprintf(`Partition %s subscribed at %s`, tp, kafka.Offset(offset)))
	}

	return nil
}

// startOffset resolves where a partition starts: the resolver first, then the
// committed offset of the group, then the initial offset.
func (s *source) startOffset(tp kafka.TopicPartition) (int64, error) {
	var pom sarama.PartitionOffsetManager
	if s.offsets != nil {
		var err error
		pom, err = s.offsets.ManagePartition(tp.Topic, tp.Partition)
		if err != nil {
			return 0, unavailable(errors.Wrapf(err, `cannot manage offsets of %s`, tp), err)
		}
		s.managed[tp.Partition] = pom
	}

	if s.config.Offsets.Resolver != nil {
		offset, err := s.config.Offsets.Resolver(tp)
		if err != nil {
			return 0, errors.Wrapf(err, `offset resolve failed for %s`, tp)
		}

		if offset != kafka.Unknown {
			return int64(offset), nil
		}
	}

	if pom != nil {
		if committed, _ := pom.NextOffset(); committed >= 0 {
			return committed, nil
		}
	}

	if s.config.Offsets.Initial == kafka.Latest {
		return sarama.OffsetNewest, nil
	}

	return sarama.OffsetOldest, nil
}

func (s *source) consumeRecords(pt *partitionState) {
	defer s.wg.Done()
	for {
		select {
		case msg, ok := <-pt.pc.Messages():
			if !ok {
				return
			}
			atomic.AddInt64(&pt.buffered, 1)

			s.metrics.endToEndLatency.Observe(float64(time.Since(msg.Timestamp).Microseconds()), map[string]string{
				`topic`:     msg.Topic,
				`partition`: fmt.Sprint(msg.Partition),
			})

			select {
			case s.records <- msg:
			case <-s.closing:
				return
			}
		case <-s.closing:
			return
		}
	}
}

func (s *source) consumeErrors(pc sarama.PartitionConsumer) {
	defer s.wg.Done()
	for err := range pc.Errors() {
		s.logger.Error(err)
		select {
		case s.errs <- err:
		default:
		}
	}
}

func (s *source) Poll(ctx context.Context, timeout time.Duration) ([]kafka.Record, error) {
	if err := s.start(); err != nil {
		return nil, err
	}

	s.metrics.buffer.Count(float64(len(s.records)), map[string]string{`topic`: s.topic})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var batch []kafka.Record
	select {
	case msg := <-s.records:
		batch = append(batch, s.deliver(ctx, msg))
	case err := <-s.errs:
		// sarama retries partition errors by itself, only connectivity is surfaced
		if isConnErr(err) {
			return nil, unavailable(errors.Wrapf(err, `poll failed for %s`, s.topic), err)
		}
		return nil, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, nil
	}

	for len(batch) < s.config.MaxPollRecords {
		select {
		case msg := <-s.records:
			batch = append(batch, s.deliver(ctx, msg))
		default:
			return batch, nil
		}
	}

	return batch, nil
}

// deliver moves the read position of the message partition past msg.
func (s *source) deliver(ctx context.Context, msg *sarama.ConsumerMessage) kafka.Record {
	s.mu.Lock()
	pt := s.partitions[msg.Partition]
	s.mu.Unlock()

	if pt != nil {
		atomic.StoreInt64(&pt.next, msg.Offset+1)
		atomic.AddInt64(&pt.buffered, -1)
	}

	return toRecord(ctx, msg)
}

// Position returns the offset after the last delivered record. sarama skips
// control records without handing them out, so an idle partition whose
// buffers are drained is positioned at the high watermark of its last fetch.
func (s *source) Position(tp kafka.TopicPartition) (int64, bool) {
	if tp.Topic != s.topic {
		return 0, false
	}

	s.mu.Lock()
	pt, ok := s.partitions[tp.Partition]
	s.mu.Unlock()
	if !ok {
		return 0, false
	}

	next := atomic.LoadInt64(&pt.next)
	if atomic.LoadInt64(&pt.buffered) == 0 && len(pt.pc.Messages()) == 0 {
		if hwm := pt.pc.HighWaterMarkOffset(); hwm > next {
			return hwm, true
		}
	}

	if next < 0 {
		return 0, false
	}

	return next, true
}

func toRecord(ctx context.Context, msg *sarama.ConsumerMessage) kafka.Record {
	headers := make(kafka.RecordHeaders, 0, len(msg.Headers))
	for _, h := range msg.Headers {
		headers = append(headers, kafka.RecordHeader{Key: h.Key, Value: h.Value})
	}

	return kafka.NewRecord(ctx, msg.Key, msg.Value, msg.Topic, msg.Partition, msg.Offset, msg.Timestamp, headers)
}

func (s *source) Commit(_ context.Context, offsets []kafka.ConsumerOffset) error {
	if s.offsets == nil {
		return errors.Errorf(`source %s has no consumer group to commit to`, s.id)
	}

	for _, off := range offsets {
		pom, ok := s.managed[off.Partition]
		if !ok || off.Topic != s.topic {
			return errors.Errorf(`offset %s does not belong to source %s`, off, s.id)
		}
		pom.MarkOffset(off.Offset, off.Meta)
	}

	s.offsets.Commit()

	for _, pom := range s.managed {
		select {
		case err := <-pom.Errors():
			return unavailable(errors.Wrap(err, `offset commit failed`), err.Err)
		default:
		}
	}

	return nil
}

func (s *source) Watermarks(_ context.Context) (map[kafka.TopicPartition]kafka.Watermarks, error) {
	partitions, err := s.client.Partitions(s.topic)
	if err != nil {
		return nil, unavailable(errors.Wrapf(err, `cannot fetch partitions for %s`, s.topic), err)
	}

	wms := make(map[kafka.TopicPartition]kafka.Watermarks, len(partitions))
	for _, partition := range partitions {
		tp := kafka.TopicPartition{Topic: s.topic, Partition: partition}
		low, err := s.client.GetOffset(s.topic, partition, sarama.OffsetOldest)
		if err != nil {
			return nil, unavailable(errors.Wrapf(err, `cannot get oldest offset for %s`, tp), err)
		}

		high, err := s.client.GetOffset(s.topic, partition, sarama.OffsetNewest)
		if err != nil {
			return nil, unavailable(errors.Wrapf(err, `cannot get latest offset for %s`, tp), err)
		}

		wms[tp] = kafka.Watermarks{Low: low, High: high}
	}

	return wms, nil
}

func (s *source) Close() error {
	close(s.closing)

	for _, pt := range s.partitions {
		pt.pc.AsyncClose()
	}
	s.wg.Wait()

	for tp, pom := range s.managed {
		if err := pom.Close(); err != nil {
			s.logger.Warn(fmt.Sprintf(`Offset manager close failed for partition %d: %s`, tp, err))
		}
	}

	if s.offsets != nil {
		if err := s.offsets.Close(); err != nil {
			s.logger.Warn(fmt.Sprintf(`Offset manager close failed: %s`, err))
		}
	}

	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			s.logger.Warn(fmt.Sprintf(`Consumer close failed: %s`, err))
		}
	}

	s.closeClient()
	s.logger.Info(`Source closed`)

	return nil
}

func (s *source) closeClient() {
	if err := s.client.Close(); err != nil {
		s.logger.Warn(fmt.Sprintf(`Client close failed: %s`, err))
	}
}
