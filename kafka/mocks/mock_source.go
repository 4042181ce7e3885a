package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
)

const pollInterval = 2 * time.Millisecond

// MockSource reads a topic of a Topics cluster. Offsets committed under the
// configured group are shared between sources of the same cluster so a new
// source resumes where the previous one committed.
type MockSource struct {
	config    *kafka.SourceConfig
	topics    *Topics
	mu        sync.Mutex
	positions map[int32]int64
	closed    bool
}

func NewMockSource(topics *Topics, config *kafka.SourceConfig) (*MockSource, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if _, err := topics.Topic(config.Topic); err != nil {
		return nil, errors.Wrapf(err, `topic %s not found`, config.Topic)
	}

	return &MockSource{config: config, topics: topics}, nil
}

// NewSourceBuilder returns a kafka.SourceBuilder reading from topics.
func NewSourceBuilder(topics *Topics) kafka.SourceBuilder {
	return func(configure func(config *kafka.SourceConfig)) (kafka.RecordSource, error) {
		conf := kafka.NewSourceConfig()
		configure(conf)
		return NewMockSource(topics, conf)
	}
}

func (s *MockSource) Topic() string {
	return s.config.Topic
}

func (s *MockSource) Poll(ctx context.Context, timeout time.Duration) ([]kafka.Record, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		records, err := s.fetch()
		if err != nil || len(records) > 0 {
			return records, err
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-deadline.C:
			return nil, nil
		case <-time.After(pollInterval):
		}
	}
}

func (s *MockSource) fetch() ([]kafka.Record, error) {
	if s.topics.Unavailable() {
		return nil, errors.Wrapf(kafka.ErrUnavailable, `poll %s failed`, s.config.Topic)
	}

	topic, err := s.topics.Topic(s.config.Topic)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New(`source closed`)
	}

	if s.positions == nil {
		if err := s.initPositions(topic); err != nil {
			return nil, err
		}
	}

	var records []kafka.Record
	for id, pt := range topic.Partitions() {
		remaining := s.config.MaxPollRecords - len(records)
		if remaining < 1 {
			break
		}

		batch, next := pt.Read(s.positions[int32(id)], remaining)
		s.positions[int32(id)] = next
		records = append(records, batch...)
	}

	return records, nil
}

func (s *MockSource) initPositions(topic *MockTopic) error {
	s.positions = make(map[int32]int64)
	for id, pt := range topic.Partitions() {
		tp := kafka.TopicPartition{Topic: topic.Name, Partition: int32(id)}
		start := kafka.Unknown
		if s.config.Offsets.Resolver != nil {
			off, err := s.config.Offsets.Resolver(tp)
			if err != nil {
				return errors.Wrapf(err, `offset resolve failed for %s`, tp)
			}
			start = off
		}

		if start == kafka.Unknown && s.config.GroupId != `` {
			if committed, ok := s.topics.Committed(s.config.GroupId, tp); ok {
				start = kafka.Offset(committed)
			}
		}

		if start == kafka.Unknown {
			start = s.config.Offsets.Initial
		}

		switch start {
		case kafka.Earliest, kafka.Unknown:
			s.positions[int32(id)] = 0
		case kafka.Latest:
			s.positions[int32(id)] = pt.High()
		default:
			s.positions[int32(id)] = int64(start)
		}
	}

	return nil
}

// Position returns the next offset to be read from tp. It is unknown until the first Poll.
func (s *MockSource) Position(tp kafka.TopicPartition) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tp.Topic != s.config.Topic || s.positions == nil {
		return 0, false
	}

	pos, ok := s.positions[tp.Partition]
	return pos, ok
}

func (s *MockSource) Commit(_ context.Context, offsets []kafka.ConsumerOffset) error {
	if s.topics.Unavailable() {
		return errors.Wrap(kafka.ErrUnavailable, `commit failed`)
	}

	if s.config.GroupId == `` {
		return errors.New(`source has no group`)
	}

	s.topics.commit(s.config.GroupId, offsets)
	return nil
}

func (s *MockSource) Watermarks(_ context.Context) (map[kafka.TopicPartition]kafka.Watermarks, error) {
	if s.topics.Unavailable() {
		return nil, errors.Wrapf(kafka.ErrUnavailable, `watermarks of %s`, s.config.Topic)
	}

	topic, err := s.topics.Topic(s.config.Topic)
	if err != nil {
		return nil, err
	}

	wms := make(map[kafka.TopicPartition]kafka.Watermarks)
	for id, pt := range topic.Partitions() {
		wms[kafka.TopicPartition{Topic: topic.Name, Partition: int32(id)}] = kafka.Watermarks{Low: 0, High: pt.High()}
	}

	return wms, nil
}

func (s *MockSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
