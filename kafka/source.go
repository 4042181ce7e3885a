package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

// ErrUnavailable is returned (wrapped) by sources and producers when the
// cluster can not be reached. Callers are expected to back off and retry.
var ErrUnavailable = errors.Sentinel(`kafka: cluster unavailable`)

// IsUnavailable reports whether err is a transient connectivity failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// TopicPartition represents a kafka topic partition.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf(`%s-%d`, tp.Topic, tp.Partition)
}

type Offset int64

const (
	Unknown  Offset = -3
	Earliest Offset = -2
	Latest   Offset = -1
)

func (o Offset) String() string {
	switch o {
	case -3:
		return `Unknown`
	case -2:
		return `Earliest`
	case -1:
		return `Latest`
	default:
		return fmt.Sprint(int(o))
	}
}

// Watermarks are the first available and the next to be written offsets of a partition.
type Watermarks struct {
	Low  int64
	High int64
}

// Empty reports whether the partition holds no readable records.
func (w Watermarks) Empty() bool {
	return w.High <= 0 || w.High <= w.Low
}

// RecordSource reads a single topic. Records of a partition are returned in
// offset order. Progress is only persisted through Commit.
type RecordSource interface {
	Topic() string
	// Poll blocks until at least one record is available or the timeout passes.
	// An empty batch with a nil error means nothing arrived.
	Poll(ctx context.Context, timeout time.Duration) ([]Record, error)
	// Commit stores the next offsets to be consumed.
	Commit(ctx context.Context, offsets []ConsumerOffset) error
	// Watermarks returns the current low and high offsets per partition.
	Watermarks(ctx context.Context) (map[TopicPartition]Watermarks, error)
	// Position returns the next offset the source will read from tp. Offsets
	// the broker never hands out (transaction markers) are already behind it.
	// ok is false while the position is not known yet.
	Position(tp TopicPartition) (offset int64, ok bool)
	Close() error
}

// OffsetResolver overrides the start offset of a partition. Returning Unknown
// falls back to the committed (or initial) offset.
type OffsetResolver func(tp TopicPartition) (Offset, error)

type SourceConfig struct {
	Id               string
	BootstrapServers []string
	Topic            string
	// GroupId is used to store committed offsets. Sources without a group
	// (table changelog readers) rely on the Offsets.Resolver.
	GroupId string
	Offsets struct {
		Initial  Offset
		Resolver OffsetResolver
	}
	MaxPollRecords     int
	ChannelBufferSize  int
	MetaRefreshTimeout time.Duration

	Logger          log.Logger
	MetricsReporter metrics.Reporter
}

func NewSourceConfig() *SourceConfig {
	conf := &SourceConfig{
		MaxPollRecords:     500,
		ChannelBufferSize:  1000,
		MetaRefreshTimeout: 10 * time.Second,
		Logger:             log.NewNoopLogger(),
		MetricsReporter:    metrics.NoopReporter(),
	}
	conf.Offsets.Initial = Earliest

	return conf
}

func (conf *SourceConfig) Copy() *SourceConfig {
	c := *conf
	c.BootstrapServers = append([]string(nil), conf.BootstrapServers...)
	return &c
}

func (conf *SourceConfig) Validate() error {
	if conf.Topic == `` {
		return errors.New(`source topic cannot be empty`)
	}

	if conf.MaxPollRecords < 1 {
		return errors.New(`MaxPollRecords must be greater than zero`)
	}

	return nil
}

type SourceBuilder func(func(config *SourceConfig)) (RecordSource, error)

// NextOffsets returns the highest next offset per partition in records.
func NextOffsets(records []Record) []ConsumerOffset {
	idx := map[TopicPartition]int{}
	var offsets []ConsumerOffset
	for _, rec := range records {
		tp := TopicPartition{Topic: rec.Topic(), Partition: rec.Partition()}
		i, ok := idx[tp]
		if !ok {
			idx[tp] = len(offsets)
			offsets = append(offsets, ConsumerOffset{Topic: tp.Topic, Partition: tp.Partition, Offset: rec.Offset() + 1})
			continue
		}

		if rec.Offset()+1 > offsets[i].Offset {
			offsets[i].Offset = rec.Offset() + 1
		}
	}

	return offsets
}
