/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package streams

import (
	"context"
	"fmt"
	"time"

	"github.com/gmbyapa/kenrich/backend"
	"github.com/gmbyapa/kenrich/kafka"
	"github.com/gmbyapa/kenrich/pkg/errors"
	"github.com/gmbyapa/kenrich/streams/encoding"
	"github.com/gmbyapa/kenrich/streams/processors"
	"github.com/gmbyapa/kenrich/streams/window"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

// AggregateInput selects which stream feeds the windowed aggregation.
type AggregateInput int8

const (
	// AggregateEnriched aggregates join output. Join misses never reach the aggregator.
	AggregateEnriched AggregateInput = iota
	// AggregateFiltered aggregates every record passing the filter, joined or not.
	AggregateFiltered
)

func (in AggregateInput) String() string {
	if in == AggregateFiltered {
		return `filtered`
	}

	return `enriched`
}

// TimestampExtractor returns the event time (ms) of a decoded record.
type TimestampExtractor func(record kafka.Record, value interface{}) int64

// FailedMessageHandler is called for every record the pipeline had to skip.
type FailedMessageHandler func(err error, record kafka.Record)

// AggregateMapper converts a window snapshot into the published payload.
type AggregateMapper func(ctx context.Context, key interface{}, agg window.Aggregate) (interface{}, error)

type Config struct {
	// ApplicationId is used as the consumer group of the event stream and as the
	// client id prefix of every source and producer
	ApplicationId string
	// BootstrapServers a list of kafka Brokers
	BootstrapServers []string
	Topics           struct {
		// Events the partitioned event stream
		Events string
		// Table the compacted changelog feeding the reference table
		Table string
		// Filtered optional topic receiving every event passing the Filter
		Filtered string
		// Enriched join output topic
		Enriched string
		// Aggregates window snapshot topic
		Aggregates string
		// AutoCreate creates missing topics at startup (the table topic as compacted)
		AutoCreate   bool
		Partitions   int32
		ReplicaCount int16
	}
	Encoders struct {
		EventKey       encoding.Encoder
		EventValue     encoding.Encoder
		TableKey       encoding.Encoder
		TableValue     encoding.Encoder
		OutputKey      encoding.Encoder
		EnrichedValue  encoding.Encoder
		AggregateValue encoding.Encoder
	}
	// Filter drops events before the join. Nil passes everything.
	Filter processors.FilterFunc
	Join   struct {
		Type        processors.JoinerType
		KeyMapper   processors.KeyMapper
		ValueMapper processors.JoinValueMapper
		// OutputKey re-keys enriched records before they are published. Nil keeps the event key
		OutputKey processors.SelectKeyFunc
	}
	Aggregate struct {
		Input AggregateInput
		// Rekey selects the aggregation key
		Rekey  processors.SelectKeyFunc
		Amount processors.AmountFunc
		// Output maps a snapshot to the published value (default: the snapshot itself)
		Output AggregateMapper
	}
	Window struct {
		Size time.Duration
		// Retention evicts windows older than stream time minus Retention. Zero keeps all windows.
		Retention time.Duration
	}
	// Timestamp extracts event time (default: the record timestamp)
	Timestamp TimestampExtractor
	Table     struct {
		// Backend table storage (default: memory)
		Backend backend.Builder
	}
	Processing struct {
		PollTimeout    time.Duration
		MaxPollRecords int
		// InitialOffset used when the application group has no committed offset
		InitialOffset kafka.Offset
		// AggregatorShards number of aggregation workers. A key is always handled by the same worker
		AggregatorShards int
		ShardBufferSize  int
		// WaitForTable holds the event stream until the table finished its bootstrap
		WaitForTable bool
		// FlushTimeout bounds the wait for in flight deliveries at shutdown
		FlushTimeout time.Duration
		// FailedMessageHandler used to handle skipped records (decode and mapper failures)
		FailedMessageHandler FailedMessageHandler
	}
	Store struct {
		Http struct {
			// Enabled enable the query http server
			Enabled bool
			// Host http server host(eg: :8080)
			Host string
		}
	}
	// Source builds the event and changelog readers
	Source kafka.SourceBuilder
	// Producer builds the output producer
	Producer kafka.ProducerBuilder
	// Admin used to verify (and create) topics at startup. Nil skips the check
	Admin kafka.Admin
	// MetricsReporter default metrics reporter(default: NoopReporter)
	MetricsReporter metrics.Reporter
	// Logger default logger(default: NoopLogger)
	Logger log.Logger
}

func NewConfig() *Config {
	config := &Config{}

	config.Topics.Partitions = 1
	config.Topics.ReplicaCount = 1

	config.Encoders.EventKey = encoding.StringEncoder{}
	config.Encoders.EventValue = encoding.JsonEncoder{}
	config.Encoders.TableKey = encoding.StringEncoder{}
	config.Encoders.TableValue = encoding.JsonEncoder{}
	config.Encoders.OutputKey = encoding.StringEncoder{}
	config.Encoders.EnrichedValue = encoding.JsonEncoder{}
	config.Encoders.AggregateValue = encoding.JsonEncoder{}

	config.Join.Type = processors.InnerJoin
	config.Window.Size = time.Hour

	config.Processing.PollTimeout = 500 * time.Millisecond
	config.Processing.MaxPollRecords = 500
	config.Processing.InitialOffset = kafka.Earliest
	config.Processing.AggregatorShards = 1
	config.Processing.ShardBufferSize = 1000
	config.Processing.WaitForTable = true
	config.Processing.FlushTimeout = 10 * time.Second

	config.Store.Http.Host = `:8080`

	config.MetricsReporter = metrics.NoopReporter()
	config.Logger = log.NewNoopLogger()

	return config
}

func (c *Config) setUp() {
	if c.Timestamp == nil {
		c.Timestamp = func(record kafka.Record, _ interface{}) int64 {
			return record.Timestamp().UnixMilli()
		}
	}

	if c.Aggregate.Output == nil {
		c.Aggregate.Output = func(_ context.Context, _ interface{}, agg window.Aggregate) (interface{}, error) {
			return agg, nil
		}
	}

	if c.Processing.FailedMessageHandler == nil {
		c.Processing.FailedMessageHandler = func(err error, record kafka.Record) {
			c.Logger.Error(fmt.Sprintf(`Record %s skipped due to %s`, record, err))
		}
	}
}

func (c *Config) validate() error {
	if c.ApplicationId == `` {
		return errors.New(`[ApplicationId] cannot be empty`)
	}

	if c.Source == nil {
		return errors.New(`[Source] cannot be empty`)
	}

	if c.Producer == nil {
		return errors.New(`[Producer] cannot be empty`)
	}

	if c.Topics.Events == `` || c.Topics.Table == `` || c.Topics.Enriched == `` || c.Topics.Aggregates == `` {
		return errors.New(`[Topics.Events], [Topics.Table], [Topics.Enriched] and [Topics.Aggregates] cannot be empty`)
	}

	if c.Topics.AutoCreate && (c.Topics.Partitions < 1 || c.Topics.ReplicaCount < 1) {
		return errors.New(`[Topics.Partitions] and [Topics.ReplicaCount] need to be greater than zero`)
	}

	if c.Encoders.EventKey == nil || c.Encoders.EventValue == nil || c.Encoders.TableKey == nil ||
		c.Encoders.TableValue == nil || c.Encoders.OutputKey == nil || c.Encoders.EnrichedValue == nil ||
		c.Encoders.AggregateValue == nil {
		return errors.New(`[Encoders] cannot be empty`)
	}

	if c.Join.KeyMapper == nil || c.Join.ValueMapper == nil {
		return errors.New(`[Join.KeyMapper] and [Join.ValueMapper] cannot be empty`)
	}

	if c.Aggregate.Rekey == nil {
		return errors.New(`[Aggregate.Rekey] cannot be empty`)
	}

	if c.Window.Size < time.Millisecond {
		return errors.New(`[Window.Size] needs to be at least one millisecond`)
	}

	if c.Window.Retention < 0 {
		return errors.New(`[Window.Retention] cannot be negative`)
	}

	if c.Processing.PollTimeout <= 0 {
		return errors.New(`[Processing.PollTimeout] needs to be greater than zero`)
	}

	if c.Processing.MaxPollRecords < 1 {
		return errors.New(`[Processing.MaxPollRecords] needs to be greater than zero`)
	}

	if c.Processing.AggregatorShards < 1 {
		return errors.New(`[Processing.AggregatorShards] needs to be greater than zero`)
	}

	if c.Processing.ShardBufferSize < 0 {
		return errors.New(`[Processing.ShardBufferSize] cannot be negative`)
	}

	if c.Store.Http.Enabled && c.Store.Http.Host == `` {
		return errors.New(`[Store.Http.Host] cannot be empty when the http server is enabled`)
	}

	return nil
}
